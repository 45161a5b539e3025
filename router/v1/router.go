package v1

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/marketflow/tvstream/config"
	"github.com/marketflow/tvstream/router/middleware"
	"github.com/marketflow/tvstream/types"
)

const (
	// APIPathPrefix defines the v1 API path prefix.
	APIPathPrefix = "/api/v1"

	// StatusAvailable is the status reported by the healthz route.
	StatusAvailable = "available"

	defaultCandleLimit = 100
)

// Router defines a router wrapper used for registering v1 API routes.
type Router struct {
	logger  zerolog.Logger
	cfg     config.Config
	engine  Engine
	metrics Metrics
	started time.Time
}

// New creates a new v1 Router instance with the given configuration,
// streaming engine and telemetry sink. A nil sink disables the metrics
// route.
func New(logger zerolog.Logger, cfg config.Config, engine Engine, metrics Metrics) *Router {
	return &Router{
		logger:  logger.With().Str("module", "router").Logger(),
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		started: time.Now(),
	}
}

// RegisterRoutes registers the v1 API routes on the provided sub-router
// with the middleware chain applied.
func (r *Router) RegisterRoutes(rtr *mux.Router, prefix string) {
	v1Router := rtr.PathPrefix(prefix).Subrouter()

	mChain := middleware.Build(r.logger, r.cfg)

	// handle all preflight requests
	v1Router.Methods(http.MethodOptions).Handler(
		mChain.Then(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	v1Router.Handle(
		"/healthz",
		mChain.Then(r.healthzHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/quotes",
		mChain.Then(r.quotesHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/quotes/{symbol}",
		mChain.Then(r.quoteHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/candles/{symbol}/{interval}",
		mChain.Then(r.candlesHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/studies/{symbol}/{interval}",
		mChain.Then(r.studiesHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/metrics",
		mChain.Then(r.metricsHandler()),
	).Methods(http.MethodGet)
}

func (r *Router) healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthZResponse{
			Status:    StatusAvailable,
			Uptime:    time.Since(r.started).Round(time.Second).String(),
			Connected: r.engine.IsConnected(),
		}
		if hb := r.engine.LastHeartbeat(); !hb.IsZero() {
			resp.LastHeartbeat = time.Since(hb).Round(time.Millisecond).String()
		}

		writeSuccessResponse(w, http.StatusOK, resp)
	}
}

func (r *Router) quotesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeSuccessResponse(w, http.StatusOK, QuotesResponse{Quotes: r.engine.GetQuotes()})
	}
}

func (r *Router) quoteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		symbol := mux.Vars(req)["symbol"]

		quote, ok := r.engine.GetQuote(symbol)
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("no quote for symbol %q", symbol))
			return
		}

		writeSuccessResponse(w, http.StatusOK, QuoteResponse{Quote: &quote})
	}
}

func (r *Router) candlesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)

		interval, err := types.ParseInterval(vars["interval"])
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		limit := defaultCandleLimit
		if raw := req.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
				return
			}
		}

		candles := r.engine.GetCandles(vars["symbol"], string(interval), limit)
		if len(candles) == 0 {
			writeErrorResponse(w, http.StatusNotFound,
				fmt.Sprintf("no candles for %s %s", types.BareSymbol(vars["symbol"]), interval))
			return
		}

		writeSuccessResponse(w, http.StatusOK, CandlesResponse{
			Symbol:   types.BareSymbol(vars["symbol"]),
			Interval: string(interval),
			Candles:  candles,
		})
	}
}

func (r *Router) studiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)

		interval, err := types.ParseInterval(vars["interval"])
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		writeSuccessResponse(w, http.StatusOK, StudiesResponse{
			Symbol:   types.BareSymbol(vars["symbol"]),
			Interval: string(interval),
			Studies:  r.engine.GetStudies(vars["symbol"], string(interval)),
		})
	}
}

func (r *Router) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.metrics == nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "telemetry is not enabled")
			return
		}

		summary, err := r.metrics.DisplayMetrics(w, req)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("failed to gather metrics: %s", err))
			return
		}

		writeSuccessResponse(w, http.StatusOK, summary)
	}
}
