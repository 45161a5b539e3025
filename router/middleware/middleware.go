package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/marketflow/tvstream/config"
)

// Build constructs the middleware chain applied to every v1 API route.
func Build(logger zerolog.Logger, cfg config.Config) alice.Chain {
	mChain := alice.New()
	mChain = AddRequestLoggingMiddleware(mChain, logger)
	mChain = AddRecoveryMiddleware(mChain, logger)
	mChain = AddCORSMiddleware(mChain, logger, cfg)

	return mChain
}

// AddRequestLoggingMiddleware appends HTTP request logging middleware to the
// provided middleware chain.
func AddRequestLoggingMiddleware(mChain alice.Chain, logger zerolog.Logger) alice.Chain {
	mChain = mChain.Append(hlog.NewHandler(logger))
	mChain = mChain.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	mChain = mChain.Append(hlog.RequestIDHandler("req_id", "Request-Id"))

	return mChain
}

// AddRecoveryMiddleware appends panic recovery middleware to the provided
// middleware chain; a recovered handler panic is logged and answered with a
// 500 so it never tears down the server.
func AddRecoveryMiddleware(mChain alice.Chain, logger zerolog.Logger) alice.Chain {
	mChain = mChain.Append(handlers.RecoveryHandler(
		handlers.RecoveryLogger(&logger),
		handlers.PrintRecoveryStack(true),
	))

	return mChain
}

// AddCORSMiddleware appends CORS middleware to the provided middleware chain
// when the server config enables it.
func AddCORSMiddleware(mChain alice.Chain, logger zerolog.Logger, cfg config.Config) alice.Chain {
	if !cfg.Server.EnableCORS {
		return mChain
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Debug:          cfg.Server.VerboseCORS,
	})
	if cfg.Server.VerboseCORS {
		c.Log = &logger
	}

	mChain = mChain.Append(c.Handler)

	return mChain
}
