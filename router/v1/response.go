package v1

import (
	"encoding/json"
	"net/http"

	"github.com/marketflow/tvstream/types"
)

type (
	// ErrResponse defines an HTTP erroneous response.
	ErrResponse struct {
		Error string `json:"error"`
	}

	// HealthZResponse defines the response shape of the healthz route.
	HealthZResponse struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Connected bool   `json:"connected"`
		// LastHeartbeat is the age of the newest server heartbeat; empty
		// until the first one arrives.
		LastHeartbeat string `json:"last_heartbeat,omitempty"`
	}

	// QuotesResponse lists every quote the engine currently tracks.
	QuotesResponse struct {
		Quotes []types.Quote `json:"quotes"`
	}

	// QuoteResponse carries one tracked quote.
	QuoteResponse struct {
		Quote *types.Quote `json:"quote"`
	}

	// CandlesResponse carries the buffered bars of one chart series,
	// oldest first.
	CandlesResponse struct {
		Symbol   string         `json:"symbol"`
		Interval string         `json:"interval"`
		Candles  []types.Candle `json:"candles"`
	}

	// StudiesResponse maps study name onto its latest outputs for one chart
	// series.
	StudiesResponse struct {
		Symbol   string                       `json:"symbol"`
		Interval string                       `json:"interval"`
		Studies  map[string]types.StudyValues `json:"studies"`
	}
)

// writeSuccessResponse JSON-encodes resp and writes it with the given status
// code.
func writeSuccessResponse(w http.ResponseWriter, code int, resp interface{}) {
	bz, err := json.Marshal(resp)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(bz)
}

// writeErrorResponse writes an ErrResponse with the given status code.
func writeErrorResponse(w http.ResponseWriter, code int, msg string) {
	writeSuccessResponse(w, code, ErrResponse{Error: msg})
}
