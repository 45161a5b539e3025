package v1

import (
	"net/http"
	"time"

	"github.com/marketflow/tvstream/types"
)

// Engine defines the streaming-engine contract that the v1 router depends on.
type Engine interface {
	IsConnected() bool
	LastHeartbeat() time.Time
	GetQuote(symbol string) (types.Quote, bool)
	GetQuotes() []types.Quote
	GetCandles(symbol, interval string, count int) []types.Candle
	GetStudies(symbol, interval string) map[string]types.StudyValues
}

// Metrics defines the telemetry sink contract that the v1 router depends on;
// the in-memory go-metrics sink satisfies it.
type Metrics interface {
	DisplayMetrics(resp http.ResponseWriter, req *http.Request) (interface{}, error)
}
