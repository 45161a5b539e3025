package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/marketflow/tvstream/types"
	"github.com/marketflow/tvstream/util"
)

// verifyInterval is the cadence of the quote-versus-chart consistency check.
const verifyInterval = time.Minute

// maxQuoteChartVariation bounds the coefficient of variation, in percent,
// between the quote session's last price and the chart session's newest
// close. The two views of one instrument lag each other by spreads and
// update cadence; a larger variation means broken data, not noise.
const maxQuoteChartVariation = 0.5

// CheckType classifies the outcome of one stream consistency check.
type CheckType int

const (
	CheckMatch CheckType = iota
	CheckQuoteMissing
	CheckCandleMissing
	CheckDeviated
)

// StreamCheck is the outcome of comparing the two server views of one
// watched instrument.
type StreamCheck struct {
	Type     CheckType
	Symbol   string
	Interval types.Interval
	Message  string
}

// VerifyStreams compares the quote session's last price against the chart
// session's newest close for every instrument the rules watch, one check per
// distinct (symbol, interval).
func (m *Monitor) VerifyStreams() []StreamCheck {
	type watched struct {
		symbol   string
		interval types.Interval
	}

	seen := make(map[watched]struct{}, len(m.rules))
	checks := make([]StreamCheck, 0, len(m.rules))
	for _, r := range m.rules {
		w := watched{types.BareSymbol(r.Symbol), r.Interval}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		checks = append(checks, m.checkStream(w.symbol, w.interval))
	}
	return checks
}

func (m *Monitor) checkStream(symbol string, interval types.Interval) StreamCheck {
	check := StreamCheck{Symbol: symbol, Interval: interval}

	quote, ok := m.engine.GetQuote(symbol)
	if !ok || !quote.HasLast() {
		check.Type = CheckQuoteMissing
		check.Message = fmt.Sprintf("SKIP %s quote price not delivered yet", symbol)
		return check
	}

	bars := m.engine.GetCandles(symbol, string(interval), 1)
	if len(bars) == 0 {
		check.Type = CheckCandleMissing
		check.Message = fmt.Sprintf("SKIP %s %s chart close not delivered yet", symbol, interval)
		return check
	}

	barClose := bars[len(bars)-1].Close
	cv := util.CalcCoefficientOfVariation([]float64{quote.Last, barClose})

	if cv > maxQuoteChartVariation {
		check.Type = CheckDeviated
		check.Message = fmt.Sprintf(
			"FAIL %s %s deviated quote price: %f, chart close: %f, variation: %f > %f",
			symbol, interval, quote.Last, barClose, cv, maxQuoteChartVariation,
		)
		return check
	}

	check.Type = CheckMatch
	check.Message = fmt.Sprintf(
		"PASS %s %s matched quote price: %f, chart close: %f, variation: %f < %f",
		symbol, interval, quote.Last, barClose, cv, maxQuoteChartVariation,
	)
	return check
}

// verifier re-runs the consistency checks on a fixed cadence, logging every
// outcome and counting deviations.
func (m *Monitor) verifier(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(verifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, check := range m.VerifyStreams() {
				if check.Type == CheckDeviated {
					telemetryStreamDeviation(check.Symbol)
					m.logger.Warn().Msg(check.Message)
					continue
				}
				m.logger.Debug().Msg(check.Message)
			}
		case <-m.closer.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
