package condition

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// DefaultPeriod is assumed for indicator references that omit one, such as
// "rsi" versus "rsi_7".
const DefaultPeriod = 14

// fieldAliases maps convenience spellings onto the canonical keys used in
// value and history maps.
var fieldAliases = map[string]string{
	"price":  "last",
	"close":  "last",
	"vol":    "volume",
	"change": "change_percent",
	"cap":    "market_cap",
}

func canonicalField(name string) string {
	name = strings.ToLower(name)
	if canon, ok := fieldAliases[name]; ok {
		return canon
	}
	return name
}

// indicatorPatterns recognizes indicator output references in field names and
// maps each onto its family. A single capture group, when present, carries
// the period.
var indicatorPatterns = []struct {
	family string
	re     *regexp.Regexp
}{
	{"rsi", regexp.MustCompile(`^rsi(?:_(\d+))?$`)},
	{"sma", regexp.MustCompile(`^sma_(\d+)$`)},
	{"ema", regexp.MustCompile(`^ema_(\d+)$`)},
	{"bb", regexp.MustCompile(`^bb_(?:upper|middle|lower)$`)},
	{"macd", regexp.MustCompile(`^(?:macd|signal|histogram)$`)},
	{"adx", regexp.MustCompile(`^adx(?:_(\d+))?(?:_plus_di|_minus_di)?$`)},
	{"stoch", regexp.MustCompile(`^stoch_[kd]$`)},
	{"atr", regexp.MustCompile(`^atr(?:_(\d+))?$`)},
	{"obv", regexp.MustCompile(`^obv$`)},
	{"vwap", regexp.MustCompile(`^vwap$`)},
}

// indicatorRef reports whether name references an indicator output, and if so
// the family and period it implies.
func indicatorRef(name string) (family string, period int, ok bool) {
	name = strings.ToLower(name)
	for _, p := range indicatorPatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		period = DefaultPeriod
		if len(m) > 1 && m[1] != "" {
			period, _ = strconv.Atoi(m[1])
		}
		return p.family, period, true
	}
	return "", 0, false
}

// requirements accumulates what a parsed condition needs from its data feed:
// which indicators must be attached and how many bars of history to retain
// beyond the current one.
type requirements struct {
	indicators map[string]map[int]struct{}
	lookback   int
}

func newRequirements() *requirements {
	return &requirements{indicators: make(map[string]map[int]struct{})}
}

func (r *requirements) noteField(name string, offset int) {
	if family, period, ok := indicatorRef(name); ok {
		periods, ok := r.indicators[family]
		if !ok {
			periods = make(map[int]struct{})
			r.indicators[family] = periods
		}
		periods[period] = struct{}{}
	}
	if offset > r.lookback {
		r.lookback = offset
	}
}

func (r *requirements) indicatorPeriods() map[string][]int {
	out := make(map[string][]int, len(r.indicators))
	for family, periods := range r.indicators {
		sorted := lo.Keys(periods)
		sort.Ints(sorted)
		out[family] = sorted
	}
	return out
}
