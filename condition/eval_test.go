package condition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, expr string) *Condition {
	t.Helper()
	cond, err := Parse(expr)
	require.NoError(t, err)
	return cond
}

func TestEvaluateComparison(t *testing.T) {
	cond := mustParse(t, "rsi < 30 and volume > 1M")

	t.Run("when both clauses hold", func(t *testing.T) {
		values := map[string]float64{"rsi": 28.5, "volume": 1_500_000}
		require.True(t, cond.Evaluate(values, nil))
	})

	t.Run("when one clause fails", func(t *testing.T) {
		values := map[string]float64{"rsi": 28.5, "volume": 900_000}
		require.False(t, cond.Evaluate(values, nil))
	})
}

func TestEvaluateAliases(t *testing.T) {
	values := map[string]float64{
		"last":           101,
		"volume":         2_000_000,
		"change_percent": 3.2,
		"market_cap":     5e9,
	}

	for _, expr := range []string{
		"price > 100",
		"close > 100",
		"vol > 1M",
		"change > 3",
		"cap > 1B",
	} {
		t.Run(expr, func(t *testing.T) {
			require.True(t, mustParse(t, expr).Evaluate(values, nil))
		})
	}
}

func TestEvaluateMissingAndNaN(t *testing.T) {
	t.Run("missing field is false", func(t *testing.T) {
		cond := mustParse(t, "rsi < 30")
		require.False(t, cond.Evaluate(map[string]float64{}, nil))
	})

	t.Run("missing field is false even for not-equal", func(t *testing.T) {
		cond := mustParse(t, "price != 0")
		require.False(t, cond.Evaluate(map[string]float64{}, nil))
	})

	t.Run("NaN sample is false", func(t *testing.T) {
		cond := mustParse(t, "rsi < 30")
		require.False(t, cond.Evaluate(map[string]float64{"rsi": math.NaN()}, nil))
	})

	t.Run("a failed clause does not poison its siblings", func(t *testing.T) {
		cond := mustParse(t, "rsi < 30 or volume > 1M")
		values := map[string]float64{"volume": 2_000_000}
		require.True(t, cond.Evaluate(values, nil))
	})
}

func TestEvaluateCrossover(t *testing.T) {
	cond := mustParse(t, "sma_20 crosses_above sma_50")

	t.Run("when the fast average overtakes the slow one", func(t *testing.T) {
		history := map[string][]float64{
			"sma_20": {279, 281},
			"sma_50": {280, 280},
		}
		require.True(t, cond.Evaluate(nil, history))
	})

	t.Run("when the fast average was already above", func(t *testing.T) {
		history := map[string][]float64{
			"sma_20": {281, 282},
			"sma_50": {280, 280},
		}
		require.False(t, cond.Evaluate(nil, history))
	})

	t.Run("when the averages touched on the previous bar", func(t *testing.T) {
		history := map[string][]float64{
			"sma_20": {280, 281},
			"sma_50": {280, 280},
		}
		require.True(t, cond.Evaluate(nil, history))
	})

	t.Run("when fewer than two bars are available", func(t *testing.T) {
		history := map[string][]float64{
			"sma_20": {281},
			"sma_50": {280},
		}
		require.False(t, cond.Evaluate(nil, history))
	})

	t.Run("when the series is absent", func(t *testing.T) {
		require.False(t, cond.Evaluate(nil, nil))
	})
}

func TestEvaluateCrossoverDirections(t *testing.T) {
	rising := map[string][]float64{"last": {99, 101}}
	falling := map[string][]float64{"last": {101, 99}}

	t.Run("crosses_above against a literal", func(t *testing.T) {
		cond := mustParse(t, "close crosses_above 100")
		require.True(t, cond.Evaluate(nil, rising))
		require.False(t, cond.Evaluate(nil, falling))
	})

	t.Run("crosses_below against a literal", func(t *testing.T) {
		cond := mustParse(t, "close crosses_below 100")
		require.True(t, cond.Evaluate(nil, falling))
		require.False(t, cond.Evaluate(nil, rising))
	})

	t.Run("crosses fires either way", func(t *testing.T) {
		cond := mustParse(t, "close crosses 100")
		require.True(t, cond.Evaluate(nil, rising))
		require.True(t, cond.Evaluate(nil, falling))
		flat := map[string][]float64{"last": {101, 102}}
		require.False(t, cond.Evaluate(nil, flat))
	})
}

func TestEvaluateOffsets(t *testing.T) {
	history := map[string][]float64{"last": {100, 102, 101}}

	t.Run("offsets read bars back from the end", func(t *testing.T) {
		cond := mustParse(t, "close[1] > close[2]")
		require.True(t, cond.Evaluate(nil, history))
	})

	t.Run("offset zero reads the current snapshot", func(t *testing.T) {
		cond := mustParse(t, "close[0] > 100")
		require.True(t, cond.Evaluate(map[string]float64{"last": 101}, history))
		require.False(t, cond.Evaluate(map[string]float64{}, history))
	})

	t.Run("offset beyond the series is false", func(t *testing.T) {
		cond := mustParse(t, "close[5] > 0")
		require.False(t, cond.Evaluate(nil, history))
	})

	t.Run("offset crossing shifts the window", func(t *testing.T) {
		shifted := map[string][]float64{"last": {98, 101, 50}}
		cond := mustParse(t, "close[1] crosses_above 100")
		require.True(t, cond.Evaluate(nil, shifted))
	})
}

func TestEvaluateLookback(t *testing.T) {
	t.Run("yesterday reads one bar back", func(t *testing.T) {
		cond := mustParse(t, "volume was > 1M yesterday")
		history := map[string][]float64{"volume": {2_000_000, 500_000}}
		require.True(t, cond.Evaluate(nil, history))

		history = map[string][]float64{"volume": {500_000, 2_000_000}}
		require.False(t, cond.Evaluate(nil, history))
	})

	t.Run("the right side stays on the current bar", func(t *testing.T) {
		cond := mustParse(t, "close was < close yesterday")
		values := map[string]float64{"last": 105}
		history := map[string][]float64{"last": {100, 105}}
		require.True(t, cond.Evaluate(values, history))
	})

	t.Run("days_ago keywords reach further", func(t *testing.T) {
		cond := mustParse(t, "close was > 100 3_days_ago")
		history := map[string][]float64{"last": {101, 90, 90, 90}}
		require.True(t, cond.Evaluate(nil, history))
	})

	t.Run("insufficient history is false", func(t *testing.T) {
		cond := mustParse(t, "volume was > 1M 1_week_ago")
		history := map[string][]float64{"volume": {2_000_000, 500_000}}
		require.False(t, cond.Evaluate(nil, history))
	})
}

func TestEvaluatePrecedence(t *testing.T) {
	// "or" binds loosest, so the expression reads a or (b and c)
	cond := mustParse(t, "open > 1 or high > 1 and low > 1")

	cases := []struct {
		name   string
		values map[string]float64
		want   bool
	}{
		{"left alone satisfies", map[string]float64{"open": 2, "high": 0, "low": 0}, true},
		{"right pair satisfies", map[string]float64{"open": 0, "high": 2, "low": 2}, true},
		{"half the pair does not", map[string]float64{"open": 0, "high": 2, "low": 0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, cond.Evaluate(tc.values, nil))
		})
	}

	t.Run("parentheses override", func(t *testing.T) {
		grouped := mustParse(t, "(open > 1 or high > 1) and low > 1")
		require.False(t, grouped.Evaluate(map[string]float64{"open": 2, "high": 0, "low": 0}, nil))
		require.True(t, grouped.Evaluate(map[string]float64{"open": 2, "high": 0, "low": 2}, nil))
	})
}

func TestEvaluateOperators(t *testing.T) {
	values := map[string]float64{"last": 100}

	cases := []struct {
		expr string
		want bool
	}{
		{"close > 99", true},
		{"close > 100", false},
		{"close >= 100", true},
		{"close < 101", true},
		{"close <= 99", false},
		{"close == 100", true},
		{"close != 100", false},
		{"close != 99", true},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			require.Equal(t, tc.want, mustParse(t, tc.expr).Evaluate(values, nil))
		})
	}
}
