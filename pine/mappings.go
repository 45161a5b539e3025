package pine

// outputMappings names the plots of the standard indicators whose layout is
// fixed. Indicators absent here fall back to a single "value" output.
var outputMappings = map[string]map[string]string{
	"STD;MACD": {
		"plot_0": "macd",
		"plot_1": "signal",
		"plot_2": "histogram",
	},
	"STD;BB": {
		"plot_0": "middle",
		"plot_1": "upper",
		"plot_2": "lower",
	},
	"STD;Stochastic": {
		"plot_0": "k",
		"plot_1": "d",
	},
	"STD;ADX": {
		"plot_0": "adx",
		"plot_1": "plus_di",
		"plot_2": "minus_di",
	},
}
