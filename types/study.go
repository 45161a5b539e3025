package types

// StudyValues holds the latest named outputs of one study, e.g.
// {"macd": 1.2, "signal": 0.9, "histogram": 0.3} or {"value": 54.1} for
// single-plot indicators.
type StudyValues map[string]float64

// Clone returns an independent copy.
func (sv StudyValues) Clone() StudyValues {
	if sv == nil {
		return nil
	}
	out := make(StudyValues, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}
