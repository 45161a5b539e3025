package stream

import (
	"fmt"
	"math"

	"github.com/marketflow/tvstream/types"
)

// Fixed create_study parameters shared by every indicator.
const (
	studySeriesRef  = "$prices"
	studyScriptType = "Script@tv-scripting-101!"
	studyOutputID   = "st1"
	pineVersionTag  = "last"
)

// studyInputParam is one in_N entry of a create_study input record. ex.:
// {"v":14,"f":true,"t":"integer"}
type studyInputParam struct {
	Value interface{} `json:"v"`
	Final bool        `json:"f"`
	Type  string      `json:"t"`
}

// buildStudyInputs assembles the create_study input record: the pine identity
// entries followed by one in_N entry per descriptor input, in descriptor
// order, with user overrides taking precedence over defaults.
func buildStudyInputs(desc types.Descriptor, overrides map[string]interface{}) map[string]interface{} {
	inputs := make(map[string]interface{}, len(desc.Inputs)+2)
	inputs["pineId"] = desc.ID
	inputs["pineVersion"] = pineVersionTag

	for i, in := range desc.Inputs {
		value := in.Default
		if override, ok := overrides[in.Name]; ok {
			value = override
		}
		inputs[fmt.Sprintf("in_%d", i)] = studyInputParam{
			Value: value,
			Final: true,
			Type:  inferInputType(value),
		}
	}

	return inputs
}

// inferInputType derives the wire type tag from the effective value. JSON
// decoding hands numbers over as float64, so whole floats count as integers.
func inferInputType(value interface{}) string {
	switch v := value.(type) {
	case bool:
		return types.InputTypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return types.InputTypeInteger
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) && !math.IsNaN(v) {
			return types.InputTypeInteger
		}
		return types.InputTypeFloat
	case float32:
		return inferInputType(float64(v))
	default:
		return types.InputTypeString
	}
}

// projectStudyValues maps the newest sample of a study block through the
// descriptor's output table. Each value vector is [bar-timestamp, plot_0,
// plot_1, ...]; indicators without a known table publish their first plot
// under "value".
func projectStudyValues(desc types.Descriptor, points []dataPoint) (types.StudyValues, bool) {
	if len(points) == 0 {
		return nil, false
	}

	latest := points[len(points)-1]
	if len(latest.Values) < 2 {
		return nil, false
	}

	plots := latest.Values[1:]
	out := make(types.StudyValues, len(plots))
	for i, v := range plots {
		name, ok := desc.OutputMapping[fmt.Sprintf("plot_%d", i)]
		if !ok {
			continue
		}
		out[name] = v
	}
	if len(out) == 0 {
		out["value"] = plots[0]
	}

	return out, true
}
