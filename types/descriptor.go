package types

// Input type tags carried by descriptor input definitions and echoed in
// create_study parameter records.
const (
	InputTypeInteger = "integer"
	InputTypeFloat   = "float"
	InputTypeBoolean = "boolean"
	InputTypeString  = "string"
)

// InputDef defines one study input: its name, type, default, and the
// constraints the service attaches to it.
type InputDef struct {
	Name    string
	Type    string
	Default interface{}
	Min     float64 // NaN when unconstrained
	Max     float64 // NaN when unconstrained
	Options []string
}

// Descriptor is the schema of one indicator as served by the metadata
// endpoint: wire id, version, ordered inputs, ordered output plots, and the
// friendly plot names known for the standard indicators. Descriptors are
// immutable after fetch and shared via the process-wide cache.
type Descriptor struct {
	ID      string // wire id, e.g. "STD;MACD"
	Version string
	Inputs  []InputDef
	Plots   []string
	// OutputMapping maps "plot_N" to a friendly output name. Empty for
	// indicators without a known mapping; the binder then emits "value".
	OutputMapping map[string]string
}

// Input returns the input definition named name.
func (d Descriptor) Input(name string) (InputDef, bool) {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputDef{}, false
}
