package condition

import "math"

// input carries the data a condition is evaluated against. values holds the
// current snapshot keyed by canonical field name; history holds per-field bar
// series ordered oldest to newest, the final element being the current bar.
type input struct {
	values  map[string]float64
	history map[string][]float64
}

type node interface {
	eval(in input) bool
	collect(req *requirements)
}

type compareOp string

const (
	opGT  compareOp = ">"
	opLT  compareOp = "<"
	opGTE compareOp = ">="
	opLTE compareOp = "<="
	opEQ  compareOp = "=="
	opNEQ compareOp = "!="
)

func (op compareOp) apply(a, b float64) bool {
	switch op {
	case opGT:
		return a > b
	case opLT:
		return a < b
	case opGTE:
		return a >= b
	case opLTE:
		return a <= b
	case opEQ:
		return a == b
	case opNEQ:
		return a != b
	}
	return false
}

type crossDirection int

const (
	crossAny crossDirection = iota
	crossAbove
	crossBelow
)

type (
	andNode struct {
		left, right node
	}

	orNode struct {
		left, right node
	}

	// comparisonNode relates two operands at the current bar.
	comparisonNode struct {
		left  operand
		op    compareOp
		right operand
	}

	// crossoverNode is true when the relative order of the two operands
	// flipped between the previous bar and the current one.
	crossoverNode struct {
		left  operand
		dir   crossDirection
		right operand
	}

	// lookbackNode shifts the left operand back in time before comparing.
	// ex.: "volume was > 1M yesterday" -> offset 1
	lookbackNode struct {
		left   operand
		op     compareOp
		right  operand
		offset int
	}
)

func (n andNode) eval(in input) bool { return n.left.eval(in) && n.right.eval(in) }
func (n orNode) eval(in input) bool  { return n.left.eval(in) || n.right.eval(in) }

func (n comparisonNode) eval(in input) bool {
	a, ok := n.left.sample(in, 0)
	if !ok {
		return false
	}
	b, ok := n.right.sample(in, 0)
	if !ok {
		return false
	}
	return n.op.apply(a, b)
}

func (n crossoverNode) eval(in input) bool {
	cur1, prev1, ok := n.left.window(in)
	if !ok {
		return false
	}
	cur2, prev2, ok := n.right.window(in)
	if !ok {
		return false
	}
	above := prev1-prev2 <= 0 && cur1-cur2 > 0
	below := prev1-prev2 >= 0 && cur1-cur2 < 0
	switch n.dir {
	case crossAbove:
		return above
	case crossBelow:
		return below
	}
	return above || below
}

func (n lookbackNode) eval(in input) bool {
	a, ok := n.left.sample(in, n.offset)
	if !ok {
		return false
	}
	b, ok := n.right.sample(in, 0)
	if !ok {
		return false
	}
	return n.op.apply(a, b)
}

func (n andNode) collect(req *requirements) {
	n.left.collect(req)
	n.right.collect(req)
}

func (n orNode) collect(req *requirements) {
	n.left.collect(req)
	n.right.collect(req)
}

func (n comparisonNode) collect(req *requirements) {
	n.left.collect(req, 0)
	n.right.collect(req, 0)
}

func (n crossoverNode) collect(req *requirements) {
	// a crossover reads one bar behind each operand
	n.left.collect(req, 1)
	n.right.collect(req, 1)
}

func (n lookbackNode) collect(req *requirements) {
	n.left.collect(req, n.offset)
	n.right.collect(req, 0)
}

// operand is a leaf value source: a numeric literal or a named field with an
// optional bar offset.
type operand interface {
	// sample resolves the operand extra bars behind its own offset. The
	// boolean is false when the value is missing or NaN.
	sample(in input, extra int) (float64, bool)
	// window resolves the current and previous samples for crossover
	// detection.
	window(in input) (cur, prev float64, ok bool)
	collect(req *requirements, extra int)
}

type literalOperand float64

func (l literalOperand) sample(input, int) (float64, bool) { return float64(l), true }

func (l literalOperand) window(input) (float64, float64, bool) {
	return float64(l), float64(l), true
}

func (l literalOperand) collect(*requirements, int) {}

// fieldOperand names a quote field or indicator output. offset counts bars
// back from the current one, so "rsi[1]" is the previous bar's RSI.
type fieldOperand struct {
	name   string
	offset int
}

func (f fieldOperand) sample(in input, extra int) (float64, bool) {
	name := canonicalField(f.name)
	off := f.offset + extra
	if off == 0 {
		v, ok := in.values[name]
		if !ok || math.IsNaN(v) {
			return 0, false
		}
		return v, true
	}
	series := in.history[name]
	idx := len(series) - 1 - off
	if idx < 0 {
		return 0, false
	}
	v := series[idx]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func (f fieldOperand) window(in input) (float64, float64, bool) {
	series := in.history[canonicalField(f.name)]
	idx := len(series) - 1 - f.offset
	if idx < 1 {
		return 0, 0, false
	}
	cur, prev := series[idx], series[idx-1]
	if math.IsNaN(cur) || math.IsNaN(prev) {
		return 0, 0, false
	}
	return cur, prev, true
}

func (f fieldOperand) collect(req *requirements, extra int) {
	req.noteField(f.name, f.offset+extra)
}
