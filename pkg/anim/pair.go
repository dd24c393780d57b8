package anim

// Pair is the sample array of one channel. Frames past the end of Values
// hold the last stored value.
type Pair struct {
	Values []int16

	// Set on import.
	Address    uint32
	EndAddress uint32

	// Offset into the values table, set by table layout or on import.
	Offset uint16
}

// NewPair copies values into a compacted pair. values must not be empty.
func NewPair(values []int16) *Pair {
	p := &Pair{Values: append([]int16(nil), values...)}
	return p.Clean()
}

// Clean drops the trailing run of values equal to the last one, keeping a
// single representative.
func (p *Pair) Clean() *Pair {
	n := len(p.Values)
	if n == 0 {
		return p
	}
	last := p.Values[n-1]
	i := n - 1
	for i > 0 && p.Values[i-1] == last {
		i--
	}
	p.Values = p.Values[:i+1]
	return p
}

// Frame returns the sample for frame i.
func (p *Pair) Frame(i int) int16 {
	if i >= len(p.Values) {
		return p.Values[len(p.Values)-1]
	}
	return p.Values[i]
}

// Expand returns frameCount samples, holding the last value.
func (p *Pair) Expand(frameCount int) []int16 {
	out := make([]int16, frameCount)
	for i := range out {
		out[i] = p.Frame(i)
	}
	return out
}
