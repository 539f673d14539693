package vm

// loopKey identifies one loop: the header is the backward target and
// the source is the position just past the JUMP_BACK operand.
type loopKey struct {
	Header int
	Source int
}

// BackedgeProfiler counts backedge executions per loop. A loop becomes
// hot once its count reaches the threshold; compilation is attempted
// once and the verdict is remembered either way.
type BackedgeProfiler struct {
	threshold int
	counts    map[loopKey]int
}

// DefaultHotThreshold is how many backedge executions make a loop hot.
const DefaultHotThreshold = 10

func NewBackedgeProfiler(threshold int) *BackedgeProfiler {
	if threshold <= 0 {
		threshold = DefaultHotThreshold
	}
	return &BackedgeProfiler{
		threshold: threshold,
		counts:    make(map[loopKey]int),
	}
}

// Count records one execution of a backedge and returns the new count.
func (p *BackedgeProfiler) Count(key loopKey) int {
	p.counts[key]++
	return p.counts[key]
}

// Hot reports whether the loop has crossed the threshold.
func (p *BackedgeProfiler) Hot(key loopKey) bool {
	return p.counts[key] >= p.threshold
}

// CountOf returns the current count, for inspection.
func (p *BackedgeProfiler) CountOf(key loopKey) int {
	return p.counts[key]
}
