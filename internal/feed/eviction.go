package feed

const (
	DefaultCap        = 2000
	DefaultKeepWindow = 500
)

// EvictionPolicy bounds the buffer after a pagination cycle.
type EvictionPolicy struct {
	Cap        int
	KeepWindow int
}

// EvictionPlan is the outcome of evaluating the policy. Triggered is false when
// the buffer is within the cap; Skipped is set when the computed window is empty.
type EvictionPlan struct {
	Triggered bool
	Skipped   bool
	KeepStart int
	KeepEnd   int
}

// Removed is the number of items the plan drops.
func (p EvictionPlan) Removed(length int) int {
	if !p.Triggered || p.Skipped {
		return 0
	}
	return length - (p.KeepEnd - p.KeepStart)
}

// Plan computes the window to keep around centerIndex for a buffer of length items.
func (p EvictionPolicy) Plan(length, centerIndex int) EvictionPlan {
	if length <= p.Cap {
		return EvictionPlan{}
	}

	half := p.KeepWindow / 2
	keepStart := max(0, centerIndex-half)
	keepEnd := min(length, centerIndex+half)
	if centerIndex < 0 || keepEnd <= keepStart {
		return EvictionPlan{Triggered: true, Skipped: true, KeepStart: keepStart, KeepEnd: keepEnd}
	}
	return EvictionPlan{Triggered: true, KeepStart: keepStart, KeepEnd: keepEnd}
}
