package app

type OverflowAction int

const (
	// DropOldest keeps the consumer; its oldest queued frame is already gone.
	DropOldest OverflowAction = iota
	// KickConsumer closes a consumer that cannot keep up.
	KickConsumer
)

// OverflowPolicy decides what happens to a consumer whose queue overflowed.
// streak counts consecutive overflowing pushes.
type OverflowPolicy interface {
	OnOverflow(consumer *Session, streak int) OverflowAction
}

type DropOldestPolicy struct{}

func (DropOldestPolicy) OnOverflow(*Session, int) OverflowAction { return DropOldest }

// KickAfterPolicy kicks a consumer after Threshold consecutive overflows.
type KickAfterPolicy struct {
	Threshold int
}

func (p KickAfterPolicy) OnOverflow(_ *Session, streak int) OverflowAction {
	if p.Threshold > 0 && streak >= p.Threshold {
		return KickConsumer
	}
	return DropOldest
}

// NewOverflowPolicy returns drop-oldest for kickAfter <= 0.
func NewOverflowPolicy(kickAfter int) OverflowPolicy {
	if kickAfter <= 0 {
		return DropOldestPolicy{}
	}
	return KickAfterPolicy{Threshold: kickAfter}
}
