package protocol

import (
	"sync/atomic"
)

// LogicalClock provide the timestamp for a single node.
// Using atomic operations so the current value can be read
// from outside the node event loop.
type LogicalClock interface {
	// Tick the clock is increased and the new value returned.
	Tick() uint64

	// Tock the value present on the clock is retrieved.
	Tock() uint64

	// Leap the clock forward to the given value. The clock never
	// goes backwards, a smaller value is ignored.
	Leap(to uint64)
}

// ProcessClock for a single process, implements the LogicalClock interface.
type ProcessClock struct {
	// Logical operation index.
	index uint64
}

// Tick Implements the LogicalClock interface.
func (p *ProcessClock) Tick() uint64 {
	return atomic.AddUint64(&p.index, 1)
}

// Tock Implements the LogicalClock interface.
func (p *ProcessClock) Tock() uint64 {
	return atomic.LoadUint64(&p.index)
}

// Leap Implements the LogicalClock interface.
func (p *ProcessClock) Leap(to uint64) {
	for {
		curr := atomic.LoadUint64(&p.index)
		if to <= curr || atomic.CompareAndSwapUint64(&p.index, curr, to) {
			return
		}
	}
}

func NewClock() LogicalClock {
	return NewClockAt(0)
}

// NewClockAt creates a clock starting at the given value.
func NewClockAt(start uint64) LogicalClock {
	return &ProcessClock{
		index: start,
	}
}
