package helper

import "sync/atomic"

// Flag marks a client, the registry or a transport as shut down.
// It only moves from running to shut down, so when Close and Kill
// race on the same client, or a send races with Close, exactly one
// caller runs the teardown and every later send sees the component
// as gone.
type Flag struct {
	// Zero while running, one after shut down.
	down int32
}

// IsInactive verify if the component was shut down.
func (f *Flag) IsInactive() bool {
	return atomic.LoadInt32(&f.down) == 1
}

// Inactivate shuts the component down. Only the first caller
// receives true and must run the teardown.
func (f *Flag) Inactivate() bool {
	return atomic.CompareAndSwapInt32(&f.down, 0, 1)
}
