package concurrent

import (
	"sync"
	"time"
)

// Detect late events by verifying how long it takes between
// two occurrences of the same event.
type Detector struct {
	mutex   sync.Mutex
	timeout time.Duration
	mem     map[string]time.Time
}

func NewDetector(timeout time.Duration) *Detector {
	return &Detector{
		timeout: timeout,
		mem:     make(map[string]time.Time),
	}
}

// Forget the given event.
func (d *Detector) Forget(event string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.mem, event)
}

// For a given event verifies if it already happened before and if
// so verify if the timeout already elapsed. The event is then saved
// with the current time.
// Returns true if the event is on time, and by how much it was late.
func (d *Detector) Happened(event string) (bool, time.Duration) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ok := true
	now := time.Now()
	exceed := time.Duration(0)

	if old, happened := d.mem[event]; happened {
		exceed = now.Sub(old) - d.timeout
		if exceed > 0 {
			ok = false
		}
	}
	d.mem[event] = now
	return ok, exceed
}
