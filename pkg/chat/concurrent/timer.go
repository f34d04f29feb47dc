package concurrent

import (
	"sync"
	"time"
)

// Timer is a one shot timer that can be restarted and stopped
// without firing twice. Each start opens a new generation, an
// expiration from an older generation is ignored.
type Timer struct {
	mutex      sync.Mutex
	generation uint64
	timer      *time.Timer
	fire       func()
}

// NewTimer creates a stopped timer calling fire on expiration.
func NewTimer(fire func()) *Timer {
	return &Timer{fire: fire}
}

// Start the timer, restarting it if already running.
func (t *Timer) Start(duration time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.generation++
	generation := t.generation
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(duration, func() {
		t.expire(generation)
	})
}

// Stop the timer, if running.
func (t *Timer) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Running verify if the timer will still fire.
func (t *Timer) Running() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timer != nil
}

func (t *Timer) expire(generation uint64) {
	t.mutex.Lock()
	if generation != t.generation {
		t.mutex.Unlock()
		return
	}
	t.generation++
	t.timer = nil
	t.mutex.Unlock()
	t.fire()
}
