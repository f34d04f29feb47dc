package core

import "sync"

// Invoker is responsible for handling goroutines.
// This is used so go routines do not leak and are
// spawned without any control.
// Using the invoker to spawn new routines will guarantee
// that any routine that is not controller careful will
// be known when the component finishes.
type Invoker interface {
	// Spawn a new goroutine and manage through the SyncGroup.
	// Returns false if the invoker is already stopped.
	Spawn(func()) bool

	// Stop the invoker and wait for every spawned routine.
	Stop()
}

// GroupInvoker implements the Invoker interface, each component
// owns an instance.
type GroupInvoker struct {
	// Use to synchronize if the invoker if open or not.
	mutex *sync.Mutex

	// Flag that tells if the invoker still available or not.
	working bool

	// Wait group to keep track of go routines.
	group *sync.WaitGroup
}

func NewInvoker() Invoker {
	return &GroupInvoker{
		mutex:   &sync.Mutex{},
		working: true,
		group:   &sync.WaitGroup{},
	}
}

// This method will increase the size of the group
// count and spawn the new go routine. After the
// routine is done, the group will be decreased.
func (c *GroupInvoker) Spawn(f func()) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.working {
		return false
	}

	c.group.Add(1)
	go func() {
		defer c.group.Done()
		f()
	}()
	return true
}

// Blocks while waiting for go routines to stop.
// After this is called no routine is spawned.
func (c *GroupInvoker) Stop() {
	c.mutex.Lock()
	c.working = false
	c.mutex.Unlock()
	c.group.Wait()
}
