package protocol

import (
	"sync"
	"testing"
)

func TestLogicalClock_GroupTick(t *testing.T) {
	concurrentMembers := 50000
	clk := NewClock()

	wg := &sync.WaitGroup{}
	wg.Add(concurrentMembers)

	act := func() {
		defer wg.Done()
		clk.Tick()
	}

	for i := 0; i < concurrentMembers; i++ {
		go act()
	}

	wg.Wait()

	if clk.Tock() != uint64(concurrentMembers) {
		t.Fatalf("failed on concurrent increment %d: %d", concurrentMembers, clk.Tock())
	}
}

func TestLogicalClock_LeapNeverGoesBack(t *testing.T) {
	clk := NewClockAt(10)
	clk.Leap(3)
	if clk.Tock() != 10 {
		t.Fatalf("clock moved backwards to %d", clk.Tock())
	}

	clk.Leap(42)
	if clk.Tock() != 42 {
		t.Fatalf("clock should leap to 42, found %d", clk.Tock())
	}

	if v := clk.Tick(); v != 43 {
		t.Fatalf("tick after leap should be 43, found %d", v)
	}
}
