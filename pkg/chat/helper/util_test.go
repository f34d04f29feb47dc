package helper

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestMaxValue(t *testing.T) {
	if v := MaxValue(nil); v != 0 {
		t.Errorf("empty slice should be 0, found %d", v)
	}

	if v := MaxValue([]uint64{3, 9, 1, 9, 4}); v != 9 {
		t.Errorf("expected 9, found %d", v)
	}
}

func TestFlag_InactivateOnce(t *testing.T) {
	f := Flag{}
	if f.IsInactive() {
		t.Fatalf("flag should start running")
	}

	winners := int32(0)
	group := &sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			if f.Inactivate() {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	group.Wait()

	if winners != 1 {
		t.Errorf("expected a single teardown, found %d", winners)
	}

	if !f.IsInactive() {
		t.Errorf("flag should be inactive")
	}
}

func TestGenerateUID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		uid := GenerateUID()
		if seen[uid] {
			t.Fatalf("duplicated uid %s", uid)
		}
		seen[uid] = true
	}
}
