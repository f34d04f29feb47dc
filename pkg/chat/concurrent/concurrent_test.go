package concurrent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jabolina/go-groupchat/pkg/chat/types"
	"go.uber.org/goleak"
)

func TestMailbox_HandlesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := uint64(0)
	mailbox := NewMailbox(context.Background(), func(ctx context.Context, message types.Message) {
		if message.Timestamp != next {
			t.Errorf("message#%d: got %d, want %d", message.Timestamp, next, message.Timestamp)
		}
		next = message.Timestamp + 1
	})

	for i := 0; i < 100; i++ {
		message := types.NewMessage(types.EnvelopeMessage, "from", "to")
		message.Timestamp = uint64(i)
		if !mailbox.Post(message) {
			t.Fatalf("mailbox refused message %d", i)
		}
	}

	mailbox.Wait(100)
	if mailbox.Pending() != 0 {
		t.Errorf("pending = %d, want 0", mailbox.Pending())
	}

	mailbox.Stop()
	if mailbox.Post(types.Message{}) {
		t.Errorf("stopped mailbox accepted a message")
	}
}

func TestMailbox_StopsWithParent(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	mailbox := NewMailbox(ctx, func(context.Context, types.Message) {})
	cancel()

	// Wait returns once the consumer is gone.
	mailbox.Wait(1)
	if mailbox.Post(types.Message{}) {
		t.Errorf("mailbox with cancelled parent accepted a message")
	}
	mailbox.Stop()
}

func TestTimer_RestartFiresOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fired int32
	timer := NewTimer(func() {
		atomic.AddInt32(&fired, 1)
	})

	timer.Start(50 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	timer.Start(50 * time.Millisecond)
	if !timer.Running() {
		t.Errorf("timer should be running")
	}

	time.Sleep(150 * time.Millisecond)
	if v := atomic.LoadInt32(&fired); v != 1 {
		t.Errorf("timer fired %d times, want 1", v)
	}

	if timer.Running() {
		t.Errorf("timer still running after firing")
	}
}

func TestTimer_StopPreventsFire(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fired int32
	timer := NewTimer(func() {
		atomic.AddInt32(&fired, 1)
	})

	timer.Start(30 * time.Millisecond)
	timer.Stop()
	timer.Stop()
	time.Sleep(80 * time.Millisecond)
	if v := atomic.LoadInt32(&fired); v != 0 {
		t.Errorf("stopped timer fired %d times", v)
	}
}

func TestDetector_LateEvent(t *testing.T) {
	detector := NewDetector(20 * time.Millisecond)
	if ok, _ := detector.Happened("node"); !ok {
		t.Errorf("first occurrence should be on time")
	}

	if ok, _ := detector.Happened("node"); !ok {
		t.Errorf("immediate occurrence should be on time")
	}

	time.Sleep(40 * time.Millisecond)
	ok, exceed := detector.Happened("node")
	if ok || exceed <= 0 {
		t.Errorf("late occurrence not detected, exceed %s", exceed)
	}

	detector.Forget("node")
	if ok, _ := detector.Happened("node"); !ok {
		t.Errorf("forgotten event should start over")
	}
}
