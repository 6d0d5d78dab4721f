package queue

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-subscription-engine/internal/subscription"
)

func TestEnqueueAndPollFIFO(t *testing.T) {
	q := New(zerolog.Nop())

	q.EnqueueRequest(subscription.PendingPublish{RequestHandle: 1})
	q.EnqueueRequest(subscription.PendingPublish{RequestHandle: 2})

	if !q.HasPending(0) {
		t.Fatalf("HasPending = false, want true after enqueueing")
	}

	req, ok := q.PollRequest(0)
	if !ok || req.RequestHandle != 1 {
		t.Fatalf("PollRequest = (%v, %v), want (handle 1, true)", req, ok)
	}

	req, ok = q.PollRequest(0)
	if !ok || req.RequestHandle != 2 {
		t.Fatalf("PollRequest = (%v, %v), want (handle 2, true)", req, ok)
	}

	if q.HasPending(0) {
		t.Errorf("HasPending = true after draining, want false")
	}
	if _, ok := q.PollRequest(0); ok {
		t.Errorf("PollRequest on empty queue ok = true, want false")
	}
}

func TestHasPendingDoesNotConsume(t *testing.T) {
	q := New(zerolog.Nop())
	q.EnqueueRequest(subscription.PendingPublish{RequestHandle: 1})

	for i := 0; i < 3; i++ {
		if !q.HasPending(0) {
			t.Fatalf("HasPending call %d = false, want true (peek must not consume)", i)
		}
	}
	if !q.IsNotEmpty() {
		t.Fatalf("IsNotEmpty = false after only peeking, want true")
	}
}

func TestRegisterLateFIFOAndDedup(t *testing.T) {
	q := New(zerolog.Nop())

	q.RegisterLate(10)
	q.RegisterLate(20)
	q.RegisterLate(10) // duplicate: must not jump the queue or duplicate the entry

	id, ok := q.NextLate()
	if !ok || id != 10 {
		t.Fatalf("NextLate = (%d, %v), want (10, true)", id, ok)
	}
	id, ok = q.NextLate()
	if !ok || id != 20 {
		t.Fatalf("NextLate = (%d, %v), want (20, true)", id, ok)
	}
	if _, ok := q.NextLate(); ok {
		t.Errorf("NextLate on empty late set ok = true, want false")
	}
}

func TestForgetRemovesLateSubscription(t *testing.T) {
	q := New(zerolog.Nop())

	q.RegisterLate(1)
	q.RegisterLate(2)
	q.Forget(1)

	id, ok := q.NextLate()
	if !ok || id != 2 {
		t.Fatalf("NextLate after Forget(1) = (%d, %v), want (2, true)", id, ok)
	}
	if _, ok := q.NextLate(); ok {
		t.Errorf("NextLate after draining ok = true, want false")
	}
}
