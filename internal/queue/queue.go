// Package queue provides the reference in-memory PublishQueue used by the
// manager: a pool of Publish requests not yet matched to a subscription,
// plus the set of subscriptions registered as "late" and waiting for one.
package queue

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-subscription-engine/internal/subscription"
	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

// Queue is a session-scoped pool of pending Publish requests shared across
// every subscription owned by that session, per OPC UA Part 4's
// cross-subscription Publish dispatch rules.
type Queue struct {
	mu sync.Mutex

	requests []subscription.PendingPublish
	late     map[uint32]struct{}
	lateSeq  []uint32

	logger zerolog.Logger
}

// New constructs an empty Queue.
func New(logger zerolog.Logger) *Queue {
	return &Queue{
		late:   make(map[uint32]struct{}),
		logger: logging.WithComponent(logger, "publish_queue"),
	}
}

// EnqueueRequest implements subscription.PublishQueue.
func (q *Queue) EnqueueRequest(req subscription.PendingPublish) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
}

// HasPending implements subscription.PublishQueue. It never consumes a
// request; subscriptionID is accepted for interface symmetry with
// PollRequest even though this reference implementation hands out requests
// to whichever subscription asks first, not to a specific owner.
func (q *Queue) HasPending(subscriptionID uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests) > 0
}

// PollRequest implements subscription.PublishQueue, removing the
// oldest-queued request if any is available.
func (q *Queue) PollRequest(subscriptionID uint32) (subscription.PendingPublish, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requests) == 0 {
		return subscription.PendingPublish{}, false
	}
	req := q.requests[0]
	q.requests = q.requests[1:]
	return req, true
}

// IsNotEmpty implements subscription.PublishQueue.
func (q *Queue) IsNotEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests) > 0
}

// RegisterLate implements subscription.PublishQueue, recording
// subscriptionID at the back of the late-registration order. Duplicate
// registrations (a subscription already late re-registering) are no-ops so
// FIFO order among distinct late subscriptions is preserved.
func (q *Queue) RegisterLate(subscriptionID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.late[subscriptionID]; ok {
		return
	}
	q.late[subscriptionID] = struct{}{}
	q.lateSeq = append(q.lateSeq, subscriptionID)
}

// NextLate pops the longest-waiting late subscription id, if any. The
// manager calls this whenever a fresh Publish request arrives, to route it
// to the late subscription that registered first (plain FIFO order; the
// subscription's priority is not consulted) before falling back to
// EnqueueRequest for the general pool.
func (q *Queue) NextLate() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.lateSeq) > 0 {
		id := q.lateSeq[0]
		q.lateSeq = q.lateSeq[1:]
		if _, ok := q.late[id]; ok {
			delete(q.late, id)
			return id, true
		}
	}
	return 0, false
}

// Forget removes subscriptionID from the late set without returning it,
// used when a subscription is deleted while still registered as late.
func (q *Queue) Forget(subscriptionID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.late, subscriptionID)
}
