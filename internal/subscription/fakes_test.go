package subscription

import (
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
)

// fakeItem is a hand-rolled MonitoredItem: a FIFO of pending data-change
// notifications plus a triggered flag, draining in call order.
type fakeItem struct {
	id        uint32
	mu        sync.Mutex
	pending   []*ua.MonitoredItemNotification
	triggered bool
}

func newFakeItem(id uint32) *fakeItem { return &fakeItem{id: id} }

func (i *fakeItem) ID() uint32 { return i.id }

func (i *fakeItem) push(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for j := 0; j < n; j++ {
		i.pending = append(i.pending, &ua.MonitoredItemNotification{ClientHandle: i.id})
	}
}

func (i *fakeItem) HasNotifications() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending) > 0
}

func (i *fakeItem) IsTriggered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.triggered
}

func (i *fakeItem) Drain(buf *GatherBuffer, limit int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := limit
	if n > len(i.pending) {
		n = len(i.pending)
	}
	for j := 0; j < n; j++ {
		buf.AddDataChange(i.pending[j])
	}
	i.pending = i.pending[n:]
	return len(i.pending) == 0
}

// fakeQueue is an in-memory PublishQueue for tests: a plain FIFO of
// requests plus a set of late subscription ids, with no per-subscription
// routing (mirrors the production reference queue's pooled semantics).
type fakeQueue struct {
	mu       sync.Mutex
	requests []PendingPublish
	late     map[uint32]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{late: make(map[uint32]bool)}
}

func (q *fakeQueue) EnqueueRequest(req PendingPublish) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
}

func (q *fakeQueue) HasPending(subscriptionID uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests) > 0
}

func (q *fakeQueue) PollRequest(subscriptionID uint32) (PendingPublish, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requests) == 0 {
		return PendingPublish{}, false
	}
	req := q.requests[0]
	q.requests = q.requests[1:]
	return req, true
}

func (q *fakeQueue) IsNotEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests) > 0
}

func (q *fakeQueue) RegisterLate(subscriptionID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.late[subscriptionID] = true
}

func (q *fakeQueue) isLate(subscriptionID uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.late[subscriptionID]
}

// fakeScheduler never actually arms a timer; tests drive OnTimer directly,
// calling it as many times as the scenario needs. It just records how many
// times ScheduleAfter was called and with what interval, and whether the
// latest arm was ever cancelled.
type fakeScheduler struct {
	mu         sync.Mutex
	armed      int
	lastPeriod time.Duration
	cancelled  bool
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{} }

func (s *fakeScheduler) ScheduleAfter(interval time.Duration, callback func()) CancelFunc {
	s.mu.Lock()
	s.armed++
	s.lastPeriod = interval
	s.cancelled = false
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}
}

// fakeResponder records every response it is handed, in call order.
type fakeResponder struct {
	mu        sync.Mutex
	responses []*ua.PublishResponse
}

func newFakeResponder() *fakeResponder { return &fakeResponder{} }

func (r *fakeResponder) Respond(req PendingPublish, resp *ua.PublishResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

func (r *fakeResponder) last() *ua.PublishResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return nil
	}
	return r.responses[len(r.responses)-1]
}

func (r *fakeResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

// fakeListener records every state transition it observes.
type fakeListener struct {
	mu          sync.Mutex
	transitions []State
}

func newFakeListener() *fakeListener { return &fakeListener{} }

func (l *fakeListener) OnStateChange(subscriptionID uint32, prev, next State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, next)
}
