// Package subscription implements the OPC UA server-side Subscription state
// machine: the Subscription State Table from Part 4 of the specification,
// keep-alive/lifetime counter discipline, fair notification draining across
// MonitoredItems, and sequence-number/acknowledgement bookkeeping.
//
// The package depends only on the narrow collaborator interfaces declared
// here. Session handling, node addressing, transport encoding, and the
// publish queue's own fairness policy live outside this package.
package subscription

import (
	"time"

	"github.com/gopcua/opcua/ua"
)

// MonitoredItem is the capability a subscription drains for notifications.
// Implementations own sampling, filtering, and per-item queueing; this
// package only ever reads notifications out of one through Drain.
type MonitoredItem interface {
	// ID is the client handle this item was created with.
	ID() uint32

	// HasNotifications reports whether the item currently holds at least
	// one queued notification ready to drain.
	HasNotifications() bool

	// IsTriggered reports whether an associated triggering item fired,
	// forcing this item into the working set even without its own queued
	// notification.
	IsTriggered() bool

	// Drain writes up to limit notifications into buf and reports whether
	// the item has no further notifications left (true) or was cut short
	// by limit (false). Drain must not fail: item-level errors are
	// signalled as notification payloads, never as an error return.
	Drain(buf *GatherBuffer, limit int) (drained bool)
}

// GatherBuffer accumulates the notifications gathered during one publish
// pass, partitioned by kind.
type GatherBuffer struct {
	DataChanges []*ua.MonitoredItemNotification
	Events      []*ua.EventFieldList
}

// Len returns the number of individual notifications gathered so far.
func (b *GatherBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.DataChanges) + len(b.Events)
}

// AddDataChange appends a data-change notification to the buffer.
func (b *GatherBuffer) AddDataChange(n *ua.MonitoredItemNotification) {
	b.DataChanges = append(b.DataChanges, n)
}

// AddEvent appends an event notification to the buffer.
func (b *GatherBuffer) AddEvent(n *ua.EventFieldList) {
	b.Events = append(b.Events, n)
}

// PendingPublish is a client Publish request waiting to be answered. The
// session-level acknowledgements it carries are processed by the Manager
// collaborator, not by the Subscription the request ends up answering.
type PendingPublish struct {
	RequestHandle    uint32
	Acknowledgements []*ua.SubscriptionAcknowledgement
	Received         time.Time
}

// PublishQueue is the cross-subscription collaborator that holds Publish
// requests not yet matched to a subscription and tracks which subscriptions
// are "late" (need a request but have none). The subscription state machine
// never blocks on it: every method must return immediately.
type PublishQueue interface {
	// EnqueueRequest places a freshly arrived Publish request into the
	// shared pool.
	EnqueueRequest(req PendingPublish)

	// HasPending reports, without consuming anything, whether a request is
	// currently available for subscriptionID. This is the "request_queued"
	// predicate used throughout the OnTimer transition table; it must be
	// side-effect-free so evaluating it never consumes a request a later
	// row decides not to poll.
	HasPending(subscriptionID uint32) bool

	// PollRequest removes and returns a request available for
	// subscriptionID, if any.
	PollRequest(subscriptionID uint32) (PendingPublish, bool)

	// IsNotEmpty reports whether any request is available for any
	// subscription.
	IsNotEmpty() bool

	// RegisterLate marks subscriptionID as needing the next available
	// Publish request (OPC UA Part 4's ordering guarantee (b)).
	RegisterLate(subscriptionID uint32)
}

// CancelFunc cancels a scheduled timer callback. Calling it after the
// callback has already fired is a no-op.
type CancelFunc func()

// Scheduler arms the publishing-interval timer. Implementations must invoke
// callback on a goroutine distinct from the caller's stack: OnTimer must
// never be re-entered recursively from within itself.
type Scheduler interface {
	ScheduleAfter(interval time.Duration, callback func()) CancelFunc
}

// Responder delivers a completed PublishResponse for the request it
// answers. The Manager implementation fills in ResponseHeader and
// AcknowledgeResults before handing the response to the transport.
type Responder interface {
	Respond(req PendingPublish, resp *ua.PublishResponse)
}

// StateListener observes state machine transitions, e.g. for metrics or
// diagnostics. It is optional and purely an observer: it cannot veto or
// alter a transition.
type StateListener interface {
	OnStateChange(subscriptionID uint32, prev, next State)
}
