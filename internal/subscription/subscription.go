package subscription

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

// Subscription is the per-subscription OPC UA Part 4 state machine.
// Every exported method except the read-only accessors executes under a
// single mutex: at most one event or mutation is ever in flight for a given
// subscription.
type Subscription struct {
	mu sync.Mutex

	id       uint32
	priority uint8

	params            Parameters
	publishingEnabled bool

	state State

	sequenceNumber    uint32
	keepAliveCounter  uint32
	lifetimeCounter   uint32
	messageSent       bool
	moreNotifications bool

	items             map[uint32]MonitoredItem
	itemOrder         []uint32
	availableMessages map[uint32]*ua.NotificationMessage
	cursor            *itemCursor

	queue     PublishQueue
	scheduler Scheduler
	responder Responder
	listener  StateListener
	logger    zerolog.Logger

	cancelTimer CancelFunc
	now         func() time.Time
}

// Config supplies a new Subscription's collaborators and initial,
// client-requested parameters.
type Config struct {
	ID                uint32
	Priority          uint8
	Requested         Request
	PublishingEnabled bool
	Items             []MonitoredItem

	Queue     PublishQueue
	Scheduler Scheduler
	Responder Responder
	Listener  StateListener // optional

	Logger zerolog.Logger
}

// New constructs a Subscription in StateNormal with revised parameters.
// It does not arm the publishing timer; the manager does that explicitly
// via ScheduleFirstTick once the subscription is registered.
func New(cfg Config) *Subscription {
	params := Revise(cfg.Requested)

	s := &Subscription{
		id:                cfg.ID,
		priority:          cfg.Priority,
		params:            params,
		publishingEnabled: cfg.PublishingEnabled,
		state:             StateNormal,
		sequenceNumber:    1,
		keepAliveCounter:  params.MaxKeepAliveCount,
		lifetimeCounter:   params.LifetimeCount,
		items:             make(map[uint32]MonitoredItem),
		itemOrder:         make([]uint32, 0, len(cfg.Items)),
		availableMessages: make(map[uint32]*ua.NotificationMessage),
		queue:             cfg.Queue,
		scheduler:         cfg.Scheduler,
		responder:         cfg.Responder,
		listener:          cfg.Listener,
		logger:            logging.WithSubscription(cfg.Logger, cfg.ID),
		now:               time.Now,
	}
	for _, item := range cfg.Items {
		s.addItemLocked(item)
	}
	return s
}

// ID returns the subscription's immutable identifier.
func (s *Subscription) ID() uint32 { return s.id }

// State returns the current state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Parameters returns the currently effective, revised parameters.
func (s *Subscription) Parameters() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// ScheduleFirstTick arms the publishing timer. Called once by the manager
// right after a subscription is created.
func (s *Subscription) ScheduleFirstTick() {
	s.mu.Lock()
	interval := s.intervalDuration()
	s.mu.Unlock()
	s.scheduleNext(interval)
}

// --- item registry -----------------------------------------------------

func (s *Subscription) addItemLocked(item MonitoredItem) {
	id := item.ID()
	if _, exists := s.items[id]; exists {
		return
	}
	s.items[id] = item
	s.itemOrder = append(s.itemOrder, id)
}

func (s *Subscription) removeItemLocked(id uint32) {
	if _, exists := s.items[id]; !exists {
		return
	}
	delete(s.items, id)
	for i, existing := range s.itemOrder {
		if existing == id {
			s.itemOrder = append(s.itemOrder[:i], s.itemOrder[i+1:]...)
			break
		}
	}
}

type subscriptionRegistry struct{ s *Subscription }

func (r subscriptionRegistry) lookup(id uint32) (MonitoredItem, bool) {
	item, ok := r.s.items[id]
	return item, ok
}

func (r subscriptionRegistry) order() []uint32 { return r.s.itemOrder }

func (s *Subscription) registryView() registry { return subscriptionRegistry{s: s} }

// notificationsAvailable is the "notifications_available" predicate used
// throughout the transition tables: does any item currently have something
// to report, independent of the saved gather cursor.
func (s *Subscription) notificationsAvailable() bool {
	for _, id := range s.itemOrder {
		item := s.items[id]
		if item.HasNotifications() || item.IsTriggered() {
			return true
		}
	}
	return false
}

// AddItems registers new MonitoredItems and resets the lifetime counter.
// The subscription holds non-owning references.
func (s *Subscription) AddItems(items []MonitoredItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.addItemLocked(item)
	}
	s.resetLifetime()
}

// RemoveItems unregisters the given item ids and returns the items that
// were actually removed, so the caller can tear them down. Resets the
// lifetime counter.
func (s *Subscription) RemoveItems(ids []uint32) []MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]MonitoredItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			removed = append(removed, item)
			s.removeItemLocked(id)
		}
	}
	s.resetLifetime()
	return removed
}

// --- mutation operations ----------------------------------------

// Modify applies parameter revision to newly requested values and resets
// the lifetime counter. It does not reset the keep-alive counter, but
// clamps it down if max_keep_alive_count shrank, preserving the
// keep_alive_counter <= max_keep_alive_count invariant.
func (s *Subscription) Modify(req Request) Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = Revise(req)
	if s.keepAliveCounter > s.params.MaxKeepAliveCount {
		s.keepAliveCounter = s.params.MaxKeepAliveCount
	}
	s.resetLifetime()
	return s.params
}

// SetPublishingMode stores the publishing-enabled flag and resets the
// lifetime counter.
func (s *Subscription) SetPublishingMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishingEnabled = enabled
	s.resetLifetime()
}

// Delete transitions directly to Closed, bypassing Closing, cancels any
// armed timer, and returns every currently registered item so the caller
// can tear them down.
func (s *Subscription) Delete() []MonitoredItem {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	items := make([]MonitoredItem, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		items = append(items, s.items[id])
	}
	s.items = make(map[uint32]MonitoredItem)
	s.itemOrder = nil
	s.mu.Unlock()

	if prev != StateClosed {
		s.notifyStateChange(prev, StateClosed)
	}
	return items
}

// --- sequence numbers, acknowledgement, republish ----------------

// Acknowledge removes a retained message by sequence number. Idempotent:
// the second call for the same number returns Bad_SequenceNumberUnknown.
func (s *Subscription) Acknowledge(seq uint32) ua.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.availableMessages[seq]; ok {
		delete(s.availableMessages, seq)
		return ua.StatusOK
	}
	return ua.StatusBadSequenceNumberUnknown
}

// Republish resets the lifetime counter and returns the retained message
// for seq, if still available.
func (s *Subscription) Republish(seq uint32) (*ua.NotificationMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLifetime()
	msg, ok := s.availableMessages[seq]
	return msg, ok
}

// --- counters ------------------------------------------------------------

func (s *Subscription) resetLifetime() {
	s.lifetimeCounter = s.params.LifetimeCount
}

func (s *Subscription) resetKeepAlive() {
	s.keepAliveCounter = s.params.MaxKeepAliveCount
}

func (s *Subscription) intervalDuration() time.Duration {
	return time.Duration(s.params.PublishingInterval * float64(time.Millisecond))
}

// --- event handling -------------------------------------------------------

// eventOutcome is the side-effect plan a matched transition row produces
// while the lock is held; dispatch() carries it out after the lock is
// released, so responses, late registration and timer rescheduling never
// happen inside the critical section. The queue's enqueue/poll calls and
// MonitoredItem drains made by a row's action do run under the lock.
type eventOutcome struct {
	next         State
	responses    []pendingResponse
	registerLate bool
	reschedule   bool
	interval     time.Duration
}

type pendingResponse struct {
	req  PendingPublish
	resp *ua.PublishResponse
}

// OnPublish handles the arrival of a client Publish request, routing it
// through the seven-row OnPublish table.
func (s *Subscription) OnPublish(req PendingPublish) {
	s.mu.Lock()

	for _, row := range publishRows {
		if row.from != s.state || !row.match(s) {
			continue
		}
		outcome := row.action(s, req)
		prev := s.state
		s.state = outcome.next
		s.mu.Unlock()

		s.dispatch(outcome)
		if prev != outcome.next {
			s.notifyStateChange(prev, outcome.next)
		}
		return
	}

	s.mu.Unlock()
	panic(fmt.Sprintf("subscription %d: unhandled publish transition from state %s", s.id, s.state))
}

// OnTimer handles one publishing-interval tick, routing it through the
// ten-row OnTimer table. The lifetime counter is decremented first;
// reaching zero transitions to Closing directly without consulting the
// table and without rescheduling — nothing ever arms a timer for a
// Closing subscription, so a further OnTimer call while Closing is an
// unreachable precondition violation.
func (s *Subscription) OnTimer() {
	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateClosing {
		s.mu.Unlock()
		panic(fmt.Sprintf("subscription %d: OnTimer invoked while Closing", s.id))
	}

	s.lifetimeCounter--
	if s.lifetimeCounter == 0 {
		prev := s.state
		s.state = StateClosing
		s.mu.Unlock()
		s.notifyStateChange(prev, StateClosing)
		return
	}

	queued := s.queue.HasPending(s.id)
	notifAvail := s.notificationsAvailable()

	for _, row := range timerRows {
		if row.from != s.state || !row.match(s, queued, notifAvail) {
			continue
		}
		outcome := row.action(s, queued)
		prev := s.state
		s.state = outcome.next
		s.mu.Unlock()

		s.dispatch(outcome)
		if prev != outcome.next {
			s.notifyStateChange(prev, outcome.next)
		}
		return
	}

	s.mu.Unlock()
	panic(fmt.Sprintf("subscription %d: unhandled timer transition from state %s (queued=%v notifications_available=%v)", s.id, s.state, queued, notifAvail))
}

// drainQueuedFollowUps answers every Publish request already sitting in the
// shared queue, for as long as the gather cursor still has residue left
// from the notification response that was just built. Each additional
// request gets its own notification response built from wherever the
// cursor left off, so one timer tick or client Publish can answer several
// queued requests in a single dispatch instead of leaving the rest for a
// future tick. Stops as soon as the cursor is exhausted or the queue runs
// dry, whichever comes first. Called with s.mu held, like the rest of an
// eventOutcome's action.
func (s *Subscription) drainQueuedFollowUps(now time.Time) []pendingResponse {
	var extra []pendingResponse
	for s.cursor != nil && s.queue.IsNotEmpty() {
		req, ok := s.queue.PollRequest(s.id)
		if !ok {
			break
		}
		s.resetLifetime()
		resp := s.buildNotificationResponse(now)
		s.messageSent = true
		extra = append(extra, pendingResponse{req, resp})
	}
	return extra
}

// dispatch carries out an eventOutcome's side effects. It never runs while
// s.mu is held.
func (s *Subscription) dispatch(outcome eventOutcome) {
	for _, pr := range outcome.responses {
		s.responder.Respond(pr.req, pr.resp)
	}
	if outcome.registerLate {
		s.queue.RegisterLate(s.id)
	}
	if outcome.reschedule {
		s.scheduleNext(outcome.interval)
	}
}

func (s *Subscription) scheduleNext(interval time.Duration) {
	if s.scheduler == nil {
		return
	}
	cancel := s.scheduler.ScheduleAfter(interval, s.OnTimer)

	s.mu.Lock()
	if s.state == StateClosed {
		// Delete() raced with this reschedule; don't leak the new timer.
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancelTimer = cancel
	s.mu.Unlock()
}

func (s *Subscription) notifyStateChange(prev, next State) {
	if s.listener != nil {
		s.listener.OnStateChange(s.id, prev, next)
	}
	s.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("subscription state transition")
}
