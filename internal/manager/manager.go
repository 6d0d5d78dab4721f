// Package manager provides the cross-subscription orchestration that sits
// above individual Subscription state machines: subscription id
// allocation, Publish dispatch (including the Closed-state interception
// that answers Bad_NoSubscription without ever touching the state
// machine), and republish/acknowledge routing to the right subscription.
package manager

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-subscription-engine/internal/queue"
	"github.com/nexus-edge/opcua-subscription-engine/internal/scheduler"
	"github.com/nexus-edge/opcua-subscription-engine/internal/subscription"
	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

// Transport delivers a completed PublishResponse to its waiting client
// connection. The manager's Responder implementation calls this after
// filling in the response header and acknowledge results.
type Transport interface {
	Deliver(requestHandle uint32, resp *ua.PublishResponse)
}

// Notifier receives a copy of every NotificationMessage the manager hands
// to the transport, for the optional notification bridge. It must
// never block or fail the caller.
type Notifier interface {
	Publish(subscriptionID uint32, msg *ua.NotificationMessage)
}

// Stats tracks manager-wide counters, mirroring the atomic-counter idiom
// used throughout this codebase's service layer instead of a mutex-guarded
// struct.
type Stats struct {
	SubscriptionsCreated atomic.Uint64
	SubscriptionsClosed  atomic.Uint64
	PublishesAnswered    atomic.Uint64
	NotificationsSent    atomic.Uint64
}

// Manager owns every Subscription belonging to one session and the shared
// PublishQueue they dispatch through.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[uint32]*entry
	nextID        atomic.Uint32

	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	transport Transport
	listener  subscription.StateListener // optional, may be nil
	notifier  Notifier                   // optional, may be nil

	logger zerolog.Logger
	stats  Stats
}

type entry struct {
	sub   *subscription.Subscription
	items map[uint32]subscription.MonitoredItem
}

// Config supplies a Manager's collaborators.
type Config struct {
	Transport Transport
	Listener  subscription.StateListener
	Notifier  Notifier
	Logger    zerolog.Logger
}

// New constructs a Manager with its own private Queue and Scheduler.
func New(cfg Config) *Manager {
	m := &Manager{
		subscriptions: make(map[uint32]*entry),
		transport:     cfg.Transport,
		listener:      cfg.Listener,
		notifier:      cfg.Notifier,
		logger:        logging.WithComponent(cfg.Logger, "manager"),
	}
	m.queue = queue.New(cfg.Logger)
	m.scheduler = scheduler.New()
	return m
}

// CreateSubscription allocates a fresh subscription id, constructs its
// state machine in StateNormal, and arms its first publishing timer tick.
func (m *Manager) CreateSubscription(priority uint8, req subscription.Request, publishingEnabled bool, items []subscription.MonitoredItem) (uint32, subscription.Parameters) {
	id := m.nextID.Add(1)

	sub := subscription.New(subscription.Config{
		ID:                id,
		Priority:          priority,
		Requested:         req,
		PublishingEnabled: publishingEnabled,
		Items:             items,
		Queue:             m.queue,
		Scheduler:         m.scheduler,
		Responder:         responderFunc(m.respond),
		Listener:          m.listener,
		Logger:            m.logger,
	})

	itemsByID := make(map[uint32]subscription.MonitoredItem, len(items))
	for _, item := range items {
		itemsByID[item.ID()] = item
	}

	m.mu.Lock()
	m.subscriptions[id] = &entry{sub: sub, items: itemsByID}
	m.mu.Unlock()

	m.stats.SubscriptionsCreated.Add(1)
	sub.ScheduleFirstTick()

	m.logger.Info().Uint32("subscription_id", id).Msg("subscription created")
	return id, sub.Parameters()
}

// ModifySubscription revises and applies new parameters to an existing
// subscription.
func (m *Manager) ModifySubscription(id uint32, req subscription.Request) (subscription.Parameters, bool) {
	sub, ok := m.lookup(id)
	if !ok {
		return subscription.Parameters{}, false
	}
	return sub.Modify(req), true
}

// SetPublishingMode toggles publishing for one or more subscriptions.
func (m *Manager) SetPublishingMode(enabled bool, ids []uint32) []uint32 {
	failed := make([]uint32, 0)
	for _, id := range ids {
		sub, ok := m.lookup(id)
		if !ok {
			failed = append(failed, id)
			continue
		}
		sub.SetPublishingMode(enabled)
	}
	return failed
}

// CreateMonitoredItems registers new items against an existing subscription.
func (m *Manager) CreateMonitoredItems(id uint32, items []subscription.MonitoredItem) bool {
	m.mu.Lock()
	e, ok := m.subscriptions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	for _, item := range items {
		e.items[item.ID()] = item
	}
	m.mu.Unlock()

	e.sub.AddItems(items)
	return true
}

// DeleteMonitoredItems unregisters items from an existing subscription and
// returns the ones actually removed.
func (m *Manager) DeleteMonitoredItems(id uint32, itemIDs []uint32) ([]subscription.MonitoredItem, bool) {
	sub, ok := m.lookup(id)
	if !ok {
		return nil, false
	}
	removed := sub.RemoveItems(itemIDs)

	m.mu.Lock()
	if e, ok := m.subscriptions[id]; ok {
		for _, id := range itemIDs {
			delete(e.items, id)
		}
	}
	m.mu.Unlock()

	return removed, true
}

// DeleteSubscription tears a subscription down, returning its last-held
// MonitoredItems so the caller can release them.
func (m *Manager) DeleteSubscription(id uint32) ([]subscription.MonitoredItem, bool) {
	m.mu.Lock()
	e, ok := m.subscriptions[id]
	if ok {
		delete(m.subscriptions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	items := e.sub.Delete()
	m.queue.Forget(id)
	m.stats.SubscriptionsClosed.Add(1)
	m.logger.Info().Uint32("subscription_id", id).Msg("subscription deleted")
	return items, true
}

// Publish dispatches one incoming Publish request. A request targeting a
// specific subscription ID still routes through the shared queue: Publish
// requests are session-scoped, and the first subscription needing one
// (enqueued requests answer in FIFO order, late subscriptions take
// priority) gets it, not necessarily the session's "current" subscription.
// Closed subscriptions are intercepted here, never reaching their own
// OnPublish: the state machine's own Closed row exists only as a defensive
// fallback, see DESIGN.md.
func (m *Manager) Publish(req subscription.PendingPublish) {
	if id, ok := m.queue.NextLate(); ok {
		if sub, ok := m.lookup(id); ok {
			if sub.State() == subscription.StateClosed {
				m.respond(req, &ua.PublishResponse{
					ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusBadNoSubscription},
				})
				return
			}
			m.stats.PublishesAnswered.Add(1)
			sub.OnPublish(req)
			return
		}
		// The late subscription was deleted between registering and this
		// Publish arriving; fall through to the general pool.
	}

	if len(m.subscriptions) == 0 {
		m.respond(req, &ua.PublishResponse{
			ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusBadNoSubscription},
		})
		return
	}

	m.stats.PublishesAnswered.Add(1)
	m.queue.EnqueueRequest(req)
}

// PublishTo routes a Publish request directly at one subscription,
// answering Bad_SubscriptionIDInvalid if it does not exist and
// Bad_NoSubscription if it has already closed.
func (m *Manager) PublishTo(id uint32, req subscription.PendingPublish) {
	sub, ok := m.lookup(id)
	if !ok {
		m.respond(req, &ua.PublishResponse{
			ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusBadSubscriptionIDInvalid},
		})
		return
	}
	if sub.State() == subscription.StateClosed {
		m.respond(req, &ua.PublishResponse{
			ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusBadNoSubscription},
		})
		return
	}
	m.stats.PublishesAnswered.Add(1)
	sub.OnPublish(req)
}

// Republish resolves a republish request against one subscription.
func (m *Manager) Republish(id, seq uint32) (*ua.NotificationMessage, ua.StatusCode) {
	sub, ok := m.lookup(id)
	if !ok {
		return nil, ua.StatusBadSubscriptionIDInvalid
	}
	msg, found := sub.Republish(seq)
	if !found {
		return nil, ua.StatusBadMessageNotAvailable
	}
	return msg, ua.StatusOK
}

// AcknowledgeResults processes a Publish request's acknowledgements, which
// may span several subscriptions under the same session, and returns one
// status per acknowledgement in request order.
func (m *Manager) AcknowledgeResults(acks []*ua.SubscriptionAcknowledgement) []ua.StatusCode {
	results := make([]ua.StatusCode, len(acks))
	for i, ack := range acks {
		sub, ok := m.lookup(ack.SubscriptionID)
		if !ok {
			results[i] = ua.StatusBadSubscriptionIDInvalid
			continue
		}
		results[i] = sub.Acknowledge(ack.SequenceNumber)
	}
	return results
}

func (m *Manager) lookup(id uint32) (*subscription.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.subscriptions[id]
	if !ok {
		return nil, false
	}
	return e.sub, true
}

// respond fills in the parts of a PublishResponse that belong to the
// manager's session-level bookkeeping, not to any one subscription's state
// machine, then hands it to the transport.
func (m *Manager) respond(req subscription.PendingPublish, resp *ua.PublishResponse) {
	if resp.ResponseHeader == nil {
		resp.ResponseHeader = &ua.ResponseHeader{ServiceResult: ua.StatusOK}
	}
	if len(req.Acknowledgements) > 0 {
		resp.Results = m.AcknowledgeResults(req.Acknowledgements)
	}
	if resp.NotificationMessage != nil && len(resp.NotificationMessage.NotificationData) > 0 {
		m.stats.NotificationsSent.Add(1)
		if m.notifier != nil {
			m.notifier.Publish(resp.SubscriptionID, resp.NotificationMessage)
		}
	}
	if m.transport == nil {
		panic(fmt.Sprintf("manager: no transport configured, cannot deliver response for request handle %d", req.RequestHandle))
	}
	m.transport.Deliver(req.RequestHandle, resp)
}

// responderFunc adapts a plain function to subscription.Responder.
type responderFunc func(req subscription.PendingPublish, resp *ua.PublishResponse)

func (f responderFunc) Respond(req subscription.PendingPublish, resp *ua.PublishResponse) {
	f(req, resp)
}

// Stats returns a snapshot-safe pointer to the manager's running counters.
func (m *Manager) Stats() *Stats { return &m.stats }
