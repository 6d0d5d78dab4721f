package subscription

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
)

func newTestSubscription(req Request, enabled bool, items []MonitoredItem) (*Subscription, *fakeQueue, *fakeScheduler, *fakeResponder, *fakeListener) {
	q := newFakeQueue()
	sched := newFakeScheduler()
	resp := newFakeResponder()
	listener := newFakeListener()

	s := New(Config{
		ID:                1,
		Requested:         req,
		PublishingEnabled: enabled,
		Items:             items,
		Queue:             q,
		Scheduler:         sched,
		Responder:         resp,
		Listener:          listener,
		Logger:            zerolog.Nop(),
	})
	return s, q, sched, resp, listener
}

// Traced by hand against the ten-row OnTimer table: with no items, the
// first tick has a queued request and message_sent still false, so it
// answers with a keep-alive immediately rather than waiting; the second
// tick then carries the subscription into KeepAlive, and the remaining
// ticks merely decrement keep_alive_counter since nothing is queued
// for them to answer with.
func TestKeepAliveOnEmptySubscription(t *testing.T) {
	s, _, _, resp, _ := newTestSubscription(Request{
		PublishingInterval: 1000,
		MaxKeepAliveCount:  3,
		LifetimeCount:      30,
	}, true, nil)

	for i := 0; i < 3; i++ {
		s.OnPublish(PendingPublish{RequestHandle: uint32(i + 1)})
	}
	for i := 0; i < 4; i++ {
		s.OnTimer()
	}

	if got := resp.count(); got != 1 {
		t.Fatalf("responses sent = %d, want 1", got)
	}
	r := resp.last()
	if r.NotificationMessage.SequenceNumber != 1 {
		t.Errorf("sequence_number = %d, want 1", r.NotificationMessage.SequenceNumber)
	}
	if len(r.NotificationMessage.NotificationData) != 0 {
		t.Errorf("notification_data = %v, want empty", r.NotificationMessage.NotificationData)
	}
	if r.MoreNotifications {
		t.Errorf("more_notifications = true, want false")
	}
	if s.State() != StateKeepAlive {
		t.Errorf("state = %s, want KeepAlive", s.State())
	}
	if s.keepAliveCounter != 1 {
		t.Errorf("keep_alive_counter = %d, want 1", s.keepAliveCounter)
	}
}

func TestSingleDataNotification(t *testing.T) {
	item := newFakeItem(7)
	item.push(1)

	s, _, _, resp, _ := newTestSubscription(Request{
		PublishingInterval: 1000,
		MaxKeepAliveCount:  3,
		LifetimeCount:      30,
	}, true, []MonitoredItem{item})

	s.OnPublish(PendingPublish{RequestHandle: 1})
	s.OnTimer()

	if got := resp.count(); got != 1 {
		t.Fatalf("responses sent = %d, want 1", got)
	}
	r := resp.last()
	if r.NotificationMessage.SequenceNumber != 1 {
		t.Errorf("sequence_number = %d, want 1", r.NotificationMessage.SequenceNumber)
	}
	if len(r.NotificationMessage.NotificationData) != 1 {
		t.Fatalf("notification_data entries = %d, want 1", len(r.NotificationMessage.NotificationData))
	}
	dcn, ok := r.NotificationMessage.NotificationData[0].Value.(*ua.DataChangeNotification)
	if !ok {
		t.Fatalf("notification_data[0].Value = %T, want *ua.DataChangeNotification", r.NotificationMessage.NotificationData[0].Value)
	}
	if len(dcn.MonitoredItems) != 1 {
		t.Errorf("monitored items in notification = %d, want 1", len(dcn.MonitoredItems))
	}
	if r.MoreNotifications {
		t.Errorf("more_notifications = true, want false")
	}
	if len(r.AvailableSequenceNumbers) != 1 || r.AvailableSequenceNumbers[0] != 1 {
		t.Errorf("available_sequence_numbers = %v, want [1]", r.AvailableSequenceNumbers)
	}
	if s.State() != StateNormal {
		t.Errorf("state = %s, want Normal", s.State())
	}
}

// A short lifetime (forced by a large interval to satisfy the minimum
// lifetime window with few ticks) runs out with nothing ever queued:
// the subscription drifts Normal -> Late and stays there until
// lifetime_counter reaches zero, then jumps straight to Closing without
// consulting the table. The next Publish request is answered with
// Bad_Timeout and the subscription closes.
func TestLifetimeTimeoutToClosing(t *testing.T) {
	s, _, sched, resp, listener := newTestSubscription(Request{
		PublishingInterval: 2000,
		MaxKeepAliveCount:  1,
		LifetimeCount:      5,
	}, true, nil)

	for i := 0; i < 5; i++ {
		s.OnTimer()
	}
	if s.State() != StateClosing {
		t.Fatalf("state after lifetime expiry = %s, want Closing", s.State())
	}

	s.OnPublish(PendingPublish{RequestHandle: 99})

	if s.State() != StateClosed {
		t.Fatalf("state after publish on expired subscription = %s, want Closed", s.State())
	}
	r := resp.last()
	scn, ok := r.NotificationMessage.NotificationData[0].Value.(*ua.StatusChangeNotification)
	if !ok {
		t.Fatalf("notification_data[0].Value = %T, want *ua.StatusChangeNotification", r.NotificationMessage.NotificationData[0].Value)
	}
	if scn.Status != ua.StatusBadTimeout {
		t.Errorf("status = %v, want Bad_Timeout", scn.Status)
	}

	wantTransitions := []State{StateLate, StateClosing, StateClosed}
	if len(listener.transitions) != len(wantTransitions) {
		t.Fatalf("transitions = %v, want %v", listener.transitions, wantTransitions)
	}
	for i, want := range wantTransitions {
		if listener.transitions[i] != want {
			t.Errorf("transitions[%d] = %s, want %s", i, listener.transitions[i], want)
		}
	}
	_ = sched
}

func TestAcknowledgeAndRepublish(t *testing.T) {
	item := newFakeItem(1)
	item.push(1)
	s, _, _, _, _ := newTestSubscription(Request{
		PublishingInterval: 1000,
		MaxKeepAliveCount:  3,
		LifetimeCount:      30,
	}, true, []MonitoredItem{item})

	s.OnPublish(PendingPublish{RequestHandle: 1})
	s.OnTimer()

	msg, ok := s.Republish(1)
	if !ok {
		t.Fatalf("Republish(1) ok = false, want true")
	}
	if msg.SequenceNumber != 1 {
		t.Errorf("republished sequence_number = %d, want 1", msg.SequenceNumber)
	}

	if status := s.Acknowledge(1); status != ua.StatusOK {
		t.Errorf("first Acknowledge(1) = %v, want StatusOK", status)
	}
	if status := s.Acknowledge(1); status != ua.StatusBadSequenceNumberUnknown {
		t.Errorf("second Acknowledge(1) = %v, want Bad_SequenceNumberUnknown", status)
	}
	if _, ok := s.Republish(1); ok {
		t.Errorf("Republish(1) after acknowledge ok = true, want false")
	}
}

func TestSequenceNumbersMonotonicAcrossPublishes(t *testing.T) {
	item := newFakeItem(1)
	s, _, _, resp, _ := newTestSubscription(Request{
		PublishingInterval: 1000,
		MaxKeepAliveCount:  3,
		LifetimeCount:      30,
	}, true, []MonitoredItem{item})

	// tick 1: nothing queued, nothing available -> Late.
	s.OnTimer()
	// A request arrives while Late with data newly available: notify.
	item.push(1)
	s.OnPublish(PendingPublish{RequestHandle: 1})

	if resp.count() != 1 {
		t.Fatalf("responses = %d, want 1", resp.count())
	}
	if seq := resp.last().NotificationMessage.SequenceNumber; seq != 1 {
		t.Fatalf("sequence_number = %d, want 1", seq)
	}

	// A second round trip consumes sequence number 2, never 1 again, and a
	// keep-alive (if one were sent) would never consume a number at all.
	item.push(1)
	s.OnPublish(PendingPublish{RequestHandle: 2})
	s.OnTimer()
	if resp.count() != 2 {
		t.Fatalf("responses = %d, want 2", resp.count())
	}
	if seq := resp.last().NotificationMessage.SequenceNumber; seq != 2 {
		t.Fatalf("sequence_number = %d, want 2", seq)
	}
}

// One tick answers every request already sitting in the queue, for as
// long as the gather cursor has residue left: with max_notifications=2 and
// one item holding 5 notifications, 3 requests delivered back-to-back
// before the tick must come back as three responses (seq 1,2,3 carrying
// 2,2,1 notifications, more_notifications true,true,false), not one
// response per external OnTimer call.
func TestOnTimerDrainsAllQueuedRequestsWhileCursorHasResidue(t *testing.T) {
	item := newFakeItem(1)
	item.push(5)

	s, _, _, resp, _ := newTestSubscription(Request{
		PublishingInterval:         1000,
		MaxKeepAliveCount:          3,
		LifetimeCount:              30,
		MaxNotificationsPerPublish: 2,
	}, true, []MonitoredItem{item})

	s.OnPublish(PendingPublish{RequestHandle: 1})
	s.OnPublish(PendingPublish{RequestHandle: 2})
	s.OnPublish(PendingPublish{RequestHandle: 3})
	s.OnTimer()

	if got := resp.count(); got != 3 {
		t.Fatalf("responses sent = %d, want 3", got)
	}

	wantCounts := []int{2, 2, 1}
	wantMore := []bool{true, true, false}
	for i := 0; i < 3; i++ {
		r := resp.responses[i]
		if seq := r.NotificationMessage.SequenceNumber; seq != uint32(i+1) {
			t.Errorf("response %d sequence_number = %d, want %d", i, seq, i+1)
		}
		dcn, ok := r.NotificationMessage.NotificationData[0].Value.(*ua.DataChangeNotification)
		if !ok {
			t.Fatalf("response %d notification_data[0].Value = %T, want *ua.DataChangeNotification", i, r.NotificationMessage.NotificationData[0].Value)
		}
		if len(dcn.MonitoredItems) != wantCounts[i] {
			t.Errorf("response %d carries %d notifications, want %d", i, len(dcn.MonitoredItems), wantCounts[i])
		}
		if r.MoreNotifications != wantMore[i] {
			t.Errorf("response %d more_notifications = %v, want %v", i, r.MoreNotifications, wantMore[i])
		}
	}
	if s.State() != StateNormal {
		t.Errorf("state = %s, want Normal", s.State())
	}
}

func TestModifyClampsKeepAliveCounterDown(t *testing.T) {
	s, _, _, _, _ := newTestSubscription(Request{
		PublishingInterval: 1000,
		MaxKeepAliveCount:  10,
		LifetimeCount:      30,
	}, true, nil)

	if s.keepAliveCounter != 10 {
		t.Fatalf("initial keep_alive_counter = %d, want 10", s.keepAliveCounter)
	}

	s.Modify(Request{PublishingInterval: 1000, MaxKeepAliveCount: 4, LifetimeCount: 30})

	if s.params.MaxKeepAliveCount != 4 {
		t.Fatalf("revised max_keep_alive_count = %d, want 4", s.params.MaxKeepAliveCount)
	}
	if s.keepAliveCounter > s.params.MaxKeepAliveCount {
		t.Errorf("keep_alive_counter = %d exceeds max_keep_alive_count = %d after Modify", s.keepAliveCounter, s.params.MaxKeepAliveCount)
	}
}

func TestDeleteCancelsTimerAndReturnsItems(t *testing.T) {
	item := newFakeItem(1)
	s, _, sched, _, listener := newTestSubscription(Request{
		PublishingInterval: 1000,
		MaxKeepAliveCount:  3,
		LifetimeCount:      30,
	}, true, []MonitoredItem{item})

	s.ScheduleFirstTick()
	if sched.armed != 1 {
		t.Fatalf("armed = %d, want 1", sched.armed)
	}

	items := s.Delete()
	if len(items) != 1 || items[0].ID() != 1 {
		t.Fatalf("Delete() returned %v, want [item 1]", items)
	}
	if !sched.cancelled {
		t.Errorf("Delete() did not cancel the armed timer")
	}
	if s.State() != StateClosed {
		t.Errorf("state after Delete() = %s, want Closed", s.State())
	}
	if len(listener.transitions) != 1 || listener.transitions[0] != StateClosed {
		t.Errorf("transitions = %v, want [Closed]", listener.transitions)
	}
}
