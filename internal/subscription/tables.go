package subscription

import "github.com/gopcua/opcua/ua"

// publishRows is the seven-row OnPublish transition table. Rows are tried
// top to bottom within a matching from-state; the first whose match
// predicate holds wins. Every state has at least one row whose predicate is
// unconditionally true, so the table is total.
var publishRows = []struct {
	from   State
	match  func(s *Subscription) bool
	action func(s *Subscription, req PendingPublish) eventOutcome
}{
	{
		from:  StateNormal,
		match: func(s *Subscription) bool { return !s.publishingEnabled || !s.moreNotifications },
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			s.queue.EnqueueRequest(req)
			return eventOutcome{next: StateNormal}
		},
	},
	{
		from:  StateNormal,
		match: func(s *Subscription) bool { return s.publishingEnabled && s.moreNotifications },
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			now := s.now()
			s.resetLifetime()
			resp := s.buildNotificationResponse(now)
			s.messageSent = true
			responses := append([]pendingResponse{{req, resp}}, s.drainQueuedFollowUps(now)...)
			return eventOutcome{next: StateNormal, responses: responses}
		},
	},
	{
		from:  StateKeepAlive,
		match: func(s *Subscription) bool { return true },
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			s.queue.EnqueueRequest(req)
			return eventOutcome{next: StateKeepAlive}
		},
	},
	{
		from: StateLate,
		match: func(s *Subscription) bool {
			return s.publishingEnabled && (s.notificationsAvailable() || s.moreNotifications)
		},
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			now := s.now()
			s.resetLifetime()
			resp := s.buildNotificationResponse(now)
			s.messageSent = true
			responses := append([]pendingResponse{{req, resp}}, s.drainQueuedFollowUps(now)...)
			return eventOutcome{next: StateNormal, responses: responses}
		},
	},
	{
		from:  StateLate,
		match: func(s *Subscription) bool { return true },
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			s.resetLifetime()
			resp := s.buildKeepAliveResponse(s.now())
			s.messageSent = true
			return eventOutcome{next: StateKeepAlive, responses: []pendingResponse{{req, resp}}}
		},
	},
	{
		from:  StateClosing,
		match: func(s *Subscription) bool { return true },
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			resp := s.buildStatusChangeResponse(s.now(), ua.StatusBadTimeout)
			return eventOutcome{next: StateClosed, responses: []pendingResponse{{req, resp}}}
		},
	},
	{
		from:  StateClosed,
		match: func(s *Subscription) bool { return true },
		action: func(s *Subscription, req PendingPublish) eventOutcome {
			// Reachable only if the manager forwards a Publish to a Closed
			// subscription instead of answering Bad_NoSubscription itself;
			// kept as a defensive fallback, see DESIGN.md.
			s.queue.EnqueueRequest(req)
			return eventOutcome{next: StateClosed}
		},
	},
}

// timerRows is the ten-row OnTimer transition table, evaluated once the
// lifetime-counter-reaches-zero shortcut in OnTimer has already been ruled
// out. "queued" and "notifAvail" are snapshotted once by the caller before
// the table is walked, so every row sees a consistent view.
var timerRows = []struct {
	from   State
	match  func(s *Subscription, queued, notifAvail bool) bool
	action func(s *Subscription, queued bool) eventOutcome
}{
	{
		from: StateNormal,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return queued && s.publishingEnabled && notifAvail
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			now := s.now()
			req, _ := s.queue.PollRequest(s.id)
			s.resetLifetime()
			resp := s.buildNotificationResponse(now)
			s.messageSent = true
			responses := append([]pendingResponse{{req, resp}}, s.drainQueuedFollowUps(now)...)
			return eventOutcome{next: StateNormal, responses: responses, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateNormal,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return queued && !s.messageSent && (!s.publishingEnabled || !notifAvail)
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			req, _ := s.queue.PollRequest(s.id)
			s.resetLifetime()
			resp := s.buildKeepAliveResponse(s.now())
			s.messageSent = true
			return eventOutcome{next: StateNormal, responses: []pendingResponse{{req, resp}}, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateNormal,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return !queued && (!s.messageSent || (s.publishingEnabled && notifAvail))
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			s.messageSent = false
			return eventOutcome{next: StateLate, registerLate: true, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateNormal,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return s.messageSent && (!s.publishingEnabled || !notifAvail)
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			s.messageSent = false
			s.resetKeepAlive()
			return eventOutcome{next: StateKeepAlive, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from:  StateLate,
		match: func(s *Subscription, queued, notifAvail bool) bool { return true },
		action: func(s *Subscription, queued bool) eventOutcome {
			return eventOutcome{next: StateLate, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateKeepAlive,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return s.publishingEnabled && notifAvail && queued
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			now := s.now()
			req, _ := s.queue.PollRequest(s.id)
			s.resetLifetime()
			resp := s.buildNotificationResponse(now)
			s.messageSent = true
			responses := append([]pendingResponse{{req, resp}}, s.drainQueuedFollowUps(now)...)
			return eventOutcome{next: StateNormal, responses: responses, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateKeepAlive,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return queued && s.keepAliveCounter == 1 && (!s.publishingEnabled || !notifAvail)
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			req, _ := s.queue.PollRequest(s.id)
			resp := s.buildKeepAliveResponse(s.now())
			s.resetLifetime()
			s.resetKeepAlive()
			return eventOutcome{next: StateKeepAlive, responses: []pendingResponse{{req, resp}}, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateKeepAlive,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return s.keepAliveCounter > 1 && (!s.publishingEnabled || !notifAvail)
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			s.keepAliveCounter--
			return eventOutcome{next: StateKeepAlive, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from: StateKeepAlive,
		match: func(s *Subscription, queued, notifAvail bool) bool {
			return !queued && (s.keepAliveCounter == 1 || (s.keepAliveCounter > 1 && s.publishingEnabled && notifAvail))
		},
		action: func(s *Subscription, queued bool) eventOutcome {
			return eventOutcome{next: StateLate, registerLate: true, reschedule: true, interval: s.intervalDuration()}
		},
	},
	{
		from:  StateClosed,
		match: func(s *Subscription, queued, notifAvail bool) bool { return true },
		action: func(s *Subscription, queued bool) eventOutcome {
			// Documented for completeness; OnTimer's fast path returns before
			// reaching the table whenever state is already Closed, since
			// nothing ever reschedules a timer for a Closed subscription.
			return eventOutcome{next: StateClosed}
		},
	},
}
