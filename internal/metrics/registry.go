// Package metrics holds the Prometheus metrics exposed by the subscription
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the subscription engine.
type Registry struct {
	subscriptionsActive   prometheus.Gauge
	subscriptionsCreated  prometheus.Counter
	subscriptionsClosed   prometheus.Counter
	stateTransitions      *prometheus.CounterVec
	notificationsSent     prometheus.Counter
	keepAlivesSent        prometheus.Counter
	publishesAnswered     prometheus.Counter
	republishRequests     *prometheus.CounterVec
	acknowledgeResults    *prometheus.CounterVec
	gatherDuration        prometheus.Histogram
	bridgeDeliveryErrors  prometheus.Counter
	bridgeCircuitOpenTime prometheus.Gauge
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		subscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_subscriptions_active",
			Help: "Current number of subscriptions not yet closed",
		}),
		subscriptionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_subscriptions_created_total",
			Help: "Total number of subscriptions created",
		}),
		subscriptionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_subscriptions_closed_total",
			Help: "Total number of subscriptions deleted or timed out",
		}),
		stateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opcua_subscription_state_transitions_total",
			Help: "Total number of subscription state transitions by destination state",
		}, []string{"to"}),
		notificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_notifications_sent_total",
			Help: "Total number of NotificationMessages carrying at least one notification",
		}),
		keepAlivesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_keep_alives_sent_total",
			Help: "Total number of empty keep-alive NotificationMessages sent",
		}),
		publishesAnswered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_publishes_answered_total",
			Help: "Total number of Publish requests answered",
		}),
		republishRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opcua_republish_requests_total",
			Help: "Total number of Republish requests by outcome",
		}, []string{"outcome"}),
		acknowledgeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opcua_acknowledge_results_total",
			Help: "Total number of acknowledge results by status",
		}, []string{"status"}),
		gatherDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "opcua_gather_duration_seconds",
			Help:    "Duration of one notification gather pass",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		bridgeDeliveryErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_bridge_delivery_errors_total",
			Help: "Total number of notification bridge MQTT delivery errors",
		}),
		bridgeCircuitOpenTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_bridge_circuit_open",
			Help: "1 if the notification bridge's circuit breaker is currently open, else 0",
		}),
	}
}

// IncSubscriptionsCreated increments the subscriptions-created counter and
// the active gauge together.
func (r *Registry) IncSubscriptionsCreated() {
	r.subscriptionsCreated.Inc()
	r.subscriptionsActive.Inc()
}

// IncSubscriptionsClosed increments the subscriptions-closed counter and
// decrements the active gauge together.
func (r *Registry) IncSubscriptionsClosed() {
	r.subscriptionsClosed.Inc()
	r.subscriptionsActive.Dec()
}

// ObserveStateTransition records a transition into the given destination
// state name.
func (r *Registry) ObserveStateTransition(to string) {
	r.stateTransitions.WithLabelValues(to).Inc()
}

// IncNotificationsSent increments the notifications-sent counter.
func (r *Registry) IncNotificationsSent() {
	r.notificationsSent.Inc()
}

// IncKeepAlivesSent increments the keep-alives-sent counter.
func (r *Registry) IncKeepAlivesSent() {
	r.keepAlivesSent.Inc()
}

// IncPublishesAnswered increments the publishes-answered counter.
func (r *Registry) IncPublishesAnswered() {
	r.publishesAnswered.Inc()
}

// IncRepublishRequests increments the republish-requests counter for one
// outcome ("ok" or "message_not_available").
func (r *Registry) IncRepublishRequests(outcome string) {
	r.republishRequests.WithLabelValues(outcome).Inc()
}

// IncAcknowledgeResults increments the acknowledge-results counter for one
// status name.
func (r *Registry) IncAcknowledgeResults(status string) {
	r.acknowledgeResults.WithLabelValues(status).Inc()
}

// ObserveGatherDuration records how long one gather pass took.
func (r *Registry) ObserveGatherDuration(seconds float64) {
	r.gatherDuration.Observe(seconds)
}

// IncBridgeDeliveryErrors increments the bridge delivery error counter.
func (r *Registry) IncBridgeDeliveryErrors() {
	r.bridgeDeliveryErrors.Inc()
}

// SetBridgeCircuitOpen reports the notification bridge circuit breaker's
// current open/closed state.
func (r *Registry) SetBridgeCircuitOpen(open bool) {
	if open {
		r.bridgeCircuitOpenTime.Set(1)
		return
	}
	r.bridgeCircuitOpenTime.Set(0)
}
