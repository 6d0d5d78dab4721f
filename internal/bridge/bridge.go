// Package bridge provides the optional notification bridge: a
// StateListener-adjacent observer that republishes emitted notifications to
// an MQTT broker for downstream consumers that don't speak OPC UA, wrapped
// in a circuit breaker so a failing broker never blocks or fails a
// subscription's own Publish handling.
package bridge

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nexus-edge/opcua-subscription-engine/internal/metrics"
	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

// Config supplies the bridge's MQTT connection and circuit breaker
// settings.
type Config struct {
	BrokerURL           string
	ClientID            string
	TopicPrefix         string
	QoS                 byte
	CircuitMaxFailures  uint32
	CircuitResetSeconds int
}

// notificationEnvelope is the JSON payload published for one
// NotificationMessage. It carries only what a non-OPC-UA consumer needs:
// the subscription it came from, the sequence number for ordering, and a
// flat count per notification kind rather than the full wire-encoded
// ExtensionObject payloads.
type notificationEnvelope struct {
	SubscriptionID  uint32    `json:"subscription_id"`
	SequenceNumber  uint32    `json:"sequence_number"`
	PublishTime     time.Time `json:"publish_time"`
	DataChangeCount int       `json:"data_change_count"`
	EventCount      int       `json:"event_count"`
	IsKeepAlive     bool      `json:"is_keep_alive"`
	IsStatusChange  bool      `json:"is_status_change"`
}

// Bridge publishes notification envelopes to MQTT, guarded by a circuit
// breaker so broker trouble degrades to silent drops instead of stalling
// the caller.
type Bridge struct {
	client  mqtt.Client
	cb      *gobreaker.CircuitBreaker
	topic   string
	qos     byte
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// New connects to the configured broker and constructs a Bridge. Connection
// failures are logged but non-fatal. The circuit breaker opens after
// CircuitMaxFailures consecutive failed Publish calls; while it is open,
// Publish calls are dropped and counted as delivery errors until
// CircuitResetSeconds have passed and a trial call is let through.
func New(cfg Config, metricsReg *metrics.Registry, logger zerolog.Logger) *Bridge {
	logger = logging.WithComponent(logger, "notification_bridge")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error().Err(token.Error()).Msg("failed to connect to notification bridge broker")
	}

	cbSettings := gobreaker.Settings{
		Name:        "notification_bridge",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     time.Duration(cfg.CircuitResetSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("notification bridge circuit breaker state changed")
			if metricsReg != nil {
				metricsReg.SetBridgeCircuitOpen(to == gobreaker.StateOpen)
			}
		},
	}

	return &Bridge{
		client:  client,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		topic:   cfg.TopicPrefix,
		qos:     cfg.QoS,
		metrics: metricsReg,
		logger:  logger,
	}
}

// Publish republishes one notification message's envelope. Errors are
// logged and counted, never returned: a notification bridge failure must
// never affect Publish response delivery.
func (b *Bridge) Publish(subscriptionID uint32, msg *ua.NotificationMessage) {
	if msg == nil {
		return
	}

	envelope := notificationEnvelope{
		SubscriptionID: subscriptionID,
		SequenceNumber: msg.SequenceNumber,
		PublishTime:    msg.PublishTime,
	}
	for _, data := range msg.NotificationData {
		switch data.Value.(type) {
		case *ua.DataChangeNotification:
			envelope.DataChangeCount = len(data.Value.(*ua.DataChangeNotification).MonitoredItems)
		case *ua.EventNotificationList:
			envelope.EventCount = len(data.Value.(*ua.EventNotificationList).Events)
		case *ua.StatusChangeNotification:
			envelope.IsStatusChange = true
		}
	}
	if len(msg.NotificationData) == 0 {
		envelope.IsKeepAlive = true
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal notification envelope")
		return
	}

	topic := fmt.Sprintf("%s/%d/notifications", b.topic, subscriptionID)

	_, err = b.cb.Execute(func() (interface{}, error) {
		token := b.client.Publish(topic, b.qos, false, payload)
		if token.Wait() && token.Error() != nil {
			return nil, token.Error()
		}
		return nil, nil
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("notification bridge delivery failed")
		if b.metrics != nil {
			b.metrics.IncBridgeDeliveryErrors()
		}
	}
}

// Healthy reports whether the circuit breaker is currently closed.
func (b *Bridge) Healthy() bool {
	return b.cb.State() == gobreaker.StateClosed
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}
