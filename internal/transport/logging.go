// Package transport holds the stand-in manager.Transport used by
// cmd/subscriptiond. Encoding PublishResponse onto a real OPC UA secure
// channel is session/transport-layer work outside this engine's scope; this
// implementation only logs what would have been sent, so the engine is
// runnable end to end without a full server stack.
package transport

import (
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

// LoggingTransport logs every delivered PublishResponse instead of
// encoding it onto a session.
type LoggingTransport struct {
	logger zerolog.Logger
}

// New constructs a LoggingTransport.
func New(logger zerolog.Logger) *LoggingTransport {
	return &LoggingTransport{logger: logging.WithComponent(logger, "transport")}
}

// Deliver implements manager.Transport.
func (t *LoggingTransport) Deliver(requestHandle uint32, resp *ua.PublishResponse) {
	seq := uint32(0)
	dataCount := 0
	if resp.NotificationMessage != nil {
		seq = resp.NotificationMessage.SequenceNumber
		dataCount = len(resp.NotificationMessage.NotificationData)
	}
	t.logger.Debug().
		Uint32("request_handle", requestHandle).
		Uint32("subscription_id", resp.SubscriptionID).
		Uint32("sequence_number", seq).
		Int("notification_data_count", dataCount).
		Bool("more_notifications", resp.MoreNotifications).
		Msg("publish response delivered")
}
