package subscription

import (
	"sort"
	"time"

	"github.com/gopcua/opcua/ua"
)

// wrapExtensionObject mirrors the ExtensionObject construction the
// protocol-gateway's deadband filter builder uses: a numeric-encoding
// TypeID paired with the decoded Value, ready for the stack to encode.
func wrapExtensionObject(encodingID uint32, value interface{}) *ua.ExtensionObject {
	return &ua.ExtensionObject{
		TypeID: &ua.ExpandedNodeID{
			NodeID: ua.NewNumericNodeID(0, encodingID),
		},
		Value: value,
	}
}

// buildNotificationData partitions a gather buffer into at most one
// DataChangeNotification and at most one EventNotificationList, in that
// order.
func buildNotificationData(buf *GatherBuffer) []*ua.ExtensionObject {
	data := make([]*ua.ExtensionObject, 0, 2)

	if len(buf.DataChanges) > 0 {
		dcn := &ua.DataChangeNotification{MonitoredItems: buf.DataChanges}
		data = append(data, wrapExtensionObject(ua.DataChangeNotification_Encoding_DefaultBinary, dcn))
	}
	if len(buf.Events) > 0 {
		enl := &ua.EventNotificationList{Events: buf.Events}
		data = append(data, wrapExtensionObject(ua.EventNotificationList_Encoding_DefaultBinary, enl))
	}

	return data
}

// availableSequenceNumbers returns the current key set of available
// messages, sorted ascending.
func (s *Subscription) availableSequenceNumbers() []uint32 {
	nums := make([]uint32, 0, len(s.availableMessages))
	for n := range s.availableMessages {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// buildNotificationResponse builds the "notification response" shape:
// gathers fairly, assigns a fresh sequence number, retains the message
// for republish, and reports more_notifications.
func (s *Subscription) buildNotificationResponse(now time.Time) *ua.PublishResponse {
	limit := int(s.params.MaxNotificationsPerPublish)
	result := gather(s.registryView(), s.cursor, limit)
	s.cursor = result.nextCursor
	s.moreNotifications = s.cursor != nil

	seq := s.sequenceNumber
	s.sequenceNumber++

	msg := &ua.NotificationMessage{
		SequenceNumber:   seq,
		PublishTime:      now,
		NotificationData: buildNotificationData(result.buf),
	}
	s.availableMessages[seq] = msg

	return &ua.PublishResponse{
		SubscriptionID:           s.id,
		AvailableSequenceNumbers: s.availableSequenceNumbers(),
		MoreNotifications:        s.moreNotifications,
		NotificationMessage:      msg,
	}
}

// buildKeepAliveResponse builds the "keep-alive response" shape: an
// empty notification_data using the *current*, not-yet-consumed
// sequence number.
func (s *Subscription) buildKeepAliveResponse(now time.Time) *ua.PublishResponse {
	msg := &ua.NotificationMessage{
		SequenceNumber:   s.sequenceNumber,
		PublishTime:      now,
		NotificationData: nil,
	}

	return &ua.PublishResponse{
		SubscriptionID:           s.id,
		AvailableSequenceNumbers: s.availableSequenceNumbers(),
		MoreNotifications:        false,
		NotificationMessage:      msg,
	}
}

// buildStatusChangeResponse builds the "status-change response" shape: a
// single StatusChangeNotification consuming a fresh sequence number with
// an empty available list.
func (s *Subscription) buildStatusChangeResponse(now time.Time, status ua.StatusCode) *ua.PublishResponse {
	seq := s.sequenceNumber
	s.sequenceNumber++

	scn := &ua.StatusChangeNotification{Status: status}
	msg := &ua.NotificationMessage{
		SequenceNumber: seq,
		PublishTime:    now,
		NotificationData: []*ua.ExtensionObject{
			wrapExtensionObject(ua.StatusChangeNotification_Encoding_DefaultBinary, scn),
		},
	}

	return &ua.PublishResponse{
		SubscriptionID:           s.id,
		AvailableSequenceNumbers: nil,
		MoreNotifications:        false,
		NotificationMessage:      msg,
	}
}
