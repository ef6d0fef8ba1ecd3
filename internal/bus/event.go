package bus

import "time"

// Event kinds published by the delivery pipeline. Subscribers filter by
// namespace prefix, e.g. "message." matches every message lifecycle event.
const (
	KindMessageStored  = "message.upserted"    // payload MessageRef
	KindSendAck        = "message.send_ack"    // payload MessageRef
	KindSendFailed     = "message.send_failed" // payload SendFailure
	KindConnStatus     = "conn.status_changed" // payload status.Change
	KindRetryExhausted = "retry.exhausted"     // payload attempt count (int)
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageRef identifies a stored message in event payloads.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// SendFailure is the payload for send_failed events.
type SendFailure struct {
	ChatID    string
	MessageID string
	Reason    string
}
