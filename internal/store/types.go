package store

// Origin says who authored a message.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// DeliveryStatus tracks the outbound delivery lifecycle. Remote messages are
// stored Delivered; authorship and delivery are separate fields on purpose.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Chat represents a conversation thread with one bot.
type Chat struct {
	ID             string
	BotName        string
	LatestMessage  string
	LastActivityAt int64
	IsUnread       bool
}

// Message represents a single content unit within a chat.
type Message struct {
	ID             string
	ChatID         string
	Content        string
	Origin         Origin
	DeliveryStatus DeliveryStatus
	Timestamp      int64
}
