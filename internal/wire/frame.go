// Package wire encodes and decodes the WebSocket chat frame format.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pcarvalho/livechat/internal/store"
)

// TypeChatMessage is the frame type for chat messages.
const TypeChatMessage = "chat_message"

// Frame is the JSON body of a text frame.
// Some backends put the text in "message" instead of "content".
type Frame struct {
	Type      string `json:"type"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	Message   string `json:"message,omitempty"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Encode serializes an outbound message as a chat_message frame.
func Encode(m *store.Message) ([]byte, error) {
	data, err := json.Marshal(Frame{
		Type:      TypeChatMessage,
		ChatID:    m.ChatID,
		Content:   m.Content,
		ID:        m.ID,
		Timestamp: m.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decoder turns inbound payloads into messages. Decoding never fails: a
// payload that is not structured JSON is treated as plain-text content
// addressed to the default chat.
type Decoder struct {
	// DefaultChatID receives frames that carry no chat id.
	DefaultChatID string
	// Now is the clock used for fallback ids and timestamps.
	Now func() time.Time
}

// Decode derives a remote message from a raw text payload, applying the
// field fallbacks: content <- message <- raw payload, chatId <- default,
// id <- "remote_<millis>", timestamp <- current millis.
func (d *Decoder) Decode(payload []byte) *store.Message {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	nowMillis := now().UnixMilli()

	msg := &store.Message{
		ChatID:         d.DefaultChatID,
		Content:        string(payload),
		Origin:         store.OriginRemote,
		DeliveryStatus: store.DeliveryDelivered,
		ID:             fmt.Sprintf("remote_%d", nowMillis),
		Timestamp:      nowMillis,
	}

	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return msg
	}

	if f.Content != "" {
		msg.Content = f.Content
	} else if f.Message != "" {
		msg.Content = f.Message
	}
	if f.ChatID != "" {
		msg.ChatID = f.ChatID
	}
	if f.ID != "" {
		msg.ID = f.ID
	}
	if f.Timestamp != 0 {
		msg.Timestamp = f.Timestamp
	}
	return msg
}
