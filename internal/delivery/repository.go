// Package delivery orchestrates the store-then-send-then-ack sequence: every
// outbound message is durable before any network attempt, acks flip the
// delivery status, failures land in the outbox for the retry scheduler.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pcarvalho/livechat/internal/bus"
	"github.com/pcarvalho/livechat/internal/status"
	"github.com/pcarvalho/livechat/internal/store"
	"github.com/pcarvalho/livechat/internal/ws"
	"go.uber.org/zap"
)

// Transport is the outbound half of the connection manager.
type Transport interface {
	Send(ctx context.Context, m *store.Message) (ws.SendStatus, error)
}

// Rescheduler requests a deferred retry run.
type Rescheduler interface {
	Schedule()
}

// SeedChat is one entry of the first-run chat list.
type SeedChat struct {
	ID      string
	BotName string
	Preview string
}

// DefaultSeedChats is the fixed list inserted into an empty store.
var DefaultSeedChats = []SeedChat{
	{ID: "supportBot", BotName: "Support Bot", Preview: "How can I help?"},
	{ID: "salesBot", BotName: "Sales Bot", Preview: "Check our offers!"},
	{ID: "faqBot", BotName: "FAQ Bot", Preview: "Common questions"},
}

// Repository is the sole owner of delivery status transitions. Presentation
// talks to nothing else.
type Repository struct {
	db        *store.DB
	transport Transport
	scheduler Rescheduler
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	seeds     []SeedChat
	cancel    context.CancelFunc
}

// New creates a repository.
func New(db *store.DB, transport Transport, scheduler Rescheduler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Repository {
	return &Repository{
		db:        db,
		transport: transport,
		scheduler: scheduler,
		machine:   machine,
		bus:       b,
		logger:    logger,
		seeds:     DefaultSeedChats,
	}
}

// SeedDefaultChats inserts the seed chat list into an empty store. The
// zero-count guard makes repeated calls a no-op.
func (r *Repository) SeedDefaultChats(ctx context.Context) error {
	n, err := r.db.ChatCount()
	if err != nil {
		return fmt.Errorf("chat count: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	for _, seed := range r.seeds {
		r.logger.Info("seeding chat", zap.String("chat_id", seed.ID))
		if err := r.db.InsertChat(&store.Chat{
			ID:             seed.ID,
			BotName:        seed.BotName,
			LatestMessage:  seed.Preview,
			LastActivityAt: now,
		}); err != nil {
			return fmt.Errorf("seed chat %s: %w", seed.ID, err)
		}
	}
	return nil
}

// Start launches the inbound ingestion loop over the connection manager's
// inbound channel and persists every message it yields. The channel handoff
// is blocking, so a burst of frames waits on the store instead of being
// dropped; the bus carries only the presentation events derived from it.
func (r *Repository) Start(ctx context.Context, inbound <-chan *store.Message) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				if err := r.HandleIncoming(msg); err != nil {
					r.logger.Error("failed to ingest message",
						zap.Error(err), zap.String("msg_id", msg.ID))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop tears the ingestion loop down.
func (r *Repository) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// SendMessage persists m as pending, then attempts delivery. The store write
// completes before the network is touched, so a crash or failure anywhere
// past it leaves the message in the outbox rather than losing it. On failure
// the error is returned once so the caller can show a queued state; the
// message itself survives for the retry pass.
func (r *Repository) SendMessage(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}

	if err := r.db.SaveOutgoing(m); err != nil {
		return fmt.Errorf("persist outgoing: %w", err)
	}
	r.publishStored(m)

	st, err := r.transport.Send(ctx, m)
	switch st {
	case ws.SendOK:
		return r.ackDelivered(m)
	default:
		r.logger.Warn("send failed, message queued",
			zap.String("msg_id", m.ID),
			zap.String("status", st.String()),
			zap.Error(err))
		r.scheduler.Schedule()
		r.bus.Publish(bus.Event{
			Kind:      bus.KindSendFailed,
			Timestamp: time.Now(),
			Payload:   bus.SendFailure{ChatID: m.ChatID, MessageID: m.ID, Reason: st.String()},
		})
		return fmt.Errorf("send message %s: %w", m.ID, err)
	}
}

// RetryFailedMessages attempts every undelivered outbound message once.
// Partial failure is expected: a failed send marks the message failed and
// the pass moves on. Returns how many messages are still undelivered so the
// scheduler can decide whether to request another attempt. Safe to run
// concurrently with SendMessage: the delivered-flag guard in the store makes
// the ack transition happen at most once.
func (r *Repository) RetryFailedMessages(ctx context.Context) (int, error) {
	unsent, err := r.db.UnsentMessages()
	if err != nil {
		return 0, fmt.Errorf("list unsent: %w", err)
	}
	if len(unsent) == 0 {
		return 0, nil
	}
	r.logger.Info("retrying unsent messages", zap.Int("count", len(unsent)))

	remaining := 0
	for i := range unsent {
		m := &unsent[i]
		st, err := r.transport.Send(ctx, m)
		if st != ws.SendOK {
			remaining++
			r.logger.Warn("retry failed",
				zap.String("msg_id", m.ID), zap.Error(err))
			if err := r.db.MarkFailed(m.ID); err != nil {
				r.logger.Error("failed to mark message failed",
					zap.String("msg_id", m.ID), zap.Error(err))
			}
			continue
		}
		if err := r.ackDelivered(m); err != nil {
			r.logger.Error("failed to ack message",
				zap.String("msg_id", m.ID), zap.Error(err))
		}
	}
	return remaining, nil
}

// HandleIncoming persists one non-suppressed inbound message and updates the
// owning chat summary, atomically.
func (r *Repository) HandleIncoming(m *store.Message) error {
	if err := r.db.IngestIncoming(m); err != nil {
		return fmt.Errorf("ingest incoming: %w", err)
	}
	r.publishStored(m)
	return nil
}

// Chats returns all chats, most recently active first.
func (r *Repository) Chats() ([]store.Chat, error) {
	return r.db.ListChats()
}

// MessagesForChat returns a chat's messages in ascending timestamp order.
func (r *Repository) MessagesForChat(chatID string) ([]store.Message, error) {
	return r.db.ListMessages(chatID)
}

// ChatCount returns the number of chats in the store.
func (r *Repository) ChatCount() (int, error) {
	return r.db.ChatCount()
}

// MarkChatRead clears a chat's unread flag.
func (r *Repository) MarkChatRead(chatID string) error {
	return r.db.MarkChatRead(chatID)
}

// ConnectionOnline reports the current connection state.
func (r *Repository) ConnectionOnline() bool {
	return r.machine.Online()
}

// Watch exposes the live subscription surface: presentation subscribes to
// "message." and "conn." namespaces and re-queries on events.
func (r *Repository) Watch(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return r.bus.Subscribe(namespace, bufSize)
}

func (r *Repository) ackDelivered(m *store.Message) error {
	changed, err := r.db.MarkDelivered(m.ID)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", m.ID, err)
	}
	if !changed {
		// A concurrent pass already acked this message.
		return nil
	}
	r.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ChatID: m.ChatID, MessageID: m.ID},
	})
	return nil
}

func (r *Repository) publishStored(m *store.Message) {
	r.bus.Publish(bus.Event{
		Kind:      bus.KindMessageStored,
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ChatID: m.ChatID, MessageID: m.ID},
	})
}
