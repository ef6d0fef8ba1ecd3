package store

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestChatCountAndInsert(t *testing.T) {
	db := testDB(t)

	n, err := db.ChatCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("fresh db ChatCount = %d, want 0", n)
	}

	if err := db.InsertChat(&Chat{ID: "supportBot", BotName: "Support Bot", LatestMessage: "How can I help?", LastActivityAt: 1000}); err != nil {
		t.Fatal(err)
	}
	n, err = db.ChatCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ChatCount = %d, want 1", n)
	}
}

func TestListChatsOrderedByActivity(t *testing.T) {
	db := testDB(t)

	for _, c := range []Chat{
		{ID: "a", BotName: "A", LastActivityAt: 100},
		{ID: "b", BotName: "B", LastActivityAt: 300},
		{ID: "c", BotName: "C", LastActivityAt: 200},
	} {
		if err := db.InsertChat(&c); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if chats[i].ID != id {
			t.Errorf("chats[%d].ID = %q, want %q", i, chats[i].ID, id)
		}
	}
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	db := testDB(t)

	// Insert in call order 5, 1, 3; read-back must be 1, 3, 5.
	for _, m := range []Message{
		{ID: "m5", ChatID: "supportBot", Content: "five", Timestamp: 5},
		{ID: "m1", ChatID: "supportBot", Content: "one", Timestamp: 1},
		{ID: "m3", ChatID: "supportBot", Content: "three", Timestamp: 3},
	} {
		if err := db.SaveOutgoing(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("supportBot")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "three", "five"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, content := range want {
		if msgs[i].Content != content {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, content)
		}
	}
}

func TestSaveOutgoingIsPending(t *testing.T) {
	db := testDB(t)

	if err := db.SaveOutgoing(&Message{ID: "m1", ChatID: "supportBot", Content: "hi", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("message not stored")
	}
	if m.Origin != OriginLocal {
		t.Errorf("origin = %q, want local", m.Origin)
	}
	if m.DeliveryStatus != DeliveryPending {
		t.Errorf("delivery_status = %q, want pending", m.DeliveryStatus)
	}

	// The chat summary must reflect the stored message.
	c, err := db.GetChat("supportBot")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.LatestMessage != "hi" || c.LastActivityAt != 1000 {
		t.Errorf("chat summary = %+v, want preview 'hi' at 1000", c)
	}
	if c.IsUnread {
		t.Error("outgoing message must not set the unread flag")
	}
}

func TestMarkDeliveredGuard(t *testing.T) {
	db := testDB(t)

	if err := db.SaveOutgoing(&Message{ID: "m1", ChatID: "c", Content: "x", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	changed, err := db.MarkDelivered("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("first MarkDelivered should report a transition")
	}

	// A racing second ack must observe the transition already happened.
	changed, err = db.MarkDelivered("m1")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second MarkDelivered should be a no-op")
	}
}

func TestUnsentMessages(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		{ID: "m1", ChatID: "c", Content: "a", Timestamp: 1},
		{ID: "m2", ChatID: "c", Content: "b", Timestamp: 2},
		{ID: "m3", ChatID: "c", Content: "c", Timestamp: 3},
	} {
		if err := db.SaveOutgoing(&m); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.MarkDelivered("m2"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkFailed("m3"); err != nil {
		t.Fatal(err)
	}

	unsent, err := db.UnsentMessages()
	if err != nil {
		t.Fatal(err)
	}
	// Pending and failed are both in the outbox; delivered is not.
	if len(unsent) != 2 {
		t.Fatalf("got %d unsent, want 2", len(unsent))
	}
	if unsent[0].ID != "m1" || unsent[1].ID != "m3" {
		t.Errorf("unsent ids = %s, %s; want m1, m3", unsent[0].ID, unsent[1].ID)
	}

	// Incoming messages are never retry candidates.
	if err := db.IngestIncoming(&Message{ID: "r1", ChatID: "c", Content: "reply", Timestamp: 4}); err != nil {
		t.Fatal(err)
	}
	unsent, err = db.UnsentMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(unsent) != 2 {
		t.Errorf("got %d unsent after ingest, want 2", len(unsent))
	}
}

func TestIngestIncoming(t *testing.T) {
	db := testDB(t)

	msg := &Message{ID: "r1", ChatID: "faqBot", Content: "hello there", Timestamp: 5000}
	if err := db.IngestIncoming(msg); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("r1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Origin != OriginRemote || m.DeliveryStatus != DeliveryDelivered {
		t.Errorf("ingested message = %+v, want remote/delivered", m)
	}

	// Unknown chat id is created on first message, flagged unread.
	c, err := db.GetChat("faqBot")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("chat row not created on ingest")
	}
	if c.LatestMessage != "hello there" || c.LastActivityAt != 5000 {
		t.Errorf("chat summary = %+v", c)
	}
	if !c.IsUnread {
		t.Error("incoming message should set the unread flag")
	}

	// Redelivery of the same id changes nothing.
	if err := db.IngestIncoming(&Message{ID: "r1", ChatID: "faqBot", Content: "dup", Timestamp: 9000}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("faqBot")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after redelivery, want 1", len(msgs))
	}
	c, _ = db.GetChat("faqBot")
	if c.LatestMessage != "hello there" {
		t.Errorf("redelivery moved the summary: %q", c.LatestMessage)
	}
}

func TestChatSummaryLastWriteByTimestamp(t *testing.T) {
	db := testDB(t)

	if err := db.IngestIncoming(&Message{ID: "r1", ChatID: "c", Content: "newer", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}
	// An older frame arriving late must not roll the summary back.
	if err := db.IngestIncoming(&Message{ID: "r2", ChatID: "c", Content: "older", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("c")
	if err != nil {
		t.Fatal(err)
	}
	if c.LatestMessage != "newer" || c.LastActivityAt != 2000 {
		t.Errorf("summary = %q@%d, want newer@2000", c.LatestMessage, c.LastActivityAt)
	}
}

func TestMarkChatRead(t *testing.T) {
	db := testDB(t)

	if err := db.IngestIncoming(&Message{ID: "r1", ChatID: "c", Content: "hi", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkChatRead("c"); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("c")
	if err != nil {
		t.Fatal(err)
	}
	if c.IsUnread {
		t.Error("chat still unread after MarkChatRead")
	}
}

func TestSeededChatKeepsName(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChat(&Chat{ID: "supportBot", BotName: "Support Bot", LatestMessage: "How can I help?", LastActivityAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.IngestIncoming(&Message{ID: "r1", ChatID: "supportBot", Content: "welcome", Timestamp: 10}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("supportBot")
	if err != nil {
		t.Fatal(err)
	}
	if c.BotName != "Support Bot" {
		t.Errorf("bot name = %q, want Support Bot (seeded name must survive ingest)", c.BotName)
	}
	if c.LatestMessage != "welcome" {
		t.Errorf("preview = %q, want welcome", c.LatestMessage)
	}
}

func TestChatPreviewTruncatesOnRuneBoundary(t *testing.T) {
	db := testDB(t)

	// 40 three-byte runes is 120 bytes; a 100-byte cap lands mid-rune at
	// byte 100, so the preview must back up to byte 99.
	content := strings.Repeat("✓", 40)
	if err := db.IngestIncoming(&Message{ID: "r1", ChatID: "c", Content: content, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("c")
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(c.LatestMessage) {
		t.Errorf("preview is not valid UTF-8: %q", c.LatestMessage)
	}
	if len(c.LatestMessage) != 99 {
		t.Errorf("preview length = %d bytes, want 99", len(c.LatestMessage))
	}
}
