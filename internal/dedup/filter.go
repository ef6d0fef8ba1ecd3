// Package dedup suppresses inbound echoes of messages this client just sent.
// The backend broadcasts frames to the sender too; without this filter every
// locally sent message would reappear as a duplicate inbound message.
package dedup

import (
	"fmt"
	"sync"
	"time"
)

// DefaultHorizon is how long a registered key suppresses a matching echo.
const DefaultHorizon = 60 * time.Second

// Filter is a bounded TTL table of recently sent message keys. Eviction is
// lazy: stale entries are purged on the next Register, no background timer.
type Filter struct {
	mu      sync.Mutex
	entries map[string]time.Time
	horizon time.Duration
	now     func() time.Time
}

// New creates a filter with the given horizon. A horizon <= 0 uses
// DefaultHorizon.
func New(horizon time.Duration) *Filter {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Filter{
		entries: make(map[string]time.Time),
		horizon: horizon,
		now:     time.Now,
	}
}

func key(chatID, content string, timestamp int64) string {
	return fmt.Sprintf("%s:%s:%d", chatID, content, timestamp)
}

// Register records a just-sent message key. Called before the frame is
// written so an immediate echo cannot race past the filter.
func (f *Filter) Register(chatID, content string, timestamp int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for k, at := range f.entries {
		if now.Sub(at) > f.horizon {
			delete(f.entries, k)
		}
	}
	f.entries[key(chatID, content, timestamp)] = now
}

// Consume reports whether an inbound frame is an echo of a registered send.
// A hit removes the entry: suppression is one-shot per outbound send.
func (f *Filter) Consume(chatID, content string, timestamp int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(chatID, content, timestamp)
	at, ok := f.entries[k]
	if !ok {
		return false
	}
	delete(f.entries, k)
	return f.now().Sub(at) <= f.horizon
}

// Drop unregisters a key after a failed write. The frame never reached the
// server, so no echo is coming.
func (f *Filter) Drop(chatID, content string, timestamp int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key(chatID, content, timestamp))
}

// Len returns the number of live entries. Test hook.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
