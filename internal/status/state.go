package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pcarvalho/livechat/internal/bus"
)

// State represents the WebSocket connection state.
type State string

const (
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Offline:      {Connecting},
	Connecting:   {Online, Reconnecting, Offline},
	Online:       {Reconnecting, Offline},
	Reconnecting: {Connecting, Offline},
}

// Machine tracks connection state transitions and publishes them on the bus.
// Presentation observes the boolean Connected signal through Change events.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Offline.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Offline, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the connection is established.
func (m *Machine) Online() bool {
	return m.Current() == Online
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed; the current state is unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStatus,
			Timestamp: time.Now(),
			Payload: Change{
				From:      from,
				To:        to,
				Connected: to == Online,
			},
		})
	}
	return nil
}

// Change is the payload for connection status events.
type Change struct {
	From      State
	To        State
	Connected bool
}
