package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/lucasmrqs/freelink/internal/bus"
)

// State is the connection state of one broker channel.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions. A failed handshake goes
// straight back to Disconnected; an established connection never skips
// Connecting on its way up.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks the connection state of a single named channel and publishes
// every transition on the bus as a conn.state event.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	bus     *bus.Bus
}

// Change is the payload of conn.state events.
type Change struct {
	Channel string
	From    State
	To      State
}

// NewMachine creates a machine for the named channel, starting Disconnected.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{channel: channel, current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed; the state is unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("channel %s: invalid transition from %s to %s", m.channel, from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:    bus.KindConnState,
			Payload: Change{Channel: m.channel, From: from, To: to},
		})
	}
	return nil
}
