package transport

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Transport implementation used by component tests and by the
// tests/integration scenarios: sent bytes are recorded rather than delivered anywhere,
// and inbound messages are injected by the test via Deliver.
type Memory struct {
	mu            sync.Mutex
	destinations  []Endpoint
	sources       []Endpoint
	pairings      map[string]string // sourceID -> destinationID
	sent          []SentRecord
	inbound       chan InboundMessage
	setupChanged  chan SetupChangeEvent
	closed        bool
	failSendTo    map[string]bool
}

// SentRecord captures one call to Send, for test assertions.
type SentRecord struct {
	DestinationID string
	Bytes         []byte
}

// NewMemory creates an empty Memory transport with the given endpoint snapshots.
func NewMemory(destinations, sources []Endpoint) *Memory {
	return &Memory{
		destinations: destinations,
		sources:      sources,
		pairings:     make(map[string]string),
		inbound:      make(chan InboundMessage, 64),
		setupChanged: make(chan SetupChangeEvent, 1),
		failSendTo:   make(map[string]bool),
	}
}

// Send records bytes sent to destinationID, failing if that destination is in the
// configured fail set (see FailSendTo) or the transport has been closed.
func (m *Memory) Send(ctx context.Context, destinationID string, bytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("transport: send on closed transport")
	}
	if m.failSendTo[destinationID] {
		return fmt.Errorf("transport: simulated send failure to %s", destinationID)
	}
	cp := append([]byte(nil), bytes...)
	m.sent = append(m.sent, SentRecord{DestinationID: destinationID, Bytes: cp})
	return nil
}

// FailSendTo makes subsequent Send calls to destinationID return an error, simulating an
// offline or unreachable destination.
func (m *Memory) FailSendTo(destinationID string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSendTo[destinationID] = fail
}

// Inbound implements Transport.
func (m *Memory) Inbound() <-chan InboundMessage { return m.inbound }

// Deliver injects an inbound message as if it arrived from sourceID.
func (m *Memory) Deliver(msg InboundMessage) {
	m.inbound <- msg
}

// Destinations implements Transport.
func (m *Memory) Destinations() []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Endpoint(nil), m.destinations...)
}

// Sources implements Transport.
func (m *Memory) Sources() []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Endpoint(nil), m.sources...)
}

// SetPairing configures FindMatchingDestination(sourceID) to return destinationID.
func (m *Memory) SetPairing(sourceID, destinationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairings[sourceID] = destinationID
}

// FindMatchingDestination implements Transport.
func (m *Memory) FindMatchingDestination(sourceID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dest, ok := m.pairings[sourceID]
	return dest, ok
}

// SetupChanged implements Transport.
func (m *Memory) SetupChanged() <-chan SetupChangeEvent { return m.setupChanged }

// EmitSetupChanged pushes a setup-change event to any listener, non-blocking.
func (m *Memory) EmitSetupChanged(ev SetupChangeEvent) {
	select {
	case m.setupChanged <- ev:
	default:
	}
}

// Close implements Transport. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.inbound)
	return nil
}

// SentMessages returns every recorded Send call, for test assertions.
func (m *Memory) SentMessages() []SentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentRecord(nil), m.sent...)
}
