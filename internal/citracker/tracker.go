// Package citracker implements MIDI-CI device discovery: periodic Discovery Inquiry
// broadcast, a device table with last-seen freshness tracking, MUID invalidation, and
// Source -> Destination endpoint resolution for devices that multi-home across
// differently named ports.
package citracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/midici-go/midici/internal/codec"
	"github.com/midici-go/midici/internal/midilog"
	"github.com/midici-go/midici/internal/transport"
	"github.com/midici-go/midici/internal/wire"
)

// Config configures a Tracker's discovery cadence, freshness window, and local
// advertisement fields.
type Config struct {
	DiscoveryInterval  time.Duration
	DeviceTimeout      time.Duration
	RespondToDiscovery bool
	CategorySupport    wire.CategorySupport
	DeviceIdentity     wire.DeviceIdentity
	MaxSysExSize       uint32
}

// DefaultConfig returns the §4.7 defaults.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:  5 * time.Second,
		DeviceTimeout:      15 * time.Second,
		RespondToDiscovery: true,
	}
}

// Device is a discovered peer's known state.
type Device struct {
	MUID             wire.MUID
	Identity         wire.DeviceIdentity
	Categories       wire.CategorySupport
	SourceEndpointID string
	LastSeen         time.Time
}

// Event is emitted on Events() whenever the device table changes.
type Event struct {
	Kind EventKind
	MUID wire.MUID
}

// EventKind distinguishes device-table change events.
type EventKind int

const (
	EventDeviceDiscovered EventKind = iota
	EventDeviceLost
)

// Tracker runs the discovery, receive, and timeout loops for one local MUID. Safe for
// concurrent use by readers; Start/Stop are not reentrant.
type Tracker struct {
	source    wire.MUID
	cfg       Config
	transport transport.Transport
	logger    interface {
		Debug(msg string, args ...any)
	}

	mu      sync.RWMutex
	devices map[wire.MUID]Device

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Tracker bound to source's local MUID.
func New(source wire.MUID, cfg Config, t transport.Transport) *Tracker {
	return &Tracker{
		source:    source,
		cfg:       cfg,
		transport: t,
		logger:    midilog.Logger(),
		devices:   make(map[wire.MUID]Device),
		events:    make(chan Event, 64),
	}
}

// Start launches the discovery, receive, and timeout loops.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); t.discoveryLoop(ctx) }()
	go func() { defer wg.Done(); t.receiveLoop(ctx) }()
	go func() { defer wg.Done(); t.timeoutLoop(ctx) }()
	go func() { wg.Wait(); close(t.done) }()
}

// Stop cancels all loops and waits for them to exit. Idempotent.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
}

// Events returns the stream of device-table change events.
func (t *Tracker) Events() <-chan Event { return t.events }

// Devices returns a snapshot of every currently known device.
func (t *Tracker) Devices() []Device {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	return out
}

// Device returns one device's known state.
func (t *Tracker) Device(muid wire.MUID) (Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[muid]
	return d, ok
}

// Destination resolves muid's PE destination endpoint ID, implementing
// peengine.DestinationResolver. Returns false ("no destination") rather than guessing
// when resolution is ambiguous, since sending to the wrong port can corrupt an unrelated
// device.
func (t *Tracker) Destination(muid wire.MUID) (string, bool) {
	t.mu.RLock()
	dev, ok := t.devices[muid]
	t.mu.RUnlock()
	if !ok {
		return "", false
	}
	return t.resolveDestination(dev.SourceEndpointID)
}

// resolveDestination implements the §4.7 priority rules for mapping a source endpoint to
// the destination PE requests must be sent to.
func (t *Tracker) resolveDestination(sourceEndpointID string) (string, bool) {
	destinations := t.transport.Destinations()

	for _, d := range destinations {
		if strings.Contains(strings.ToLower(d.Name), "module") {
			return d.ID, true
		}
	}

	if destID, ok := t.transport.FindMatchingDestination(sourceEndpointID); ok {
		return destID, true
	}

	sources := t.transport.Sources()
	var sourceName string
	for _, s := range sources {
		if s.ID == sourceEndpointID {
			sourceName = s.Name
			break
		}
	}
	for _, d := range destinations {
		if d.Name == sourceName {
			return d.ID, true
		}
	}
	substituted := strings.Replace(sourceName, "In", "Out", 1)
	for _, d := range destinations {
		if d.Name == substituted {
			return d.ID, true
		}
	}

	return "", false
}

func (t *Tracker) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.DiscoveryInterval)
	defer ticker.Stop()
	t.broadcastDiscovery(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.broadcastDiscovery(ctx)
		}
	}
}

func (t *Tracker) broadcastDiscovery(ctx context.Context) {
	raw, err := codec.BuildDiscoveryInquiry(t.source, t.cfg.DeviceIdentity, t.cfg.CategorySupport, t.cfg.MaxSysExSize, 0)
	if err != nil {
		t.logger.Debug("citracker: failed to build discovery inquiry", "error", err)
		return
	}
	for _, dest := range t.transport.Destinations() {
		if err := t.transport.Send(ctx, dest.ID, raw); err != nil {
			t.logger.Debug("citracker: discovery send failed", "destination", dest.ID, "error", err)
		}
	}
}

func (t *Tracker) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.transport.Inbound():
			if !ok {
				return
			}
			t.handleInbound(ctx, msg)
		}
	}
}

func (t *Tracker) handleInbound(ctx context.Context, msg transport.InboundMessage) {
	m, err := codec.Parse(msg.Bytes)
	if err != nil {
		return // not a CI message, or malformed; not this component's concern
	}
	if m.Source == t.source {
		return
	}
	if !m.Dest.IsBroadcast() && m.Dest != t.source {
		return
	}

	switch m.Type {
	case codec.MsgDiscoveryInquiry:
		t.handleDiscoveryInquiry(ctx, m, msg.SourceID)
	case codec.MsgDiscoveryReply:
		t.handleDiscoveryReply(m, msg.SourceID)
	case codec.MsgInvalidateMUID:
		t.handleInvalidateMUID(m)
	}
}

func (t *Tracker) handleDiscoveryInquiry(ctx context.Context, m codec.Message, sourceEndpointID string) {
	payload, err := codec.ParseDiscoveryInquiry(m.Payload)
	if err != nil {
		t.logger.Debug("citracker: malformed discovery inquiry", "error", err)
		return
	}
	t.registerDevice(m.Source, payload.Identity, payload.Categories, sourceEndpointID)

	if !t.cfg.RespondToDiscovery {
		return
	}
	reply, err := codec.BuildDiscoveryReply(t.source, m.Source, t.cfg.DeviceIdentity, t.cfg.CategorySupport, t.cfg.MaxSysExSize, 0, 0)
	if err != nil {
		t.logger.Debug("citracker: failed to build discovery reply", "error", err)
		return
	}
	if destID, ok := t.resolveDestination(sourceEndpointID); ok {
		if err := t.transport.Send(ctx, destID, reply); err != nil {
			t.logger.Debug("citracker: discovery reply send failed", "error", err)
		}
	}
}

func (t *Tracker) handleDiscoveryReply(m codec.Message, sourceEndpointID string) {
	payload, err := codec.ParseDiscoveryReply(m.Payload)
	if err != nil {
		t.logger.Debug("citracker: malformed discovery reply", "error", err)
		return
	}
	t.registerDevice(m.Source, payload.Identity, payload.Categories, sourceEndpointID)
}

func (t *Tracker) registerDevice(muid wire.MUID, identity wire.DeviceIdentity, categories wire.CategorySupport, sourceEndpointID string) {
	t.mu.Lock()
	_, existed := t.devices[muid]
	t.devices[muid] = Device{
		MUID:             muid,
		Identity:         identity,
		Categories:       categories,
		SourceEndpointID: sourceEndpointID,
		LastSeen:         time.Now(),
	}
	t.mu.Unlock()

	if !existed {
		t.emit(Event{Kind: EventDeviceDiscovered, MUID: muid})
	}
}

func (t *Tracker) handleInvalidateMUID(m codec.Message) {
	target, err := codec.ParseInvalidateMUID(m.Payload)
	if err != nil {
		t.logger.Debug("citracker: malformed invalidate muid", "error", err)
		return
	}
	if target.IsBroadcast() {
		t.removeDevice(m.Source)
		return
	}
	t.removeDevice(target)
}

func (t *Tracker) removeDevice(muid wire.MUID) {
	t.mu.Lock()
	_, existed := t.devices[muid]
	delete(t.devices, muid)
	t.mu.Unlock()
	if existed {
		t.emit(Event{Kind: EventDeviceLost, MUID: muid})
	}
}

func (t *Tracker) timeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evictStaleDevices()
		}
	}
}

func (t *Tracker) evictStaleDevices() {
	now := time.Now()
	t.mu.Lock()
	var stale []wire.MUID
	for muid, d := range t.devices {
		if now.Sub(d.LastSeen) > t.cfg.DeviceTimeout {
			stale = append(stale, muid)
		}
	}
	for _, muid := range stale {
		delete(t.devices, muid)
	}
	t.mu.Unlock()

	for _, muid := range stale {
		t.emit(Event{Kind: EventDeviceLost, MUID: muid})
	}
}

func (t *Tracker) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Debug("citracker: event stream full, dropping event", "kind", ev.Kind)
	}
}
