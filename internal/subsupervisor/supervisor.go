// Package subsupervisor keeps Property Exchange subscriptions alive across MUID churn.
// A device that drops off the bus and rejoins gets a new MUID; any subscription held
// against its old MUID is dead even though the underlying device is still there. The
// supervisor tracks subscription intent by device identity rather than by MUID so it can
// notice the reappearance and resubscribe automatically.
package subsupervisor

import (
	"context"
	"sync"
	"time"

	"github.com/midici-go/midici/internal/citracker"
	"github.com/midici-go/midici/internal/midilog"
	"github.com/midici-go/midici/internal/peengine"
	"github.com/midici-go/midici/internal/wire"
)

// DefaultResubscribeDelay is how long the supervisor waits after a device reappears
// before attempting to resubscribe, giving the device time to finish its own startup.
const DefaultResubscribeDelay = 2 * time.Second

// DefaultMaxRetryAttempts bounds how many resubscribe attempts a restored device gets
// before the intent is marked failed.
const DefaultMaxRetryAttempts = 3

// SubscribeEngine is the subset of peengine.Engine the supervisor depends on.
type SubscribeEngine interface {
	Subscribe(ctx context.Context, resource string, destMUID wire.MUID, timeout time.Duration) (string, error)
	Notifications() <-chan peengine.Notification
}

// DeviceEvents is the subset of citracker.Tracker the supervisor depends on.
type DeviceEvents interface {
	Events() <-chan citracker.Event
	Device(muid wire.MUID) (citracker.Device, bool)
}

// State is a subscription intent's lifecycle state.
type State int

const (
	StateSubscribed State = iota
	StateSuspended
	StateRestored
	StateFailed
)

// EventKind distinguishes the supervisor's event stream entries.
type EventKind int

const (
	EventSubscribed EventKind = iota
	EventSuspended
	EventRestored
	EventFailed
	EventNotification
)

// Event is emitted on Events() whenever an intent changes state or a notification
// arrives for a tracked subscription.
type Event struct {
	Kind         EventKind
	Resource     string
	SubscribeID  string
	MUID         wire.MUID
	Notification peengine.Notification
}

type intentKey struct {
	resource string
	identity wire.DeviceIdentity
}

type intent struct {
	key         intentKey
	muid        wire.MUID
	subscribeID string
	state       State
	retries     int
	timeout     time.Duration
}

// Supervisor maintains subscription intents and reacts to device churn reported by a
// DeviceEvents source. Not safe for use before Start.
type Supervisor struct {
	engine           SubscribeEngine
	devices          DeviceEvents
	resubscribeDelay time.Duration
	maxRetryAttempts int
	logger           logger

	mu           sync.Mutex
	intents      map[intentKey]*intent
	bySubscribeID map[string]*intent

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

type logger interface {
	Debug(msg string, args ...any)
}

// New creates a Supervisor wired to engine for subscribe calls and devices for device
// churn notifications.
func New(engine SubscribeEngine, devices DeviceEvents, resubscribeDelay time.Duration, maxRetryAttempts int) *Supervisor {
	if resubscribeDelay <= 0 {
		resubscribeDelay = DefaultResubscribeDelay
	}
	if maxRetryAttempts <= 0 {
		maxRetryAttempts = DefaultMaxRetryAttempts
	}
	return &Supervisor{
		engine:           engine,
		devices:          devices,
		resubscribeDelay: resubscribeDelay,
		maxRetryAttempts: maxRetryAttempts,
		logger:           midilog.Logger(),
		intents:          make(map[intentKey]*intent),
		bySubscribeID:    make(map[string]*intent),
		events:           make(chan Event, 64),
	}
}

// Events returns the stream of subscription lifecycle and notification events.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Start launches the goroutine that watches device churn and forwards notifications.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Stop cancels the watch goroutine and waits for it to exit. Idempotent.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Subscribe issues a Subscribe call against the engine and registers a supervised intent
// keyed by (resource, identity) so the subscription can be restored if destMUID is later
// invalidated and the same device reappears under a new MUID.
func (s *Supervisor) Subscribe(ctx context.Context, resource string, destMUID wire.MUID, identity wire.DeviceIdentity, timeout time.Duration) (string, error) {
	subID, err := s.engine.Subscribe(ctx, resource, destMUID, timeout)
	if err != nil {
		return "", err
	}

	key := intentKey{resource: resource, identity: identity}
	it := &intent{key: key, muid: destMUID, subscribeID: subID, state: StateSubscribed, timeout: timeout}

	s.mu.Lock()
	s.intents[key] = it
	s.bySubscribeID[subID] = it
	s.mu.Unlock()

	s.emit(Event{Kind: EventSubscribed, Resource: resource, SubscribeID: subID, MUID: destMUID})
	return subID, nil
}

func (s *Supervisor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.devices.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case citracker.EventDeviceLost:
				s.handleDeviceLost(ev.MUID)
			case citracker.EventDeviceDiscovered:
				s.handleDeviceDiscovered(ctx, ev.MUID)
			}
		case n, ok := <-s.engine.Notifications():
			if !ok {
				return
			}
			s.handleNotification(n)
		}
	}
}

func (s *Supervisor) handleDeviceLost(muid wire.MUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.intents {
		if it.muid == muid && it.state == StateSubscribed {
			it.state = StateSuspended
			it.retries = 0
			s.emitLocked(Event{Kind: EventSuspended, Resource: it.key.resource, SubscribeID: it.subscribeID, MUID: muid})
		}
	}
}

func (s *Supervisor) handleDeviceDiscovered(ctx context.Context, muid wire.MUID) {
	dev, ok := s.devices.Device(muid)
	if !ok {
		return
	}

	s.mu.Lock()
	var candidates []*intent
	for _, it := range s.intents {
		if it.state == StateSuspended && it.key.identity == dev.Identity {
			candidates = append(candidates, it)
		}
	}
	s.mu.Unlock()

	for _, it := range candidates {
		go s.attemptResubscribe(ctx, it, muid)
	}
}

func (s *Supervisor) attemptResubscribe(ctx context.Context, it *intent, newMUID wire.MUID) {
	select {
	case <-time.After(s.resubscribeDelay):
	case <-ctx.Done():
		return
	}

	subID, err := s.engine.Subscribe(ctx, it.key.resource, newMUID, it.timeout)

	s.mu.Lock()
	if err != nil {
		it.retries++
		if it.retries >= s.maxRetryAttempts {
			it.state = StateFailed
			s.mu.Unlock()
			s.emit(Event{Kind: EventFailed, Resource: it.key.resource, SubscribeID: it.subscribeID, MUID: newMUID})
			s.logger.Debug("subsupervisor: resubscribe failed permanently", "resource", it.key.resource, "error", err)
			return
		}
		s.mu.Unlock()
		go s.attemptResubscribe(ctx, it, newMUID)
		return
	}

	delete(s.bySubscribeID, it.subscribeID)
	it.muid = newMUID
	it.subscribeID = subID
	it.state = StateRestored
	it.retries = 0
	s.bySubscribeID[subID] = it
	s.mu.Unlock()

	s.emit(Event{Kind: EventRestored, Resource: it.key.resource, SubscribeID: subID, MUID: newMUID})
}

func (s *Supervisor) handleNotification(n peengine.Notification) {
	s.mu.Lock()
	it, ok := s.bySubscribeID[n.SubscribeID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.emit(Event{Kind: EventNotification, Resource: it.key.resource, SubscribeID: n.SubscribeID, MUID: it.muid, Notification: n})
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("subsupervisor: event stream full, dropping event", "kind", ev.Kind)
	}
}

func (s *Supervisor) emitLocked(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("subsupervisor: event stream full, dropping event", "kind", ev.Kind)
	}
}
