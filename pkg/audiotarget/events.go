package audiotarget

import (
	"sync"

	"github.com/kelindar/event"
)

// Event type identifiers for kelindar/event
const (
	TypeDeviceListReloaded uint32 = iota + 1
	TypeSessionListReloaded
	TypeSelectedDeviceSwitched
	TypeSelectedSessionSwitched
	TypeLockSelectedDeviceChanged
	TypeLockSelectedSessionChanged
	TypeTargetChanged
	TypeDeviceSessionCreated
	TypeDeviceSessionRemoved
	TypeVolumeChanged
	TypeReloadFailed
)

// Event is implemented by everything published on the Bus
type Event interface {
	Type() uint32
}

// DeviceListReloadedEvent is published after the device registry was reconciled with the OS
type DeviceListReloadedEvent struct {
	DeviceIDs       []string
	DefaultDeviceID string
}

func (e DeviceListReloadedEvent) Type() uint32 { return TypeDeviceListReloaded }

// SessionListReloadedEvent is published after the session registry was reconciled
type SessionListReloadedEvent struct {
	Identifiers []string
}

func (e SessionListReloadedEvent) Type() uint32 { return TypeSessionListReloaded }

// SelectedDeviceSwitchedEvent carries the new selected device id, empty when cleared
type SelectedDeviceSwitchedEvent struct {
	DeviceID string
}

func (e SelectedDeviceSwitchedEvent) Type() uint32 { return TypeSelectedDeviceSwitched }

// SelectedSessionSwitchedEvent carries the new selected session, empty identifier when cleared
type SelectedSessionSwitchedEvent struct {
	Identifier string
	PID        int64
}

func (e SelectedSessionSwitchedEvent) Type() uint32 { return TypeSelectedSessionSwitched }

type LockSelectedDeviceChangedEvent struct {
	Locked bool
}

func (e LockSelectedDeviceChangedEvent) Type() uint32 { return TypeLockSelectedDeviceChanged }

type LockSelectedSessionChangedEvent struct {
	Locked bool
}

func (e LockSelectedSessionChangedEvent) Type() uint32 { return TypeLockSelectedSessionChanged }

// TargetChangedEvent is published after the target text was committed
type TargetChangedEvent struct {
	Target   string
	Resolved bool
}

func (e TargetChangedEvent) Type() uint32 { return TypeTargetChanged }

// DeviceSessionCreatedEvent is published when a session became visible in the session registry
type DeviceSessionCreatedEvent struct {
	DeviceID   string
	Identifier string
	PID        int64
}

func (e DeviceSessionCreatedEvent) Type() uint32 { return TypeDeviceSessionCreated }

// DeviceSessionRemovedEvent is published when a session left the session registry
type DeviceSessionRemovedEvent struct {
	DeviceID   string
	Identifier string
	PID        int64
}

func (e DeviceSessionRemovedEvent) Type() uint32 { return TypeDeviceSessionRemoved }

// VolumeOrigin tells who changed a volume
type VolumeOrigin int

const (
	// VolumeOriginCommand is published right after a controller command succeeded
	VolumeOriginCommand VolumeOrigin = iota
	// VolumeOriginSelf is the OS reporting a change this process made
	VolumeOriginSelf
	// VolumeOriginExternal is the OS reporting a change made by someone else
	VolumeOriginExternal
)

// VolumeChangedEvent is published when a device or session volume/mute changed.
// Identifier is empty for endpoint (device) volume changes.
type VolumeChangedEvent struct {
	DeviceID   string
	Identifier string
	Volume     int
	Muted      bool
	Origin     VolumeOrigin
}

func (e VolumeChangedEvent) Type() uint32 { return TypeVolumeChanged }

// ReloadFailedEvent is published once per run of consecutive reload failures
type ReloadFailedEvent struct {
	Err error
}

func (e ReloadFailedEvent) Type() uint32 { return TypeReloadFailed }

// Bus carries registry events to the application. Observers run synchronously on the
// publishing goroutine, in registration order, before the event is handed to the kelindar/event
// dispatcher whose subscribers each get it on their own goroutine.
type Bus struct {
	dispatcher *event.Dispatcher

	mu        sync.Mutex
	observers []*observer
}

type observer struct {
	fn func(Event)
}

func NewBus() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish runs the observers of ev, then delivers it to every subscriber of its type
func Publish[T Event](b *Bus, ev T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	observers := make([]*observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.Unlock()

	for _, o := range observers {
		o.fn(ev)
	}

	event.Publish(b.dispatcher, ev)
}

// Observe registers handler to run synchronously for events of type T and returns a function
// removing it. Handlers run on the controller's owner goroutine and must not block.
// Observe[Event] sees every event in publication order.
func Observe[T Event](b *Bus, handler func(T)) func() {
	o := &observer{
		fn: func(ev Event) {
			if e, ok := ev.(T); ok {
				handler(e)
			}
		},
	}

	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, registered := range b.observers {
			if registered == o {
				b.observers = append(b.observers[:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Subscribe registers handler for events of type T and returns an unsubscribe function.
// Delivery is asynchronous; use Observe where ordering matters.
// Usage: unsub := Subscribe(bus, func(e TargetChangedEvent) { ... })
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
