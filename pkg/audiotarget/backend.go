package audiotarget

// Backend represents the OS audio subsystem as seen by the registries.
// Every native handle it hands out is owned by the caller, who must Release it exactly once.
type Backend interface {
	// ActiveDevices enumerates all render endpoints currently in the Active state
	ActiveDevices() ([]NativeDevice, error)

	// DefaultDevice returns the current default render endpoint
	DefaultDevice() (NativeDevice, error)

	// Device opens a single endpoint by its OS identifier
	Device(id string) (NativeDevice, error)

	// Subscribe starts delivering device-level notifications (added, removed, state and default changes)
	Subscribe(sink NotificationSink) error

	// ShowVolumeFlyout pops the OS volume overlay, where the platform has one
	ShowVolumeFlyout() error

	Release() error
}

// NativeDevice is a typed handle to one audio endpoint
type NativeDevice interface {
	ID() (string, error)
	FriendlyName() (string, error)
	IconPath() (string, error)
	State() (DeviceState, error)

	// Volume and SetVolume use the native 0.0-1.0 scalar
	Volume() (float32, error)
	SetVolume(v float32) error
	Muted() (bool, error)
	SetMuted(muted bool) error

	Sessions() ([]NativeSession, error)

	// Subscribe registers for session-created and endpoint volume notifications of this device
	Subscribe(sink NotificationSink) error

	Release()
}

// NativeSession is a typed handle to one process's audio stream
type NativeSession interface {
	ProcessID() (uint32, error)
	ProcessName() (string, error)
	DisplayName() (string, error)
	State() (SessionState, error)

	Volume() (float32, error)
	SetVolume(v float32) error
	Muted() (bool, error)
	SetMuted(muted bool) error

	// Subscribe registers for state, disconnect and volume notifications of this session
	Subscribe(sink NotificationSink) error

	Release()
}

// NotificationSink receives notifications from OS callback threads.
// Implementations must not block and must not touch registry state directly.
type NotificationSink interface {
	Notify(n Notification)
}

// DeviceState mirrors the endpoint state bitmask reported by the OS
type DeviceState uint32

const (
	DeviceStateActive     DeviceState = 0x1
	DeviceStateDisabled   DeviceState = 0x2
	DeviceStateNotPresent DeviceState = 0x4
	DeviceStateUnplugged  DeviceState = 0x8
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateActive:
		return "active"
	case DeviceStateDisabled:
		return "disabled"
	case DeviceStateNotPresent:
		return "not_present"
	case DeviceStateUnplugged:
		return "unplugged"
	default:
		return "unknown"
	}
}

// SessionState mirrors the OS audio session state
type SessionState uint32

const (
	SessionStateInactive SessionState = iota
	SessionStateActive
	SessionStateExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionStateInactive:
		return "inactive"
	case SessionStateActive:
		return "active"
	case SessionStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
