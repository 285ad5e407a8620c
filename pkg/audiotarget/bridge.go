package audiotarget

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// NotificationKind identifies what changed in the OS audio graph
type NotificationKind int

const (
	NotificationDeviceAdded NotificationKind = iota + 1
	NotificationDeviceRemoved
	NotificationDeviceStateChanged
	NotificationDefaultDeviceChanged
	NotificationEndpointVolumeChanged
	NotificationSessionCreated
	NotificationSessionStateChanged
	NotificationSessionDisconnected
	NotificationSessionVolumeChanged
	NotificationSessionDisplayNameChanged
	NotificationSessionIconChanged
)

var notificationKindNames = map[NotificationKind]string{
	NotificationDeviceAdded:               "device_added",
	NotificationDeviceRemoved:             "device_removed",
	NotificationDeviceStateChanged:        "device_state_changed",
	NotificationDefaultDeviceChanged:      "default_device_changed",
	NotificationEndpointVolumeChanged:     "endpoint_volume_changed",
	NotificationSessionCreated:            "session_created",
	NotificationSessionStateChanged:       "session_state_changed",
	NotificationSessionDisconnected:       "session_disconnected",
	NotificationSessionVolumeChanged:      "session_volume_changed",
	NotificationSessionDisplayNameChanged: "session_display_name_changed",
	NotificationSessionIconChanged:        "session_icon_changed",
}

func (k NotificationKind) String() string {
	if name, ok := notificationKindNames[k]; ok {
		return name
	}

	return "unknown"
}

// Notification is a single OS push notification, flattened so it can cross goroutines by value.
// Only the fields relevant to Kind are set.
type Notification struct {
	Kind NotificationKind

	DeviceID    string
	DeviceState DeviceState

	PID          int64
	SessionState SessionState

	// Session carries the new native handle for NotificationSessionCreated.
	// Ownership passes to whoever receives the notification.
	Session NativeSession

	Volume float32
	Muted  bool

	// Self is set when a volume change was made by this process
	Self bool

	// Text carries the new display name or icon path
	Text string
}

// NotificationQueue is the bounded hand-off between OS callback threads and the registry owner.
// When it is full the notification is dropped and the owner is asked to resynchronise with a reload.
type NotificationQueue struct {
	logger *zap.SugaredLogger

	ch         chan Notification
	overflowed atomic.Bool
}

const defaultNotificationQueueSize = 64

func NewNotificationQueue(logger *zap.SugaredLogger, size int) *NotificationQueue {
	if size <= 0 {
		size = defaultNotificationQueueSize
	}

	return &NotificationQueue{
		logger: logger.Named("notifications"),
		ch:     make(chan Notification, size),
	}
}

// Notify enqueues n without blocking the calling OS thread
func (q *NotificationQueue) Notify(n Notification) {
	select {
	case q.ch <- n:
		notificationsTotal.WithLabelValues(n.Kind.String()).Inc()
	default:
		// nobody will ever adopt this handle
		if n.Session != nil {
			n.Session.Release()
		}

		q.overflowed.Store(true)
		notificationsDropped.Inc()

		q.logger.Warnw("Notification queue full, dropping notification", "kind", n.Kind, "deviceID", n.DeviceID)
	}
}

// C returns the channel drained by the registry owner
func (q *NotificationQueue) C() <-chan Notification {
	return q.ch
}

// takeOverflow reports whether notifications were dropped since the last call
func (q *NotificationQueue) takeOverflow() bool {
	return q.overflowed.Swap(false)
}
