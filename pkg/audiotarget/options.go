package audiotarget

import "time"

const (
	defaultVolumeStep     = 2
	defaultReloadInterval = 30 * time.Second
)

// Options configures a Controller. The host builds it from its config; the core never reads
// settings on its own.
type Options struct {
	// VolumeStep is the increment/decrement step on the 0-100 scale
	VolumeStep int

	// CheckAllDevices aggregates sessions from every enabled device instead of only the
	// selected (or default) one
	CheckAllDevices bool

	// ReloadInterval is the period of the background reload; zero disables it
	ReloadInterval time.Duration

	// EnabledDevices lists the device ids opted in by the user
	EnabledDevices []string

	TargetCaseSensitive bool

	NotificationQueueSize int

	// ProcessAlive overrides the process liveness probe
	ProcessAlive ProcessProbe
}

func DefaultOptions() Options {
	return Options{
		VolumeStep:            defaultVolumeStep,
		ReloadInterval:        defaultReloadInterval,
		NotificationQueueSize: defaultNotificationQueueSize,
	}
}

// State holds the selection fields an external settings store persists between runs
type State struct {
	SelectedDevice string `mapstructure:"selected_device" yaml:"selected_device"`
	Target         string `mapstructure:"target" yaml:"target"`
	LockDevice     bool   `mapstructure:"lock_device" yaml:"lock_device"`
	LockSession    bool   `mapstructure:"lock_session" yaml:"lock_session"`
}
