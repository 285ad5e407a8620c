package audiotarget

import (
	"fmt"

	"go.uber.org/zap"
)

// Device wraps one audio render endpoint. It is the only owner of its native handle.
type Device struct {
	logger *zap.SugaredLogger
	native NativeDevice

	released bool

	id       string
	name     string
	iconPath string
	state    DeviceState
	enabled  bool
}

func newDevice(logger *zap.SugaredLogger, native NativeDevice) (*Device, error) {
	id, err := native.ID()
	if err != nil {
		return nil, fmt.Errorf("get device id: %w", err)
	}

	name, err := native.FriendlyName()
	if err != nil {
		return nil, fmt.Errorf("get device %s friendly name: %w", id, err)
	}

	state, err := native.State()
	if err != nil {
		return nil, fmt.Errorf("get device %s state: %w", id, err)
	}

	// icons are cosmetic, a missing one doesn't invalidate the device
	iconPath, err := native.IconPath()
	if err != nil {
		logger.Debugw("Failed to get device icon path", "deviceID", id, "error", err)
	}

	return &Device{
		logger:   logger,
		native:   native,
		id:       id,
		name:     name,
		iconPath: iconPath,
		state:    state,
	}, nil
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) IconPath() string {
	return d.iconPath
}

func (d *Device) State() DeviceState {
	return d.state
}

// Enabled reports the application-level opt-in flag
func (d *Device) Enabled() bool {
	return d.enabled
}

// Valid reports whether the native handle is still held
func (d *Device) Valid() bool {
	return !d.released
}

// Volume returns the endpoint volume on the 0-100 scale
func (d *Device) Volume() (int, error) {
	v, err := d.NativeVolume()
	if err != nil {
		return 0, err
	}

	return NativeVolume(v).Percent(), nil
}

// NativeVolume returns the endpoint volume on the native 0.0-1.0 scale
func (d *Device) NativeVolume() (float32, error) {
	if d.released {
		return 0, fmt.Errorf("get volume of device %s: %w", d.id, ErrReleased)
	}

	v, err := d.native.Volume()
	if err != nil {
		return 0, fmt.Errorf("get volume of device %s: %w", d.id, err)
	}

	return v, nil
}

// SetVolume sets the endpoint volume from the 0-100 scale, clamping out of range values
func (d *Device) SetVolume(percent int) error {
	if d.released {
		return fmt.Errorf("set volume of device %s: %w", d.id, ErrReleased)
	}

	if err := d.native.SetVolume(PercentVolume(percent).Native()); err != nil {
		return fmt.Errorf("set volume of device %s: %w", d.id, err)
	}

	d.logger.Debugw("Set device volume", "device", d, "volume", percent)

	return nil
}

func (d *Device) Muted() (bool, error) {
	if d.released {
		return false, fmt.Errorf("get mute of device %s: %w", d.id, ErrReleased)
	}

	muted, err := d.native.Muted()
	if err != nil {
		return false, fmt.Errorf("get mute of device %s: %w", d.id, err)
	}

	return muted, nil
}

func (d *Device) SetMuted(muted bool) error {
	if d.released {
		return fmt.Errorf("set mute of device %s: %w", d.id, ErrReleased)
	}

	if err := d.native.SetMuted(muted); err != nil {
		return fmt.Errorf("set mute of device %s: %w", d.id, err)
	}

	return nil
}

// sessions wraps the device's current native sessions. Sessions failing a property read
// are released and skipped.
func (d *Device) sessions() ([]*Session, error) {
	if d.released {
		return nil, fmt.Errorf("enumerate sessions of device %s: %w", d.id, ErrReleased)
	}

	natives, err := d.native.Sessions()
	if err != nil {
		return nil, fmt.Errorf("enumerate sessions of device %s: %w", d.id, err)
	}

	sessions := make([]*Session, 0, len(natives))

	for _, native := range natives {
		session, err := newSession(d.logger, native, d.id)
		if err != nil {
			d.logger.Debugw("Skipping session that failed a property read", "device", d, "error", err)
			native.Release()
			entitiesDropped.WithLabelValues(registrySessions).Inc()

			continue
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (d *Device) subscribe(sink NotificationSink) error {
	if d.released {
		return ErrReleased
	}

	return d.native.Subscribe(sink)
}

// release gives up the native handle; subsequent calls are no-ops
func (d *Device) release() {
	if d.released {
		return
	}

	d.released = true
	d.native.Release()
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.name, d.id)
}
