package audiotarget

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// the OS reports a default device change once per role in quick succession
const minDefaultDeviceChangeInterval = 100 * time.Millisecond

// deviceHooks are called synchronously, in collection order, by the DeviceRegistry
type deviceHooks struct {
	added          func(d *Device)
	removed        func(d *Device)
	enabledChanged func(d *Device, enabled bool)
	defaultChanged func(d *Device)
	reloaded       func()
}

// DeviceRegistry holds the deduplicated set of Active render endpoints and the current default.
// It is not synchronized: only the owner goroutine may call it.
type DeviceRegistry struct {
	logger  *zap.SugaredLogger
	backend Backend
	sink    NotificationSink
	hooks   deviceHooks

	devices       []*Device
	defaultDevice *Device

	// opt-in flags by device id, kept while a device is absent so it comes back enabled
	enabled map[string]bool

	lastDefaultDeviceChange time.Time
}

func newDeviceRegistry(logger *zap.SugaredLogger, backend Backend, sink NotificationSink, enabledIDs []string) *DeviceRegistry {
	r := &DeviceRegistry{
		logger:  logger.Named("devices"),
		backend: backend,
		sink:    sink,
		enabled: make(map[string]bool, len(enabledIDs)),
	}

	for _, id := range enabledIDs {
		r.enabled[id] = true
	}

	return r
}

// Reload enumerates the Active endpoints and reconciles them against the registry.
// A failure to enumerate at all is returned and leaves the registry untouched.
func (r *DeviceRegistry) Reload() (err error) {
	started := time.Now()
	defer func() { observeReload(registryDevices, started, err) }()

	natives, err := r.backend.ActiveDevices()
	if err != nil {
		r.logger.Warnw("Failed to enumerate active audio endpoints", "error", err)
		return fmt.Errorf("enumerate active audio endpoints: %w", err)
	}

	snapshot := make([]*Device, 0, len(natives))

	for idx, native := range natives {
		device, err := newDevice(r.logger, native)
		if err != nil {
			r.logger.Warnw("Dropping device that failed a property read", "deviceIdx", idx, "error", err)
			native.Release()
			entitiesDropped.WithLabelValues(registryDevices).Inc()

			continue
		}

		if device.state != DeviceStateActive {
			r.logger.Debugw("Ignoring enumerated device that isn't active", "device", device, "state", device.state)
			device.release()

			continue
		}

		snapshot = append(snapshot, device)
	}

	r.devices = reconcile(r.devices, snapshot, (*Device).ID, reconcileHooks[*Device]{
		removed:   r.dispose,
		added:     r.adopt,
		discarded: (*Device).release,
	})

	r.refreshDefault()
	setRegistrySize(registryDevices, len(r.devices))

	r.logger.Infow("Reloaded audio devices", "count", len(r.devices), "default", r.defaultDevice)

	if r.hooks.reloaded != nil {
		r.hooks.reloaded()
	}

	return nil
}

// CreateOrGet returns the live wrapper for native's id, creating and subscribing one if needed.
// When a wrapper already exists native is released.
func (r *DeviceRegistry) CreateOrGet(native NativeDevice) (*Device, error) {
	id, err := native.ID()
	if err != nil {
		native.Release()
		return nil, fmt.Errorf("get device id: %w", err)
	}

	if existing := r.Get(id); existing != nil {
		native.Release()
		return existing, nil
	}

	device, err := newDevice(r.logger, native)
	if err != nil {
		native.Release()
		entitiesDropped.WithLabelValues(registryDevices).Inc()

		return nil, fmt.Errorf("create device %s: %w", id, err)
	}

	r.devices = append(r.devices, device)
	r.adopt(device)
	setRegistrySize(registryDevices, len(r.devices))

	return device, nil
}

// Get returns the device with the given id, or nil
func (r *DeviceRegistry) Get(id string) *Device {
	for _, device := range r.devices {
		if device.id == id {
			return device
		}
	}

	return nil
}

// All returns the devices in registry order
func (r *DeviceRegistry) All() []*Device {
	devices := make([]*Device, len(r.devices))
	copy(devices, r.devices)

	return devices
}

// Enabled returns the enabled devices in registry order
func (r *DeviceRegistry) Enabled() []*Device {
	var devices []*Device

	for _, device := range r.devices {
		if device.enabled {
			devices = append(devices, device)
		}
	}

	return devices
}

// EnabledIDs returns every opted-in device id, including devices currently absent
func (r *DeviceRegistry) EnabledIDs() []string {
	ids := make([]string, 0, len(r.enabled))

	for _, device := range r.devices {
		if r.enabled[device.id] {
			ids = append(ids, device.id)
		}
	}

	for id, enabled := range r.enabled {
		if enabled && r.Get(id) == nil {
			ids = append(ids, id)
		}
	}

	return ids
}

func (r *DeviceRegistry) Len() int {
	return len(r.devices)
}

// Default returns the OS default render device, or nil when there is none
func (r *DeviceRegistry) Default() *Device {
	return r.defaultDevice
}

// SetEnabled toggles the application-level opt-in flag of a device
func (r *DeviceRegistry) SetEnabled(id string, enabled bool) error {
	r.enabled[id] = enabled

	device := r.Get(id)
	if device == nil {
		return fmt.Errorf("set enabled on %s: %w", id, ErrDeviceNotFound)
	}

	if device.enabled == enabled {
		return nil
	}

	device.enabled = enabled
	r.logger.Infow("Device enabled flag changed", "device", device, "enabled", enabled)

	if r.hooks.enabledChanged != nil {
		r.hooks.enabledChanged(device, enabled)
	}

	return nil
}

// handleAdded opens a device the OS reported as added, keeping it only when Active
func (r *DeviceRegistry) handleAdded(id string) {
	if r.Get(id) != nil {
		return
	}

	native, err := r.backend.Device(id)
	if err != nil {
		r.logger.Warnw("Failed to open added device", "deviceID", id, "error", err)
		return
	}

	state, err := native.State()
	if err != nil || state != DeviceStateActive {
		r.logger.Debugw("Added device isn't active, ignoring", "deviceID", id, "state", state, "error", err)
		native.Release()

		return
	}

	device, err := r.CreateOrGet(native)
	if err != nil {
		r.logger.Warnw("Failed to create added device", "deviceID", id, "error", err)
		return
	}

	r.logger.Debugw("Device added", "device", device)
}

// handleRemoved drops and disposes a device, returning whether it was present
func (r *DeviceRegistry) handleRemoved(id string) bool {
	for i, device := range r.devices {
		if device.id != id {
			continue
		}

		r.devices = append(r.devices[:i], r.devices[i+1:]...)
		r.dispose(device)
		setRegistrySize(registryDevices, len(r.devices))

		r.logger.Debugw("Device removed", "device", device)

		return true
	}

	return false
}

func (r *DeviceRegistry) handleStateChanged(id string, state DeviceState) {
	if state == DeviceStateActive {
		r.handleAdded(id)
		return
	}

	r.handleRemoved(id)
}

func (r *DeviceRegistry) handleDefaultChanged(id string) {
	now := time.Now()
	if r.defaultDevice != nil && r.defaultDevice.id == id &&
		r.lastDefaultDeviceChange.Add(minDefaultDeviceChangeInterval).After(now) {
		return
	}

	r.lastDefaultDeviceChange = now

	device := r.Get(id)
	if device == nil {
		r.handleAdded(id)
		device = r.Get(id)
	}

	r.setDefault(device)
}

// refreshDefault re-queries the OS default endpoint and binds it to a registry entity
func (r *DeviceRegistry) refreshDefault() {
	native, err := r.backend.DefaultDevice()
	if err != nil {
		r.logger.Warnw("Failed to get default audio endpoint", "error", err)
		r.setDefault(nil)

		return
	}

	device, err := r.CreateOrGet(native)
	if err != nil {
		r.logger.Warnw("Failed to bind default audio endpoint", "error", err)
		r.setDefault(nil)

		return
	}

	r.setDefault(device)
}

func (r *DeviceRegistry) setDefault(device *Device) {
	if r.defaultDevice == device {
		return
	}

	r.defaultDevice = device
	r.logger.Infow("Default device changed", "device", device)

	if r.hooks.defaultChanged != nil {
		r.hooks.defaultChanged(device)
	}
}

func (r *DeviceRegistry) adopt(device *Device) {
	device.enabled = r.enabled[device.id]

	if err := device.subscribe(r.sink); err != nil {
		r.logger.Warnw("Failed to subscribe device to notifications", "device", device, "error", err)
	}

	if r.hooks.added != nil {
		r.hooks.added(device)
	}
}

func (r *DeviceRegistry) dispose(device *Device) {
	if r.defaultDevice == device {
		r.setDefault(nil)
	}

	if r.hooks.removed != nil {
		r.hooks.removed(device)
	}

	device.release()
}

// release disposes every device without firing hooks
func (r *DeviceRegistry) release() {
	for _, device := range r.devices {
		device.release()
	}

	r.devices = nil
	r.defaultDevice = nil
}
