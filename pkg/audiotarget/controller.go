package audiotarget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

// Controller owns the device and session registries and the selection. All of its methods
// must run on the owner goroutine: either the one calling Run, or any single goroutine when
// Run isn't used. Other goroutines go through Invoke.
type Controller struct {
	logger  *zap.SugaredLogger
	backend Backend
	queue   *NotificationQueue
	bus     *Bus
	opts    Options

	devices   *DeviceRegistry
	sessions  *SessionRegistry
	selection *Selection

	reloading     bool
	reloadFailing bool

	calls chan func()

	foregroundProcessNames func() ([]string, error)
}

func NewController(logger *zap.SugaredLogger, backend Backend, bus *Bus, opts Options) (*Controller, error) {
	queue := NewNotificationQueue(logger, opts.NotificationQueueSize)

	c := &Controller{
		logger:                 logger.Named("controller"),
		backend:                backend,
		queue:                  queue,
		bus:                    bus,
		opts:                   opts,
		calls:                  make(chan func()),
		foregroundProcessNames: util.GetCurrentWindowProcessNames,
	}

	c.devices = newDeviceRegistry(logger, backend, queue, opts.EnabledDevices)
	c.sessions = newSessionRegistry(logger, queue, opts.ProcessAlive)
	c.selection = newSelection(logger, c.devices, c.sessions, opts.TargetCaseSensitive)
	c.wireHooks()

	if err := backend.Subscribe(queue); err != nil {
		c.logger.Warnw("Failed to subscribe to device notifications", "error", err)
		return nil, fmt.Errorf("subscribe to device notifications: %w", err)
	}

	c.logger.Debug("Created controller instance")

	return c, nil
}

func (c *Controller) wireHooks() {
	c.devices.hooks = deviceHooks{
		added: func(d *Device) {
			if !c.reloading && c.includesSessionsOf(d) {
				c.sessions.AddDevice(d)
			}
		},
		removed: func(d *Device) {
			c.sessions.RemoveDevice(d.id)
		},
		enabledChanged: func(d *Device, enabled bool) {
			if !c.opts.CheckAllDevices {
				return
			}

			if enabled {
				c.sessions.AddDevice(d)
			} else {
				c.sessions.RemoveDevice(d.id)
			}
		},
		defaultChanged: func(d *Device) {
			// without a selected device the default one feeds the session list
			if !c.reloading && !c.opts.CheckAllDevices && c.selection.SelectedDevice() == nil {
				c.refreshSessions()
			}
		},
		reloaded: func() {
			ev := DeviceListReloadedEvent{}
			for _, d := range c.devices.All() {
				ev.DeviceIDs = append(ev.DeviceIDs, d.id)
			}

			if d := c.devices.Default(); d != nil {
				ev.DefaultDeviceID = d.id
			}

			Publish(c.bus, ev)
		},
	}

	c.sessions.hooks = sessionHooks{
		added: func(s *Session) {
			Publish(c.bus, DeviceSessionCreatedEvent{DeviceID: s.deviceID, Identifier: s.ProcessIdentifier(), PID: s.pid})
		},
		removed: func(s *Session) {
			Publish(c.bus, DeviceSessionRemovedEvent{DeviceID: s.deviceID, Identifier: s.ProcessIdentifier(), PID: s.pid})
		},
		reloaded: func() {
			ev := SessionListReloadedEvent{}
			for _, s := range c.sessions.All() {
				ev.Identifiers = append(ev.Identifiers, s.ProcessIdentifier())
			}

			Publish(c.bus, ev)
		},
	}

	c.selection.hooks = selectionHooks{
		deviceSwitched: func(d *Device) {
			ev := SelectedDeviceSwitchedEvent{}
			if d != nil {
				ev.DeviceID = d.id
			}

			Publish(c.bus, ev)

			// the session list follows the selected device
			if !c.reloading && !c.opts.CheckAllDevices {
				c.refreshSessions()
			}
		},
		sessionSwitched: func(s *Session) {
			ev := SelectedSessionSwitchedEvent{}
			if s != nil {
				ev.Identifier = s.ProcessIdentifier()
				ev.PID = s.pid
			}

			Publish(c.bus, ev)
		},
		targetChanged: func(target string, resolved bool) {
			Publish(c.bus, TargetChangedEvent{Target: target, Resolved: resolved})
		},
		lockDeviceChanged: func(locked bool) {
			Publish(c.bus, LockSelectedDeviceChangedEvent{Locked: locked})
		},
		lockSessionChanged: func(locked bool) {
			Publish(c.bus, LockSelectedSessionChangedEvent{Locked: locked})
		},
	}
}

// Run drains OS notifications, periodic reloads and invoked calls until ctx is done.
// The goroutine calling Run becomes the owner of every registry.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Run loop starting")

	ticker := newReloadTicker(c.opts.ReloadInterval)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			c.logger.Debug("Run loop stopping")
			return ctx.Err()

		case n := <-c.queue.C():
			c.handleNotification(n)

			if c.queue.takeOverflow() {
				c.logger.Info("Notifications were dropped, resynchronising with a full reload")
				c.reloadQuietly()
			}

		case fn := <-c.calls:
			interval := c.opts.ReloadInterval
			fn()

			if c.opts.ReloadInterval != interval {
				if ticker != nil {
					ticker.Stop()
				}

				ticker = newReloadTicker(c.opts.ReloadInterval)
			}

		case <-tick:
			c.logger.Debug("Periodic reload")
			c.reloadQuietly()
		}
	}
}

// Invoke runs fn on the owner goroutine and waits for it to finish
func (c *Controller) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	select {
	case c.calls <- func() {
		defer close(done)
		fn()
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload reconciles the device registry with the OS, then the session registry, then the
// selection. It fails only when the audio subsystem can't be enumerated at all.
func (c *Controller) Reload() error {
	if c.reloading {
		return ErrReloadInProgress
	}

	c.reloading = true
	defer func() { c.reloading = false }()

	if err := c.devices.Reload(); err != nil {
		c.reportReloadFailure(err)
		return fmt.Errorf("reload devices: %w", err)
	}

	if c.reloadFailing {
		c.logger.Info("Reload succeeded again")
		c.reloadFailing = false
	}

	c.selection.revalidateDevice()
	c.sessions.Reload(c.sessionSources())
	c.selection.Revalidate()

	return nil
}

// ReloadSessions reconciles only the session registry
func (c *Controller) ReloadSessions() error {
	if c.reloading {
		return ErrReloadInProgress
	}

	c.reloading = true
	defer func() { c.reloading = false }()

	c.refreshSessions()

	return nil
}

func (c *Controller) reloadQuietly() {
	if err := c.Reload(); err != nil && !errors.Is(err, ErrReloadInProgress) {
		c.logger.Debugw("Background reload failed", "error", err)
	}
}

// reportReloadFailure publishes only the first of a run of consecutive failures
func (c *Controller) reportReloadFailure(err error) {
	if c.reloadFailing {
		c.logger.Debugw("Reload still failing", "error", err)
		return
	}

	c.reloadFailing = true
	c.logger.Errorw("Failed to reload audio devices", "error", err)

	Publish(c.bus, ReloadFailedEvent{Err: err})
}

func (c *Controller) refreshSessions() {
	c.sessions.Reload(c.sessionSources())
	c.selection.Revalidate()
}

// sessionSources returns the devices feeding the session registry
func (c *Controller) sessionSources() []*Device {
	if c.opts.CheckAllDevices {
		return c.devices.Enabled()
	}

	if d := c.primaryDevice(); d != nil && d.Valid() {
		return []*Device{d}
	}

	return nil
}

func (c *Controller) includesSessionsOf(d *Device) bool {
	if c.opts.CheckAllDevices {
		return d.enabled
	}

	return d == c.primaryDevice()
}

// primaryDevice is the selected device, or the default one when nothing is selected.
// A locked device that went away stays primary, so commands fail with ErrReleased
// instead of reaching another device.
func (c *Controller) primaryDevice() *Device {
	if d := c.selection.SelectedDevice(); d != nil {
		return d
	}

	return c.devices.Default()
}

func (c *Controller) handleNotification(n Notification) {
	c.logger.Debugw("Handling notification", "kind", n.Kind, "deviceID", n.DeviceID, "pid", n.PID)

	switch n.Kind {
	case NotificationDeviceAdded:
		c.devices.handleAdded(n.DeviceID)

	case NotificationDeviceRemoved:
		c.devices.handleRemoved(n.DeviceID)

	case NotificationDeviceStateChanged:
		c.devices.handleStateChanged(n.DeviceID, n.DeviceState)

	case NotificationDefaultDeviceChanged:
		c.devices.handleDefaultChanged(n.DeviceID)

	case NotificationEndpointVolumeChanged:
		Publish(c.bus, VolumeChangedEvent{
			DeviceID: n.DeviceID,
			Volume:   NativeVolume(n.Volume).Percent(),
			Muted:    n.Muted,
			Origin:   reportedOrigin(n),
		})

	case NotificationSessionCreated:
		c.handleSessionCreated(n)

	case NotificationSessionStateChanged:
		if n.SessionState == SessionStateExpired {
			c.sessions.RemoveByPID(n.PID)
		} else if s := c.sessions.GetByPID(n.PID); s != nil {
			s.state = n.SessionState
		}

	case NotificationSessionDisconnected:
		c.sessions.RemoveByPID(n.PID)

	case NotificationSessionVolumeChanged:
		if s := c.sessions.GetByPID(n.PID); s != nil {
			Publish(c.bus, VolumeChangedEvent{
				DeviceID:   s.deviceID,
				Identifier: s.ProcessIdentifier(),
				Volume:     NativeVolume(n.Volume).Percent(),
				Muted:      n.Muted,
				Origin:     reportedOrigin(n),
			})
		}

	case NotificationSessionDisplayNameChanged:
		if s := c.sessions.GetByPID(n.PID); s != nil {
			s.displayName = n.Text
		}

	case NotificationSessionIconChanged:
		c.logger.Debugw("Session icon changed", "pid", n.PID, "iconPath", n.Text)

	default:
		c.logger.Warnw("Unknown notification kind", "kind", n.Kind)
	}

	c.selection.Revalidate()
}

func reportedOrigin(n Notification) VolumeOrigin {
	if n.Self {
		return VolumeOriginSelf
	}

	return VolumeOriginExternal
}

func (c *Controller) handleSessionCreated(n Notification) {
	if n.Session == nil {
		return
	}

	device := c.devices.Get(n.DeviceID)
	if device == nil || !c.includesSessionsOf(device) {
		n.Session.Release()
		return
	}

	session, err := newSession(c.sessions.logger, n.Session, device.id)
	if err != nil {
		c.logger.Debugw("Failed to wrap created session", "deviceID", n.DeviceID, "error", err)
		n.Session.Release()
		entitiesDropped.WithLabelValues(registrySessions).Inc()

		return
	}

	if c.sessions.Add(session) {
		c.logger.Debugw("Session added", "session", session)
	}
}

func (c *Controller) Devices() []*Device {
	return c.devices.All()
}

func (c *Controller) Sessions() []*Session {
	return c.sessions.All()
}

func (c *Controller) DefaultDevice() *Device {
	return c.devices.Default()
}

func (c *Controller) SelectedDevice() *Device {
	return c.selection.SelectedDevice()
}

func (c *Controller) SelectedSession() *Session {
	return c.selection.SelectedSession()
}

func (c *Controller) Target() string {
	return c.selection.Target()
}

// Selection exposes the selection for hooks and queries
func (c *Controller) Selection() *Selection {
	return c.selection
}

func (c *Controller) CheckAllDevices() bool {
	return c.opts.CheckAllDevices
}

// SetCheckAllDevices switches between aggregating every enabled device and only the primary one
func (c *Controller) SetCheckAllDevices(checkAll bool) {
	if c.opts.CheckAllDevices == checkAll {
		return
	}

	c.opts.CheckAllDevices = checkAll
	c.refreshSessions()
}

func (c *Controller) SetDeviceEnabled(id string, enabled bool) error {
	if err := c.devices.SetEnabled(id, enabled); err != nil {
		return err
	}

	c.selection.Revalidate()

	return nil
}

// SelectDevice selects the device with the given id; a locked selection is left alone
func (c *Controller) SelectDevice(id string) error {
	device := c.devices.Get(id)
	if device == nil {
		return fmt.Errorf("select device %s: %w", id, ErrDeviceNotFound)
	}

	c.selection.SetSelectedDevice(device)

	return nil
}

func (c *Controller) SetTarget(text string) error {
	return c.selection.SetTarget(text)
}

func (c *Controller) SelectNextSession() bool {
	return c.selection.SelectNextSession()
}

func (c *Controller) SelectPreviousSession() bool {
	return c.selection.SelectPreviousSession()
}

func (c *Controller) SelectNextDevice() bool {
	return c.selection.SelectNextDevice()
}

func (c *Controller) SelectPreviousDevice() bool {
	return c.selection.SelectPreviousDevice()
}

func (c *Controller) LockSession(locked bool) {
	c.selection.SetSessionLocked(locked)
}

func (c *Controller) LockDevice(locked bool) {
	c.selection.SetDeviceLocked(locked)
}

func (c *Controller) IncrementSessionVolume() error {
	return c.stepSessionVolume(c.opts.VolumeStep)
}

func (c *Controller) DecrementSessionVolume() error {
	return c.stepSessionVolume(-c.opts.VolumeStep)
}

func (c *Controller) SetSessionVolume(percent int) error {
	session, err := c.targetSession()
	if err != nil {
		return err
	}

	if err := session.SetVolume(percent); err != nil {
		return c.sessionFailed(session, err)
	}

	c.publishSessionVolume(session)

	return nil
}

func (c *Controller) ToggleSessionMute() error {
	session, err := c.targetSession()
	if err != nil {
		return err
	}

	muted, err := session.Muted()
	if err != nil {
		return c.sessionFailed(session, err)
	}

	return c.SetSessionMute(!muted)
}

func (c *Controller) SetSessionMute(muted bool) error {
	session, err := c.targetSession()
	if err != nil {
		return err
	}

	if err := session.SetMuted(muted); err != nil {
		return c.sessionFailed(session, err)
	}

	c.publishSessionVolume(session)

	return nil
}

func (c *Controller) IncrementDeviceVolume() error {
	return c.stepDeviceVolume(c.opts.VolumeStep)
}

func (c *Controller) DecrementDeviceVolume() error {
	return c.stepDeviceVolume(-c.opts.VolumeStep)
}

func (c *Controller) SetDeviceVolume(percent int) error {
	device, err := c.targetDevice()
	if err != nil {
		return err
	}

	if err := device.SetVolume(percent); err != nil {
		return err
	}

	c.publishDeviceVolume(device)

	return nil
}

func (c *Controller) ToggleDeviceMute() error {
	device, err := c.targetDevice()
	if err != nil {
		return err
	}

	muted, err := device.Muted()
	if err != nil {
		return err
	}

	return c.SetDeviceMute(!muted)
}

func (c *Controller) SetDeviceMute(muted bool) error {
	device, err := c.targetDevice()
	if err != nil {
		return err
	}

	if err := device.SetMuted(muted); err != nil {
		return err
	}

	c.publishDeviceVolume(device)

	return nil
}

func (c *Controller) stepSessionVolume(delta int) error {
	session, err := c.targetSession()
	if err != nil {
		return err
	}

	current, err := session.Volume()
	if err != nil {
		return c.sessionFailed(session, err)
	}

	return c.SetSessionVolume(PercentVolume(current).Add(float64(delta)).Percent())
}

func (c *Controller) stepDeviceVolume(delta int) error {
	device, err := c.targetDevice()
	if err != nil {
		return err
	}

	current, err := device.Volume()
	if err != nil {
		return err
	}

	return c.SetDeviceVolume(PercentVolume(current).Add(float64(delta)).Percent())
}

func (c *Controller) targetSession() (*Session, error) {
	session := c.selection.SelectedSession()
	if session == nil {
		return nil, ErrNoTarget
	}

	return session, nil
}

func (c *Controller) targetDevice() (*Device, error) {
	device := c.primaryDevice()
	if device == nil {
		return nil, ErrNoTarget
	}

	return device, nil
}

// sessionFailed drops a session whose process has exited under it
func (c *Controller) sessionFailed(session *Session, err error) error {
	if !errors.Is(err, ErrReleased) && !session.IsSystemSounds() && !c.sessions.alive(session.pid) {
		c.logger.Debugw("Session's process is gone, dropping it", "session", session, "error", err)
		c.sessions.RemoveByPID(session.pid)
		c.selection.Revalidate()
	}

	return err
}

func (c *Controller) publishSessionVolume(session *Session) {
	volume, err := session.Volume()
	if err != nil {
		return
	}

	muted, err := session.Muted()
	if err != nil {
		return
	}

	Publish(c.bus, VolumeChangedEvent{
		DeviceID:   session.deviceID,
		Identifier: session.ProcessIdentifier(),
		Volume:     volume,
		Muted:      muted,
	})
}

func (c *Controller) publishDeviceVolume(device *Device) {
	volume, err := device.Volume()
	if err != nil {
		return
	}

	muted, err := device.Muted()
	if err != nil {
		return
	}

	Publish(c.bus, VolumeChangedEvent{DeviceID: device.id, Volume: volume, Muted: muted})
}

// AutocompleteSource lists every session identifier and name, without duplicates
func (c *Controller) AutocompleteSource() []string {
	var entries []string

	for _, session := range c.sessions.All() {
		entries = append(entries, session.ProcessIdentifier(), session.processName)
		if session.displayName != "" {
			entries = append(entries, session.displayName)
		}
	}

	return funk.UniqString(entries)
}

// TargetForegroundProcess targets the first session belonging to the foreground window's
// process (or one of its child windows' processes). It reports whether a session matched.
func (c *Controller) TargetForegroundProcess() (bool, error) {
	names, err := c.foregroundProcessNames()
	if err != nil {
		return false, fmt.Errorf("get foreground process names: %w", err)
	}

	for i, name := range names {
		names[i] = strings.ToLower(trimExecutableExtension(name))
	}

	names = funk.UniqString(names)

	for _, session := range c.sessions.All() {
		if funk.ContainsString(names, strings.ToLower(session.processName)) {
			if err := c.selection.SetTarget(session.ProcessIdentifier()); err != nil {
				return false, err
			}

			return c.selection.SelectedSession() == session, nil
		}
	}

	c.logger.Debugw("No session belongs to the foreground window", "processNames", names)

	return false, nil
}

// ApplyOptions applies a changed configuration in place
func (c *Controller) ApplyOptions(opts Options) {
	if opts.ProcessAlive == nil {
		opts.ProcessAlive = c.sessions.alive
	}

	c.sessions.alive = opts.ProcessAlive
	c.selection.caseSensitive = opts.TargetCaseSensitive

	wanted := make(map[string]bool, len(opts.EnabledDevices))
	for _, id := range opts.EnabledDevices {
		wanted[id] = true
	}

	checkAll := opts.CheckAllDevices
	opts.CheckAllDevices = c.opts.CheckAllDevices
	c.opts = opts

	for _, device := range c.devices.All() {
		if device.enabled == wanted[device.id] {
			continue
		}

		if err := c.devices.SetEnabled(device.id, wanted[device.id]); err != nil {
			c.logger.Debugw("Failed to apply enabled flag", "device", device, "error", err)
		}
	}

	// absent devices keep only the flags the new options ask for
	for id := range c.devices.enabled {
		if c.devices.Get(id) == nil && !wanted[id] {
			delete(c.devices.enabled, id)
		}
	}

	for id := range wanted {
		if c.devices.Get(id) == nil {
			c.devices.enabled[id] = true
		}
	}

	c.SetCheckAllDevices(checkAll)
	c.selection.Revalidate()

	c.logger.Debugw("Applied options", "volumeStep", opts.VolumeStep, "checkAllDevices", checkAll,
		"reloadInterval", opts.ReloadInterval)
}

// State snapshots the selection fields for an external settings store
func (c *Controller) State() State {
	st := State{
		Target:      c.selection.Target(),
		LockDevice:  c.selection.DeviceLocked(),
		LockSession: c.selection.SessionLocked(),
	}

	if d := c.selection.SelectedDevice(); d != nil {
		st.SelectedDevice = d.id
	}

	return st
}

// RestoreState re-applies a persisted selection. Call it after the first Reload so the
// selected device and target can be resolved; an unresolved target is kept for later.
func (c *Controller) RestoreState(st State) {
	c.selection.SetDeviceLocked(false)
	c.selection.SetSessionLocked(false)

	if st.SelectedDevice != "" {
		if err := c.SelectDevice(st.SelectedDevice); err != nil {
			c.logger.Infow("Persisted device isn't present", "deviceID", st.SelectedDevice)
		}
	}

	if st.Target != "" {
		if err := c.selection.SetTarget(st.Target); err != nil {
			c.logger.Warnw("Persisted target is malformed, ignoring it", "target", st.Target, "error", err)
		}
	}

	c.selection.SetDeviceLocked(st.LockDevice)
	c.selection.SetSessionLocked(st.LockSession)
}

// Release disposes every entity and the backend
func (c *Controller) Release() error {
	c.sessions.release()
	c.devices.release()

	if err := c.backend.Release(); err != nil {
		c.logger.Warnw("Failed to release audio backend", "error", err)
		return fmt.Errorf("release audio backend: %w", err)
	}

	c.logger.Debug("Released controller")

	return nil
}

func newReloadTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		return nil
	}

	return time.NewTicker(interval)
}
