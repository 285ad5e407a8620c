package audiotarget

import (
	"fmt"

	"go.uber.org/zap"
)

// Session wraps one process's audio stream. It refers to its device by id only.
type Session struct {
	logger *zap.SugaredLogger
	native NativeSession

	released bool

	pid         int64
	processName string
	displayName string
	deviceID    string
	state       SessionState
}

func newSession(logger *zap.SugaredLogger, native NativeSession, deviceID string) (*Session, error) {
	pid, err := native.ProcessID()
	if err != nil {
		return nil, fmt.Errorf("get session pid: %w", err)
	}

	s := &Session{
		logger:   logger,
		native:   native,
		pid:      int64(pid),
		deviceID: deviceID,
	}

	if s.pid == systemSoundsPID {
		s.processName = systemSoundsName
	} else {
		if s.processName, err = native.ProcessName(); err != nil {
			return nil, fmt.Errorf("get process name of session %d: %w", pid, err)
		}
	}

	if s.state, err = native.State(); err != nil {
		return nil, fmt.Errorf("get state of session %d: %w", pid, err)
	}

	// display names are optional overrides
	if s.displayName, err = native.DisplayName(); err != nil {
		logger.Debugw("Failed to get session display name", "pid", pid, "error", err)
	}

	return s, nil
}

func (s *Session) PID() int64 {
	return s.pid
}

func (s *Session) ProcessName() string {
	return s.processName
}

func (s *Session) DisplayName() string {
	return s.displayName
}

// Name returns the display name when one is set, the process name otherwise
func (s *Session) Name() string {
	if s.displayName != "" {
		return s.displayName
	}

	return s.processName
}

func (s *Session) DeviceID() string {
	return s.deviceID
}

func (s *Session) State() SessionState {
	return s.state
}

// ProcessIdentifier is the "{pid}:{process_name}" key that survives native handle recreation
func (s *Session) ProcessIdentifier() string {
	return formatProcessIdentifier(s.pid, s.processName)
}

func (s *Session) IsSystemSounds() bool {
	return s.pid == systemSoundsPID
}

func (s *Session) Valid() bool {
	return !s.released
}

// Volume returns the session volume on the 0-100 scale
func (s *Session) Volume() (int, error) {
	v, err := s.NativeVolume()
	if err != nil {
		return 0, err
	}

	return NativeVolume(v).Percent(), nil
}

func (s *Session) NativeVolume() (float32, error) {
	if s.released {
		return 0, fmt.Errorf("get volume of session %s: %w", s.ProcessIdentifier(), ErrReleased)
	}

	v, err := s.native.Volume()
	if err != nil {
		return 0, fmt.Errorf("get volume of session %s: %w", s.ProcessIdentifier(), err)
	}

	return v, nil
}

// SetVolume sets the session volume from the 0-100 scale, clamping out of range values
func (s *Session) SetVolume(percent int) error {
	return s.SetNativeVolume(PercentVolume(percent).Native())
}

func (s *Session) SetNativeVolume(v float32) error {
	if s.released {
		return fmt.Errorf("set volume of session %s: %w", s.ProcessIdentifier(), ErrReleased)
	}

	if err := s.native.SetVolume(NativeVolume(v).Native()); err != nil {
		return fmt.Errorf("set volume of session %s: %w", s.ProcessIdentifier(), err)
	}

	s.logger.Debugw("Set session volume", "session", s, "volume", v)

	return nil
}

func (s *Session) Muted() (bool, error) {
	if s.released {
		return false, fmt.Errorf("get mute of session %s: %w", s.ProcessIdentifier(), ErrReleased)
	}

	muted, err := s.native.Muted()
	if err != nil {
		return false, fmt.Errorf("get mute of session %s: %w", s.ProcessIdentifier(), err)
	}

	return muted, nil
}

func (s *Session) SetMuted(muted bool) error {
	if s.released {
		return fmt.Errorf("set mute of session %s: %w", s.ProcessIdentifier(), ErrReleased)
	}

	if err := s.native.SetMuted(muted); err != nil {
		return fmt.Errorf("set mute of session %s: %w", s.ProcessIdentifier(), err)
	}

	return nil
}

func (s *Session) subscribe(sink NotificationSink) error {
	if s.released {
		return ErrReleased
	}

	return s.native.Subscribe(sink)
}

func (s *Session) release() {
	if s.released {
		return
	}

	s.released = true
	s.native.Release()
}

func (s *Session) String() string {
	return fmt.Sprintf("%s (%s)", s.ProcessIdentifier(), s.deviceID)
}

func formatProcessIdentifier(pid int64, processName string) string {
	return fmt.Sprintf("%d:%s", pid, processName)
}
