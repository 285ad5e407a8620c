package audiotarget

import (
	"strings"

	"go.uber.org/zap"
)

// TargetChangingFunc is consulted before a new target text is committed.
// It may rewrite the incoming text; returning false cancels the change.
type TargetChangingFunc func(current, incoming string) (string, bool)

type selectionHooks struct {
	deviceSwitched     func(d *Device)
	sessionSwitched    func(s *Session)
	targetChanged      func(target string, resolved bool)
	lockDeviceChanged  func(locked bool)
	lockSessionChanged func(locked bool)
}

// Selection owns "what is being controlled": the selected device, the selected session and the
// free-text target. Locked selections ignore every attempt to change them.
type Selection struct {
	logger   *zap.SugaredLogger
	devices  *DeviceRegistry
	sessions *SessionRegistry
	hooks    selectionHooks

	device  *Device
	session *Session
	target  string

	lockDevice  bool
	lockSession bool

	caseSensitive bool
	changing      TargetChangingFunc
}

func newSelection(logger *zap.SugaredLogger, devices *DeviceRegistry, sessions *SessionRegistry, caseSensitive bool) *Selection {
	return &Selection{
		logger:        logger.Named("selection"),
		devices:       devices,
		sessions:      sessions,
		caseSensitive: caseSensitive,
	}
}

func (s *Selection) SelectedDevice() *Device {
	return s.device
}

func (s *Selection) SelectedSession() *Session {
	return s.session
}

// Target returns the committed target text; it mirrors the selected session's identifier
// when the target resolved, or holds the raw text when it did not
func (s *Selection) Target() string {
	return s.target
}

func (s *Selection) DeviceLocked() bool {
	return s.lockDevice
}

func (s *Selection) SessionLocked() bool {
	return s.lockSession
}

// SetTargetChanging installs the pre-commit hook for SetTarget
func (s *Selection) SetTargetChanging(fn TargetChangingFunc) {
	s.changing = fn
}

// SetSelectedDevice selects device; it returns false when locked or unchanged
func (s *Selection) SetSelectedDevice(device *Device) bool {
	if s.lockDevice || device == s.device {
		return false
	}

	s.device = device
	s.logger.Debugw("Selected device switched", "device", device)

	if s.hooks.deviceSwitched != nil {
		s.hooks.deviceSwitched(device)
	}

	return true
}

// SetSelectedSession selects session and mirrors its identifier into the target;
// it returns false when locked or unchanged
func (s *Selection) SetSelectedSession(session *Session) bool {
	if s.lockSession || session == s.session {
		return false
	}

	s.switchSession(session)

	if session != nil {
		s.commitTarget(session.ProcessIdentifier(), true)
	}

	return true
}

// SetTarget resolves text against the live sessions. A match becomes the selected session;
// otherwise the text is kept verbatim and the prior selection is left as it is.
// Only a malformed identifier is an error.
func (s *Selection) SetTarget(text string) error {
	if s.lockSession {
		s.logger.Debugw("Session selection locked, ignoring target change", "target", text)
		return nil
	}

	if s.changing != nil {
		rewritten, ok := s.changing(s.target, text)
		if !ok {
			s.logger.Debugw("Target change cancelled", "target", text)
			return nil
		}

		text = rewritten
	}

	session, err := s.FindSessionByIdentifier(text)
	if err != nil {
		return err
	}

	if session == nil {
		s.commitTarget(text, false)
		return nil
	}

	if session != s.session {
		s.switchSession(session)
	}

	s.commitTarget(session.ProcessIdentifier(), true)

	return nil
}

// FindSessionByIdentifier scans every session for one matching identifier by full identifier,
// pid or name. An exact identifier match wins, then the first pid match, then the first match.
func (s *Selection) FindSessionByIdentifier(identifier string) (*Session, error) {
	id, err := ResolveTargetIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	full := strings.Trim(strings.TrimSpace(identifier), ":")

	var first, byPID *Session

	for _, session := range s.sessions.All() {
		if full != "" && s.equal(session.ProcessIdentifier(), full) {
			return session, nil
		}

		pidMatches := id.HasPID && session.pid == id.PID
		nameMatches := id.Name != "" &&
			(s.equal(session.processName, id.Name) || s.equal(session.displayName, id.Name))

		if !pidMatches && !nameMatches {
			continue
		}

		if pidMatches && byPID == nil {
			byPID = session
		}

		if first == nil {
			first = session
		}
	}

	if byPID != nil {
		return byPID, nil
	}

	return first, nil
}

func (s *Selection) SelectNextSession() bool {
	return s.stepSession(true)
}

func (s *Selection) SelectPreviousSession() bool {
	return s.stepSession(false)
}

func (s *Selection) SelectNextDevice() bool {
	return s.stepDevice(true)
}

func (s *Selection) SelectPreviousDevice() bool {
	return s.stepDevice(false)
}

func (s *Selection) SetDeviceLocked(locked bool) {
	if s.lockDevice == locked {
		return
	}

	s.lockDevice = locked
	s.logger.Infow("Selected device lock changed", "locked", locked)

	if s.hooks.lockDeviceChanged != nil {
		s.hooks.lockDeviceChanged(locked)
	}
}

func (s *Selection) SetSessionLocked(locked bool) {
	if s.lockSession == locked {
		return
	}

	s.lockSession = locked
	s.logger.Infow("Selected session lock changed", "locked", locked)

	if s.hooks.lockSessionChanged != nil {
		s.hooks.lockSessionChanged(locked)
	}
}

// Revalidate brings the selection back in line with the registries after they changed.
// Unlocked selections that left their registry are rebound by id/identifier or cleared;
// locked ones are only ever rebound to an entity with the same identity.
// An unresolved target is retried when no session is selected.
func (s *Selection) Revalidate() {
	s.revalidateDevice()
	s.revalidateSession()
}

func (s *Selection) revalidateDevice() {
	if s.device == nil || s.device.Valid() {
		return
	}

	replacement := s.devices.Get(s.device.id)

	switch {
	case replacement != nil:
		s.forceDevice(replacement)
	case !s.lockDevice:
		s.logger.Debugw("Selected device is gone, clearing it", "device", s.device)
		s.forceDevice(nil)
	}
}

func (s *Selection) revalidateSession() {
	if s.session != nil && !s.sessions.Contains(s.session) {
		replacement := s.sessions.Get(s.session.ProcessIdentifier())

		switch {
		case replacement != nil:
			s.switchSession(replacement)
		case !s.lockSession:
			s.logger.Debugw("Selected session is gone, keeping target for re-resolution", "session", s.session)
			s.switchSession(nil)
		}
	}

	if s.session != nil || s.target == "" || s.lockSession {
		return
	}

	session, err := s.FindSessionByIdentifier(s.target)
	if err != nil {
		s.logger.Debugw("Stored target doesn't parse, leaving it unresolved", "target", s.target, "error", err)
		return
	}

	if session != nil {
		s.switchSession(session)
		s.commitTarget(session.ProcessIdentifier(), true)
	}
}

func (s *Selection) stepSession(forward bool) bool {
	if s.lockSession {
		return false
	}

	next, ok := step(s.sessions.All(), s.session, forward)
	if !ok {
		return false
	}

	return s.SetSelectedSession(next)
}

func (s *Selection) stepDevice(forward bool) bool {
	if s.lockDevice {
		return false
	}

	next, ok := step(s.devices.All(), s.device, forward)
	if !ok {
		return false
	}

	return s.SetSelectedDevice(next)
}

// forceDevice bypasses the lock; used only to rebind or clear a device that went away
func (s *Selection) forceDevice(device *Device) {
	if device == s.device {
		return
	}

	s.device = device

	if s.hooks.deviceSwitched != nil {
		s.hooks.deviceSwitched(device)
	}
}

func (s *Selection) switchSession(session *Session) {
	s.session = session
	s.logger.Debugw("Selected session switched", "session", session)

	if s.hooks.sessionSwitched != nil {
		s.hooks.sessionSwitched(session)
	}
}

func (s *Selection) commitTarget(target string, resolved bool) {
	if target == s.target {
		return
	}

	s.target = target

	if s.hooks.targetChanged != nil {
		s.hooks.targetChanged(target, resolved)
	}
}

func (s *Selection) equal(a, b string) bool {
	if s.caseSensitive {
		return a == b
	}

	return strings.EqualFold(a, b)
}

// step moves one position from current through items with wrap-around. When current isn't
// in items it lands on the first (forward) or last element.
func step[T comparable](items []T, current T, forward bool) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}

	idx := -1
	for i, item := range items {
		if item == current {
			idx = i
			break
		}
	}

	switch {
	case idx < 0 && forward:
		return items[0], true
	case idx < 0:
		return items[len(items)-1], true
	case forward:
		return items[(idx+1)%len(items)], true
	default:
		return items[(idx-1+len(items))%len(items)], true
	}
}
