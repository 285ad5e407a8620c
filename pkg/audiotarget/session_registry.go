package audiotarget

import (
	"time"

	"go.uber.org/zap"
)

type sessionHooks struct {
	added    func(s *Session)
	removed  func(s *Session)
	reloaded func()
}

// SessionRegistry holds the union of sessions of the devices it is fed, deduplicated by
// process identifier. It is not synchronized: only the owner goroutine may call it.
type SessionRegistry struct {
	logger *zap.SugaredLogger
	sink   NotificationSink
	alive  ProcessProbe
	hooks  sessionHooks

	sessions []*Session
}

func newSessionRegistry(logger *zap.SugaredLogger, sink NotificationSink, alive ProcessProbe) *SessionRegistry {
	if alive == nil {
		alive = processRunning
	}

	return &SessionRegistry{
		logger: logger.Named("sessions"),
		sink:   sink,
		alive:  alive,
	}
}

// Reload rebuilds the registry from the current sessions of sources.
// Devices that fail to enumerate are logged and skipped.
func (r *SessionRegistry) Reload(sources []*Device) {
	started := time.Now()

	var snapshot []*Session
	failed := 0

	for _, device := range sources {
		sessions, err := device.sessions()
		if err != nil {
			r.logger.Warnw("Failed to enumerate device sessions", "device", device, "error", err)
			failed++

			continue
		}

		for _, session := range sessions {
			if !r.keep(session) {
				session.release()
				continue
			}

			snapshot = append(snapshot, session)
		}
	}

	r.sessions = reconcile(r.sessions, snapshot, (*Session).ProcessIdentifier, reconcileHooks[*Session]{
		removed:   r.dispose,
		added:     r.adopt,
		discarded: (*Session).release,
	})

	var err error
	if failed > 0 && failed == len(sources) {
		err = errNoSessionSource
	}

	observeReload(registrySessions, started, err)
	setRegistrySize(registrySessions, len(r.sessions))

	r.logger.Infow("Reloaded audio sessions", "count", len(r.sessions), "sources", len(sources))

	if r.hooks.reloaded != nil {
		r.hooks.reloaded()
	}
}

// Add inserts session unless one with the same process identifier is already present,
// in which case session is released and false is returned
func (r *SessionRegistry) Add(session *Session) bool {
	if existing := r.Get(session.ProcessIdentifier()); existing != nil {
		r.logger.Debugw("Duplicate session, keeping the existing one", "session", session)
		session.release()

		return false
	}

	if !r.keep(session) {
		session.release()
		return false
	}

	r.sessions = append(r.sessions, session)
	r.adopt(session)
	setRegistrySize(registrySessions, len(r.sessions))

	return true
}

// AddDevice adds every current session of device
func (r *SessionRegistry) AddDevice(device *Device) int {
	sessions, err := device.sessions()
	if err != nil {
		r.logger.Warnw("Failed to enumerate sessions of enabled device", "device", device, "error", err)
		return 0
	}

	added := 0

	for _, session := range sessions {
		if r.Add(session) {
			added++
		}
	}

	return added
}

// RemoveByPID removes the first session with pid
func (r *SessionRegistry) RemoveByPID(pid int64) bool {
	for i, session := range r.sessions {
		if session.pid != pid {
			continue
		}

		r.removeAt(i)

		return true
	}

	return false
}

// RemoveDevice removes every session belonging to deviceID, in collection order
func (r *SessionRegistry) RemoveDevice(deviceID string) int {
	var removed []*Session

	kept := r.sessions[:0]
	for _, session := range r.sessions {
		if session.deviceID == deviceID {
			removed = append(removed, session)
			continue
		}

		kept = append(kept, session)
	}

	// clear the tail so released sessions aren't kept alive by the backing array
	for i := len(kept); i < len(r.sessions); i++ {
		r.sessions[i] = nil
	}

	r.sessions = kept

	for _, session := range removed {
		r.dispose(session)
	}

	setRegistrySize(registrySessions, len(r.sessions))

	return len(removed)
}

// Get returns the session with the given process identifier, or nil
func (r *SessionRegistry) Get(identifier string) *Session {
	for _, session := range r.sessions {
		if session.ProcessIdentifier() == identifier {
			return session
		}
	}

	return nil
}

// GetByPID returns the first session with pid, or nil
func (r *SessionRegistry) GetByPID(pid int64) *Session {
	for _, session := range r.sessions {
		if session.pid == pid {
			return session
		}
	}

	return nil
}

// Contains reports whether this exact session instance is held
func (r *SessionRegistry) Contains(session *Session) bool {
	for _, s := range r.sessions {
		if s == session {
			return true
		}
	}

	return false
}

// All returns the sessions in registry order
func (r *SessionRegistry) All() []*Session {
	sessions := make([]*Session, len(r.sessions))
	copy(sessions, r.sessions)

	return sessions
}

func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}

// keep filters out expired sessions and sessions whose process is gone
func (r *SessionRegistry) keep(session *Session) bool {
	if session.state == SessionStateExpired {
		return false
	}

	if session.IsSystemSounds() {
		return true
	}

	if !r.alive(session.pid) {
		r.logger.Debugw("Process already exited, skipping session", "session", session)
		return false
	}

	return true
}

func (r *SessionRegistry) removeAt(i int) {
	session := r.sessions[i]
	r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)

	r.dispose(session)
	setRegistrySize(registrySessions, len(r.sessions))
}

func (r *SessionRegistry) adopt(session *Session) {
	if err := session.subscribe(r.sink); err != nil {
		r.logger.Warnw("Failed to subscribe session to notifications", "session", session, "error", err)
	}

	if r.hooks.added != nil {
		r.hooks.added(session)
	}
}

func (r *SessionRegistry) dispose(session *Session) {
	if r.hooks.removed != nil {
		r.hooks.removed(session)
	}

	session.release()
}

func (r *SessionRegistry) release() {
	for _, session := range r.sessions {
		session.release()
	}

	r.sessions = nil
}
