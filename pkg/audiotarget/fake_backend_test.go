package audiotarget

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var errFakeRead = errors.New("fake: property read failed")

// fakeAudio simulates the OS audio graph. Every enumeration hands out fresh handles
// reading through to the same simulated devices and sessions, the way COM returns new pointers.
type fakeAudio struct {
	mu sync.Mutex

	devices   []*simDevice
	defaultID string

	enumerateErr error
	sink         NotificationSink

	handles  []fakeHandle
	released bool

	flyouts   int
	flyoutErr error
}

type simDevice struct {
	id       string
	name     string
	state    DeviceState
	volume   float32
	muted    bool
	sessions []*simSession

	failName    bool
	sessionsErr error
	subscribed  int
}

type simSession struct {
	pid         uint32
	name        string
	displayName string
	state       SessionState
	volume      float32
	muted       bool

	failPID   bool
	volumeErr error
}

type fakeHandle interface {
	releases() int
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{}
}

func fakeSession(pid uint32, name string) *simSession {
	return &simSession{pid: pid, name: name, state: SessionStateActive, volume: 0.5}
}

// addDevice registers an active device; the first one added becomes the default
func (a *fakeAudio) addDevice(id, name string, sessions ...*simSession) *simDevice {
	a.mu.Lock()
	defer a.mu.Unlock()

	sim := &simDevice{id: id, name: name, state: DeviceStateActive, volume: 0.5, sessions: sessions}
	a.devices = append(a.devices, sim)

	if a.defaultID == "" {
		a.defaultID = id
	}

	return sim
}

func (a *fakeAudio) removeDevice(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, sim := range a.devices {
		if sim.id == id {
			a.devices = append(a.devices[:i], a.devices[i+1:]...)
			return
		}
	}
}

func (a *fakeAudio) device(id string) *simDevice {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.find(id)
}

func (a *fakeAudio) find(id string) *simDevice {
	for _, sim := range a.devices {
		if sim.id == id {
			return sim
		}
	}

	return nil
}

func (a *fakeAudio) setDefault(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.defaultID = id
}

// addSession appends a simulated session to a device without notifying anyone
func (a *fakeAudio) addSession(deviceID string, session *simSession) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sim := a.find(deviceID)
	sim.sessions = append(sim.sessions, session)
}

func (a *fakeAudio) removeSession(deviceID string, pid uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sim := a.find(deviceID)
	for i, session := range sim.sessions {
		if session.pid == pid {
			sim.sessions = append(sim.sessions[:i], sim.sessions[i+1:]...)
			return
		}
	}
}

// newSessionHandle opens a handle to a session the way an OS session-created callback would
func (a *fakeAudio) newSessionHandle(sim *simSession) NativeSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.openSession(sim)
}

func (a *fakeAudio) openDevice(sim *simDevice) *fakeDevice {
	d := &fakeDevice{audio: a, sim: sim}
	a.handles = append(a.handles, d)

	return d
}

func (a *fakeAudio) openSession(sim *simSession) *fakeSessionHandle {
	s := &fakeSessionHandle{audio: a, sim: sim}
	a.handles = append(a.handles, s)

	return s
}

// leaked counts handles never released; overReleased counts handles released more than once
func (a *fakeAudio) leaked() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, h := range a.handles {
		if h.releases() == 0 {
			n++
		}
	}

	return n
}

func (a *fakeAudio) overReleased() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, h := range a.handles {
		if h.releases() > 1 {
			n++
		}
	}

	return n
}

func (a *fakeAudio) ActiveDevices() ([]NativeDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enumerateErr != nil {
		return nil, a.enumerateErr
	}

	var natives []NativeDevice

	for _, sim := range a.devices {
		if sim.state == DeviceStateActive {
			natives = append(natives, a.openDevice(sim))
		}
	}

	return natives, nil
}

func (a *fakeAudio) DefaultDevice() (NativeDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sim := a.find(a.defaultID)
	if sim == nil {
		return nil, errors.New("fake: no default device")
	}

	return a.openDevice(sim), nil
}

func (a *fakeAudio) Device(id string) (NativeDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sim := a.find(id)
	if sim == nil {
		return nil, errors.New("fake: element not found")
	}

	return a.openDevice(sim), nil
}

func (a *fakeAudio) Subscribe(sink NotificationSink) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sink = sink

	return nil
}

func (a *fakeAudio) ShowVolumeFlyout() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.flyoutErr != nil {
		return a.flyoutErr
	}

	a.flyouts++

	return nil
}

func (a *fakeAudio) shownFlyouts() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.flyouts
}

func (a *fakeAudio) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.released = true

	return nil
}

// notify delivers n as if it came from an OS callback thread
func (a *fakeAudio) notify(n Notification) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()

	sink.Notify(n)
}

type fakeDevice struct {
	audio *fakeAudio
	sim   *simDevice

	released int
}

func (d *fakeDevice) releases() int {
	return d.released
}

func (d *fakeDevice) ID() (string, error) {
	return d.sim.id, nil
}

func (d *fakeDevice) FriendlyName() (string, error) {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	if d.sim.failName {
		return "", errFakeRead
	}

	return d.sim.name, nil
}

func (d *fakeDevice) IconPath() (string, error) {
	return "", nil
}

func (d *fakeDevice) State() (DeviceState, error) {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	return d.sim.state, nil
}

func (d *fakeDevice) Volume() (float32, error) {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	return d.sim.volume, nil
}

func (d *fakeDevice) SetVolume(v float32) error {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	d.sim.volume = v

	return nil
}

func (d *fakeDevice) Muted() (bool, error) {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	return d.sim.muted, nil
}

func (d *fakeDevice) SetMuted(muted bool) error {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	d.sim.muted = muted

	return nil
}

func (d *fakeDevice) Sessions() ([]NativeSession, error) {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	if d.sim.sessionsErr != nil {
		return nil, d.sim.sessionsErr
	}

	natives := make([]NativeSession, 0, len(d.sim.sessions))
	for _, sim := range d.sim.sessions {
		natives = append(natives, d.audio.openSession(sim))
	}

	return natives, nil
}

func (d *fakeDevice) Subscribe(NotificationSink) error {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	d.sim.subscribed++

	return nil
}

func (d *fakeDevice) Release() {
	d.audio.mu.Lock()
	defer d.audio.mu.Unlock()

	d.released++
}

type fakeSessionHandle struct {
	audio *fakeAudio
	sim   *simSession

	released int
}

func (s *fakeSessionHandle) releases() int {
	return s.released
}

func (s *fakeSessionHandle) ProcessID() (uint32, error) {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	if s.sim.failPID {
		return 0, errFakeRead
	}

	return s.sim.pid, nil
}

func (s *fakeSessionHandle) ProcessName() (string, error) {
	return s.sim.name, nil
}

func (s *fakeSessionHandle) DisplayName() (string, error) {
	return s.sim.displayName, nil
}

func (s *fakeSessionHandle) State() (SessionState, error) {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	return s.sim.state, nil
}

func (s *fakeSessionHandle) Volume() (float32, error) {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	if s.sim.volumeErr != nil {
		return 0, s.sim.volumeErr
	}

	return s.sim.volume, nil
}

func (s *fakeSessionHandle) SetVolume(v float32) error {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	if s.sim.volumeErr != nil {
		return s.sim.volumeErr
	}

	s.sim.volume = v

	return nil
}

func (s *fakeSessionHandle) Muted() (bool, error) {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	return s.sim.muted, nil
}

func (s *fakeSessionHandle) SetMuted(muted bool) error {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	s.sim.muted = muted

	return nil
}

func (s *fakeSessionHandle) Subscribe(NotificationSink) error {
	return nil
}

func (s *fakeSessionHandle) Release() {
	s.audio.mu.Lock()
	defer s.audio.mu.Unlock()

	s.released++
}

// recordingSink collects notifications synchronously
type recordingSink struct {
	notifications []Notification
}

func (r *recordingSink) Notify(n Notification) {
	r.notifications = append(r.notifications, n)
}

func alwaysAlive(int64) bool {
	return true
}
