package audiotarget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistries returns a reloaded device registry and an empty session registry over audio
func newTestRegistries(t *testing.T, audio *fakeAudio, alive ProcessProbe) (*DeviceRegistry, *SessionRegistry) {
	t.Helper()

	devices := newTestDeviceRegistry(t, audio)
	require.NoError(t, devices.Reload())

	if alive == nil {
		alive = alwaysAlive
	}

	return devices, newSessionRegistry(testLogger(t), &recordingSink{}, alive)
}

func identifiers(sessions []*Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ProcessIdentifier())
	}

	return ids
}

func TestSessionRegistryReloadDeduplicates(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers", fakeSession(100, "a"), fakeSession(200, "b"))
	audio.addDevice("D2", "Headset", fakeSession(100, "a"), fakeSession(0, ""))

	devices, sessions := newTestRegistries(t, audio, nil)

	var added []string
	sessions.hooks.added = func(s *Session) { added = append(added, s.ProcessIdentifier()) }

	sessions.Reload(devices.All())

	assert.Equal(t, []string{"100:a", "200:b", "0:system"}, identifiers(sessions.All()))
	assert.Equal(t, []string{"100:a", "200:b", "0:system"}, added)
	assert.Equal(t, "D1", sessions.Get("100:a").DeviceID())
	assert.True(t, sessions.GetByPID(0).IsSystemSounds())

	first := sessions.Get("200:b")
	sessions.Reload(devices.All())

	assert.Same(t, first, sessions.Get("200:b"))
	assert.Equal(t, 3, sessions.Len())
	assert.Len(t, added, 3)

	// two device handles plus the three adopted sessions
	assert.Equal(t, 5, audio.leaked())
	assert.Zero(t, audio.overReleased())
}

func TestSessionRegistryReloadRemovesGone(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers", fakeSession(100, "a"), fakeSession(200, "b"))

	devices, sessions := newTestRegistries(t, audio, nil)

	var removed []string
	sessions.hooks.removed = func(s *Session) { removed = append(removed, s.ProcessIdentifier()) }

	sessions.Reload(devices.All())
	gone := sessions.Get("100:a")

	audio.removeSession("D1", 100)
	sessions.Reload(devices.All())

	assert.Equal(t, []string{"200:b"}, identifiers(sessions.All()))
	assert.Equal(t, []string{"100:a"}, removed)
	assert.False(t, gone.Valid())

	err := gone.SetVolume(10)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestSessionRegistryFilters(t *testing.T) {
	expired := fakeSession(300, "expired")
	expired.state = SessionStateExpired

	broken := fakeSession(400, "broken")
	broken.failPID = true

	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers",
		fakeSession(0, ""),
		fakeSession(100, "alive"),
		fakeSession(200, "dead"),
		expired,
		broken,
	)

	dead := func(pid int64) bool { return pid != 200 }
	devices, sessions := newTestRegistries(t, audio, dead)

	sessions.Reload(devices.All())

	assert.Equal(t, []string{"0:system", "100:alive"}, identifiers(sessions.All()))

	// the device handle plus the two kept sessions
	assert.Equal(t, 3, audio.leaked())
}

func TestSessionRegistrySkipsFailingSource(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers", fakeSession(100, "a"))
	audio.addDevice("D2", "Headset", fakeSession(200, "b")).sessionsErr = errors.New("device lost")

	devices, sessions := newTestRegistries(t, audio, nil)
	sessions.Reload(devices.All())

	assert.Equal(t, []string{"100:a"}, identifiers(sessions.All()))
}

func TestSessionRegistryAdd(t *testing.T) {
	audio := newFakeAudio()
	d1 := audio.addDevice("D1", "Speakers", fakeSession(100, "a"))

	devices, sessions := newTestRegistries(t, audio, nil)
	sessions.Reload(devices.All())

	dup, err := newSession(testLogger(t), audio.newSessionHandle(d1.sessions[0]), "D1")
	require.NoError(t, err)

	assert.False(t, sessions.Add(dup))
	assert.False(t, dup.Valid())

	fresh, err := newSession(testLogger(t), audio.newSessionHandle(fakeSession(500, "new")), "D1")
	require.NoError(t, err)

	assert.True(t, sessions.Add(fresh))
	assert.Same(t, fresh, sessions.GetByPID(500))
	assert.True(t, sessions.Contains(fresh))
	assert.False(t, sessions.Contains(dup))
}

func TestSessionRegistryRemove(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers", fakeSession(100, "a"), fakeSession(200, "b"))
	audio.addDevice("D2", "Headset", fakeSession(300, "c"), fakeSession(400, "d"))

	devices, sessions := newTestRegistries(t, audio, nil)
	sessions.Reload(devices.All())
	require.Equal(t, 4, sessions.Len())

	var removed []string
	sessions.hooks.removed = func(s *Session) { removed = append(removed, s.ProcessIdentifier()) }

	assert.True(t, sessions.RemoveByPID(200))
	assert.False(t, sessions.RemoveByPID(200))

	assert.Equal(t, 2, sessions.RemoveDevice("D2"))
	assert.Zero(t, sessions.RemoveDevice("D2"))

	assert.Equal(t, []string{"100:a"}, identifiers(sessions.All()))
	assert.Equal(t, []string{"200:b", "300:c", "400:d"}, removed)

	sessions.release()
	devices.release()

	assert.Zero(t, audio.leaked())
	assert.Zero(t, audio.overReleased())
}
