package audiotarget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeviceRegistry(t *testing.T, audio *fakeAudio, enabled ...string) *DeviceRegistry {
	t.Helper()

	return newDeviceRegistry(testLogger(t), audio, &recordingSink{}, enabled)
}

func TestDeviceRegistryReloadKeepsIdentity(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	audio.addDevice("D2", "Headset")

	r := newTestDeviceRegistry(t, audio)
	require.NoError(t, r.Reload())
	require.Equal(t, 2, r.Len())

	d1 := r.Get("D1")
	require.NotNil(t, d1)
	assert.Equal(t, "Speakers", d1.Name())
	assert.Same(t, d1, r.Default())

	require.NoError(t, r.Reload())

	assert.Equal(t, 2, r.Len())
	assert.Same(t, d1, r.Get("D1"))
	assert.True(t, d1.Valid())

	// only the two adopted handles are still open
	assert.Equal(t, 2, audio.leaked())
	assert.Zero(t, audio.overReleased())
	assert.Equal(t, 1, audio.device("D1").subscribed)
}

func TestDeviceRegistryReloadRemovesMissing(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	audio.addDevice("D2", "Headset")

	r := newTestDeviceRegistry(t, audio)

	var removed []string
	r.hooks.removed = func(d *Device) { removed = append(removed, d.ID()) }

	require.NoError(t, r.Reload())
	d2 := r.Get("D2")

	audio.removeDevice("D2")
	require.NoError(t, r.Reload())

	assert.Nil(t, r.Get("D2"))
	assert.False(t, d2.Valid())
	assert.Equal(t, []string{"D2"}, removed)

	_, err := d2.Volume()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestDeviceRegistryDropsDefectiveDevice(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	audio.addDevice("D2", "Broken").failName = true

	r := newTestDeviceRegistry(t, audio)
	require.NoError(t, r.Reload())

	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Get("D2"))
	assert.Equal(t, 1, audio.leaked())
}

func TestDeviceRegistryEnumerateFailure(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")

	r := newTestDeviceRegistry(t, audio)
	require.NoError(t, r.Reload())

	d1 := r.Get("D1")

	boom := errors.New("audio service stopped")
	audio.enumerateErr = boom

	err := r.Reload()
	assert.ErrorIs(t, err, boom)
	assert.Same(t, d1, r.Get("D1"))
	assert.True(t, d1.Valid())
}

func TestDeviceRegistryEnabled(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	audio.addDevice("D2", "Headset")

	r := newTestDeviceRegistry(t, audio, "D2", "D9")
	require.NoError(t, r.Reload())

	assert.False(t, r.Get("D1").Enabled())
	assert.True(t, r.Get("D2").Enabled())
	assert.Equal(t, []*Device{r.Get("D2")}, r.Enabled())

	type change struct {
		id      string
		enabled bool
	}

	var changes []change
	r.hooks.enabledChanged = func(d *Device, enabled bool) { changes = append(changes, change{d.ID(), enabled}) }

	require.NoError(t, r.SetEnabled("D1", true))
	require.NoError(t, r.SetEnabled("D1", true))
	require.NoError(t, r.SetEnabled("D2", false))

	assert.Equal(t, []change{{"D1", true}, {"D2", false}}, changes)

	err := r.SetEnabled("D7", true)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ElementsMatch(t, []string{"D1", "D7", "D9"}, r.EnabledIDs())

	// an absent device comes back enabled
	audio.addDevice("D9", "Dock")
	require.NoError(t, r.Reload())
	assert.True(t, r.Get("D9").Enabled())
}

func TestDeviceRegistryStateChanges(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	sim := audio.addDevice("D2", "Headset")

	r := newTestDeviceRegistry(t, audio)
	require.NoError(t, r.Reload())

	old := r.Get("D2")

	sim.state = DeviceStateUnplugged
	r.handleStateChanged("D2", DeviceStateUnplugged)

	assert.Nil(t, r.Get("D2"))
	assert.False(t, old.Valid())

	// an inactive device reported as added is ignored
	r.handleAdded("D2")
	assert.Nil(t, r.Get("D2"))

	sim.state = DeviceStateActive
	r.handleStateChanged("D2", DeviceStateActive)

	back := r.Get("D2")
	require.NotNil(t, back)
	assert.NotSame(t, old, back)
	assert.Equal(t, 2, sim.subscribed)

	r.handleAdded("D404")
	assert.Equal(t, 2, r.Len())

	assert.False(t, r.handleRemoved("D404"))
}

func TestDeviceRegistryDefaultDevice(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	audio.addDevice("D2", "Headset")

	r := newTestDeviceRegistry(t, audio)

	var defaults []*Device
	r.hooks.defaultChanged = func(d *Device) { defaults = append(defaults, d) }

	require.NoError(t, r.Reload())
	require.Same(t, r.Get("D1"), r.Default())

	audio.setDefault("D2")
	r.handleDefaultChanged("D2")
	assert.Same(t, r.Get("D2"), r.Default())

	// repeated reports for the other roles are collapsed
	last := r.lastDefaultDeviceChange
	r.handleDefaultChanged("D2")
	assert.Equal(t, last, r.lastDefaultDeviceChange)

	assert.Equal(t, []*Device{r.Get("D1"), r.Get("D2")}, defaults)

	r.handleRemoved("D2")
	assert.Nil(t, r.Default())
}

func TestDeviceRegistryRelease(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")
	audio.addDevice("D2", "Headset")

	r := newTestDeviceRegistry(t, audio)
	require.NoError(t, r.Reload())
	require.NoError(t, r.Reload())

	r.release()

	assert.Zero(t, r.Len())
	assert.Nil(t, r.Default())
	assert.Zero(t, audio.leaked())
	assert.Zero(t, audio.overReleased())
}
