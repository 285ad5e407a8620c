package audiotarget

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Notify(title string, _ string) {
	n.titles = append(n.titles, title)
}

func newTestConfig(t *testing.T, dir string) (*ConfigManager, *recordingNotifier) {
	t.Helper()

	notifier := &recordingNotifier{}

	cc, err := newConfigIn(testLogger(t), notifier, dir, filepath.Join(dir, logDirectory))
	require.NoError(t, err)

	return cc, notifier
}

func TestConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	cc, notifier := newTestConfig(t, dir)

	require.NoError(t, cc.Load())
	assert.FileExists(t, filepath.Join(dir, userConfigFilename))
	assert.Empty(t, notifier.titles)

	current := cc.Current()
	assert.Equal(t, defaultVolumeStep, current.VolumeStep)
	assert.Equal(t, defaultReloadInterval, current.ReloadInterval)
	assert.True(t, current.NotifyOnReloadFailure)
	assert.False(t, current.CheckAllDevices)

	opts := cc.Options()
	assert.Equal(t, DefaultOptions().VolumeStep, opts.VolumeStep)
	assert.Equal(t, DefaultOptions().NotificationQueueSize, opts.NotificationQueueSize)
	assert.Equal(t, DefaultOptions().ReloadInterval, opts.ReloadInterval)
}

func TestConfigUserValues(t *testing.T) {
	dir := t.TempDir()

	contents := `volume_step: 5
check_all_devices: true
reload_interval: 10s
enabled_devices:
  - "{0.0.0.00000000}.{speakers}"
  - "{0.0.0.00000000}.{headset}"
target_case_sensitive: true
notification_queue_size: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, userConfigFilename), []byte(contents), 0644))

	cc, _ := newTestConfig(t, dir)
	require.NoError(t, cc.Load())

	opts := cc.Options()
	assert.Equal(t, 5, opts.VolumeStep)
	assert.True(t, opts.CheckAllDevices)
	assert.Equal(t, 10*time.Second, opts.ReloadInterval)
	assert.Equal(t, []string{"{0.0.0.00000000}.{speakers}", "{0.0.0.00000000}.{headset}"}, opts.EnabledDevices)
	assert.True(t, opts.TargetCaseSensitive)
	assert.Equal(t, defaultNotificationQueueSize, opts.NotificationQueueSize)
}

func TestConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, userConfigFilename), []byte("volume_step: [\n"), 0644))

	cc, notifier := newTestConfig(t, dir)

	assert.Error(t, cc.Load())
	assert.Len(t, notifier.titles, 1)
}

func TestConfigStatePersistence(t *testing.T) {
	dir := t.TempDir()

	cc, _ := newTestConfig(t, dir)
	require.NoError(t, cc.Load())
	assert.Equal(t, State{}, cc.LoadState())

	st := State{SelectedDevice: "D2", Target: "200:spotify", LockDevice: true}
	require.NoError(t, cc.SaveState(st))
	assert.FileExists(t, filepath.Join(dir, logDirectory, internalConfigFilename))

	reopened, _ := newTestConfig(t, dir)
	require.NoError(t, reopened.Load())
	assert.Equal(t, st, reopened.LoadState())
}
