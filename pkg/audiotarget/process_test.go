package audiotarget

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimExecutableExtension(t *testing.T) {
	assert.Equal(t, "Spotify", trimExecutableExtension("Spotify.exe"))
	assert.Equal(t, "chrome", trimExecutableExtension("chrome.EXE"))
	assert.Equal(t, "firefox", trimExecutableExtension("firefox"))
	assert.Equal(t, ".exe", trimExecutableExtension(".exe"))
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, processRunning(systemSoundsPID))
	assert.True(t, processRunning(int64(os.Getpid())))
}
