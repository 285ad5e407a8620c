package audiotarget

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCrashlog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	path, err := writeCrashlog(dir, now, "index out of range", []byte("goroutine 1 [running]:"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "audiotarget-crash-2024.03.09-14.05.07.log"), path)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "Panic occurred: index out of range")
	assert.Contains(t, string(contents), "goroutine 1 [running]:")
}
