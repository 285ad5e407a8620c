package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenExternalKeepsArgumentWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my config", "config file.yaml")

	require.NoError(t, EnsureDirExists(filepath.Dir(path)))
	require.NoError(t, OpenExternal(zaptest.NewLogger(t).Sugar(), "touch", path))

	assert.True(t, FileExists(path))
}

func TestOpenExternalReportsFailure(t *testing.T) {
	err := OpenExternal(zaptest.NewLogger(t).Sugar(), "false", "ignored")

	assert.Error(t, err)
}
