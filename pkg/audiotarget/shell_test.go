package audiotarget

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestShell(t *testing.T, audio *fakeAudio) (*Shell, *Controller, *bytes.Buffer) {
	t.Helper()

	c, _ := newTestController(t, audio, testOptions())
	require.NoError(t, c.Reload())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	out := &bytes.Buffer{}

	return NewShell(testLogger(t), c, out), c, out
}

func TestShellCommands(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers", fakeSession(100, "chrome"), fakeSession(200, "spotify"))
	d2 := audio.addDevice("D2", "Headset")

	sh, c, out := runTestShell(t, audio)
	ctx := context.Background()

	require.NoError(t, sh.Execute(ctx, "target spotify"))
	assert.Contains(t, out.String(), `target: "200:spotify"`)

	require.NoError(t, sh.Execute(ctx, "up"))
	assert.InDelta(t, 0.52, audio.device("D1").sessions[1].volume, 1e-6)

	require.NoError(t, sh.Execute(ctx, "lock"))
	require.NoError(t, sh.Execute(ctx, "next"))
	require.NoError(t, sh.Execute(ctx, "unlock session"))

	var target string
	require.NoError(t, c.Invoke(ctx, func() { target = c.Target() }))
	assert.Equal(t, "200:spotify", target)

	require.NoError(t, sh.Execute(ctx, "device D2"))
	require.NoError(t, sh.Execute(ctx, "set 30 device"))
	require.NoError(t, sh.Execute(ctx, "mute device"))
	assert.InDelta(t, 0.3, d2.volume, 1e-6)
	assert.True(t, d2.muted)

	out.Reset()
	require.NoError(t, sh.Execute(ctx, "devices"))
	assert.Contains(t, out.String(), "Headset")
	assert.Contains(t, out.String(), "selected")

	out.Reset()
	require.NoError(t, sh.Execute(ctx, "status"))
	assert.Contains(t, out.String(), "default device: Speakers (D1)")
	assert.Contains(t, out.String(), "2 device(s), 0 session(s)")

	require.NoError(t, sh.Execute(ctx, "   "))
	require.NoError(t, sh.Execute(ctx, "help"))
}

func TestShellErrors(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers")

	sh, _, _ := runTestShell(t, audio)
	ctx := context.Background()

	assert.ErrorIs(t, sh.Execute(ctx, "up"), ErrNoTarget)
	assert.ErrorIs(t, sh.Execute(ctx, "target abc:def"), ErrInvalidIdentifier)
	assert.ErrorIs(t, sh.Execute(ctx, "device nope"), ErrDeviceNotFound)
	assert.Error(t, sh.Execute(ctx, "set loud"))
	assert.Error(t, sh.Execute(ctx, "all-devices maybe"))
	assert.Error(t, sh.Execute(ctx, "frobnicate"))
	assert.ErrorIs(t, sh.Execute(ctx, "quit"), errShellQuit)
}
