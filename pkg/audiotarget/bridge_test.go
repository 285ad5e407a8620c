package audiotarget

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueueDropsWhenFull(t *testing.T) {
	audio := newFakeAudio()
	q := NewNotificationQueue(testLogger(t), 2)

	received := testutil.ToFloat64(notificationsTotal.WithLabelValues(NotificationSessionCreated.String()))
	dropped := testutil.ToFloat64(notificationsDropped)

	for pid := uint32(1); pid <= 3; pid++ {
		q.Notify(Notification{
			Kind:     NotificationSessionCreated,
			DeviceID: "D1",
			Session:  audio.newSessionHandle(fakeSession(pid, "app")),
		})
	}

	assert.Equal(t, received+2, testutil.ToFloat64(notificationsTotal.WithLabelValues(NotificationSessionCreated.String())))
	assert.Equal(t, dropped+1, testutil.ToFloat64(notificationsDropped))

	// the dropped notification's handle was released, the queued ones are still owned by the queue
	assert.Equal(t, 2, audio.leaked())

	assert.True(t, q.takeOverflow())
	assert.False(t, q.takeOverflow())

	first := <-q.C()
	pid, err := first.Session.ProcessID()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), pid)
}

func TestNotificationQueueDefaultSize(t *testing.T) {
	q := NewNotificationQueue(testLogger(t), 0)

	assert.Equal(t, defaultNotificationQueueSize, cap(q.ch))
}

func TestNotificationKindString(t *testing.T) {
	assert.Equal(t, "default_device_changed", NotificationDefaultDeviceChanged.String())
	assert.Equal(t, "session_icon_changed", NotificationSessionIconChanged.String())
	assert.Equal(t, "unknown", NotificationKind(0).String())
}

func TestRegistryMetrics(t *testing.T) {
	audio := newFakeAudio()
	audio.addDevice("D1", "Speakers", fakeSession(100, "a"), fakeSession(200, "b"))
	audio.addDevice("D2", "Broken").failName = true

	droppedDevices := testutil.ToFloat64(entitiesDropped.WithLabelValues(registryDevices))
	okReloads := testutil.ToFloat64(reloadsTotal.WithLabelValues(registryDevices, "ok"))

	devices, sessions := newTestRegistries(t, audio, nil)
	sessions.Reload(devices.All())

	assert.Equal(t, droppedDevices+1, testutil.ToFloat64(entitiesDropped.WithLabelValues(registryDevices)))
	assert.Equal(t, okReloads+1, testutil.ToFloat64(reloadsTotal.WithLabelValues(registryDevices, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registryEntities.WithLabelValues(registryDevices)))
	assert.Equal(t, 2.0, testutil.ToFloat64(registryEntities.WithLabelValues(registrySessions)))
}
