package audiotarget

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const minTimeBetweenAudioFlyouts = time.Second

// flyoutTrigger pops the OS volume flyout when the OS confirms an endpoint volume change
// made by this process, at most once per minTimeBetweenAudioFlyouts
type flyoutTrigger struct {
	logger  *zap.SugaredLogger
	show    func() error
	enabled func() bool
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newFlyoutTrigger(logger *zap.SugaredLogger, show func() error, enabled func() bool) *flyoutTrigger {
	return &flyoutTrigger{
		logger:  logger.Named("flyout"),
		show:    show,
		enabled: enabled,
		now:     time.Now,
	}
}

// volumeChanged reports whether the flyout was shown for ev
func (f *flyoutTrigger) volumeChanged(ev VolumeChangedEvent) bool {
	if ev.Identifier != "" || ev.Origin != VolumeOriginSelf || !f.enabled() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if f.last.Add(minTimeBetweenAudioFlyouts).After(now) {
		return false
	}

	f.last = now
	f.logger.Debugw("Showing audio flyout for endpoint volume change", "deviceID", ev.DeviceID, "volume", ev.Volume)

	if err := f.show(); err != nil {
		f.logger.Debugw("Cannot display audio flyout", "error", err)
		return false
	}

	return true
}
