// Package audiotarget keeps a live mirror of the host's audio devices and per-process sessions,
// and routes volume commands to a selected target that survives devices and apps coming and going.
package audiotarget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

// AudioTarget is the main entity managing all subcomponents
type AudioTarget struct {
	logger     *zap.SugaredLogger
	notifier   Notifier
	configMan  *ConfigManager
	bus        *Bus
	backend    Backend
	controller *Controller
	flyout     *flyoutTrigger

	unsubscribers []func()

	// mirror of the selection, fed by bus events and persisted into the internal config
	stateLock sync.Mutex
	state     State

	runningWithTray bool
	trayReady       atomic.Bool
	stopChannel     chan bool
	cancelRun       context.CancelFunc
	runDone         chan struct{}
	version         string
}

func NewAudioTarget(logger *zap.SugaredLogger) (*AudioTarget, error) {
	logger = logger.Named("audiotarget")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	a := &AudioTarget{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		bus:         NewBus(),
		stopChannel: make(chan bool),
	}

	logger.Debug("Created audiotarget instance")

	return a, nil
}

func (a *AudioTarget) currConf() Config {
	return a.configMan.Current()
}

// Initialize sets up components and starts to run in the background
func (a *AudioTarget) Initialize() error {
	a.logger.Debug("Initializing")

	// load the config for the first time
	if err := a.configMan.Load(); err != nil {
		a.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	backend, err := NewBackend(a.logger)
	if err != nil {
		a.logger.Errorw("Failed to create audio backend", "error", err)
		return fmt.Errorf("create audio backend: %w", err)
	}

	a.backend = backend
	a.flyout = newFlyoutTrigger(a.logger, backend.ShowVolumeFlyout, func() bool { return a.currConf().AudioFlyout })

	controller, err := NewController(a.logger, backend, a.bus, a.configMan.Options())
	if err != nil {
		a.logger.Errorw("Failed to create Controller", "error", err)
		return fmt.Errorf("create new Controller: %w", err)
	}

	a.controller = controller
	a.subscribeToEvents()

	// a failed first reload is retried periodically, the persisted target waits until it resolves
	if err := controller.Reload(); err != nil {
		a.logger.Warnw("Failed to reload audio devices during initialization", "error", err)
	}

	st := a.configMan.LoadState()

	a.stateLock.Lock()
	a.state = st
	a.stateLock.Unlock()

	controller.RestoreState(st)

	a.setupInterruptHandler()

	if a.currConf().DisableTray {
		a.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		a.run()
	} else {
		a.runningWithTray = true
		a.initializeTray(a.run)
	}

	return nil
}

// SetVersion causes audiotarget to add a version string to its tray menu if called before Initialize
func (a *AudioTarget) SetVersion(version string) {
	a.version = version
}

func (a *AudioTarget) subscribeToEvents() {
	// the persisted selection follows the controller in publication order
	a.unsubscribers = append(a.unsubscribers,
		Observe(a.bus, func(ev SelectedDeviceSwitchedEvent) {
			a.updateState(func(st *State) { st.SelectedDevice = ev.DeviceID })
		}),
		Observe(a.bus, func(ev TargetChangedEvent) {
			a.updateState(func(st *State) { st.Target = ev.Target })
		}),
		Observe(a.bus, func(ev LockSelectedDeviceChangedEvent) {
			a.updateState(func(st *State) { st.LockDevice = ev.Locked })
		}),
		Observe(a.bus, func(ev LockSelectedSessionChangedEvent) {
			a.updateState(func(st *State) { st.LockSession = ev.Locked })
		}),
	)

	a.unsubscribers = append(a.unsubscribers,
		Subscribe(a.bus, func(ev TargetChangedEvent) {
			a.setTrayTarget(ev.Target)
		}),
		Subscribe(a.bus, func(ev ReloadFailedEvent) {
			if a.currConf().NotifyOnReloadFailure {
				a.notifier.Notify("Can't read audio devices!", "audiotarget will keep retrying in the background.")
			}
		}),
		Subscribe(a.bus, func(ev VolumeChangedEvent) {
			a.flyout.volumeChanged(ev)
		}),
	)
}

func (a *AudioTarget) updateState(update func(st *State)) {
	a.stateLock.Lock()
	defer a.stateLock.Unlock()

	update(&a.state)

	if err := a.configMan.SaveState(a.state); err != nil {
		a.logger.Warnw("Failed to persist selection state", "error", err)
	}
}

func (a *AudioTarget) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		a.logger.Debugw("Interrupted", "signal", signal)
		a.signalStop()
	}()
}

// invoke runs fn on the controller's goroutine
func (a *AudioTarget) invoke(fn func(c *Controller)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.controller.Invoke(ctx, func() { fn(a.controller) }); err != nil {
		a.logger.Warnw("Failed to run command on controller", "error", err)
	}
}

func (a *AudioTarget) run() {
	defer a.recoverFromPanic()

	a.logger.Info("Run loop starting")

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.runDone = make(chan struct{})

	go func() {
		defer close(a.runDone)

		if err := a.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warnw("Controller stopped unexpectedly", "error", err)
		}
	}()

	go a.configMan.WatchConfigFileChanges()
	go a.applyConfigChanges(ctx, a.configMan.SubscribeToChanges())

	// wait until gracefully stopped
	<-a.stopChannel
	a.logger.Debug("Stop channel signaled, terminating")

	if err := a.stop(); err != nil {
		a.logger.Warnw("Failed to stop audiotarget", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (a *AudioTarget) applyConfigChanges(ctx context.Context, reloaded chan bool) {
	for {
		select {
		case <-reloaded:
			a.invoke(func(c *Controller) { c.ApplyOptions(a.configMan.Options()) })
		case <-ctx.Done():
			return
		}
	}
}

func (a *AudioTarget) signalStop() {
	a.logger.Debug("Signalling stop channel")
	a.stopChannel <- true
}

func (a *AudioTarget) stop() error {
	a.logger.Info("Stopping")

	a.configMan.StopWatchingConfigFile()

	// the controller must be idle before its entities are released
	if a.cancelRun != nil {
		a.cancelRun()
		<-a.runDone
	}

	for _, unsubscribe := range a.unsubscribers {
		unsubscribe()
	}

	if err := a.controller.Release(); err != nil {
		a.logger.Errorw("Failed to release controller", "error", err)
		return fmt.Errorf("release controller: %w", err)
	}

	if err := a.bus.Close(); err != nil {
		a.logger.Warnw("Failed to close event bus", "error", err)
	}

	if a.runningWithTray {
		a.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = a.logger.Sync()

	return nil
}
