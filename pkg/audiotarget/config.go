package audiotarget

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

// ConfigManager loads the user config, watches it for changes and keeps the persisted selection
type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig         *viper.Viper
	userConfigFilepath string

	// selection state persisted between runs
	internalConfig         *viper.Viper
	internalConfigFilepath string

	current Config
}

type Config struct {
	VolumeStep            int           `mapstructure:"volume_step"`
	CheckAllDevices       bool          `mapstructure:"check_all_devices"`
	ReloadInterval        time.Duration `mapstructure:"reload_interval"`
	EnabledDevices        []string      `mapstructure:"enabled_devices"`
	TargetCaseSensitive   bool          `mapstructure:"target_case_sensitive"`
	NotifyOnReloadFailure bool          `mapstructure:"notify_on_reload_failure"`
	NotificationQueueSize int           `mapstructure:"notification_queue_size"`

	AudioFlyout bool `mapstructure:"audio_flyout"`
	DisableTray bool `mapstructure:"disable_tray"`
}

const (
	userConfigFilename     = "config.yaml"
	internalConfigFilename = "preferences.yaml"

	userConfigName     = "config"
	internalConfigName = "preferences"

	configType = "yaml"

	configKeyVolumeStep            = "volume_step"
	configKeyCheckAllDevices       = "check_all_devices"
	configKeyReloadInterval        = "reload_interval"
	configKeyEnabledDevices        = "enabled_devices"
	configKeyTargetCaseSensitive   = "target_case_sensitive"
	configKeyNotifyOnReloadFailure = "notify_on_reload_failure"
	configKeyNotificationQueueSize = "notification_queue_size"
	configKeyAudioFlyout           = "audio_flyout"
	configKeyDisableTray           = "disable_tray"

	stateKeySelectedDevice = "selected_device"
	stateKeyTarget         = "target"
	stateKeyLockDevice     = "lock_device"
	stateKeyLockSession    = "lock_session"
)

func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*ConfigManager, error) {
	return newConfigIn(logger, notifier, ".", filepath.Join(".", logDirectory))
}

// newConfigIn distinguishes between the user-provided config (config.yaml in userDir) and the
// internal one (preferences.yaml in internalDir)
func newConfigIn(logger *zap.SugaredLogger, notifier Notifier, userDir, internalDir string) (*ConfigManager, error) {
	logger = logger.Named("config")

	cc := &ConfigManager{
		logger:                 logger,
		notifier:               notifier,
		reloadConsumers:        []chan bool{},
		stopWatcherChannel:     make(chan bool),
		userConfigFilepath:     filepath.Join(userDir, userConfigFilename),
		internalConfigFilepath: filepath.Join(internalDir, internalConfigFilename),
	}

	defaults := DefaultOptions()

	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userDir)

	userConfig.SetDefault(configKeyVolumeStep, defaults.VolumeStep)
	userConfig.SetDefault(configKeyCheckAllDevices, defaults.CheckAllDevices)
	userConfig.SetDefault(configKeyReloadInterval, defaults.ReloadInterval)
	userConfig.SetDefault(configKeyEnabledDevices, []string{})
	userConfig.SetDefault(configKeyTargetCaseSensitive, defaults.TargetCaseSensitive)
	userConfig.SetDefault(configKeyNotifyOnReloadFailure, true)
	userConfig.SetDefault(configKeyNotificationQueueSize, defaults.NotificationQueueSize)
	userConfig.SetDefault(configKeyAudioFlyout, false)
	userConfig.SetDefault(configKeyDisableTray, false)

	internalConfig := viper.New()
	internalConfig.SetConfigName(internalConfigName)
	internalConfig.SetConfigType(configType)
	internalConfig.AddConfigPath(internalDir)

	cc.userConfig = userConfig
	cc.internalConfig = internalConfig

	logger.Debug("Created config instance")

	return cc, nil
}

func (cc *ConfigManager) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.userConfigFilepath)

	// a missing config is replaced by one holding the defaults
	if !util.FileExists(cc.userConfigFilepath) {
		cc.logger.Infow("Config file not found, writing defaults", "path", cc.userConfigFilepath)

		if err := cc.userConfig.SafeWriteConfigAs(cc.userConfigFilepath); err != nil {
			cc.logger.Warnw("Failed to write default config", "error", err)
			return fmt.Errorf("write default config: %w", err)
		}
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		// if the error is yaml-format-related, show a sensible error. otherwise, show 'em to the logs
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", cc.userConfigFilepath))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check audiotarget's logs for more details.")
		}

		return fmt.Errorf("read user config: %w", err)
	}

	// the internal config doesn't have to exist, so it can error
	if err := cc.internalConfig.ReadInConfig(); err != nil {
		cc.logger.Debugw("Viper failed to read internal config", "error", err, "reminder", "this is fine")
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"volumeStep", cc.current.VolumeStep,
		"checkAllDevices", cc.current.CheckAllDevices,
		"reloadInterval", cc.current.ReloadInterval,
		"enabledDevices", cc.current.EnabledDevices)

	return nil
}

// Current returns the last successfully loaded config
func (cc *ConfigManager) Current() Config {
	return cc.current
}

// Options converts the loaded config into controller options
func (cc *ConfigManager) Options() Options {
	opts := DefaultOptions()

	if cc.current.VolumeStep > 0 {
		opts.VolumeStep = cc.current.VolumeStep
	}

	if cc.current.NotificationQueueSize > 0 {
		opts.NotificationQueueSize = cc.current.NotificationQueueSize
	}

	opts.CheckAllDevices = cc.current.CheckAllDevices
	opts.ReloadInterval = cc.current.ReloadInterval
	opts.EnabledDevices = cc.current.EnabledDevices
	opts.TargetCaseSensitive = cc.current.TargetCaseSensitive

	return opts
}

// LoadState returns the selection persisted by the previous run, if any
func (cc *ConfigManager) LoadState() State {
	return State{
		SelectedDevice: cc.internalConfig.GetString(stateKeySelectedDevice),
		Target:         cc.internalConfig.GetString(stateKeyTarget),
		LockDevice:     cc.internalConfig.GetBool(stateKeyLockDevice),
		LockSession:    cc.internalConfig.GetBool(stateKeyLockSession),
	}
}

// SaveState persists the selection into the internal config
func (cc *ConfigManager) SaveState(st State) error {
	if err := util.EnsureDirExists(filepath.Dir(cc.internalConfigFilepath)); err != nil {
		return fmt.Errorf("ensure internal config dir exists: %w", err)
	}

	cc.internalConfig.Set(stateKeySelectedDevice, st.SelectedDevice)
	cc.internalConfig.Set(stateKeyTarget, st.Target)
	cc.internalConfig.Set(stateKeyLockDevice, st.LockDevice)
	cc.internalConfig.Set(stateKeyLockSession, st.LockSession)

	if err := cc.internalConfig.WriteConfigAs(cc.internalConfigFilepath); err != nil {
		cc.logger.Warnw("Failed to write internal config", "error", err)
		return fmt.Errorf("write internal config: %w", err)
	}

	cc.logger.Debugw("Saved selection state", "state", st)

	return nil
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write {
			return
		}

		now := time.Now()

		// many editors will write to a file twice
		if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).After(now) {
			return
		}

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// wait a bit to let the editor actually flush the new file contents to disk
		<-time.After(delayBetweenEventAndReload)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
		} else {
			cc.logger.Info("Reloaded config successfully")
			cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

			cc.onConfigReloaded()
		}

		lastAttemptedReload = now
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *ConfigManager) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *ConfigManager) populateFromVipers() error {
	var current Config

	err := cc.userConfig.Unmarshal(&current, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
		dConf.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return err
	}

	cc.current = current
	cc.logger.Debug("Populated config fields from vipers")

	return nil
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}
