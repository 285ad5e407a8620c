package audiotarget

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// EDataFlow and ERole values as passed to notification callbacks
	eRender         = 0
	eCommunications = 2

	// undocumented AUDCLNT_S_NO_CURRENT_PROCESS, in the decimal form it appears in errors
	noCurrentProcessCode = "143196173"
)

// {259ABFFC-50A7-47CE-AF08-68C9A7D73366},12
var pkeyDeviceClassIconPath = wca.PROPERTYKEY{*ole.NewGUID("{259ABFFC-50A7-47CE-AF08-68C9A7D73366}"), 12}

type wcaBackend struct {
	logger *zap.SugaredLogger

	// passed along with volume changes so other audio consumers can tell they came from us
	eventCtx *ole.GUID

	mmDeviceEnumerator   *wca.IMMDeviceEnumerator
	mmNotificationClient *wca.IMMNotificationClient

	// opened on first use, shows are requested from the host's goroutines
	flyoutLock sync.Mutex
	flyout     *wcaFlyout
}

// NewBackend connects to the Windows Core Audio API
func NewBackend(logger *zap.SugaredLogger) (Backend, error) {
	b := &wcaBackend{
		logger:   logger.Named("wca"),
		eventCtx: ole.NewGUID(uuid.NewString()),
	}

	// callbacks arrive on arbitrary COM threads and calls come from whichever thread runs the owner goroutine
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		// E_FALSE means that the call was redundant.
		const eFalse = 1
		oleError := &ole.OleError{}

		if !errors.As(err, &oleError) || oleError.Code() != eFalse {
			b.logger.Warnw("Failed to call CoInitializeEx", "error", err)
			return nil, fmt.Errorf("call CoInitializeEx: %w", err)
		}

		b.logger.Warn("CoInitializeEx failed with E_FALSE due to redundant invocation")
	}

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&b.mmDeviceEnumerator,
	); err != nil {
		b.logger.Warnw("Failed to call CoCreateInstance", "error", err)
		return nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	b.logger.Debug("Created WCA backend instance")

	return b, nil
}

func (b *wcaBackend) ActiveDevices() ([]NativeDevice, error) {
	var deviceCollection *wca.IMMDeviceCollection

	if err := b.mmDeviceEnumerator.EnumAudioEndpoints(wca.ERender, wca.DEVICE_STATE_ACTIVE, &deviceCollection); err != nil {
		b.logger.Warnw("Failed to enumerate active audio endpoints", "error", err)
		return nil, fmt.Errorf("enumerate active audio endpoints: %w", err)
	}
	defer deviceCollection.Release()

	var deviceCount uint32
	if err := deviceCollection.GetCount(&deviceCount); err != nil {
		b.logger.Warnw("Failed to get device count from device collection", "error", err)
		return nil, fmt.Errorf("get device count from device collection: %w", err)
	}

	devices := make([]NativeDevice, 0, deviceCount)

	for deviceIdx := uint32(0); deviceIdx < deviceCount; deviceIdx++ {
		var endpoint *wca.IMMDevice

		if err := deviceCollection.Item(deviceIdx, &endpoint); err != nil {
			// one broken endpoint doesn't spoil the others
			b.logger.Warnw("Failed to get device from device collection", "deviceIdx", deviceIdx, "error", err)
			continue
		}

		devices = append(devices, b.newDevice(endpoint))
	}

	return devices, nil
}

func (b *wcaBackend) DefaultDevice() (NativeDevice, error) {
	var endpoint *wca.IMMDevice

	if err := b.mmDeviceEnumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &endpoint); err != nil {
		b.logger.Warnw("Failed to call GetDefaultAudioEndpoint", "error", err)
		return nil, fmt.Errorf("call GetDefaultAudioEndpoint: %w", err)
	}

	return b.newDevice(endpoint), nil
}

func (b *wcaBackend) Device(id string) (NativeDevice, error) {
	var endpoint *wca.IMMDevice

	if err := b.mmDeviceEnumerator.GetDevice(id, &endpoint); err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}

	return b.newDevice(endpoint), nil
}

// Subscribe registers an IMMNotificationClient that forwards render endpoint changes to sink
func (b *wcaBackend) Subscribe(sink NotificationSink) error {
	if b.mmNotificationClient != nil {
		return nil
	}

	callback := wca.IMMNotificationClientCallback{
		OnDeviceAdded: func(deviceID string) error {
			if b.isRenderEndpoint(deviceID) {
				sink.Notify(Notification{Kind: NotificationDeviceAdded, DeviceID: deviceID})
			}

			return nil
		},
		OnDeviceRemoved: func(deviceID string) error {
			sink.Notify(Notification{Kind: NotificationDeviceRemoved, DeviceID: deviceID})
			return nil
		},
		OnDeviceStateChanged: func(deviceID string, newState uint32) error {
			if b.isRenderEndpoint(deviceID) {
				sink.Notify(Notification{Kind: NotificationDeviceStateChanged, DeviceID: deviceID, DeviceState: DeviceState(newState)})
			}

			return nil
		},
		OnDefaultDeviceChanged: func(dataflow wca.EDataFlow, role wca.ERole, deviceID string) error {
			if dataflow != eRender || role == eCommunications {
				return nil
			}

			sink.Notify(Notification{Kind: NotificationDefaultDeviceChanged, DeviceID: deviceID})

			return nil
		},
	}

	b.mmNotificationClient = wca.NewIMMNotificationClient(callback)

	if err := b.mmDeviceEnumerator.RegisterEndpointNotificationCallback(b.mmNotificationClient); err != nil {
		b.mmNotificationClient = nil
		b.logger.Warnw("Failed to call RegisterEndpointNotificationCallback", "error", err)

		return fmt.Errorf("call RegisterEndpointNotificationCallback: %w", err)
	}

	return nil
}

// ShowVolumeFlyout pops the shell's volume flyout, reopening the controller if the last show failed
func (b *wcaBackend) ShowVolumeFlyout() error {
	b.flyoutLock.Lock()
	defer b.flyoutLock.Unlock()

	if b.flyout == nil {
		flyout, err := openFlyout()
		if err != nil {
			return err
		}

		b.flyout = flyout
	}

	if err := b.flyout.show(); err != nil {
		b.flyout.release()
		b.flyout = nil

		return err
	}

	return nil
}

// fromSelf reports whether a change notification carries our event context
func (b *wcaBackend) fromSelf(eventContext *ole.GUID) bool {
	return eventContext != nil && ole.IsEqualGUID(eventContext, b.eventCtx)
}

func (b *wcaBackend) Release() error {
	b.flyoutLock.Lock()
	if b.flyout != nil {
		b.flyout.release()
		b.flyout = nil
	}
	b.flyoutLock.Unlock()

	if b.mmNotificationClient != nil {
		_ = b.mmDeviceEnumerator.UnregisterEndpointNotificationCallback(b.mmNotificationClient)
		b.mmNotificationClient = nil
	}

	if b.mmDeviceEnumerator != nil {
		b.mmDeviceEnumerator.Release()
		b.mmDeviceEnumerator = nil
	}

	ole.CoUninitialize()

	b.logger.Debug("Released WCA backend instance")

	return nil
}

// isRenderEndpoint filters capture endpoints out of device notifications
func (b *wcaBackend) isRenderEndpoint(deviceID string) bool {
	var endpoint *wca.IMMDevice

	if err := b.mmDeviceEnumerator.GetDevice(deviceID, &endpoint); err != nil {
		b.logger.Debugw("Failed to get MM device for notification", "deviceID", deviceID, "error", err)
		return false
	}
	defer endpoint.Release()

	dispatch, err := endpoint.QueryInterface(wca.IID_IMMEndpoint)
	if err != nil {
		return false
	}

	endpointType := (*wca.IMMEndpoint)(unsafe.Pointer(dispatch))
	defer endpointType.Release()

	var dataFlow uint32
	if err := endpointType.GetDataFlow(&dataFlow); err != nil {
		return false
	}

	return dataFlow == eRender
}

func (b *wcaBackend) newDevice(endpoint *wca.IMMDevice) *wcaDevice {
	return &wcaDevice{backend: b, endpoint: endpoint}
}

type wcaDevice struct {
	backend *wcaBackend

	endpoint            *wca.IMMDevice
	audioEndpointVolume *wca.IAudioEndpointVolume
	volumeCallback      *wca.IAudioEndpointVolumeCallback
	sessionManager      *wca.IAudioSessionManager2
	sessionNotification *wca.IAudioSessionNotification

	id string
}

func (d *wcaDevice) ID() (string, error) {
	if d.id != "" {
		return d.id, nil
	}

	if err := d.endpoint.GetId(&d.id); err != nil {
		return "", fmt.Errorf("get endpoint id: %w", err)
	}

	return d.id, nil
}

// FriendlyName returns i.e. "Headphones (Realtek Audio)"
func (d *wcaDevice) FriendlyName() (string, error) {
	return d.property(&wca.PKEY_Device_FriendlyName)
}

func (d *wcaDevice) IconPath() (string, error) {
	return d.property(&pkeyDeviceClassIconPath)
}

func (d *wcaDevice) property(key *wca.PROPERTYKEY) (string, error) {
	var propertyStore *wca.IPropertyStore

	if err := d.endpoint.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		return "", fmt.Errorf("open endpoint property store: %w", err)
	}
	defer propertyStore.Release()

	value := &wca.PROPVARIANT{}
	if err := propertyStore.GetValue(key, value); err != nil {
		return "", fmt.Errorf("get endpoint property: %w", err)
	}

	return value.String(), nil
}

func (d *wcaDevice) State() (DeviceState, error) {
	var state uint32

	if err := d.endpoint.GetState(&state); err != nil {
		return 0, fmt.Errorf("get endpoint state: %w", err)
	}

	return DeviceState(state), nil
}

func (d *wcaDevice) endpointVolume() (*wca.IAudioEndpointVolume, error) {
	if d.audioEndpointVolume != nil {
		return d.audioEndpointVolume, nil
	}

	if err := d.endpoint.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &d.audioEndpointVolume); err != nil {
		return nil, fmt.Errorf("activate AudioEndpointVolume: %w", err)
	}

	return d.audioEndpointVolume, nil
}

func (d *wcaDevice) Volume() (float32, error) {
	aev, err := d.endpointVolume()
	if err != nil {
		return 0, err
	}

	var level float32
	if err := aev.GetMasterVolumeLevelScalar(&level); err != nil {
		return 0, fmt.Errorf("get master volume scalar: %w", err)
	}

	return level, nil
}

func (d *wcaDevice) SetVolume(v float32) error {
	aev, err := d.endpointVolume()
	if err != nil {
		return err
	}

	if err := aev.SetMasterVolumeLevelScalar(v, d.backend.eventCtx); err != nil {
		return fmt.Errorf("set master volume scalar: %w", err)
	}

	return nil
}

func (d *wcaDevice) Muted() (bool, error) {
	aev, err := d.endpointVolume()
	if err != nil {
		return false, err
	}

	var muted bool
	if err := aev.GetMute(&muted); err != nil {
		return false, fmt.Errorf("get master mute: %w", err)
	}

	return muted, nil
}

func (d *wcaDevice) SetMuted(muted bool) error {
	aev, err := d.endpointVolume()
	if err != nil {
		return err
	}

	if err := aev.SetMute(muted, d.backend.eventCtx); err != nil {
		return fmt.Errorf("set master mute: %w", err)
	}

	return nil
}

func (d *wcaDevice) manager() (*wca.IAudioSessionManager2, error) {
	if d.sessionManager != nil {
		return d.sessionManager, nil
	}

	if err := d.endpoint.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &d.sessionManager); err != nil {
		return nil, fmt.Errorf("activate endpoint as IAudioSessionManager2: %w", err)
	}

	return d.sessionManager, nil
}

func (d *wcaDevice) Sessions() ([]NativeSession, error) {
	manager, err := d.manager()
	if err != nil {
		return nil, err
	}

	var sessionEnumerator *wca.IAudioSessionEnumerator
	if err := manager.GetSessionEnumerator(&sessionEnumerator); err != nil {
		return nil, fmt.Errorf("get session enumerator: %w", err)
	}
	defer sessionEnumerator.Release()

	var sessionCount int
	if err := sessionEnumerator.GetCount(&sessionCount); err != nil {
		return nil, fmt.Errorf("get session count: %w", err)
	}

	sessions := make([]NativeSession, 0, sessionCount)

	for sessionIdx := 0; sessionIdx < sessionCount; sessionIdx++ {
		var audioSessionControl *wca.IAudioSessionControl

		if err := sessionEnumerator.GetSession(sessionIdx, &audioSessionControl); err != nil {
			d.backend.logger.Warnw("Failed to get session from session enumerator", "sessionIdx", sessionIdx, "error", err)
			continue
		}

		session, err := d.backend.newSession(audioSessionControl)
		if err != nil {
			d.backend.logger.Debugw("Failed to process session", "sessionIdx", sessionIdx, "error", err)
			continue
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

// Subscribe registers for sessions created on this device and for its endpoint volume changes
func (d *wcaDevice) Subscribe(sink NotificationSink) error {
	deviceID, err := d.ID()
	if err != nil {
		return err
	}

	if err := d.subscribeSessions(sink, deviceID); err != nil {
		return err
	}

	return d.subscribeVolume(sink, deviceID)
}

func (d *wcaDevice) subscribeVolume(sink NotificationSink, deviceID string) error {
	if d.volumeCallback != nil {
		return nil
	}

	aev, err := d.endpointVolume()
	if err != nil {
		return err
	}

	callback := wca.IAudioEndpointVolumeCallbackCallback{
		OnNotify: func(data *wca.AUDIO_VOLUME_NOTIFICATION_DATA) error {
			sink.Notify(Notification{
				Kind:     NotificationEndpointVolumeChanged,
				DeviceID: deviceID,
				Volume:   data.FMasterVolume,
				Muted:    data.BMuted != 0,
				Self:     d.backend.fromSelf(&data.GuidEventContext),
			})

			return nil
		},
	}

	avc := wca.NewIAudioEndpointVolumeCallback(callback)
	if err := aev.RegisterControlChangeNotify(avc); err != nil {
		return fmt.Errorf("register endpoint volume notification: %w", err)
	}

	d.volumeCallback = avc

	return nil
}

func (d *wcaDevice) subscribeSessions(sink NotificationSink, deviceID string) error {
	if d.sessionNotification != nil {
		return nil
	}

	manager, err := d.manager()
	if err != nil {
		return err
	}

	callback := wca.IAudioSessionNotificationCallback{
		OnSessionCreated: func(pNewSession *wca.IAudioSessionControl) error {
			// the callback only borrows the control
			pNewSession.AddRef()

			session, err := d.backend.newSession(pNewSession)
			if err != nil {
				d.backend.logger.Debugw("Failed to process session from OnSessionCreated", "error", err)
				// don't return the error, otherwise the callback will fail, and we won't get any more notifications
				return nil
			}

			sink.Notify(Notification{
				Kind:     NotificationSessionCreated,
				DeviceID: deviceID,
				PID:      int64(session.pid),
				Session:  session,
			})

			return nil
		},
	}

	asn := wca.NewIAudioSessionNotification(callback)
	if err := manager.RegisterSessionNotification(asn); err != nil {
		return fmt.Errorf("register session notification: %w", err)
	}

	// keep a reference so it doesn't get GC'd
	d.sessionNotification = asn

	return nil
}

func (d *wcaDevice) Release() {
	if d.sessionManager != nil {
		if d.sessionNotification != nil {
			_ = d.sessionManager.UnregisterSessionNotification(d.sessionNotification)
			d.sessionNotification = nil
		}

		d.sessionManager.Release()
		d.sessionManager = nil
	}

	if d.audioEndpointVolume != nil {
		if d.volumeCallback != nil {
			if err := d.audioEndpointVolume.UnregisterControlChangeNotify(d.volumeCallback); err != nil {
				d.backend.logger.Debugw("Failed to unregister endpoint volume notification", "deviceID", d.id, "error", err)
			}

			d.volumeCallback = nil
		}

		d.audioEndpointVolume.Release()
		d.audioEndpointVolume = nil
	}

	if d.endpoint != nil {
		d.endpoint.Release()
		d.endpoint = nil
	}
}

// newSession takes ownership of audioSessionControl, releasing it on failure
func (b *wcaBackend) newSession(audioSessionControl *wca.IAudioSessionControl) (*wcaSession, error) {
	dispatch, err := audioSessionControl.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		audioSessionControl.Release()
		return nil, fmt.Errorf("query session's IAudioSessionControl2: %w", err)
	}

	audioSessionControl2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))

	var pid uint32

	if err := audioSessionControl2.GetProcessId(&pid); err != nil {
		// the system sounds session reports AUDCLNT_S_NO_CURRENT_PROCESS, and so do UWP apps whose pid is still filled in
		isSystemSoundsErr := audioSessionControl2.IsSystemSoundsSession()
		if isSystemSoundsErr != nil && !strings.Contains(err.Error(), noCurrentProcessCode) {
			audioSessionControl.Release()
			audioSessionControl2.Release()

			return nil, fmt.Errorf("query session's pid: %w", err)
		}
	}

	dispatch, err = audioSessionControl2.QueryInterface(wca.IID_ISimpleAudioVolume)
	if err != nil {
		audioSessionControl.Release()
		audioSessionControl2.Release()

		return nil, fmt.Errorf("query session's ISimpleAudioVolume: %w", err)
	}

	return &wcaSession{
		backend:              b,
		audioSessionControl:  audioSessionControl,
		audioSessionControl2: audioSessionControl2,
		simpleAudioVolume:    (*wca.ISimpleAudioVolume)(unsafe.Pointer(dispatch)),
		pid:                  pid,
	}, nil
}

type wcaSession struct {
	backend *wcaBackend

	audioSessionControl  *wca.IAudioSessionControl
	audioSessionControl2 *wca.IAudioSessionControl2
	simpleAudioVolume    *wca.ISimpleAudioVolume
	audioSessionEvents   *wca.IAudioSessionEvents

	pid uint32
}

func (s *wcaSession) ProcessID() (uint32, error) {
	return s.pid, nil
}

func (s *wcaSession) ProcessName() (string, error) {
	return lookupProcessName(s.pid)
}

func (s *wcaSession) DisplayName() (string, error) {
	var name string

	if err := s.audioSessionControl.GetDisplayName(&name); err != nil {
		return "", fmt.Errorf("get session display name: %w", err)
	}

	return readableDisplayName(name), nil
}

// readableDisplayName blanks indirect resource strings like "@%SystemRoot%\System32\AudioSrv.Dll,-202"
func readableDisplayName(name string) string {
	if strings.HasPrefix(name, "@") {
		return ""
	}

	return name
}

func (s *wcaSession) State() (SessionState, error) {
	var state uint32

	if err := s.audioSessionControl.GetState(&state); err != nil {
		return 0, fmt.Errorf("get session state: %w", err)
	}

	return SessionState(state), nil
}

func (s *wcaSession) Volume() (float32, error) {
	var level float32

	if err := s.simpleAudioVolume.GetMasterVolume(&level); err != nil {
		return 0, fmt.Errorf("get session volume: %w", err)
	}

	return level, nil
}

func (s *wcaSession) SetVolume(v float32) error {
	if err := s.simpleAudioVolume.SetMasterVolume(v, s.backend.eventCtx); err != nil {
		return fmt.Errorf("set session volume: %w", err)
	}

	return nil
}

func (s *wcaSession) Muted() (bool, error) {
	var muted bool

	if err := s.simpleAudioVolume.GetMute(&muted); err != nil {
		return false, fmt.Errorf("get session mute: %w", err)
	}

	return muted, nil
}

func (s *wcaSession) SetMuted(muted bool) error {
	if err := s.simpleAudioVolume.SetMute(muted, s.backend.eventCtx); err != nil {
		return fmt.Errorf("set session mute: %w", err)
	}

	return nil
}

func (s *wcaSession) Subscribe(sink NotificationSink) error {
	if s.audioSessionEvents != nil {
		return nil
	}

	pid := int64(s.pid)

	callback := wca.IAudioSessionEventsCallback{
		OnStateChanged: func(newState wca.AudioSessionState) error {
			sink.Notify(Notification{Kind: NotificationSessionStateChanged, PID: pid, SessionState: SessionState(newState)})
			return nil
		},
		OnSessionDisconnected: func(reason wca.AudioSessionDisconnectReason) error {
			sink.Notify(Notification{Kind: NotificationSessionDisconnected, PID: pid})
			return nil
		},
		OnSimpleVolumeChanged: func(newVolume float32, newMute bool, eventContext *ole.GUID) error {
			sink.Notify(Notification{
				Kind:   NotificationSessionVolumeChanged,
				PID:    pid,
				Volume: newVolume,
				Muted:  newMute,
				Self:   s.backend.fromSelf(eventContext),
			})

			return nil
		},
		OnDisplayNameChanged: func(newDisplayName string, eventContext *ole.GUID) error {
			sink.Notify(Notification{Kind: NotificationSessionDisplayNameChanged, PID: pid, Text: readableDisplayName(newDisplayName)})
			return nil
		},
		OnIconPathChanged: func(newIconPath string, eventContext *ole.GUID) error {
			sink.Notify(Notification{Kind: NotificationSessionIconChanged, PID: pid, Text: newIconPath})
			return nil
		},
	}

	ase := wca.NewIAudioSessionEvents(callback)
	if err := s.audioSessionControl.RegisterAudioSessionNotification(ase); err != nil {
		return fmt.Errorf("register audio session notification: %w", err)
	}

	s.audioSessionEvents = ase

	return nil
}

func (s *wcaSession) Release() {
	if s.audioSessionEvents != nil {
		// the callback object is released inside
		if err := s.audioSessionControl.UnregisterAudioSessionNotification(s.audioSessionEvents); err != nil {
			s.backend.logger.Debugw("Failed to unregister audio session notification", "pid", s.pid, "error", err)
		}

		s.audioSessionEvents = nil
	}

	if s.simpleAudioVolume != nil {
		s.simpleAudioVolume.Release()
		s.simpleAudioVolume = nil
	}

	if s.audioSessionControl2 != nil {
		s.audioSessionControl2.Release()
		s.audioSessionControl2 = nil
	}

	if s.audioSessionControl != nil {
		s.audioSessionControl.Release()
		s.audioSessionControl = nil
	}
}
