package audiotarget

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const (
	propProcessID     = "application.process.id"
	propProcessBinary = "application.process.binary"
	propAppName       = "application.name"
	propIconName      = "device.icon_name"
)

var (
	errSinkInputMoved    = errors.New("sink input no longer plays on this sink")
	errFlyoutUnsupported = errors.New("volume flyout is only available on Windows")
)

// paBackend maps PulseAudio sinks to devices and sink inputs to sessions
type paBackend struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn

	mu          sync.Mutex
	sink        NotificationSink
	sinkNames   map[uint32]string
	devices     map[uint32]bool
	inputs      map[uint32]int64
	defaultSink string

	events chan *proto.SubscribeEvent
	stop   chan struct{}
}

// NewBackend connects to the PulseAudio server
func NewBackend(logger *zap.SugaredLogger) (Backend, error) {
	logger = logger.Named("pulse")

	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			propAppName: proto.PropListString("audiotarget"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set PulseAudio client name: %w", err)
	}

	b := &paBackend{
		logger:    logger,
		client:    client,
		conn:      conn,
		sinkNames: make(map[uint32]string),
		devices:   make(map[uint32]bool),
		inputs:    make(map[uint32]int64),
		events:    make(chan *proto.SubscribeEvent, defaultNotificationQueueSize),
		stop:      make(chan struct{}),
	}

	b.logger.Debug("Created PA backend instance")

	return b, nil
}

func (b *paBackend) ActiveDevices() ([]NativeDevice, error) {
	request := proto.GetSinkInfoList{}
	reply := proto.GetSinkInfoListReply{}

	if err := b.client.Request(&request, &reply); err != nil {
		b.logger.Warnw("Failed to get sink list", "error", err)
		return nil, fmt.Errorf("get sink list: %w", err)
	}

	devices := make([]NativeDevice, 0, len(reply))
	for _, info := range reply {
		devices = append(devices, b.newDevice(info))
	}

	return devices, nil
}

func (b *paBackend) DefaultDevice() (NativeDevice, error) {
	name, err := b.defaultSinkName()
	if err != nil {
		return nil, err
	}

	return b.Device(name)
}

func (b *paBackend) Device(id string) (NativeDevice, error) {
	request := proto.GetSinkInfo{
		SinkIndex: proto.Undefined,
		SinkName:  id,
	}
	reply := proto.GetSinkInfoReply{}

	if err := b.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink %s info: %w", id, err)
	}

	return b.newDevice(&reply), nil
}

// Subscribe starts forwarding sink, sink input and server events to sink
func (b *paBackend) Subscribe(sink NotificationSink) error {
	b.mu.Lock()
	if b.sink != nil {
		b.mu.Unlock()
		return nil
	}

	b.sink = sink
	b.mu.Unlock()

	if name, err := b.defaultSinkName(); err == nil {
		b.mu.Lock()
		b.defaultSink = name
		b.mu.Unlock()
	}

	// the callback runs on the connection's reader, so requests must happen elsewhere
	b.client.Callback = func(msg interface{}) {
		event, ok := msg.(*proto.SubscribeEvent)
		if !ok {
			return
		}

		select {
		case b.events <- event:
		default:
			b.logger.Warnw("Dropping PulseAudio event, worker is behind", "event", event.Event, "index", event.Index)
		}
	}

	go b.work()

	mask := proto.SubscriptionMaskSink | proto.SubscriptionMaskSinkInput | proto.SubscriptionMaskServer
	if err := b.client.Request(&proto.Subscribe{Mask: mask}, nil); err != nil {
		b.logger.Warnw("Failed to subscribe to PulseAudio events", "error", err)
		return fmt.Errorf("subscribe to PulseAudio events: %w", err)
	}

	return nil
}

// ShowVolumeFlyout always fails: PulseAudio leaves the volume overlay to the desktop environment
func (b *paBackend) ShowVolumeFlyout() error {
	return errFlyoutUnsupported
}

func (b *paBackend) Release() error {
	close(b.stop)

	if err := b.conn.Close(); err != nil {
		b.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	b.logger.Debug("Released PA backend instance")

	return nil
}

func (b *paBackend) work() {
	for {
		select {
		case event := <-b.events:
			b.handleEvent(event)
		case <-b.stop:
			return
		}
	}
}

func (b *paBackend) handleEvent(event *proto.SubscribeEvent) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()

	if sink == nil {
		return
	}

	facility := event.Event & proto.EventFacilityMask
	kind := event.Event.GetType()

	switch facility {
	case proto.EventSink:
		b.handleSinkEvent(sink, kind, event.Index)
	case proto.EventSinkSinkInput:
		b.handleSinkInputEvent(sink, kind, event.Index)
	case proto.EventServer:
		b.handleServerEvent(sink)
	}
}

func (b *paBackend) handleSinkEvent(sink NotificationSink, kind proto.SubscriptionEventType, index uint32) {
	switch kind {
	case proto.EventNew:
		info, err := b.sinkInfo(index)
		if err != nil {
			b.logger.Debugw("Failed to get new sink info", "sinkIndex", index, "error", err)
			return
		}

		sink.Notify(Notification{Kind: NotificationDeviceAdded, DeviceID: info.SinkName})

	case proto.EventChange:
		b.mu.Lock()
		subscribed := b.devices[index]
		b.mu.Unlock()

		if !subscribed {
			return
		}

		info, err := b.sinkInfo(index)
		if err != nil {
			return
		}

		sink.Notify(Notification{
			Kind:     NotificationEndpointVolumeChanged,
			DeviceID: info.SinkName,
			Volume:   channelVolume(info.ChannelVolumes),
			Muted:    info.Mute,
		})

	case proto.EventRemove:
		b.mu.Lock()
		name, ok := b.sinkNames[index]
		delete(b.sinkNames, index)
		delete(b.devices, index)
		b.mu.Unlock()

		if ok {
			sink.Notify(Notification{Kind: NotificationDeviceRemoved, DeviceID: name})
		}
	}
}

func (b *paBackend) handleSinkInputEvent(sink NotificationSink, kind proto.SubscriptionEventType, index uint32) {
	switch kind {
	case proto.EventNew:
		info, err := b.sinkInputInfo(index)
		if err != nil {
			b.logger.Debugw("Failed to get new sink input info", "sinkInputIndex", index, "error", err)
			return
		}

		b.mu.Lock()
		subscribed := b.devices[info.SinkIndex]
		sinkName := b.sinkNames[info.SinkIndex]
		b.mu.Unlock()

		if !subscribed {
			return
		}

		session, err := b.newSession(info)
		if err != nil {
			b.logger.Debugw("Skipping sink input", "sinkInputIndex", index, "error", err)
			return
		}

		sink.Notify(Notification{Kind: NotificationSessionCreated, DeviceID: sinkName, PID: int64(session.pid), Session: session})

	case proto.EventChange:
		b.mu.Lock()
		pid, subscribed := b.inputs[index]
		b.mu.Unlock()

		if !subscribed {
			return
		}

		info, err := b.sinkInputInfo(index)
		if err != nil {
			return
		}

		sink.Notify(Notification{
			Kind:   NotificationSessionVolumeChanged,
			PID:    pid,
			Volume: channelVolume(info.ChannelVolumes),
			Muted:  info.Muted,
		})

	case proto.EventRemove:
		b.mu.Lock()
		pid, subscribed := b.inputs[index]
		delete(b.inputs, index)
		b.mu.Unlock()

		if subscribed {
			sink.Notify(Notification{Kind: NotificationSessionDisconnected, PID: pid})
		}
	}
}

func (b *paBackend) handleServerEvent(sink NotificationSink) {
	name, err := b.defaultSinkName()
	if err != nil {
		return
	}

	b.mu.Lock()
	changed := name != b.defaultSink
	b.defaultSink = name
	b.mu.Unlock()

	if changed {
		sink.Notify(Notification{Kind: NotificationDefaultDeviceChanged, DeviceID: name})
	}
}

func (b *paBackend) defaultSinkName() (string, error) {
	request := proto.GetServerInfo{}
	reply := proto.GetServerInfoReply{}

	if err := b.client.Request(&request, &reply); err != nil {
		b.logger.Warnw("Failed to get server info", "error", err)
		return "", fmt.Errorf("get server info: %w", err)
	}

	return reply.DefaultSinkName, nil
}

func (b *paBackend) sinkInfo(index uint32) (*proto.GetSinkInfoReply, error) {
	request := proto.GetSinkInfo{SinkIndex: index}
	reply := proto.GetSinkInfoReply{}

	if err := b.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink %d info: %w", index, err)
	}

	b.mu.Lock()
	b.sinkNames[index] = reply.SinkName
	b.mu.Unlock()

	return &reply, nil
}

func (b *paBackend) sinkInputInfo(index uint32) (*proto.GetSinkInputInfoReply, error) {
	request := proto.GetSinkInputInfo{SinkInputIndex: index}
	reply := proto.GetSinkInputInfoReply{}

	if err := b.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink input %d info: %w", index, err)
	}

	return &reply, nil
}

func (b *paBackend) newDevice(info *proto.GetSinkInfoReply) *paDevice {
	b.mu.Lock()
	b.sinkNames[info.SinkIndex] = info.SinkName
	b.mu.Unlock()

	var iconName string
	if icon, ok := info.Properties[propIconName]; ok {
		iconName = icon.String()
	}

	return &paDevice{
		backend:     b,
		index:       info.SinkIndex,
		name:        info.SinkName,
		description: info.Device,
		iconName:    iconName,
		channels:    info.Channels,
	}
}

// newSession builds a session from a sink input, which must expose the pid of its client
func (b *paBackend) newSession(info *proto.GetSinkInputInfoReply) (*paSession, error) {
	rawPID, ok := info.Properties[propProcessID]
	if !ok {
		return nil, fmt.Errorf("sink input %d has no process id: %w", info.SinkInputIndex, errNoSuchProcess)
	}

	pid, err := strconv.ParseUint(rawPID.String(), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse sink input %d process id: %w", info.SinkInputIndex, err)
	}

	session := &paSession{
		backend:   b,
		index:     info.SinkInputIndex,
		sinkIndex: info.SinkIndex,
		pid:       uint32(pid),
		channels:  info.Channels,
		corked:    info.Corked,
	}

	if binary, ok := info.Properties[propProcessBinary]; ok {
		session.processName = binary.String()
	}

	if name, ok := info.Properties[propAppName]; ok {
		session.displayName = name.String()
	}

	return session, nil
}

type paDevice struct {
	backend *paBackend

	index       uint32
	name        string
	description string
	iconName    string
	channels    byte

	subscribed bool
	released   bool
}

// ID returns the sink name, which unlike the index survives server restarts
func (d *paDevice) ID() (string, error) {
	return d.name, nil
}

func (d *paDevice) FriendlyName() (string, error) {
	if d.description == "" {
		return d.name, nil
	}

	return d.description, nil
}

func (d *paDevice) IconPath() (string, error) {
	return d.iconName, nil
}

// State is always active: PulseAudio forgets sinks that aren't present
func (d *paDevice) State() (DeviceState, error) {
	return DeviceStateActive, nil
}

func (d *paDevice) Volume() (float32, error) {
	info, err := d.backend.sinkInfo(d.index)
	if err != nil {
		return 0, err
	}

	return channelVolume(info.ChannelVolumes), nil
}

func (d *paDevice) SetVolume(v float32) error {
	request := proto.SetSinkVolume{
		SinkIndex:      d.index,
		ChannelVolumes: channelVolumes(d.channels, v),
	}

	if err := d.backend.client.Request(&request, nil); err != nil {
		return fmt.Errorf("set sink volume: %w", err)
	}

	return nil
}

func (d *paDevice) Muted() (bool, error) {
	info, err := d.backend.sinkInfo(d.index)
	if err != nil {
		return false, err
	}

	return info.Mute, nil
}

func (d *paDevice) SetMuted(muted bool) error {
	request := proto.SetSinkMute{
		SinkIndex: d.index,
		Mute:      muted,
	}

	if err := d.backend.client.Request(&request, nil); err != nil {
		return fmt.Errorf("set sink mute: %w", err)
	}

	return nil
}

func (d *paDevice) Sessions() ([]NativeSession, error) {
	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := d.backend.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink input list: %w", err)
	}

	var sessions []NativeSession

	for _, info := range reply {
		if info.SinkIndex != d.index {
			continue
		}

		session, err := d.backend.newSession(info)
		if err != nil {
			d.backend.logger.Debugw("Skipping sink input", "sinkInputIndex", info.SinkInputIndex, "error", err)
			continue
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

// Subscribe asks the event worker to report this sink's new sink inputs and volume changes
func (d *paDevice) Subscribe(_ NotificationSink) error {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()

	d.backend.devices[d.index] = true
	d.subscribed = true

	return nil
}

func (d *paDevice) Release() {
	if d.released {
		return
	}

	d.released = true

	if d.subscribed {
		d.backend.mu.Lock()
		delete(d.backend.devices, d.index)
		d.backend.mu.Unlock()
	}
}

type paSession struct {
	backend *paBackend

	index       uint32
	sinkIndex   uint32
	pid         uint32
	processName string
	displayName string
	channels    byte
	corked      bool

	subscribed bool
	released   bool
}

func (s *paSession) ProcessID() (uint32, error) {
	return s.pid, nil
}

func (s *paSession) ProcessName() (string, error) {
	if s.processName != "" {
		return s.processName, nil
	}

	return lookupProcessName(s.pid)
}

func (s *paSession) DisplayName() (string, error) {
	return s.displayName, nil
}

// State maps a corked stream to inactive; a stream that moved to another sink has expired for its old device
func (s *paSession) State() (SessionState, error) {
	info, err := s.backend.sinkInputInfo(s.index)
	if err != nil {
		return SessionStateExpired, err
	}

	if info.SinkIndex != s.sinkIndex {
		return SessionStateExpired, errSinkInputMoved
	}

	if info.Corked {
		return SessionStateInactive, nil
	}

	return SessionStateActive, nil
}

func (s *paSession) Volume() (float32, error) {
	info, err := s.backend.sinkInputInfo(s.index)
	if err != nil {
		return 0, err
	}

	return channelVolume(info.ChannelVolumes), nil
}

func (s *paSession) SetVolume(v float32) error {
	request := proto.SetSinkInputVolume{
		SinkInputIndex: s.index,
		ChannelVolumes: channelVolumes(s.channels, v),
	}

	if err := s.backend.client.Request(&request, nil); err != nil {
		return fmt.Errorf("set sink input volume: %w", err)
	}

	return nil
}

func (s *paSession) Muted() (bool, error) {
	info, err := s.backend.sinkInputInfo(s.index)
	if err != nil {
		return false, err
	}

	return info.Muted, nil
}

func (s *paSession) SetMuted(muted bool) error {
	request := proto.SetSinkInputMute{
		SinkInputIndex: s.index,
		Mute:           muted,
	}

	if err := s.backend.client.Request(&request, nil); err != nil {
		return fmt.Errorf("set sink input mute: %w", err)
	}

	return nil
}

func (s *paSession) Subscribe(_ NotificationSink) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.inputs[s.index] = int64(s.pid)
	s.subscribed = true

	return nil
}

func (s *paSession) Release() {
	if s.released {
		return
	}

	s.released = true

	if s.subscribed {
		s.backend.mu.Lock()
		delete(s.backend.inputs, s.index)
		s.backend.mu.Unlock()
	}
}

// channelVolume averages a channel volume set into the 0.0-1.0 range
func channelVolume(volumes proto.ChannelVolumes) float32 {
	if len(volumes) == 0 {
		return 0
	}

	var total float32
	for _, v := range volumes {
		total += float32(v)
	}

	return total / float32(len(volumes)) / float32(proto.VolumeNorm)
}

func channelVolumes(channels byte, v float32) proto.ChannelVolumes {
	volumes := make(proto.ChannelVolumes, channels)
	for i := range volumes {
		volumes[i] = uint32(v * float32(proto.VolumeNorm))
	}

	return volumes
}
