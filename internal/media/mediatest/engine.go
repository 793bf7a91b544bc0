// Package mediatest provides in-memory fakes of the media engine and the
// capture devices. Fake transports drive the negotiation listeners exactly
// like a real engine would, so the signaling bridge is exercised end to end.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/google/uuid"
)

// Engine is a fake media.Engine. Its exported fields configure every device
// it creates.
type Engine struct {
	mu sync.Mutex

	LoadErr          error
	SendTransportErr error
	RecvTransportErr error
	// CannotProduce makes CanProduce false for a kind.
	CannotProduce map[media.Kind]bool

	devices []*Device
}

func NewEngine() *Engine {
	return &Engine{CannotProduce: map[media.Kind]bool{}}
}

func (e *Engine) NewDevice() (media.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := &Device{engine: e}
	e.devices = append(e.devices, d)
	return d, nil
}

// Devices returns every device created so far.
func (e *Engine) Devices() []*Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Device(nil), e.devices...)
}

// LastDevice returns the most recently created device, or nil.
func (e *Engine) LastDevice() *Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.devices) == 0 {
		return nil
	}
	return e.devices[len(e.devices)-1]
}

// Device is a fake media.Device.
type Device struct {
	engine *Engine

	mu         sync.Mutex
	loaded     bool
	caps       media.RtpCapabilities
	transports []*Transport
}

func (d *Device) Load(ctx context.Context, router media.RtpCapabilities) error {
	d.engine.mu.Lock()
	err := d.engine.LoadErr
	d.engine.mu.Unlock()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = router
	d.loaded = true
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Device) RtpCapabilities() media.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *Device) SctpCapabilities() media.SctpCapabilities {
	return media.SctpCapabilities{NumStreams: media.NumSctpStreams{OS: 1024, MIS: 1024}}
}

func (d *Device) CanProduce(kind media.Kind) bool {
	d.engine.mu.Lock()
	blocked := d.engine.CannotProduce[kind]
	d.engine.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded && !blocked && media.FirstCodec(d.caps, kind) != nil
}

func (d *Device) CreateSendTransport(opts media.TransportOptions) (media.Transport, error) {
	return d.create(media.DirectionSend, opts, func(e *Engine) error { return e.SendTransportErr })
}

func (d *Device) CreateRecvTransport(opts media.TransportOptions) (media.Transport, error) {
	return d.create(media.DirectionRecv, opts, func(e *Engine) error { return e.RecvTransportErr })
}

func (d *Device) create(dir media.Direction, opts media.TransportOptions, fail func(*Engine) error) (media.Transport, error) {
	d.engine.mu.Lock()
	err := fail(d.engine)
	d.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return nil, media.ErrNotLoaded
	}

	t := newTransport(d, dir, opts)
	d.transports = append(d.transports, t)
	return t, nil
}

// Transports returns every transport the device created, in order.
func (d *Device) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Transport(nil), d.transports...)
}

// Transport is a fake media.Transport.
type Transport struct {
	device *Device
	id     string
	dir    media.Direction
	opts   media.TransportOptions

	connectMu sync.Mutex
	connected bool

	mu            sync.Mutex
	closed        bool
	nextStreamID  uint16
	onConnect     media.ConnectFunc
	onProduce     media.ProduceFunc
	onProduceData media.ProduceDataFunc
	onState       func(media.ConnectionState)

	producers     []*Producer
	consumers     []*Consumer
	dataProducers []*DataProducer
	dataConsumers []*DataConsumer
	restarts      []media.IceParameters
}

func newTransport(d *Device, dir media.Direction, opts media.TransportOptions) *Transport {
	return &Transport{device: d, id: opts.ID, dir: dir, opts: opts}
}

func (t *Transport) ID() string                 { return t.id }
func (t *Transport) Direction() media.Direction { return t.dir }

// Options returns the parameters the transport was created from.
func (t *Transport) Options() media.TransportOptions { return t.opts }

func (t *Transport) OnConnect(fn media.ConnectFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = fn
}

func (t *Transport) OnProduce(fn media.ProduceFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProduce = fn
}

func (t *Transport) OnProduceData(fn media.ProduceDataFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProduceData = fn
}

func (t *Transport) OnConnectionStateChange(fn func(media.ConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

// SetState fires the connection state listener.
func (t *Transport) SetState(s media.ConnectionState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) connect(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	if t.connected {
		return nil
	}

	t.mu.Lock()
	fn := t.onConnect
	t.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("transport %s: no connect listener", t.id)
	}

	if err := fn(ctx, media.DtlsParameters{
		Role: media.DtlsRoleClient,
		Fingerprints: []media.DtlsFingerprint{{
			Algorithm: "sha-256",
			Value:     "00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF",
		}},
	}); err != nil {
		return err
	}

	t.connected = true
	t.SetState(media.ConnectionConnected)
	return nil
}

// Connected reports whether the connect listener resolved.
func (t *Transport) Connected() bool {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()
	return t.connected
}

func (t *Transport) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	if t.Closed() {
		return nil, media.ErrTransportClosed
	}
	if opts.Track == nil {
		return nil, media.ErrTrackEnded
	}

	codec := opts.Codec
	if codec == nil {
		codec = media.FirstCodec(t.device.RtpCapabilities(), opts.Track.Kind())
	}
	if codec == nil {
		return nil, media.ErrNoCodec
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	fn := t.onProduce
	t.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("transport %s: no produce listener", t.id)
	}

	rtp := media.RtpParameters{
		Codecs: []media.RtpCodecParameters{{
			MimeType:    codec.MimeType,
			PayloadType: codec.PreferredPayloadType,
			ClockRate:   codec.ClockRate,
			Channels:    codec.Channels,
		}},
		Encodings: media.CloneEncodings(opts.Encodings),
	}

	id, err := fn(ctx, media.ProduceParameters{Kind: opts.Track.Kind(), RtpParameters: rtp, AppData: opts.AppData})
	if err != nil {
		return nil, err
	}

	p := newProducer(t, id, opts, rtp)

	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	return p, nil
}

func (t *Transport) ProduceData(ctx context.Context, opts media.DataProducerOptions) (media.DataProducer, error) {
	if t.Closed() {
		return nil, media.ErrTransportClosed
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	fn := t.onProduceData
	streamID := t.nextStreamID
	t.nextStreamID++
	t.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("transport %s: no producedata listener", t.id)
	}

	ordered := opts.Ordered
	id, err := fn(ctx, media.ProduceDataParameters{
		SctpStreamParameters: media.SctpStreamParameters{StreamID: streamID, Ordered: &ordered},
		Label:                opts.Label,
		Protocol:             opts.Protocol,
		AppData:              opts.AppData,
	})
	if err != nil {
		return nil, err
	}

	dp := &DataProducer{id: id, label: opts.Label}

	t.mu.Lock()
	t.dataProducers = append(t.dataProducers, dp)
	t.mu.Unlock()

	return dp, nil
}

func (t *Transport) Consume(ctx context.Context, opts media.ConsumerOptions) (media.Consumer, error) {
	if t.Closed() {
		return nil, media.ErrTransportClosed
	}
	if opts.Kind != media.KindAudio && opts.Kind != media.KindVideo {
		return nil, media.ErrUnsupportedKind
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	c := &Consumer{opts: opts, track: NewTrack(opts.Kind, "")}

	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	return c, nil
}

func (t *Transport) ConsumeData(ctx context.Context, opts media.DataConsumerOptions) (media.DataConsumer, error) {
	if t.Closed() {
		return nil, media.ErrTransportClosed
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	dc := &DataConsumer{opts: opts}

	t.mu.Lock()
	t.dataConsumers = append(t.dataConsumers, dc)
	t.mu.Unlock()

	return dc, nil
}

func (t *Transport) RestartICE(ctx context.Context, ice media.IceParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return media.ErrTransportClosed
	}
	t.restarts = append(t.restarts, ice)
	return nil
}

// Restarts returns the ICE parameters of every RestartICE call.
func (t *Transport) Restarts() []media.IceParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]media.IceParameters(nil), t.restarts...)
}

// Close closes the transport and notifies every live producer and
// consumer it carries.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := append([]*Producer(nil), t.producers...)
	consumers := append([]*Consumer(nil), t.consumers...)
	dataProducers := append([]*DataProducer(nil), t.dataProducers...)
	dataConsumers := append([]*DataConsumer(nil), t.dataConsumers...)
	t.mu.Unlock()

	for _, p := range producers {
		p.transportClosed()
	}
	for _, c := range consumers {
		c.transportClosed()
	}
	for _, dp := range dataProducers {
		dp.transportClosed()
	}
	for _, dc := range dataConsumers {
		dc.transportClosed()
	}

	t.SetState(media.ConnectionClosed)
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Producers() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Producer(nil), t.producers...)
}

func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

func (t *Transport) DataProducers() []*DataProducer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*DataProducer(nil), t.dataProducers...)
}

func (t *Transport) DataConsumers() []*DataConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*DataConsumer(nil), t.dataConsumers...)
}

// newID mints ids for fakes that need one locally.
func newID() string {
	return uuid.NewString()
}

var (
	_ media.Engine    = (*Engine)(nil)
	_ media.Device    = (*Device)(nil)
	_ media.Transport = (*Transport)(nil)
)
