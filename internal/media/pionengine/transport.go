package pionengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var (
	errNoConnectListener = errors.New("transport has no connect listener")
	errNoProduceListener = errors.New("transport has no produce listener")
	errNotSendable       = errors.New("track cannot be sent by this engine")
	errNoSCTP            = errors.New("transport has no SCTP association")
	errWrongDirection    = errors.New("operation not allowed on this transport direction")

	// ErrICERestartUnsupported is returned by RestartICE: pion's ORTC ICE
	// transport cannot swap remote credentials in place.
	ErrICERestartUnsupported = errors.New("ice restart not supported by this engine")
)

// LocalTrack is a track this engine can send.
type LocalTrack interface {
	media.Track
	TrackLocal() webrtc.TrackLocal
}

// Transport is one ICE+DTLS(+SCTP) stack towards the relay.
type Transport struct {
	id     string
	dir    media.Direction
	device *Device
	api    *webrtc.API
	remote media.TransportOptions
	cname  string
	log    zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport

	connectMu sync.Mutex
	connected bool

	mu            sync.Mutex
	closed        bool
	nextMid       int
	nextStreamID  uint16
	onConnect     media.ConnectFunc
	onProduce     media.ProduceFunc
	onProduceData media.ProduceDataFunc
	onState       func(media.ConnectionState)
	closers       map[closer]struct{}
}

// closer is anything owned by the transport that must go when it does.
type closer interface {
	transportClosed()
}

func newTransport(device *Device, api *webrtc.API, dir media.Direction, opts media.TransportOptions) (*Transport, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{
		ICEServers:      device.engine.iceServers,
		ICEGatherPolicy: device.engine.policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ice gatherer: %w", err)
	}

	ice := api.NewICETransport(gatherer)

	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("create dtls transport: %w", err)
	}

	t := &Transport{
		id:       opts.ID,
		dir:      dir,
		device:   device,
		api:      api,
		remote:   opts,
		cname:    uuid.NewString()[:8],
		log:      device.engine.log.With().Str("transport_id", opts.ID).Str("direction", string(dir)).Logger(),
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		closers:  make(map[closer]struct{}),
	}

	if opts.SctpParameters != nil {
		t.sctp = api.NewSCTPTransport(dtls)
	}

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.emitState(connectionState(s))
	})

	if err := gatherer.Gather(); err != nil {
		t.Close()
		return nil, fmt.Errorf("gather candidates: %w", err)
	}

	return t, nil
}

func (t *Transport) ID() string                 { return t.id }
func (t *Transport) Direction() media.Direction { return t.dir }

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

func (t *Transport) emitState(s media.ConnectionState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()

	t.log.Debug().Str("state", string(s)).Msg("connection state")
	if fn != nil {
		fn(s)
	}
}

// connect runs the DTLS handshake on first use: it hands our DTLS
// parameters to the connect listener, then starts ICE, DTLS and SCTP
// against the relay's parameters.
func (t *Transport) connect(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	if t.connected {
		return nil
	}
	if t.Closed() {
		return media.ErrTransportClosed
	}

	t.mu.Lock()
	onConnect := t.onConnect
	t.mu.Unlock()
	if onConnect == nil {
		return errNoConnectListener
	}

	local, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}

	if err := onConnect(ctx, media.DtlsParameters{
		Role:         media.DtlsRoleClient,
		Fingerprints: localFingerprints(local.Fingerprints),
	}); err != nil {
		return err
	}

	candidates, err := iceCandidates(t.remote.IceCandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}

	err = t.abortable(ctx, func() error {
		role := webrtc.ICERoleControlling
		if err := t.ice.Start(nil, iceParameters(t.remote.IceParameters), &role); err != nil {
			return fmt.Errorf("start ice: %w", err)
		}

		if err := t.dtls.Start(webrtc.DTLSParameters{
			Role:         webrtc.DTLSRoleServer,
			Fingerprints: dtlsFingerprints(t.remote.DtlsParameters.Fingerprints),
		}); err != nil {
			return fmt.Errorf("start dtls: %w", err)
		}

		if t.sctp != nil {
			if err := t.sctp.Start(webrtc.SCTPCapabilities{
				MaxMessageSize: uint32(t.remote.SctpParameters.MaxMessageSize),
			}); err != nil {
				return fmt.Errorf("start sctp: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.connected = true
	t.log.Info().Msg("transport connected")
	return nil
}

// abortable runs fn, closing the transport if ctx ends first. ICE and DTLS
// start calls block and take no context.
func (t *Transport) abortable(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.Close()
		<-done
		return ctx.Err()
	}
}

func (t *Transport) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	if t.dir != media.DirectionSend {
		return nil, errWrongDirection
	}
	if t.Closed() {
		return nil, media.ErrTransportClosed
	}

	local, ok := opts.Track.(LocalTrack)
	if !ok {
		return nil, errNotSendable
	}

	codec := opts.Codec
	if codec == nil {
		codec = media.FirstCodec(t.device.RtpCapabilities(), local.Kind())
	}
	if codec == nil {
		return nil, fmt.Errorf("%s: %w", local.Kind(), media.ErrNoCodec)
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	api, err := t.device.senderAPI(codec)
	if err != nil {
		return nil, err
	}

	sender, err := api.NewRTPSender(local.TrackLocal(), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create rtp sender: %w", err)
	}

	send := sender.GetParameters()
	var ssrc uint32
	if len(send.Encodings) > 0 {
		ssrc = uint32(send.Encodings[0].SSRC)
	}

	t.mu.Lock()
	onProduce := t.onProduce
	mid := strconv.Itoa(t.nextMid)
	t.nextMid++
	t.mu.Unlock()

	if onProduce == nil {
		sender.Stop()
		return nil, errNoProduceListener
	}

	rtp := sendParameters(mid, *codec, t.device.RtpCapabilities(), opts.Encodings, opts.CodecOptions, ssrc, t.cname)

	id, err := onProduce(ctx, media.ProduceParameters{
		Kind:          local.Kind(),
		RtpParameters: rtp,
		AppData:       opts.AppData,
	})
	if err != nil {
		sender.Stop()
		return nil, err
	}

	if err := sender.Send(send); err != nil {
		sender.Stop()
		return nil, fmt.Errorf("start sending: %w", err)
	}

	p := newProducer(t, id, local, sender, rtp)
	if opts.Paused {
		p.Pause()
	}
	t.own(p)

	return p, nil
}

func (t *Transport) ProduceData(ctx context.Context, opts media.DataProducerOptions) (media.DataProducer, error) {
	if t.dir != media.DirectionSend {
		return nil, errWrongDirection
	}
	if t.sctp == nil {
		return nil, errNoSCTP
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	onProduceData := t.onProduceData
	streamID := t.nextStreamID
	t.nextStreamID++
	t.mu.Unlock()

	if onProduceData == nil {
		return nil, errNoProduceListener
	}

	ordered := opts.Ordered
	dc, err := t.api.NewDataChannel(t.sctp, &webrtc.DataChannelParameters{
		Label:      opts.Label,
		Protocol:   opts.Protocol,
		ID:         &streamID,
		Ordered:    ordered,
		Negotiated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	id, err := onProduceData(ctx, media.ProduceDataParameters{
		SctpStreamParameters: media.SctpStreamParameters{StreamID: streamID, Ordered: &ordered},
		Label:                opts.Label,
		Protocol:             opts.Protocol,
		AppData:              opts.AppData,
	})
	if err != nil {
		dc.Close()
		return nil, err
	}

	dp := &DataProducer{id: id, label: opts.Label, dc: dc, transport: t}
	t.own(dp)

	return dp, nil
}

func (t *Transport) Consume(ctx context.Context, opts media.ConsumerOptions) (media.Consumer, error) {
	if t.dir != media.DirectionRecv {
		return nil, errWrongDirection
	}

	typ := codecType(opts.Kind)
	if typ == 0 {
		return nil, fmt.Errorf("%s: %w", opts.Kind, media.ErrUnsupportedKind)
	}
	if len(opts.RtpParameters.Codecs) == 0 || len(opts.RtpParameters.Encodings) == 0 {
		return nil, fmt.Errorf("consumer %s: %w", opts.ID, media.ErrNoCodec)
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create rtp receiver: %w", err)
	}

	enc := opts.RtpParameters.Encodings[0]
	codec := opts.RtpParameters.Codecs[0]

	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(enc.Ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	}); err != nil {
		receiver.Stop()
		return nil, fmt.Errorf("start receiving: %w", err)
	}

	c := newConsumer(t, opts, receiver)
	t.own(c)

	return c, nil
}

func (t *Transport) ConsumeData(ctx context.Context, opts media.DataConsumerOptions) (media.DataConsumer, error) {
	if t.dir != media.DirectionRecv {
		return nil, errWrongDirection
	}
	if t.sctp == nil {
		return nil, errNoSCTP
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	streamID := opts.SctpStreamParameters.StreamID
	ordered := true
	if opts.SctpStreamParameters.Ordered != nil {
		ordered = *opts.SctpStreamParameters.Ordered
	}

	dc, err := t.api.NewDataChannel(t.sctp, &webrtc.DataChannelParameters{
		Label:             opts.Label,
		Protocol:          opts.Protocol,
		ID:                &streamID,
		Ordered:           ordered,
		MaxPacketLifeTime: opts.SctpStreamParameters.MaxPacketLifeTime,
		MaxRetransmits:    opts.SctpStreamParameters.MaxRetransmits,
		Negotiated:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	consumer := newDataConsumer(t, opts, dc)
	t.own(consumer)

	return consumer, nil
}

func (t *Transport) RestartICE(ctx context.Context, ice media.IceParameters) error {
	if t.Closed() {
		return media.ErrTransportClosed
	}

	t.mu.Lock()
	t.remote.IceParameters = ice
	t.mu.Unlock()

	return ErrICERestartUnsupported
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	owned := make([]closer, 0, len(t.closers))
	for c := range t.closers {
		owned = append(owned, c)
	}
	t.closers = nil
	t.mu.Unlock()

	for _, c := range owned {
		c.transportClosed()
	}

	var errs []error
	if t.sctp != nil {
		errs = append(errs, t.sctp.Stop())
	}
	errs = append(errs, t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close())

	t.emitState(media.ConnectionClosed)
	t.log.Debug().Msg("transport closed")

	return errors.Join(errs...)
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) own(c closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closers != nil {
		t.closers[c] = struct{}{}
	}
}

func (t *Transport) release(c closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.closers, c)
}
