// Package pionengine implements the media engine on pion's ORTC objects:
// one ICE gatherer, ICE transport, DTLS transport and optional SCTP
// transport per session transport, with RTP senders and receivers hung off
// the DTLS transport.
package pionengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	pionlogging "github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var errNoCommonCodecs = errors.New("router has no codec this engine supports")

// Codecs the engine can send and receive.
var supportedMimeTypes = []string{
	media.MimeTypeOpus,
	media.MimeTypeVP8,
	media.MimeTypeVP9,
	media.MimeTypeH264,
}

// Header extensions the engine understands.
var supportedHeaderExtensions = []string{
	sdp.SDESMidURI,
	sdp.SDESRTPStreamIDURI,
	sdp.AudioLevelURI,
	sdp.TransportCCURI,
	sdp.ABSSendTimeURI,
}

// sctpStreams is what we announce as our SCTP capability.
const sctpStreams = 1024

// Engine creates devices backed by pion.
type Engine struct {
	iceServers []webrtc.ICEServer
	policy     webrtc.ICETransportPolicy
	factory    pionlogging.LoggerFactory
	log        zerolog.Logger
}

type Option func(*Engine)

// WithICEServers sets the STUN/TURN servers used for gathering.
func WithICEServers(servers []config.ICEServer) Option {
	return func(e *Engine) {
		for _, s := range servers {
			e.iceServers = append(e.iceServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}
}

// WithRelayOnly restricts gathering to relay candidates.
func WithRelayOnly() Option {
	return func(e *Engine) {
		e.policy = webrtc.ICETransportPolicyRelay
	}
}

// WithLoggerFactory routes pion's internal logs.
func WithLoggerFactory(f pionlogging.LoggerFactory) Option {
	return func(e *Engine) {
		e.factory = f
	}
}

// New returns an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		policy:  webrtc.ICETransportPolicyAll,
		factory: logging.NewPionFactory(),
		log:     logging.Module("pionengine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) NewDevice() (media.Device, error) {
	return &Device{engine: e, apis: make(map[string]*webrtc.API)}, nil
}

// Device is a loaded capability set plus the pion API built from it.
type Device struct {
	engine *Engine

	mu     sync.Mutex
	loaded bool
	caps   media.RtpCapabilities
	api    *webrtc.API
	apis   map[string]*webrtc.API
}

func (d *Device) Load(ctx context.Context, router media.RtpCapabilities) error {
	caps := intersectCapabilities(router)
	if len(caps.Codecs) == 0 {
		return errNoCommonCodecs
	}

	api, err := d.buildAPI(caps, nil)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.caps = caps
	d.api = api
	d.apis = make(map[string]*webrtc.API)
	d.loaded = true

	d.engine.log.Debug().Int("codecs", len(caps.Codecs)).Msg("device loaded")
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
	return media.SctpCapabilities{NumStreams: media.NumSctpStreams{OS: sctpStreams, MIS: sctpStreams}}
}

func (d *Device) CanProduce(kind media.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded && media.FirstCodec(d.caps, kind) != nil
}

func (d *Device) CreateSendTransport(opts media.TransportOptions) (media.Transport, error) {
	return d.createTransport(media.DirectionSend, opts)
}

func (d *Device) CreateRecvTransport(opts media.TransportOptions) (media.Transport, error) {
	return d.createTransport(media.DirectionRecv, opts)
}

func (d *Device) createTransport(dir media.Direction, opts media.TransportOptions) (media.Transport, error) {
	d.mu.Lock()
	api, loaded := d.api, d.loaded
	d.mu.Unlock()

	if !loaded {
		return nil, media.ErrNotLoaded
	}

	return newTransport(d, api, dir, opts)
}

// senderAPI returns an API whose media engine lists codec first, so a
// track binding to it picks that codec over the router's default order.
func (d *Device) senderAPI(codec *media.RtpCodecCapability) (*webrtc.API, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if codec == nil {
		return d.api, nil
	}

	key := fmt.Sprintf("%s/%d", strings.ToLower(codec.MimeType), codec.PreferredPayloadType)
	if api, ok := d.apis[key]; ok {
		return api, nil
	}

	api, err := d.buildAPI(d.caps, codec)
	if err != nil {
		return nil, err
	}
	d.apis[key] = api
	return api, nil
}

func (d *Device) buildAPI(caps media.RtpCapabilities, first *media.RtpCodecCapability) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}

	for _, c := range orderCodecs(caps.Codecs, first) {
		if err := me.RegisterCodec(codecParameters(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	for _, ext := range caps.HeaderExtensions {
		kinds := []media.Kind{ext.Kind}
		if ext.Kind == "" {
			kinds = []media.Kind{media.KindAudio, media.KindVideo}
		}
		for _, kind := range kinds {
			if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext.URI}, codecType(kind)); err != nil {
				return nil, fmt.Errorf("register header extension %s: %w", ext.URI, err)
			}
		}
	}

	s := webrtc.SettingEngine{LoggerFactory: d.engine.factory}

	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(s)), nil
}

// intersectCapabilities keeps the router codecs and header extensions the
// engine supports, in router order. RTX entries survive only when the codec
// they repair does.
func intersectCapabilities(router media.RtpCapabilities) media.RtpCapabilities {
	var out media.RtpCapabilities
	kept := map[uint8]bool{}

	for _, c := range router.Codecs {
		if c.IsRtx() {
			continue
		}
		if !isSupportedMime(c.MimeType) {
			continue
		}
		out.Codecs = append(out.Codecs, c)
		kept[c.PreferredPayloadType] = true
	}

	var withRtx []media.RtpCodecCapability
	for _, c := range out.Codecs {
		withRtx = append(withRtx, c)
		for _, r := range router.Codecs {
			if r.IsRtx() && r.Kind == c.Kind && aptOf(r) == int(c.PreferredPayloadType) && kept[c.PreferredPayloadType] {
				withRtx = append(withRtx, r)
			}
		}
	}
	out.Codecs = withRtx

	for _, ext := range router.HeaderExtensions {
		for _, uri := range supportedHeaderExtensions {
			if ext.URI == uri {
				out.HeaderExtensions = append(out.HeaderExtensions, ext)
				break
			}
		}
	}

	return out
}

func isSupportedMime(mimeType string) bool {
	for _, m := range supportedMimeTypes {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// orderCodecs moves first, and its RTX companion, to the front.
func orderCodecs(codecs []media.RtpCodecCapability, first *media.RtpCodecCapability) []media.RtpCodecCapability {
	if first == nil {
		return codecs
	}

	var head, tail []media.RtpCodecCapability
	for _, c := range codecs {
		isFirst := strings.EqualFold(c.MimeType, first.MimeType) && c.PreferredPayloadType == first.PreferredPayloadType
		isItsRtx := c.IsRtx() && aptOf(c) == int(first.PreferredPayloadType)
		if isFirst || isItsRtx {
			head = append(head, c)
		} else {
			tail = append(tail, c)
		}
	}
	return append(head, tail...)
}

var (
	_ media.Engine       = (*Engine)(nil)
	_ media.Device       = (*Device)(nil)
	_ media.Transport    = (*Transport)(nil)
	_ media.Producer     = (*Producer)(nil)
	_ media.Consumer     = (*Consumer)(nil)
	_ media.DataProducer = (*DataProducer)(nil)
	_ media.DataConsumer = (*DataConsumer)(nil)
	_ media.Track        = (*RemoteTrack)(nil)
)
