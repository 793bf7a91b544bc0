package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

// Producer sources, also used as in-flight tokens.
const (
	SourceMic    = "mic"
	SourceWebcam = "webcam"
	SourceChat   = "chat"
)

const chatLabel = "chat"

// producers manages the local outbound flows: at most one microphone, one
// camera and one chat data producer.
type producers struct {
	room *Room
	log  zerolog.Logger

	mu         sync.Mutex
	inflight   map[string]bool
	mic        media.Producer
	webcam     media.Producer
	chat       media.DataProducer
	byID       map[string]media.Producer
	webcamID   string
	resolution config.Resolution
}

func newProducers(r *Room) *producers {
	return &producers{
		room:       r,
		log:        logging.Module("producer"),
		inflight:   make(map[string]bool),
		byID:       make(map[string]media.Producer),
		resolution: r.cfg.Resolution,
	}
}

// begin claims the in-flight token for source. It fails when the token is
// taken or the flow already exists.
func (p *producers) begin(source string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inflight[source] || p.existsLocked(source) {
		return false
	}
	p.inflight[source] = true
	return true
}

func (p *producers) end(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, source)
}

func (p *producers) existsLocked(source string) bool {
	switch source {
	case SourceMic:
		return p.mic != nil
	case SourceWebcam:
		return p.webcam != nil
	case SourceChat:
		return p.chat != nil
	}
	return false
}

func (p *producers) get(source string) media.Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if source == SourceMic {
		return p.mic
	}
	return p.webcam
}

// EnableMic starts the microphone producer. It is a no-op while one exists
// or is being created.
func (p *producers) EnableMic(ctx context.Context) error {
	if !p.begin(SourceMic) {
		return nil
	}
	defer p.end(SourceMic)

	device := p.room.currentDevice()
	if device == nil || !device.CanProduce(media.KindAudio) {
		p.room.notify(SourceDevice, SeverityWarning, "Cannot produce audio")
		return nil
	}

	transport := p.room.transports.sendTransport()
	if transport == nil {
		return NewError("enable microphone", ErrNoSendTransport)
	}

	track, err := p.room.deps.Capturer.OpenAudio(ctx)
	if err != nil {
		p.room.notify(SourceDevice, SeverityError, fmt.Sprintf("Error enabling microphone: %v", err))
		return NewError("enable microphone", err)
	}

	producer, err := transport.Produce(ctx, media.ProducerOptions{
		Track:        track,
		CodecOptions: media.MicCodecOptions,
		AppData:      map[string]any{"source": SourceMic},
	})
	if err != nil {
		track.Stop()
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error enabling microphone: %v", err))
		return NewError("enable microphone", err)
	}

	p.attach(SourceMic, producer, "Microphone disconnected!")
	p.log.Info().Str("producer_id", producer.ID()).Msg("microphone enabled")

	if p.room.cfg.Muted {
		return p.MuteMic(ctx)
	}
	return nil
}

// DisableMic closes the microphone producer on both sides.
func (p *producers) DisableMic(ctx context.Context) error {
	return p.disable(ctx, SourceMic)
}

// MuteMic pauses the microphone producer.
func (p *producers) MuteMic(ctx context.Context) error {
	producer := p.get(SourceMic)
	if producer == nil {
		return ErrNoMicProducer
	}

	producer.Pause()
	p.room.observer.OnProducer(producerInfo(SourceMic, producer), true)

	if err := p.room.request(ctx, signaling.MethodPauseProducer, signaling.ProducerRequest{ProducerID: producer.ID()}, nil); err != nil {
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error pausing server-side mic Producer: %v", err))
		return NewError("mute microphone", err)
	}
	return nil
}

// UnmuteMic resumes the microphone producer.
func (p *producers) UnmuteMic(ctx context.Context) error {
	producer := p.get(SourceMic)
	if producer == nil {
		return ErrNoMicProducer
	}

	producer.Resume()
	p.room.observer.OnProducer(producerInfo(SourceMic, producer), true)

	if err := p.room.request(ctx, signaling.MethodResumeProducer, signaling.ProducerRequest{ProducerID: producer.ID()}, nil); err != nil {
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error resuming server-side mic Producer: %v", err))
		return NewError("unmute microphone", err)
	}
	return nil
}

// EnableWebcam starts the camera producer on the remembered device, or the
// first one available.
func (p *producers) EnableWebcam(ctx context.Context) error {
	if !p.begin(SourceWebcam) {
		return nil
	}
	defer p.end(SourceWebcam)

	device := p.room.currentDevice()
	if device == nil || !device.CanProduce(media.KindVideo) {
		p.room.notify(SourceDevice, SeverityWarning, "Cannot produce video")
		return nil
	}

	transport := p.room.transports.sendTransport()
	if transport == nil {
		return NewError("enable webcam", ErrNoSendTransport)
	}

	deviceID, err := p.pickWebcam(ctx)
	if err != nil {
		p.room.notify(SourceDevice, SeverityError, fmt.Sprintf("Error enabling webcam: %v", err))
		return NewError("enable webcam", err)
	}

	p.mu.Lock()
	res := p.resolution
	p.mu.Unlock()

	track, err := p.room.deps.Capturer.OpenVideo(ctx, deviceID, res)
	if err != nil {
		p.room.notify(SourceDevice, SeverityError, fmt.Sprintf("Error enabling webcam: %v", err))
		return NewError("enable webcam", err)
	}

	enc := selectWebcamEncoding(p.room.cfg, device.RtpCapabilities())
	if enc.warning != "" {
		p.room.notify(SourceDevice, SeverityWarning, enc.warning)
	}

	producer, err := transport.Produce(ctx, media.ProducerOptions{
		Track:        track,
		Encodings:    enc.encodings,
		CodecOptions: media.WebcamCodecOptions,
		Codec:        enc.codec,
		AppData:      map[string]any{"source": SourceWebcam},
	})
	if err != nil {
		track.Stop()
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error enabling webcam: %v", err))
		return NewError("enable webcam", err)
	}

	p.attach(SourceWebcam, producer, "Webcam disconnected!")
	p.log.Info().Str("producer_id", producer.ID()).Str("device_id", deviceID).Msg("webcam enabled")

	p.remember(func(prefs config.Preferences) error {
		return errors.Join(prefs.SetWebcamEnabled(true), prefs.SetWebcamDevice(deviceID))
	})
	return nil
}

// DisableWebcam closes the camera producer and remembers the camera as off.
func (p *producers) DisableWebcam(ctx context.Context) error {
	err := p.disable(ctx, SourceWebcam)
	p.remember(func(prefs config.Preferences) error {
		return prefs.SetWebcamEnabled(false)
	})
	return err
}

// ChangeWebcamResolution recaptures the current camera at res and swaps the
// track into the existing producer.
func (p *producers) ChangeWebcamResolution(ctx context.Context, res config.Resolution) error {
	producer := p.get(SourceWebcam)
	if producer == nil {
		p.room.notify(SourceDevice, SeverityWarning, "No webcam producer")
		return ErrNoWebcamProducer
	}
	if !p.claim(SourceWebcam) {
		return ErrInFlight
	}
	defer p.end(SourceWebcam)

	if err := p.swap(ctx, producer, producer.Track().DeviceID(), res); err != nil {
		return NewError("change webcam resolution", err)
	}

	p.mu.Lock()
	p.resolution = res
	p.mu.Unlock()
	return nil
}

// ChangeWebcam moves the camera producer to deviceID, or to the next device
// in enumeration order when deviceID is empty.
func (p *producers) ChangeWebcam(ctx context.Context, deviceID string) error {
	producer := p.get(SourceWebcam)
	if producer == nil {
		return ErrNoWebcamProducer
	}
	if !p.claim(SourceWebcam) {
		return ErrInFlight
	}
	defer p.end(SourceWebcam)

	devices, err := p.room.deps.Capturer.VideoInputs(ctx)
	if err != nil {
		return NewError("change webcam", err)
	}
	if len(devices) == 0 {
		return NewError("change webcam", ErrNoWebcam)
	}

	current := producer.Track().DeviceID()
	if deviceID == "" {
		deviceID = nextDevice(devices, current)
	} else if !hasDevice(devices, deviceID) {
		return WrapError("change webcam", ErrNoWebcam, deviceID)
	}

	p.mu.Lock()
	res := p.resolution
	p.mu.Unlock()

	if err := p.swap(ctx, producer, deviceID, res); err != nil {
		return NewError("change webcam", err)
	}

	p.mu.Lock()
	p.webcamID = deviceID
	p.mu.Unlock()

	p.remember(func(prefs config.Preferences) error {
		return prefs.SetWebcamDevice(deviceID)
	})
	return nil
}

// claim takes the in-flight token for an existing flow.
func (p *producers) claim(source string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[source] {
		return false
	}
	p.inflight[source] = true
	return true
}

func (p *producers) swap(ctx context.Context, producer media.Producer, deviceID string, res config.Resolution) error {
	track, err := p.room.deps.Capturer.OpenVideo(ctx, deviceID, res)
	if err != nil {
		p.room.notify(SourceDevice, SeverityError, fmt.Sprintf("Error changing webcam: %v", err))
		return err
	}

	if err := producer.ReplaceTrack(ctx, track); err != nil {
		track.Stop()
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error changing webcam: %v", err))
		return err
	}

	p.log.Info().
		Str("producer_id", producer.ID()).
		Str("device_id", deviceID).
		Str("resolution", res.String()).
		Msg("webcam track replaced")

	p.room.observer.OnLocalTrack(track)
	return nil
}

// EnableChat creates the chat data producer.
func (p *producers) EnableChat(ctx context.Context) error {
	if !p.room.cfg.UseDataChannel {
		return ErrDataChannelDisabled
	}
	if !p.begin(SourceChat) {
		return nil
	}
	defer p.end(SourceChat)

	transport := p.room.transports.sendTransport()
	if transport == nil {
		return NewError("enable chat", ErrNoSendTransport)
	}

	dp, err := transport.ProduceData(ctx, media.DataProducerOptions{
		Label:   chatLabel,
		Ordered: true,
		AppData: map[string]any{"info": "chat-DataProducer"},
	})
	if err != nil {
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error creating chat DataProducer: %v", err))
		return NewError("enable chat", err)
	}

	dp.OnTransportClose(func() {
		p.mu.Lock()
		if p.chat == dp {
			p.chat = nil
		}
		p.mu.Unlock()
		p.room.observer.OnProducer(ProducerInfo{ID: dp.ID(), Source: SourceChat}, false)
	})

	p.mu.Lock()
	p.chat = dp
	p.mu.Unlock()

	p.room.observer.OnProducer(ProducerInfo{ID: dp.ID(), Source: SourceChat}, true)
	return nil
}

// SendChat sends text to every peer consuming the chat data producer.
func (p *producers) SendChat(text string) error {
	p.mu.Lock()
	dp := p.chat
	p.mu.Unlock()

	if dp == nil {
		return ErrNoChatProducer
	}

	msg, err := NewDataMessage(MessageChat, p.room.id.PeerID, text)
	if err != nil {
		return err
	}
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	return dp.Send(b)
}

// attach records a freshly created producer and hooks its lifecycle. The
// producer is stored before its listeners are registered.
func (p *producers) attach(source string, producer media.Producer, endedMessage string) {
	p.mu.Lock()
	if source == SourceMic {
		p.mic = producer
	} else {
		p.webcam = producer
	}
	p.byID[producer.ID()] = producer
	p.mu.Unlock()

	producer.OnTransportClose(func() {
		if p.forget(source, producer) {
			p.room.observer.OnProducer(producerInfo(source, producer), false)
		}
	})

	producer.OnTrackEnded(func() {
		p.room.notify(SourceProducer, SeverityWarning, endedMessage)
		go func() {
			if err := p.disable(p.room.ctx, source); err != nil {
				p.log.Debug().Err(err).Str("source", source).Msg("disable after track ended")
			}
		}()
	})

	// closed before the listener was in place
	if producer.Closed() {
		p.forget(source, producer)
		p.log.Debug().Str("source", source).Str("producer_id", producer.ID()).Msg("producer closed while attaching")
		return
	}

	p.room.observer.OnLocalTrack(producer.Track())
	p.room.observer.OnProducer(producerInfo(source, producer), true)
}

// forget drops producer if it is still the current one for source.
func (p *producers) forget(source string, producer media.Producer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.byID, producer.ID())
	switch {
	case source == SourceMic && p.mic == producer:
		p.mic = nil
	case source == SourceWebcam && p.webcam == producer:
		p.webcam = nil
	default:
		return false
	}
	return true
}

func (p *producers) disable(ctx context.Context, source string) error {
	producer := p.get(source)
	if producer == nil || !p.forget(source, producer) {
		return nil
	}

	if err := producer.Close(); err != nil {
		p.log.Debug().Err(err).Str("producer_id", producer.ID()).Msg("producer close")
	}
	p.room.observer.OnProducer(producerInfo(source, producer), false)

	if err := p.room.request(ctx, signaling.MethodCloseProducer, signaling.ProducerRequest{ProducerID: producer.ID()}, nil); err != nil {
		p.room.notify(SourceProducer, SeverityError, fmt.Sprintf("Error closing server-side %s Producer: %v", source, err))
		return NewError("disable "+source, err)
	}

	p.log.Info().Str("producer_id", producer.ID()).Str("source", source).Msg("producer disabled")
	return nil
}

// closeAll closes every local producer without telling the relay.
func (p *producers) closeAll() {
	p.mu.Lock()
	mic, webcam, chat := p.mic, p.webcam, p.chat
	p.mic, p.webcam, p.chat = nil, nil, nil
	p.byID = make(map[string]media.Producer)
	p.mu.Unlock()

	for _, producer := range []media.Producer{mic, webcam} {
		if producer != nil {
			producer.Close()
		}
	}
	if chat != nil {
		chat.Close()
	}
}

// pickWebcam returns the remembered camera when it is still present, the
// first enumerated one otherwise.
func (p *producers) pickWebcam(ctx context.Context) (string, error) {
	devices, err := p.room.deps.Capturer.VideoInputs(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", ErrNoWebcam
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.webcamID == "" {
		p.webcamID = p.room.deps.Preferences.WebcamDevice()
	}
	if !hasDevice(devices, p.webcamID) {
		p.webcamID = devices[0].ID
	}
	return p.webcamID, nil
}

func (p *producers) remember(fn func(config.Preferences) error) {
	if err := fn(p.room.deps.Preferences); err != nil {
		p.log.Warn().Err(err).Msg("failed to save preferences")
	}
}

// snapshot describes every live producer, ordered by source.
func (p *producers) snapshot() []ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []ProducerInfo
	if p.mic != nil {
		out = append(out, producerInfo(SourceMic, p.mic))
	}
	if p.webcam != nil {
		out = append(out, producerInfo(SourceWebcam, p.webcam))
	}
	if p.chat != nil {
		out = append(out, ProducerInfo{ID: p.chat.ID(), Source: SourceChat})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func producerInfo(source string, producer media.Producer) ProducerInfo {
	info := ProducerInfo{
		ID:     producer.ID(),
		Source: source,
		Kind:   producer.Kind(),
		Paused: producer.Paused(),
	}
	if codecs := producer.RtpParameters().Codecs; len(codecs) > 0 {
		info.Codec = media.CodecName(codecs[0].MimeType)
	}
	return info
}

func hasDevice(devices []media.DeviceInfo, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// nextDevice returns the device after current, wrapping around.
func nextDevice(devices []media.DeviceInfo, current string) string {
	for i, d := range devices {
		if d.ID == current {
			return devices[(i+1)%len(devices)].ID
		}
	}
	return devices[0].ID
}

type webcamEncoding struct {
	codec     *media.RtpCodecCapability
	encodings []media.RtpEncodingParameters
	warning   string
}

// selectWebcamEncoding applies the codec and layering policy. A forced H264
// wins over a forced VP9. With simulcast on, the layered set is used when
// VP9 was forced and found or VP9 is the first video codec; otherwise the
// generic simulcast set.
func selectWebcamEncoding(cfg config.SessionConfig, caps media.RtpCapabilities) webcamEncoding {
	var sel webcamEncoding

	switch {
	case cfg.ForceH264:
		if sel.codec = media.FindCodec(caps, media.MimeTypeH264); sel.codec == nil {
			sel.warning = "Desired H264 codec+configuration is not supported"
		}
	case cfg.ForceVP9:
		if sel.codec = media.FindCodec(caps, media.MimeTypeVP9); sel.codec == nil {
			sel.warning = "Desired VP9 codec+configuration is not supported"
		}
	}

	if !cfg.UseSimulcast {
		return sel
	}

	first := media.FirstCodec(caps, media.KindVideo)
	if first == nil {
		return sel
	}

	forcedVP9 := sel.codec != nil && strings.EqualFold(sel.codec.MimeType, media.MimeTypeVP9)
	if forcedVP9 || strings.EqualFold(first.MimeType, media.MimeTypeVP9) {
		sel.encodings = media.CloneEncodings(media.WebcamKSVCEncodings)
	} else {
		sel.encodings = media.CloneEncodings(media.WebcamSimulcastEncodings)
	}
	return sel
}
