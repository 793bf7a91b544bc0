// Package room is the call session orchestrator. A Room drives the
// signaling channel, negotiates the send and receive transports, keeps the
// table of remote peers and their inbound flows, and manages the local
// microphone, camera and chat producers.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/version"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Identity names the session. It never changes after New.
type Identity struct {
	RoomID string
	PeerID string
	URL    string
	Path   string
	Token  string
}

// Deps are the collaborators a Room drives.
type Deps struct {
	Engine   media.Engine
	Capturer media.Capturer
	// Preferences default to an in-memory store.
	Preferences config.Preferences
	// Dialer overrides the signaling channel's WebSocket dialer.
	Dialer *websocket.Dialer
}

type Option func(*Room)

// WithObserver sets the receiver of every session event.
func WithObserver(o Observer) Option {
	return func(r *Room) {
		r.observer = o
	}
}

// Room is one call session. It is single use: once closed, a new Room is
// needed to join again.
type Room struct {
	id       Identity
	cfg      config.SessionConfig
	deps     Deps
	observer Observer
	log      zerolog.Logger

	// ctx spans the Room's life and bounds every request the session makes
	// on its own behalf.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	channel    *signaling.Channel
	device     media.Device
	state      State
	joinStatus JoinStatus
	joined     bool
	closed     bool
	speaker    ActiveSpeaker
	name       string

	peers      *Registry
	transports *transports
	producers  *producers
	consumers  *consumers
}

// New creates a session. Nothing touches the network until Join.
func New(id Identity, cfg config.SessionConfig, deps Deps, opts ...Option) *Room {
	if id.PeerID == "" {
		id.PeerID = uuid.NewString()
	}
	if id.Path == "" {
		id.Path = config.DefaultPath
	}
	if deps.Preferences == nil {
		deps.Preferences = &config.StaticPreferences{}
	}
	if cfg.Resolution == "" {
		cfg.Resolution = config.ResolutionHD
	}
	if cfg.ReconnectionTimeout <= 0 {
		cfg.ReconnectionTimeout = config.DefaultReconnectionTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Room{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		observer: NopObserver{},
		log: logging.Module("room").With().
			Str("room_id", id.RoomID).
			Str("peer_id", id.PeerID).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		peers:  NewRegistry(),
	}
	r.transports = newTransports(r)
	r.producers = newProducers(r)
	r.consumers = newConsumers(r)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Join connects to the relay. Entering the room continues on the channel's
// event goroutine once the connection is up; progress is reported through
// the observer. Calling Join again starts a fresh attempt on a replaced
// connection.
func (r *Room) Join(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.joined = false
	if r.channel == nil {
		r.channel = signaling.NewChannel(signaling.Options{
			URL:               r.id.URL,
			Path:              r.id.Path,
			PeerID:            r.id.PeerID,
			RoomID:            r.id.RoomID,
			Token:             r.id.Token,
			ReconnectDelayMax: r.cfg.ReconnectionTimeout,
			Dialer:            r.deps.Dialer,
		}, r)
	}
	ch := r.channel
	r.mu.Unlock()

	r.setJoinStatus(JoinLoading)
	r.setState(StateConnecting)

	r.log.Info().Str("url", r.id.URL).Msg("joining")

	if err := ch.Connect(ctx); err != nil {
		return NewError("connect", err)
	}
	return nil
}

// Close tears the session down: producers, transports, then the channel.
// It is idempotent and terminal.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.joined = false
	ch := r.channel
	r.mu.Unlock()

	r.cancel()

	r.producers.closeAll()
	r.transports.close()
	r.consumers.reset()

	if ch != nil {
		ch.Close()
	}

	r.log.Info().Msg("closed")

	r.setState(StateClosed)
	r.observer.OnClose()
}

// OnConnect runs the entering sequence each time the channel comes up.
func (r *Room) OnConnect() {
	if r.isClosed() {
		return
	}

	r.setJoinStatus(JoinLoading)
	r.setState(StateEntering)

	if err := r.enterRoom(r.ctx); err != nil {
		r.fail(err)
	}
}

// OnConnectError closes the session; the initial connection is not retried.
func (r *Room) OnConnectError(err error) {
	r.fail(NewError("connect", err))
}

// OnDisconnect drops the transports. Peers, producers and consumers are
// rebuilt by the entering sequence when the channel reconnects.
func (r *Room) OnDisconnect(reason error) {
	if r.isClosed() {
		return
	}

	r.mu.Lock()
	r.joined = false
	r.mu.Unlock()

	r.log.Warn().Err(reason).Msg("signaling disconnected")
	r.notify(SourceSocket, SeverityWarning, "WebSocket disconnected")

	r.transports.close()
	r.setState(StateConnecting)
}

func (r *Room) OnSignal(s signaling.Signal) {
	ctx := r.ctx
	log := r.log.With().Str("method", s.Method).Logger()
	log.Debug().Msg("signal")

	var err error
	switch s.Method {
	case signaling.SignalNewPeer:
		var m signaling.NewPeer
		if err = s.Decode(&m); err == nil {
			r.newPeer(m)
		}
	case signaling.SignalPeerClosed:
		var m signaling.PeerClosed
		if err = s.Decode(&m); err == nil {
			r.peerClosed(m)
		}
	case signaling.SignalPeerDisplayNameChanged:
		var m signaling.PeerDisplayNameChanged
		if err = s.Decode(&m); err == nil {
			if peer, ok := r.peers.SetDisplayName(m.PeerID, m.DisplayName); ok {
				r.notify(SourceSocket, SeverityInfo, fmt.Sprintf("%s is now %s", m.OldDisplayName, m.DisplayName))
				r.observer.OnPeer(peer)
			}
		}
	case signaling.SignalNewConsumer:
		var m signaling.NewConsumer
		if err = s.Decode(&m); err == nil {
			err = r.consumers.newConsumer(ctx, m)
		}
	case signaling.SignalConsumerClosed:
		var m signaling.ConsumerClosed
		if err = s.Decode(&m); err == nil {
			r.consumers.consumerClosed(m)
		}
	case signaling.SignalConsumerPaused:
		var m signaling.ConsumerPaused
		if err = s.Decode(&m); err == nil {
			r.consumers.consumerPaused(m)
		}
	case signaling.SignalConsumerResumed:
		var m signaling.ConsumerResumed
		if err = s.Decode(&m); err == nil {
			r.consumers.consumerResumed(m)
		}
	case signaling.SignalConsumerLayersChanged:
		var m signaling.ConsumerLayersChanged
		if err = s.Decode(&m); err == nil {
			r.consumers.consumerLayersChanged(m)
		}
	case signaling.SignalConsumerScore:
		// scores are informational only
	case signaling.SignalNewDataConsumer:
		var m signaling.NewDataConsumer
		if err = s.Decode(&m); err == nil {
			err = r.consumers.newDataConsumer(ctx, m)
		}
	case signaling.SignalDataConsumerClosed:
		var m signaling.DataConsumerClosed
		if err = s.Decode(&m); err == nil {
			r.consumers.dataConsumerClosed(m)
		}
	default:
		log.Debug().Msg("ignoring unknown signal")
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrConsumeDisabled), errors.Is(err, ErrDataChannelDisabled):
		log.Debug().Err(err).Msg("signal ignored")
	default:
		log.Error().Err(err).Msg("failed to handle signal")
	}
}

func (r *Room) OnNotification(n signaling.Notification) {
	switch n.Method {
	case signaling.NotificationActiveSpeaker:
		var m signaling.ActiveSpeaker
		if err := n.Decode(&m); err != nil {
			r.log.Error().Err(err).Msg("failed to decode activeSpeaker")
			return
		}
		speaker := ActiveSpeaker{PeerID: m.PeerID, Volume: m.Volume}

		r.mu.Lock()
		r.speaker = speaker
		r.mu.Unlock()

		r.observer.OnActiveSpeaker(speaker)
	case signaling.NotificationActiveSpeakerSilence:
		r.log.Debug().Msg("active speaker silence")
	default:
		r.log.Debug().Str("method", n.Method).Msg("ignoring unknown notification")
	}
}

// enterRoom negotiates capabilities and transports, joins, and starts the
// local producers. Any failure aborts the whole sequence.
func (r *Room) enterRoom(ctx context.Context) error {
	device, err := r.deps.Engine.NewDevice()
	if err != nil {
		return NewError("create device", err)
	}

	var routerCaps media.RtpCapabilities
	if err := r.request(ctx, signaling.MethodGetRouterRtpCapabilities, nil, &routerCaps); err != nil {
		return NewError("get router capabilities", err)
	}
	if err := device.Load(ctx, routerCaps); err != nil {
		return NewError("load device", err)
	}

	r.mu.Lock()
	r.device = device
	r.mu.Unlock()

	// A re-entered session starts from empty tables.
	r.producers.closeAll()
	r.transports.close()
	r.consumers.reset()

	if r.cfg.Produce {
		if err := r.transports.createSend(ctx, device); err != nil {
			return NewError("create send transport", err)
		}
	}
	if r.cfg.Consume {
		if err := r.transports.createRecv(ctx, device); err != nil {
			return NewError("create receive transport", err)
		}
	}

	req := signaling.JoinRequest{
		DisplayName: r.displayName(),
		Device: signaling.DeviceInfo{
			Flag:    "go",
			Name:    version.Name,
			Version: version.Version,
		},
	}
	if r.cfg.Consume {
		caps := device.RtpCapabilities()
		req.RtpCapabilities = &caps
		if r.cfg.UseDataChannel {
			sctp := device.SctpCapabilities()
			req.SctpCapabilities = &sctp
		}
	}

	var existing []signaling.PeerInfo
	if err := r.request(ctx, signaling.MethodJoin, req, &existing); err != nil {
		return NewError("join", err)
	}

	for _, gone := range r.peers.Snapshot() {
		r.observer.OnPeerClosed(gone.ID)
	}
	r.peers.Clear()
	for _, p := range existing {
		r.observer.OnPeer(r.peers.Add(p.ID, p.DisplayName, p.Device))
	}

	r.mu.Lock()
	r.joined = true
	r.mu.Unlock()

	r.log.Info().Int("peers", len(existing)).Msg("joined")

	if r.cfg.Produce {
		r.startProducers(ctx)
	}

	if ctx.Err() != nil {
		return NewError("join", ctx.Err())
	}

	r.setJoinStatus(JoinSucceeded)
	r.setState(StateJoined)
	return nil
}

// startProducers brings up the local media. Failures here are reported as
// notices and do not fail the join.
func (r *Room) startProducers(ctx context.Context) {
	if !r.cfg.WebcamOnly {
		if err := r.producers.EnableMic(ctx); err != nil {
			r.log.Warn().Err(err).Msg("microphone not started")
		}
	}

	if !r.cfg.AudioOnly {
		enabled, known := r.deps.Preferences.WebcamEnabled()
		if !known || enabled {
			if err := r.producers.EnableWebcam(ctx); err != nil {
				r.log.Warn().Err(err).Msg("webcam not started")
			}
		}
	}

	if r.cfg.UseDataChannel {
		if err := r.producers.EnableChat(ctx); err != nil {
			r.log.Warn().Err(err).Msg("chat not started")
		}
	}
}

// fail ends a join attempt that cannot continue.
func (r *Room) fail(err error) {
	if r.isClosed() {
		return
	}

	r.log.Error().Err(err).Msg("join failed")
	r.notify(SourceSocket, SeverityError, err.Error())

	r.setJoinStatus(JoinFailed)
	r.setState(StateFailed)
	r.Close()
}

func (r *Room) newPeer(m signaling.NewPeer) {
	peer := r.peers.Add(m.ID, m.DisplayName, m.Device)
	r.log.Info().Str("remote_peer_id", m.ID).Msg("new peer")
	r.observer.OnPeer(peer)
}

func (r *Room) peerClosed(m signaling.PeerClosed) {
	peer, ok := r.peers.Get(m.PeerID)
	if !ok {
		return
	}
	r.peers.Remove(m.PeerID)
	r.consumers.dropPeer(peer)

	r.mu.Lock()
	if r.speaker.PeerID == m.PeerID {
		r.speaker = ActiveSpeaker{}
	}
	r.mu.Unlock()

	r.log.Info().Str("remote_peer_id", m.PeerID).Msg("peer closed")
	r.observer.OnPeerClosed(m.PeerID)
}

// request sends a request on the current channel.
func (r *Room) request(ctx context.Context, method string, payload any, result any) error {
	r.mu.Lock()
	ch := r.channel
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if ch == nil {
		return signaling.ErrNotConnected
	}
	return ch.Request(ctx, method, payload, result)
}

func (r *Room) notify(source string, severity Severity, message string) {
	r.observer.OnNotice(Notice{Source: source, Severity: severity, Message: message})
}

func (r *Room) setState(s State) {
	r.mu.Lock()
	if r.state == s || (r.state == StateClosed) {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()

	r.log.Debug().Str("state", s.String()).Msg("state changed")
	r.observer.OnStateChange(s)
}

func (r *Room) setJoinStatus(s JoinStatus) {
	r.mu.Lock()
	if r.joinStatus == s {
		r.mu.Unlock()
		return
	}
	r.joinStatus = s
	r.mu.Unlock()

	r.observer.OnJoinStatus(s)
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) currentDevice() media.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

func (r *Room) displayName() string {
	r.mu.Lock()
	name := r.name
	r.mu.Unlock()

	if name != "" {
		return name
	}
	if r.cfg.DisplayName != "" {
		return r.cfg.DisplayName
	}
	if name := r.deps.Preferences.DisplayName(); name != "" {
		return name
	}
	return "Guest " + r.id.PeerID[:min(4, len(r.id.PeerID))]
}

// Identity returns the session identity.
func (r *Room) Identity() Identity { return r.id }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) JoinStatus() JoinStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinStatus
}

// Joined reports whether the last entering sequence completed its join
// request and the channel has not dropped since.
func (r *Room) Joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// Peers returns a snapshot of the remote peers ordered by id.
func (r *Room) Peers() []Peer { return r.peers.Snapshot() }

func (r *Room) Peer(id string) (Peer, bool) { return r.peers.Get(id) }

func (r *Room) ActiveSpeaker() ActiveSpeaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaker
}

// Producers describes the live local producers.
func (r *Room) Producers() []ProducerInfo { return r.producers.snapshot() }

// Consumers returns the number of live inbound media flows.
func (r *Room) Consumers() int { return r.consumers.Len() }

func (r *Room) EnableMic(ctx context.Context) error  { return r.producers.EnableMic(ctx) }
func (r *Room) DisableMic(ctx context.Context) error { return r.producers.DisableMic(ctx) }
func (r *Room) MuteMic(ctx context.Context) error    { return r.producers.MuteMic(ctx) }
func (r *Room) UnmuteMic(ctx context.Context) error  { return r.producers.UnmuteMic(ctx) }

func (r *Room) EnableWebcam(ctx context.Context) error  { return r.producers.EnableWebcam(ctx) }
func (r *Room) DisableWebcam(ctx context.Context) error { return r.producers.DisableWebcam(ctx) }

// ChangeWebcamResolution recaptures the camera at res without recreating
// the producer. It fails when no camera producer exists.
func (r *Room) ChangeWebcamResolution(ctx context.Context, res config.Resolution) error {
	return r.producers.ChangeWebcamResolution(ctx, res)
}

// ChangeWebcam switches the camera producer to another device. An empty
// deviceID picks the next camera.
func (r *Room) ChangeWebcam(ctx context.Context, deviceID string) error {
	return r.producers.ChangeWebcam(ctx, deviceID)
}

func (r *Room) EnableChat(ctx context.Context) error { return r.producers.EnableChat(ctx) }
func (r *Room) SendChat(text string) error           { return r.producers.SendChat(text) }

func (r *Room) PauseConsumer(ctx context.Context, id string) error {
	return r.consumers.PauseConsumer(ctx, id)
}

func (r *Room) ResumeConsumer(ctx context.Context, id string) error {
	return r.consumers.ResumeConsumer(ctx, id)
}

func (r *Room) SetConsumerPreferredLayers(ctx context.Context, id string, spatial, temporal int) error {
	return r.consumers.SetConsumerPreferredLayers(ctx, id, spatial, temporal)
}

func (r *Room) SetConsumerPriority(ctx context.Context, id string, priority int) error {
	return r.consumers.SetConsumerPriority(ctx, id, priority)
}

func (r *Room) RequestConsumerKeyFrame(ctx context.Context, id string) error {
	return r.consumers.RequestConsumerKeyFrame(ctx, id)
}

// ChangeDisplayName renames this peer for everyone in the room and
// remembers the name.
func (r *Room) ChangeDisplayName(ctx context.Context, name string) error {
	if err := r.request(ctx, signaling.MethodChangeDisplayName, signaling.ChangeDisplayNameRequest{DisplayName: name}, nil); err != nil {
		r.notify(SourceSocket, SeverityError, fmt.Sprintf("Could not change display name: %v", err))
		return NewError("change display name", err)
	}

	r.mu.Lock()
	r.name = name
	r.mu.Unlock()

	if err := r.deps.Preferences.SetDisplayName(name); err != nil {
		r.log.Warn().Err(err).Msg("failed to save display name")
	}
	return nil
}

// RestartICE asks the relay for fresh ICE parameters for both transports.
func (r *Room) RestartICE(ctx context.Context) error {
	if !r.Joined() {
		return ErrNotJoined
	}
	if err := r.transports.restartICE(ctx); err != nil {
		r.notify(SourceTransport, SeverityError, fmt.Sprintf("ICE restart failed: %v", err))
		return NewError("restart ice", err)
	}
	r.notify(SourceTransport, SeverityInfo, "ICE restarted")
	return nil
}

var _ signaling.Listener = (*Room)(nil)
