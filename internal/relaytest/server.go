// Package relaytest runs an in-process relay speaking the session's JSON-RPC
// signaling protocol, for tests.
package relaytest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpcws "github.com/sourcegraph/jsonrpc2/websocket"
)

// Handler answers one signal method. The returned value is the reply; a
// non-nil error is sent back as a JSON-RPC error.
type Handler func(peer *Peer, params json.RawMessage) (any, error)

// Request is a recorded client request.
type Request struct {
	PeerID string
	Method string
	Params json.RawMessage
}

// Decode unmarshals the request params into v.
func (r Request) Decode(v any) error {
	return json.Unmarshal(r.Params, v)
}

// Peer is one connected client as seen by the relay.
type Peer struct {
	ID     string
	RoomID string
	Path   string
	Token  string

	ws   *websocket.Conn
	conn *jsonrpc2.Conn
}

// Signal pushes a "signal" notification to the peer.
func (p *Peer) Signal(ctx context.Context, body any) error {
	return p.conn.Notify(ctx, "signal", body)
}

// Notify pushes a "notification" notification to the peer.
func (p *Peer) Notify(ctx context.Context, body any) error {
	return p.conn.Notify(ctx, "notification", body)
}

// Drop closes the peer's socket without a close handshake.
func (p *Peer) Drop() {
	p.ws.Close()
}

// Server is the fake relay.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	peers    map[string]*Peer
	requests []Request
	reject   bool

	connected chan *Peer
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer starts a relay with default answers for every method.
func NewServer() *Server {
	s := &Server{
		handlers:  defaultHandlers(),
		peers:     make(map[string]*Peer),
		connected: make(chan *Peer, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveWs))
	return s
}

// WSURL is the ws:// address of the relay.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Close drops every connected peer and stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	for _, p := range s.peers {
		p.ws.Close()
	}
	s.mu.Unlock()

	s.Server.Close()
}

// Handle replaces the answer for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// RejectConnections makes the relay refuse new WebSocket upgrades.
func (s *Server) RejectConnections(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// Requests returns the recorded requests for method, or all of them when
// method is empty.
func (s *Server) Requests(method string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Request
	for _, r := range s.requests {
		if method == "" || r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Peer returns the most recent connection of the peer id.
func (s *Server) Peer(id string) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

// WaitPeer blocks until the next client connects or the timeout passes.
func (s *Server) WaitPeer(timeout time.Duration) (*Peer, error) {
	select {
	case p := <-s.connected:
		return p, nil
	case <-time.After(timeout):
		return nil, errors.New("relaytest: no peer connected")
	}
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	q := r.URL.Query()
	peer := &Peer{
		ID:     q.Get("peerId"),
		RoomID: q.Get("roomId"),
		Path:   r.URL.Path,
		Token:  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		ws:     ws,
	}
	peer.conn = jsonrpc2.NewConn(context.Background(), jsonrpcws.NewObjectStream(ws),
		jsonrpc2.AsyncHandler(&rpcHandler{server: s, peer: peer}))

	s.mu.Lock()
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	select {
	case s.connected <- peer:
	default:
	}
}

type rpcHandler struct {
	server *Server
	peer   *Peer
}

func (h *rpcHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}

	if req.Method != "signal" || req.Params == nil {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: req.Method})
		return
	}

	params := json.RawMessage(*req.Params)

	var env struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(params, &env); err != nil {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeParseError, Message: err.Error()})
		return
	}

	s := h.server
	s.mu.Lock()
	s.requests = append(s.requests, Request{PeerID: h.peer.ID, Method: env.Method, Params: params})
	handler, ok := s.handlers[env.Method]
	s.mu.Unlock()

	if !ok {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: env.Method})
		return
	}

	result, err := handler(h.peer, params)
	if err != nil {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()})
		return
	}

	conn.Reply(ctx, req.ID, result)
}

func ack(*Peer, json.RawMessage) (any, error) {
	return map[string]any{}, nil
}

func defaultHandlers() map[string]Handler {
	return map[string]Handler{
		"getRouterRtpCapabilities": func(*Peer, json.RawMessage) (any, error) {
			return RouterCapabilities(), nil
		},
		"createWebRtcTransport": func(*Peer, json.RawMessage) (any, error) {
			return TransportOptions(), nil
		},
		"produce": func(*Peer, json.RawMessage) (any, error) {
			return map[string]string{"id": uuid.NewString()}, nil
		},
		"produceData": func(*Peer, json.RawMessage) (any, error) {
			return map[string]string{"id": uuid.NewString()}, nil
		},
		"join": func(*Peer, json.RawMessage) (any, error) {
			return []any{}, nil
		},
		"connectWebRtcTransport":     ack,
		"restartIce":                 restartIce,
		"closeProducer":              ack,
		"pauseProducer":              ack,
		"resumeProducer":             ack,
		"closeConsumer":              ack,
		"pauseConsumer":              ack,
		"resumeConsumer":             ack,
		"setConsumerPreferredLayers": ack,
		"setConsumerPriority":        ack,
		"requestConsumerKeyFrame":    ack,
		"changeDisplayName":          ack,
	}
}

func restartIce(*Peer, json.RawMessage) (any, error) {
	return map[string]any{
		"iceParameters": media.IceParameters{
			UsernameFragment: uuid.NewString()[:8],
			Password:         uuid.NewString(),
			IceLite:          true,
		},
	}, nil
}

// RouterCapabilities is a typical router capability set with VP8 as the
// first video codec.
func RouterCapabilities() media.RtpCapabilities {
	return media.RtpCapabilities{
		Codecs: []media.RtpCodecCapability{
			{
				Kind: media.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 100,
				ClockRate: 48000, Channels: 2,
				RtcpFeedback: []media.RtcpFeedback{{Type: "transport-cc"}},
			},
			{
				Kind: media.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 101,
				ClockRate:    90000,
				RtcpFeedback: videoFeedback(),
			},
			{
				Kind: media.KindVideo, MimeType: "video/rtx", PreferredPayloadType: 102,
				ClockRate:  90000,
				Parameters: map[string]any{"apt": float64(101)},
			},
			{
				Kind: media.KindVideo, MimeType: "video/VP9", PreferredPayloadType: 103,
				ClockRate:    90000,
				Parameters:   map[string]any{"profile-id": float64(0)},
				RtcpFeedback: videoFeedback(),
			},
			{
				Kind: media.KindVideo, MimeType: "video/H264", PreferredPayloadType: 105,
				ClockRate: 90000,
				Parameters: map[string]any{
					"packetization-mode":      float64(1),
					"level-asymmetry-allowed": float64(1),
					"profile-level-id":        "42e01f",
				},
				RtcpFeedback: videoFeedback(),
			},
		},
		HeaderExtensions: []media.RtpHeaderExtension{
			{Kind: media.KindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: media.KindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: media.KindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
			{Kind: media.KindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5},
		},
	}
}

func videoFeedback() []media.RtcpFeedback {
	return []media.RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

// TransportOptions returns fresh connection parameters for one transport.
func TransportOptions() media.TransportOptions {
	return media.TransportOptions{
		ID: uuid.NewString(),
		IceParameters: media.IceParameters{
			UsernameFragment: "relayufrag",
			Password:         "relaypassword",
			IceLite:          true,
		},
		IceCandidates: []media.IceCandidate{{
			Foundation: "udpcandidate",
			Priority:   1076302079,
			IP:         "127.0.0.1",
			Protocol:   "udp",
			Port:       40000,
			Type:       "host",
		}},
		DtlsParameters: media.DtlsParameters{
			Role: media.DtlsRoleAuto,
			Fingerprints: []media.DtlsFingerprint{{
				Algorithm: "sha-256",
				Value:     "82:5A:68:3D:36:C3:0A:DE:AF:E7:32:43:D2:88:83:57:B8:C2:30:B9:A5:EB:F2:61:3A:4A:67:E1:54:E4:1E:5C",
			}},
		},
	}
}
