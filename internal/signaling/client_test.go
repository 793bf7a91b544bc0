package signaling_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/relaytest"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type recorder struct {
	connects      chan struct{}
	connectErrors chan error
	disconnects   chan error
	signals       chan signaling.Signal
	notifications chan signaling.Notification

	onSignal func(signaling.Signal)
}

func newRecorder() *recorder {
	return &recorder{
		connects:      make(chan struct{}, 8),
		connectErrors: make(chan error, 8),
		disconnects:   make(chan error, 8),
		signals:       make(chan signaling.Signal, 128),
		notifications: make(chan signaling.Notification, 128),
	}
}

func (r *recorder) OnConnect()                              { r.connects <- struct{}{} }
func (r *recorder) OnConnectError(err error)                { r.connectErrors <- err }
func (r *recorder) OnDisconnect(reason error)               { r.disconnects <- reason }
func (r *recorder) OnNotification(n signaling.Notification) { r.notifications <- n }
func (r *recorder) OnSignal(s signaling.Signal) {
	if r.onSignal != nil {
		r.onSignal(s)
	}
	r.signals <- s
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func newChannel(t *testing.T, server *relaytest.Server, rec *recorder) *signaling.Channel {
	t.Helper()
	ch := signaling.NewChannel(signaling.Options{
		URL:               server.WSURL(),
		Path:              "server",
		PeerID:            "peer-1",
		RoomID:            "room-1",
		Token:             "secret",
		ReconnectDelayMax: 200 * time.Millisecond,
	}, rec)
	t.Cleanup(ch.Close)
	return ch
}

func TestChannelConnectAndRequest(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	rec := newRecorder()
	ch := newChannel(t, server, rec)

	require.NoError(t, ch.Connect(context.Background()))
	waitFor(t, rec.connects)
	require.True(t, ch.Connected())

	peer, err := server.WaitPeer(waitTimeout)
	require.NoError(t, err)
	require.Equal(t, "peer-1", peer.ID)
	require.Equal(t, "room-1", peer.RoomID)
	require.Equal(t, "/server", peer.Path)
	require.Equal(t, "secret", peer.Token)

	var caps media.RtpCapabilities
	require.NoError(t, ch.Request(context.Background(), signaling.MethodGetRouterRtpCapabilities, nil, &caps))
	require.Equal(t, relaytest.RouterCapabilities(), caps)

	require.NoError(t, ch.Request(context.Background(), signaling.MethodCreateWebRtcTransport,
		signaling.CreateTransportRequest{Producing: true}, nil))

	reqs := server.Requests(signaling.MethodCreateWebRtcTransport)
	require.Len(t, reqs, 1)

	var sent struct {
		Method    string `json:"method"`
		Producing bool   `json:"producing"`
		Consuming bool   `json:"consuming"`
	}
	require.NoError(t, reqs[0].Decode(&sent))
	require.Equal(t, signaling.MethodCreateWebRtcTransport, sent.Method)
	require.True(t, sent.Producing)
	require.False(t, sent.Consuming)
}

func TestChannelRequestError(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)
	server.Handle(signaling.MethodJoin, func(*relaytest.Peer, json.RawMessage) (any, error) {
		return nil, errors.New("room is full")
	})

	rec := newRecorder()
	ch := newChannel(t, server, rec)
	require.NoError(t, ch.Connect(context.Background()))

	err := ch.Request(context.Background(), signaling.MethodJoin, signaling.JoinRequest{DisplayName: "a"}, nil)

	var reqErr *signaling.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, signaling.MethodJoin, reqErr.Method)
	require.Contains(t, reqErr.Message, "room is full")
}

func TestChannelRequestBeforeConnect(t *testing.T) {
	ch := signaling.NewChannel(signaling.Options{URL: "ws://127.0.0.1:1"}, newRecorder())
	t.Cleanup(ch.Close)

	err := ch.Request(context.Background(), signaling.MethodJoin, nil, nil)
	require.ErrorIs(t, err, signaling.ErrNotConnected)
}

func TestChannelPushOrder(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	rec := newRecorder()
	ch := newChannel(t, server, rec)
	require.NoError(t, ch.Connect(context.Background()))

	peer, err := server.WaitPeer(waitTimeout)
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, peer.Signal(context.Background(), map[string]any{
			"method": signaling.SignalNewPeer,
			"id":     fmt.Sprintf("p%d", i),
		}))
	}
	require.NoError(t, peer.Notify(context.Background(), map[string]any{
		"method": signaling.NotificationActiveSpeaker,
		"peerId": "p3",
		"volume": -40,
	}))

	for i := 0; i < n; i++ {
		s := waitFor(t, rec.signals)
		require.Equal(t, signaling.SignalNewPeer, s.Method)

		var p signaling.NewPeer
		require.NoError(t, s.Decode(&p))
		require.Equal(t, fmt.Sprintf("p%d", i), p.ID)
	}

	note := waitFor(t, rec.notifications)
	require.Equal(t, signaling.NotificationActiveSpeaker, note.Method)

	var speaker signaling.ActiveSpeaker
	require.NoError(t, note.Decode(&speaker))
	require.Equal(t, "p3", speaker.PeerID)
	require.Equal(t, float64(-40), speaker.Volume)
}

func TestChannelListenerMayRequest(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	rec := newRecorder()
	ch := newChannel(t, server, rec)

	results := make(chan error, 1)
	rec.onSignal = func(signaling.Signal) {
		results <- ch.Request(context.Background(), signaling.MethodGetRouterRtpCapabilities, nil, nil)
	}

	require.NoError(t, ch.Connect(context.Background()))
	peer, err := server.WaitPeer(waitTimeout)
	require.NoError(t, err)

	require.NoError(t, peer.Signal(context.Background(), map[string]any{"method": signaling.SignalNewPeer, "id": "x"}))
	require.NoError(t, waitFor(t, results))
}

func TestChannelConnectError(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)
	server.RejectConnections(true)

	rec := newRecorder()
	ch := newChannel(t, server, rec)

	require.Error(t, ch.Connect(context.Background()))
	require.Error(t, waitFor(t, rec.connectErrors))
	require.False(t, ch.Connected())
}

func TestChannelReconnect(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	rec := newRecorder()
	ch := newChannel(t, server, rec)

	require.NoError(t, ch.Connect(context.Background()))
	waitFor(t, rec.connects)

	peer, err := server.WaitPeer(waitTimeout)
	require.NoError(t, err)

	peer.Drop()

	require.ErrorIs(t, waitFor(t, rec.disconnects), signaling.ErrDisconnected)
	waitFor(t, rec.connects)
	require.True(t, ch.Connected())

	_, err = server.WaitPeer(waitTimeout)
	require.NoError(t, err)
	require.NoError(t, ch.Request(context.Background(), signaling.MethodGetRouterRtpCapabilities, nil, nil))
}

func TestChannelInFlightRequestFailsOnDisconnect(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	server.Handle(signaling.MethodJoin, func(p *relaytest.Peer, _ json.RawMessage) (any, error) {
		p.Drop()
		<-release
		return []any{}, nil
	})

	rec := newRecorder()
	ch := newChannel(t, server, rec)
	require.NoError(t, ch.Connect(context.Background()))

	err := ch.Request(context.Background(), signaling.MethodJoin, nil, nil)
	require.ErrorIs(t, err, signaling.ErrDisconnected)
}

func TestChannelConnectReplacesConnection(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	rec := newRecorder()
	ch := newChannel(t, server, rec)

	require.NoError(t, ch.Connect(context.Background()))
	waitFor(t, rec.connects)
	require.NoError(t, ch.Connect(context.Background()))
	waitFor(t, rec.connects)

	// the replaced connection going away is not a disconnect
	select {
	case err := <-rec.disconnects:
		t.Fatalf("unexpected disconnect: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, ch.Request(context.Background(), signaling.MethodGetRouterRtpCapabilities, nil, nil))
}

func TestChannelClose(t *testing.T) {
	server := relaytest.NewServer()
	t.Cleanup(server.Close)

	rec := newRecorder()
	ch := newChannel(t, server, rec)
	require.NoError(t, ch.Connect(context.Background()))

	ch.Close()
	ch.Close()

	require.False(t, ch.Connected())
	require.ErrorIs(t, ch.Request(context.Background(), signaling.MethodJoin, nil, nil), signaling.ErrClosed)
	require.ErrorIs(t, ch.Connect(context.Background()), signaling.ErrClosed)

	select {
	case err := <-rec.disconnects:
		t.Fatalf("close reported as disconnect: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannelURL(t *testing.T) {
	ch := signaling.NewChannel(signaling.Options{
		URL:    "https://relay.example.com/base/",
		Path:   "/server",
		PeerID: "me",
		RoomID: "r",
	}, newRecorder())
	t.Cleanup(ch.Close)

	u, err := ch.URL()
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com/base/server?peerId=me&roomId=r", u)
}
