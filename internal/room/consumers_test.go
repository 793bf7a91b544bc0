package room

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/media/mediatest"
	"github.com/BioHazard786/Warpcall/internal/relaytest"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/stretchr/testify/require"
)

func videoConsumer(peerID, consumerID, scalabilityMode string) signaling.NewConsumer {
	return signaling.NewConsumer{
		PeerID:     peerID,
		ProducerID: "prod-" + consumerID,
		ConsumerID: consumerID,
		Kind:       media.KindVideo,
		RtpParameters: media.RtpParameters{
			Codecs: []media.RtpCodecParameters{{
				MimeType:    media.MimeTypeVP8,
				PayloadType: 101,
				ClockRate:   90000,
			}},
			Encodings: []media.RtpEncodingParameters{{ScalabilityMode: scalabilityMode}},
		},
		Type: "simulcast",
	}
}

func audioConsumer(peerID, consumerID string) signaling.NewConsumer {
	return signaling.NewConsumer{
		PeerID:     peerID,
		ProducerID: "prod-" + consumerID,
		ConsumerID: consumerID,
		Kind:       media.KindAudio,
		RtpParameters: media.RtpParameters{
			Codecs: []media.RtpCodecParameters{{
				MimeType:    media.MimeTypeOpus,
				PayloadType: 100,
				ClockRate:   48000,
				Channels:    2,
			}},
		},
		Type: "simple",
	}
}

func chatConsumer(peerID, id string) signaling.NewDataConsumer {
	ordered := true
	return signaling.NewDataConsumer{
		PeerID:               peerID,
		DataProducerID:       "dp-" + id,
		DataConsumerID:       id,
		SctpStreamParameters: media.SctpStreamParameters{StreamID: 3, Ordered: &ordered},
		Label:                chatLabel,
	}
}

// peerConsumer returns the registry entry for a consumer.
func (f *fixture) peerConsumer(t *testing.T, peerID, consumerID string) PeerConsumer {
	t.Helper()
	peer, ok := f.room.Peer(peerID)
	require.True(t, ok)
	for _, c := range peer.Consumers {
		if c.ID == consumerID {
			return c
		}
	}
	t.Fatalf("peer %s has no consumer %s", peerID, consumerID)
	return PeerConsumer{}
}

func (f *fixture) recvConsumer(t *testing.T, id string) *mediatest.Consumer {
	t.Helper()
	recv := f.transport(t, media.DirectionRecv)
	require.NotNil(t, recv)
	for _, c := range recv.Consumers() {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// joinWithPeer joins and announces remote peer p2.
func (f *fixture) joinWithPeer(t *testing.T) {
	t.Helper()
	f.join(t)
	f.signal(t, signaling.SignalNewPeer, signaling.NewPeer{ID: "p2", DisplayName: "Bob"})
}

func TestNewConsumer(t *testing.T) {
	f := newFixture(t, nil)
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", "L3T3"))
	f.signal(t, signaling.SignalNewConsumer, audioConsumer("p2", "c2"))
	f.sync(t)

	require.Equal(t, 2, f.room.Consumers())

	video := f.peerConsumer(t, "p2", "c1")
	require.Equal(t, "prod-c1", video.ProducerID)
	require.Equal(t, media.KindVideo, video.Kind)
	require.Equal(t, "simulcast", video.Type)
	require.Equal(t, "VP8", video.Codec)
	require.Equal(t, 3, video.SpatialLayers)
	require.Equal(t, 3, video.TemporalLayers)
	require.Equal(t, 2, video.PreferredSpatialLayer)
	require.Equal(t, 2, video.PreferredTemporalLayer)
	require.Equal(t, -1, video.CurrentSpatialLayer)
	require.Equal(t, -1, video.CurrentTemporalLayer)
	require.Equal(t, 1, video.Priority)
	require.True(t, video.Playable())
	require.NotNil(t, video.Track)

	audio := f.peerConsumer(t, "p2", "c2")
	require.Equal(t, "opus", audio.Codec)
	require.Equal(t, 1, audio.SpatialLayers)
	require.Equal(t, 1, audio.TemporalLayers)
	require.Equal(t, 0, audio.PreferredSpatialLayer)

	c1 := f.recvConsumer(t, "c1")
	require.NotNil(t, c1)
	require.Equal(t, "p2", c1.AppData()["peerId"])
	require.False(t, c1.Paused())

	require.Empty(t, f.relay.Requests(signaling.MethodPauseConsumer))
}

func TestNewConsumerProducerPaused(t *testing.T) {
	f := newFixture(t, nil)
	f.joinWithPeer(t)

	nc := videoConsumer("p2", "c1", "")
	nc.ProducerPaused = true
	f.signal(t, signaling.SignalNewConsumer, nc)
	f.sync(t)

	pc := f.peerConsumer(t, "p2", "c1")
	require.True(t, pc.RemotelyPaused)
	require.False(t, pc.LocallyPaused)
	require.True(t, f.recvConsumer(t, "c1").Paused())

	// resuming remotely plays it
	f.signal(t, signaling.SignalConsumerResumed, signaling.ConsumerResumed{ConsumerID: "c1"})
	f.sync(t)
	require.False(t, f.recvConsumer(t, "c1").Paused())
	require.True(t, f.peerConsumer(t, "p2", "c1").Playable())
}

func TestNewConsumerUnknownPeer(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("ghost", "c1", ""))
	f.sync(t)

	require.Zero(t, f.room.Consumers())
	require.Empty(t, f.transport(t, media.DirectionRecv).Consumers())
	require.Empty(t, f.room.Peers())
}

func TestNewConsumerWhenNotConsuming(t *testing.T) {
	f := newFixture(t, func(c *config.SessionConfig) {
		c.Consume = false
	})
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", ""))
	f.sync(t)

	require.Zero(t, f.room.Consumers())
	require.Nil(t, f.transport(t, media.DirectionRecv))

	peer, ok := f.room.Peer("p2")
	require.True(t, ok)
	require.Empty(t, peer.Consumers)

	var join signaling.JoinRequest
	require.NoError(t, f.relay.Requests(signaling.MethodJoin)[0].Decode(&join))
	require.Nil(t, join.RtpCapabilities)
}

func TestNewConsumerAudioOnlyPausesVideo(t *testing.T) {
	f := newFixture(t, func(c *config.SessionConfig) {
		c.AudioOnly = true
	})
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", ""))
	f.signal(t, signaling.SignalNewConsumer, audioConsumer("p2", "c2"))
	f.sync(t)

	reqs := f.relay.Requests(signaling.MethodPauseConsumer)
	require.Len(t, reqs, 1)
	var req signaling.ConsumerRequest
	require.NoError(t, reqs[0].Decode(&req))
	require.Equal(t, "c1", req.ConsumerID)

	require.True(t, f.peerConsumer(t, "p2", "c1").LocallyPaused)
	require.True(t, f.recvConsumer(t, "c1").Paused())
	require.False(t, f.peerConsumer(t, "p2", "c2").LocallyPaused)
}

func TestConsumerSignals(t *testing.T) {
	f := newFixture(t, nil)
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", "L3T3"))
	f.sync(t)
	consumer := f.recvConsumer(t, "c1")

	f.signal(t, signaling.SignalConsumerPaused, signaling.ConsumerPaused{ConsumerID: "c1"})
	f.sync(t)
	require.True(t, f.peerConsumer(t, "p2", "c1").RemotelyPaused)
	require.True(t, consumer.Paused())

	spatial, temporal := 1, 2
	f.signal(t, signaling.SignalConsumerLayersChanged, signaling.ConsumerLayersChanged{
		ConsumerID: "c1", SpatialLayer: &spatial, TemporalLayer: &temporal,
	})
	f.sync(t)
	pc := f.peerConsumer(t, "p2", "c1")
	require.Equal(t, 1, pc.CurrentSpatialLayer)
	require.Equal(t, 2, pc.CurrentTemporalLayer)

	// a null layer means the relay stopped forwarding
	f.signal(t, signaling.SignalConsumerLayersChanged, signaling.ConsumerLayersChanged{ConsumerID: "c1"})
	f.sync(t)
	pc = f.peerConsumer(t, "p2", "c1")
	require.Equal(t, -1, pc.CurrentSpatialLayer)
	require.Equal(t, -1, pc.CurrentTemporalLayer)

	f.signal(t, signaling.SignalConsumerScore, signaling.ConsumerScore{ConsumerID: "c1"})
	f.signal(t, signaling.SignalConsumerClosed, signaling.ConsumerClosed{ConsumerID: "c1"})
	f.signal(t, signaling.SignalConsumerClosed, signaling.ConsumerClosed{ConsumerID: "missing"})
	f.sync(t)

	require.True(t, consumer.Closed())
	require.Zero(t, f.room.Consumers())
	peer, _ := f.room.Peer("p2")
	require.Empty(t, peer.Consumers)
}

func TestConsumerResumeWaitsForBothSides(t *testing.T) {
	f := newFixture(t, nil)
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", ""))
	f.sync(t)
	consumer := f.recvConsumer(t, "c1")
	ctx := context.Background()

	require.NoError(t, f.room.PauseConsumer(ctx, "c1"))
	require.True(t, consumer.Paused())

	f.signal(t, signaling.SignalConsumerPaused, signaling.ConsumerPaused{ConsumerID: "c1"})
	f.signal(t, signaling.SignalConsumerResumed, signaling.ConsumerResumed{ConsumerID: "c1"})
	f.sync(t)

	// still paused on this side
	require.True(t, consumer.Paused())

	f.signal(t, signaling.SignalConsumerPaused, signaling.ConsumerPaused{ConsumerID: "c1"})
	f.sync(t)
	require.NoError(t, f.room.ResumeConsumer(ctx, "c1"))

	// and now on the remote side
	require.True(t, consumer.Paused())
	pc := f.peerConsumer(t, "p2", "c1")
	require.False(t, pc.LocallyPaused)
	require.True(t, pc.RemotelyPaused)

	f.signal(t, signaling.SignalConsumerResumed, signaling.ConsumerResumed{ConsumerID: "c1"})
	f.sync(t)
	require.False(t, consumer.Paused())

	require.Len(t, f.relay.Requests(signaling.MethodPauseConsumer), 1)
	require.Len(t, f.relay.Requests(signaling.MethodResumeConsumer), 1)
}

func TestConsumerControls(t *testing.T) {
	f := newFixture(t, nil)
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", "L3T3"))
	f.sync(t)
	ctx := context.Background()

	require.NoError(t, f.room.SetConsumerPreferredLayers(ctx, "c1", 0, 1))
	require.NoError(t, f.room.SetConsumerPriority(ctx, "c1", 5))
	require.NoError(t, f.room.RequestConsumerKeyFrame(ctx, "c1"))

	pc := f.peerConsumer(t, "p2", "c1")
	require.Equal(t, 0, pc.PreferredSpatialLayer)
	require.Equal(t, 1, pc.PreferredTemporalLayer)
	require.Equal(t, 5, pc.Priority)

	var layers signaling.ConsumerLayersRequest
	require.NoError(t, f.relay.Requests(signaling.MethodSetConsumerPreferredLayers)[0].Decode(&layers))
	require.Equal(t, signaling.ConsumerLayersRequest{ConsumerID: "c1", SpatialLayer: 0, TemporalLayer: 1}, layers)

	var priority signaling.ConsumerPriorityRequest
	require.NoError(t, f.relay.Requests(signaling.MethodSetConsumerPriority)[0].Decode(&priority))
	require.Equal(t, 5, priority.Priority)

	require.Len(t, f.relay.Requests(signaling.MethodRequestConsumerKeyFrame), 1)
	require.True(t, f.rec.hasNotice(SourceConsumer, SeverityInfo, "Keyframe requested for video consumer"))

	for name, op := range map[string]func() error{
		"pause":     func() error { return f.room.PauseConsumer(ctx, "nope") },
		"resume":    func() error { return f.room.ResumeConsumer(ctx, "nope") },
		"layers":    func() error { return f.room.SetConsumerPreferredLayers(ctx, "nope", 0, 0) },
		"priority":  func() error { return f.room.SetConsumerPriority(ctx, "nope", 1) },
		"key frame": func() error { return f.room.RequestConsumerKeyFrame(ctx, "nope") },
	} {
		require.ErrorIs(t, op(), ErrUnknownConsumer, name)
	}
}

func TestConsumerControlRelayError(t *testing.T) {
	f := newFixture(t, nil)
	f.relay.Handle(signaling.MethodSetConsumerPriority, func(*relaytest.Peer, json.RawMessage) (any, error) {
		return nil, errors.New("no such consumer")
	})
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", ""))
	f.sync(t)

	err := f.room.SetConsumerPriority(context.Background(), "c1", 3)
	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "set consumer priority", serr.Op)
	require.Equal(t, 1, f.peerConsumer(t, "p2", "c1").Priority)
}

func TestPeerClosedDropsConsumers(t *testing.T) {
	f := newFixture(t, func(c *config.SessionConfig) {
		c.UseDataChannel = true
	})
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewConsumer, videoConsumer("p2", "c1", ""))
	f.signal(t, signaling.SignalNewDataConsumer, chatConsumer("p2", "d1"))
	f.sync(t)

	consumer := f.recvConsumer(t, "c1")
	dcs := f.transport(t, media.DirectionRecv).DataConsumers()
	require.Len(t, dcs, 1)

	f.signal(t, signaling.SignalPeerClosed, signaling.PeerClosed{PeerID: "p2"})
	f.sync(t)

	require.True(t, consumer.Closed())
	require.True(t, dcs[0].Closed())
	require.Zero(t, f.room.Consumers())
	require.Empty(t, f.room.Peers())
}

func TestDataConsumer(t *testing.T) {
	f := newFixture(t, func(c *config.SessionConfig) {
		c.UseDataChannel = true
	})
	f.joinWithPeer(t)

	var join signaling.JoinRequest
	require.NoError(t, f.relay.Requests(signaling.MethodJoin)[0].Decode(&join))
	require.NotNil(t, join.SctpCapabilities)

	f.signal(t, signaling.SignalNewDataConsumer, chatConsumer("p2", "d1"))
	f.signal(t, signaling.SignalNewDataConsumer, chatConsumer("ghost", "d2"))
	f.sync(t)

	dcs := f.transport(t, media.DirectionRecv).DataConsumers()
	require.Len(t, dcs, 1)
	dc := dcs[0]
	require.Equal(t, "d1", dc.ID())
	require.Equal(t, chatLabel, dc.Label())

	peer, _ := f.room.Peer("p2")
	require.Equal(t, []PeerDataConsumer{{ID: "d1", DataProducerID: "dp-d1", Label: chatLabel}}, peer.DataConsumers)

	msg, err := NewDataMessage(MessageChat, "p2", "hi there")
	require.NoError(t, err)
	b, err := msg.Encode()
	require.NoError(t, err)

	dc.Open()
	dc.Deliver(b)
	dc.Deliver([]byte("not msgpack"))

	got := f.rec.dataMessages()
	require.Len(t, got, 2)
	require.Equal(t, "hi there", got[0].Text())
	require.Equal(t, "p2", got[0].From)
	require.Equal(t, MessageRaw, got[1].Type)
	require.Equal(t, "not msgpack", got[1].Text())

	dc.Fail(errors.New("sctp abort"))
	require.True(t, f.rec.hasNotice(SourceConsumer, SeverityError, "DataConsumer error: sctp abort"))

	f.signal(t, signaling.SignalDataConsumerClosed, signaling.DataConsumerClosed{DataConsumerID: "d1"})
	f.sync(t)

	require.True(t, dc.Closed())
	peer, _ = f.room.Peer("p2")
	require.Empty(t, peer.DataConsumers)
}

func TestDataConsumerRemoteClose(t *testing.T) {
	f := newFixture(t, func(c *config.SessionConfig) {
		c.UseDataChannel = true
	})
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewDataConsumer, chatConsumer("p2", "d1"))
	f.sync(t)

	dc := f.transport(t, media.DirectionRecv).DataConsumers()[0]
	dc.CloseRemote()

	peer, _ := f.room.Peer("p2")
	require.Empty(t, peer.DataConsumers)
}

func TestDataConsumerRequiresDataChannel(t *testing.T) {
	f := newFixture(t, nil)
	f.joinWithPeer(t)

	f.signal(t, signaling.SignalNewDataConsumer, chatConsumer("p2", "d1"))
	f.sync(t)

	require.Empty(t, f.transport(t, media.DirectionRecv).DataConsumers())
	peer, _ := f.room.Peer("p2")
	require.Empty(t, peer.DataConsumers)
}
