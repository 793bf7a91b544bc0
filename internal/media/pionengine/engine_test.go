package pionengine

import (
	"context"
	"testing"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/relaytest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestIntersectCapabilities(t *testing.T) {
	router := relaytest.RouterCapabilities()
	known := len(router.HeaderExtensions)
	router.HeaderExtensions = append(router.HeaderExtensions,
		media.RtpHeaderExtension{Kind: media.KindVideo, URI: "urn:3gpp:video-orientation", PreferredID: 11})
	router.Codecs = append(router.Codecs,
		media.RtpCodecCapability{Kind: media.KindVideo, MimeType: media.MimeTypeAV1, PreferredPayloadType: 110, ClockRate: 90000},
		media.RtpCodecCapability{Kind: media.KindVideo, MimeType: "video/rtx", PreferredPayloadType: 111, ClockRate: 90000,
			Parameters: map[string]any{"apt": float64(110)}},
	)

	caps := intersectCapabilities(router)

	var mimes []string
	for _, c := range caps.Codecs {
		mimes = append(mimes, c.MimeType)
	}
	require.Equal(t, []string{"audio/opus", "video/VP8", "video/rtx", "video/VP9", "video/H264"}, mimes)

	// unknown header extensions are dropped
	require.Len(t, caps.HeaderExtensions, known)
	require.Equal(t, media.MimeTypeVP8, media.FirstCodec(caps, media.KindVideo).MimeType)
}

func TestIntersectCapabilitiesNothingInCommon(t *testing.T) {
	caps := intersectCapabilities(media.RtpCapabilities{
		Codecs: []media.RtpCodecCapability{{Kind: media.KindVideo, MimeType: media.MimeTypeAV1}},
	})
	require.Empty(t, caps.Codecs)
}

func TestOrderCodecs(t *testing.T) {
	caps := intersectCapabilities(relaytest.RouterCapabilities())
	h264 := media.FindCodec(caps, media.MimeTypeH264)
	require.NotNil(t, h264)

	ordered := orderCodecs(caps.Codecs, h264)
	require.Equal(t, media.MimeTypeH264, ordered[0].MimeType)
	require.Len(t, ordered, len(caps.Codecs))

	vp8 := media.FindCodec(caps, media.MimeTypeVP8)
	ordered = orderCodecs(caps.Codecs, vp8)
	require.Equal(t, media.MimeTypeVP8, ordered[0].MimeType)
	require.Equal(t, "video/rtx", ordered[1].MimeType)
}

func TestFmtpLine(t *testing.T) {
	require.Equal(t, "", fmtpLine(nil))
	require.Equal(t,
		"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		fmtpLine(map[string]any{
			"profile-level-id":        "42e01f",
			"packetization-mode":      1,
			"level-asymmetry-allowed": 1,
		}))

	// decoded JSON numbers are float64
	require.Equal(t,
		"max-fr=30;max-fs=8160;x-google-ratio=0.5;x-google-start-bitrate=1000000",
		fmtpLine(map[string]any{
			"x-google-start-bitrate": float64(1000000),
			"max-fs":                 float64(8160),
			"max-fr":                 float64(30),
			"x-google-ratio":         0.5,
		}))
	require.Equal(t, "apt=101", fmtpLine(relaytest.RouterCapabilities().Codecs[2].Parameters))
}

func TestSendParametersAudio(t *testing.T) {
	caps := intersectCapabilities(relaytest.RouterCapabilities())
	opus := media.FindCodec(caps, media.MimeTypeOpus)

	p := sendParameters("0", *opus, caps, nil, media.MicCodecOptions, 1234, "cname")

	require.Equal(t, "0", p.Mid)
	require.Len(t, p.Codecs, 1)
	require.Equal(t, uint8(100), p.Codecs[0].PayloadType)
	require.Equal(t, 1, p.Codecs[0].Parameters["sprop-stereo"])
	require.Equal(t, 1, p.Codecs[0].Parameters["usedtx"])
	require.Equal(t, []media.RtpEncodingParameters{{Ssrc: 1234}}, p.Encodings)
	require.Equal(t, "cname", p.Rtcp.Cname)

	for _, ext := range p.HeaderExtensions {
		require.NotEqual(t, "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", ext.URI)
	}
}

func TestSendParametersSimulcastCollapses(t *testing.T) {
	caps := intersectCapabilities(relaytest.RouterCapabilities())
	vp8 := media.FindCodec(caps, media.MimeTypeVP8)

	p := sendParameters("1", *vp8, caps, media.WebcamSimulcastEncodings, media.WebcamCodecOptions, 42, "c")

	require.Equal(t, 1000, p.Codecs[0].Parameters["x-google-start-bitrate"])
	require.Equal(t, []media.RtpEncodingParameters{{Ssrc: 42, MaxBitrate: 5000000}}, p.Encodings)

	// the preset itself is untouched
	require.Equal(t, float64(4), media.WebcamSimulcastEncodings[0].ScaleResolutionDownBy)
	require.Nil(t, vp8.Parameters)
}

func TestICECandidates(t *testing.T) {
	cands, err := iceCandidates(relaytest.TransportOptions().IceCandidates)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "127.0.0.1", cands[0].Address)
	require.Equal(t, webrtc.ICEProtocolUDP, cands[0].Protocol)
	require.Equal(t, webrtc.ICECandidateTypeHost, cands[0].Typ)
	require.Equal(t, uint16(40000), cands[0].Port)

	_, err = iceCandidates([]media.IceCandidate{{Protocol: "sctp", Type: "host"}})
	require.Error(t, err)
}

func TestConnectionState(t *testing.T) {
	require.Equal(t, media.ConnectionConnecting, connectionState(webrtc.ICETransportStateChecking))
	require.Equal(t, media.ConnectionConnected, connectionState(webrtc.ICETransportStateCompleted))
	require.Equal(t, media.ConnectionFailed, connectionState(webrtc.ICETransportStateFailed))
	require.Equal(t, media.ConnectionClosed, connectionState(webrtc.ICETransportStateClosed))
}

func TestDeviceLoad(t *testing.T) {
	dev, err := New().NewDevice()
	require.NoError(t, err)

	_, err = dev.CreateSendTransport(relaytest.TransportOptions())
	require.ErrorIs(t, err, media.ErrNotLoaded)
	require.False(t, dev.CanProduce(media.KindAudio))

	require.NoError(t, dev.Load(context.Background(), relaytest.RouterCapabilities()))
	require.True(t, dev.Loaded())
	require.True(t, dev.CanProduce(media.KindAudio))
	require.True(t, dev.CanProduce(media.KindVideo))

	sctp := dev.SctpCapabilities()
	require.Equal(t, sctpStreams, sctp.NumStreams.OS)
}

func TestDeviceLoadRejectsUnsupportedRouter(t *testing.T) {
	dev, err := New().NewDevice()
	require.NoError(t, err)

	err = dev.Load(context.Background(), media.RtpCapabilities{
		Codecs: []media.RtpCodecCapability{{Kind: media.KindVideo, MimeType: media.MimeTypeAV1, ClockRate: 90000}},
	})
	require.ErrorIs(t, err, errNoCommonCodecs)
	require.False(t, dev.Loaded())
}

func TestTransportLifecycle(t *testing.T) {
	dev, err := New().NewDevice()
	require.NoError(t, err)
	require.NoError(t, dev.Load(context.Background(), relaytest.RouterCapabilities()))

	tr, err := dev.CreateRecvTransport(relaytest.TransportOptions())
	require.NoError(t, err)
	require.Equal(t, media.DirectionRecv, tr.Direction())

	states := make(chan media.ConnectionState, 16)
	tr.OnConnectionStateChange(func(s media.ConnectionState) {
		select {
		case states <- s:
		default:
		}
	})

	_, err = tr.Produce(context.Background(), media.ProducerOptions{})
	require.ErrorIs(t, err, errWrongDirection)

	_, err = tr.ConsumeData(context.Background(), media.DataConsumerOptions{})
	require.ErrorIs(t, err, errNoSCTP)

	tr.Close()
	require.True(t, tr.Closed())
	require.NoError(t, tr.Close())

	var sawClosed bool
	for len(states) > 0 {
		if <-states == media.ConnectionClosed {
			sawClosed = true
		}
	}
	require.True(t, sawClosed)

	require.ErrorIs(t, tr.RestartICE(context.Background(), media.IceParameters{}), media.ErrTransportClosed)
}
