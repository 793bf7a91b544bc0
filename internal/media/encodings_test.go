package media_test

import (
	"testing"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/stretchr/testify/require"
)

func TestParseScalabilityMode(t *testing.T) {
	tests := []struct {
		mode string
		want media.ScalabilityMode
	}{
		{"S3T3_KEY", media.ScalabilityMode{SpatialLayers: 3, TemporalLayers: 3, KSVC: true}},
		{"S3T3", media.ScalabilityMode{SpatialLayers: 3, TemporalLayers: 3}},
		{"L1T3", media.ScalabilityMode{SpatialLayers: 1, TemporalLayers: 3}},
		{"L2T2_KEY", media.ScalabilityMode{SpatialLayers: 2, TemporalLayers: 2, KSVC: true}},
		{"", media.ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
		{"garbage", media.ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
		{"S0T1", media.ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			require.Equal(t, tt.want, media.ParseScalabilityMode(tt.mode))
		})
	}
}

func TestFindCodec(t *testing.T) {
	caps := media.RtpCapabilities{
		Codecs: []media.RtpCodecCapability{
			{Kind: media.KindAudio, MimeType: "audio/opus"},
			{Kind: media.KindVideo, MimeType: "video/rtx"},
			{Kind: media.KindVideo, MimeType: "video/VP9"},
			{Kind: media.KindVideo, MimeType: "video/H264"},
		},
	}

	c := media.FindCodec(caps, "video/h264")
	require.NotNil(t, c)
	require.Equal(t, "video/H264", c.MimeType)
	require.Equal(t, "H264", c.Name())

	require.Nil(t, media.FindCodec(caps, "video/AV1"))

	first := media.FirstCodec(caps, media.KindVideo)
	require.NotNil(t, first)
	require.Equal(t, "video/VP9", first.MimeType)
}

func TestCloneEncodings(t *testing.T) {
	cloned := media.CloneEncodings(media.WebcamSimulcastEncodings)
	cloned[0].MaxBitrate = 1

	require.Equal(t, 500000, media.WebcamSimulcastEncodings[0].MaxBitrate)
	require.Nil(t, media.CloneEncodings(nil))
}
