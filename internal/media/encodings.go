package media

import (
	"regexp"
	"strconv"
	"strings"
)

// Webcam simulcast layers, lowest first.
var WebcamSimulcastEncodings = []RtpEncodingParameters{
	{ScaleResolutionDownBy: 4, MaxBitrate: 500000},
	{ScaleResolutionDownBy: 2, MaxBitrate: 1000000},
	{ScaleResolutionDownBy: 1, MaxBitrate: 5000000},
}

// Webcam encoding for the layered codec.
var WebcamKSVCEncodings = []RtpEncodingParameters{
	{ScalabilityMode: "S3T3_KEY"},
}

var ScreenSharingSimulcastEncodings = []RtpEncodingParameters{
	{Dtx: true, MaxBitrate: 1500000},
	{Dtx: true, MaxBitrate: 6000000},
}

var ScreenSharingSVCEncodings = []RtpEncodingParameters{
	{ScalabilityMode: "S3T3", Dtx: true},
}

// MicCodecOptions and WebcamCodecOptions are the fixed per-source codec tweaks.
var (
	MicCodecOptions    = CodecOptions{OpusStereo: true, OpusDtx: true}
	WebcamCodecOptions = CodecOptions{VideoGoogleStartBitrate: 1000}
)

// Well-known mime types.
const (
	MimeTypeOpus = "audio/opus"
	MimeTypeVP8  = "video/VP8"
	MimeTypeVP9  = "video/VP9"
	MimeTypeH264 = "video/H264"
	MimeTypeAV1  = "video/AV1"
)

// CloneEncodings returns a copy safe to hand to a transport.
func CloneEncodings(in []RtpEncodingParameters) []RtpEncodingParameters {
	if in == nil {
		return nil
	}
	out := make([]RtpEncodingParameters, len(in))
	copy(out, in)
	return out
}

// ScalabilityMode is a parsed "L1T3" / "S3T3_KEY" style mode.
type ScalabilityMode struct {
	SpatialLayers  int
	TemporalLayers int
	KSVC           bool
}

var scalabilityModeRe = regexp.MustCompile(`^[LS]([1-9]\d{0,1})T([1-9]\d{0,1})(_KEY)?`)

// ParseScalabilityMode parses a scalability mode; an empty or malformed one
// means a single spatial and temporal layer.
func ParseScalabilityMode(mode string) ScalabilityMode {
	m := scalabilityModeRe.FindStringSubmatch(mode)
	if m == nil {
		return ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}
	}

	spatial, _ := strconv.Atoi(m[1])
	temporal, _ := strconv.Atoi(m[2])

	return ScalabilityMode{
		SpatialLayers:  spatial,
		TemporalLayers: temporal,
		KSVC:           strings.HasSuffix(m[0], "_KEY"),
	}
}

// FindCodec returns the first codec in caps whose mime type matches,
// case-insensitively.
func FindCodec(caps RtpCapabilities, mimeType string) *RtpCodecCapability {
	for i := range caps.Codecs {
		if strings.EqualFold(caps.Codecs[i].MimeType, mimeType) {
			c := caps.Codecs[i]
			return &c
		}
	}
	return nil
}

// FirstCodec returns the first non-RTX codec of the given kind.
func FirstCodec(caps RtpCapabilities, kind Kind) *RtpCodecCapability {
	for i := range caps.Codecs {
		if caps.Codecs[i].Kind == kind && !caps.Codecs[i].IsRtx() {
			c := caps.Codecs[i]
			return &c
		}
	}
	return nil
}
