package pionengine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/webrtc/v4"
)

func codecType(kind media.Kind) webrtc.RTPCodecType {
	switch kind {
	case media.KindAudio:
		return webrtc.RTPCodecTypeAudio
	case media.KindVideo:
		return webrtc.RTPCodecTypeVideo
	default:
		return webrtc.RTPCodecType(0)
	}
}

// aptOf returns the "apt" parameter of an RTX codec, or -1.
func aptOf(c media.RtpCodecCapability) int {
	switch v := c.Parameters["apt"].(type) {
	case int:
		return v
	case uint8:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return -1
}

// fmtpLine renders codec parameters as an SDP fmtp value with sorted keys.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fmtpValue(params[k]))
	}
	return strings.Join(parts, ";")
}

// fmtpValue formats one parameter. Decoded JSON numbers are float64 and
// must not be written in exponent form.
func fmtpValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func codecParameters(c media.RtpCodecCapability) webrtc.RTPCodecParameters {
	feedback := make([]webrtc.RTCPFeedback, 0, len(c.RtcpFeedback))
	for _, fb := range c.RtcpFeedback {
		feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}

	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    uint32(c.ClockRate),
			Channels:     uint16(c.Channels),
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: feedback,
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

func iceParameters(p media.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.IceLite,
	}
}

func iceCandidates(in []media.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))

	for _, c := range in {
		protocol, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}

		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Host(),
			Protocol:   protocol,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}

	return out, nil
}

func dtlsFingerprints(in []media.DtlsFingerprint) []webrtc.DTLSFingerprint {
	out := make([]webrtc.DTLSFingerprint, 0, len(in))
	for _, f := range in {
		out = append(out, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func localFingerprints(in []webrtc.DTLSFingerprint) []media.DtlsFingerprint {
	out := make([]media.DtlsFingerprint, 0, len(in))
	for _, f := range in {
		out = append(out, media.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func connectionState(s webrtc.ICETransportState) media.ConnectionState {
	switch s {
	case webrtc.ICETransportStateNew:
		return media.ConnectionNew
	case webrtc.ICETransportStateChecking:
		return media.ConnectionConnecting
	case webrtc.ICETransportStateConnected, webrtc.ICETransportStateCompleted:
		return media.ConnectionConnected
	case webrtc.ICETransportStateFailed:
		return media.ConnectionFailed
	case webrtc.ICETransportStateDisconnected:
		return media.ConnectionDisconnected
	default:
		return media.ConnectionClosed
	}
}

// sendParameters builds the RTP parameters announced for a new producer.
// The engine sends one stream per producer, so layered encodings collapse
// to the highest layer carrying the sender's SSRC.
func sendParameters(
	mid string,
	codec media.RtpCodecCapability,
	caps media.RtpCapabilities,
	encodings []media.RtpEncodingParameters,
	opts media.CodecOptions,
	ssrc uint32,
	cname string,
) media.RtpParameters {
	params := make(map[string]any, len(codec.Parameters)+2)
	for k, v := range codec.Parameters {
		params[k] = v
	}

	switch codec.Kind {
	case media.KindAudio:
		if opts.OpusStereo {
			params["sprop-stereo"] = 1
		}
		if opts.OpusDtx {
			params["usedtx"] = 1
		}
	case media.KindVideo:
		if opts.VideoGoogleStartBitrate > 0 {
			params["x-google-start-bitrate"] = opts.VideoGoogleStartBitrate
		}
	}

	enc := media.RtpEncodingParameters{}
	if n := len(encodings); n > 0 {
		enc = encodings[n-1]
	}
	enc.Ssrc = ssrc
	enc.Rid = ""
	enc.ScaleResolutionDownBy = 0

	var exts []media.RtpHeaderExtensionParameters
	for _, ext := range caps.HeaderExtensions {
		if ext.Kind != "" && ext.Kind != codec.Kind {
			continue
		}
		exts = append(exts, media.RtpHeaderExtensionParameters{URI: ext.URI, ID: ext.PreferredID})
	}

	return media.RtpParameters{
		Mid: mid,
		Codecs: []media.RtpCodecParameters{{
			MimeType:     codec.MimeType,
			PayloadType:  codec.PreferredPayloadType,
			ClockRate:    codec.ClockRate,
			Channels:     codec.Channels,
			Parameters:   params,
			RtcpFeedback: codec.RtcpFeedback,
		}},
		HeaderExtensions: exts,
		Encodings:        []media.RtpEncodingParameters{enc},
		Rtcp:             &media.RtcpParameters{Cname: cname, ReducedSize: true},
	}
}
