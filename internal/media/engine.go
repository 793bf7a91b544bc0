package media

import (
	"context"
	"errors"

	"github.com/BioHazard786/Warpcall/internal/config"
)

var (
	ErrNotLoaded       = errors.New("device not loaded")
	ErrTransportClosed = errors.New("transport closed")
	ErrUnsupportedKind = errors.New("unsupported media kind")
	ErrTrackEnded      = errors.New("track ended")
	ErrNoCodec         = errors.New("no matching codec")
)

// Engine is the media engine: it owns RTP encode/decode, ICE connectivity
// and DTLS/SRTP. The session drives it only through the interfaces below.
type Engine interface {
	NewDevice() (Device, error)
}

// Device holds the negotiated capabilities of this client against one
// router and creates transports from relay-provided parameters.
type Device interface {
	// Load intersects the router capabilities with what the engine supports.
	Load(ctx context.Context, router RtpCapabilities) error
	Loaded() bool
	RtpCapabilities() RtpCapabilities
	SctpCapabilities() SctpCapabilities
	CanProduce(kind Kind) bool
	CreateSendTransport(opts TransportOptions) (Transport, error)
	CreateRecvTransport(opts TransportOptions) (Transport, error)
}

// ConnectionState of a transport.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionClosed       ConnectionState = "closed"
)

// Negotiation listeners. The transport blocks on their return: a nil error
// resolves the pending negotiation step, a non-nil error rejects it.
type (
	ConnectFunc     func(ctx context.Context, dtls DtlsParameters) error
	ProduceFunc     func(ctx context.Context, p ProduceParameters) (id string, err error)
	ProduceDataFunc func(ctx context.Context, p ProduceDataParameters) (id string, err error)
)

type ProduceParameters struct {
	Kind          Kind
	RtpParameters RtpParameters
	AppData       map[string]any
}

type ProduceDataParameters struct {
	SctpStreamParameters SctpStreamParameters
	Label                string
	Protocol             string
	AppData              map[string]any
}

// Transport is one direction of negotiated media.
type Transport interface {
	ID() string
	Direction() Direction

	OnConnect(fn ConnectFunc)
	OnProduce(fn ProduceFunc)
	OnProduceData(fn ProduceDataFunc)
	OnConnectionStateChange(fn func(ConnectionState))

	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	ProduceData(ctx context.Context, opts DataProducerOptions) (DataProducer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	ConsumeData(ctx context.Context, opts DataConsumerOptions) (DataConsumer, error)

	RestartICE(ctx context.Context, ice IceParameters) error
	Close() error
	Closed() bool
}

// CodecOptions tune the produced codec.
type CodecOptions struct {
	OpusStereo              bool
	OpusDtx                 bool
	VideoGoogleStartBitrate int
}

type ProducerOptions struct {
	Track        Track
	Encodings    []RtpEncodingParameters
	CodecOptions CodecOptions
	// Codec pins the send codec; nil picks the first codec of the track's kind.
	Codec   *RtpCodecCapability
	Paused  bool
	AppData map[string]any
}

type ConsumerOptions struct {
	ID            string
	ProducerID    string
	Kind          Kind
	RtpParameters RtpParameters
	AppData       map[string]any
}

type DataProducerOptions struct {
	Label    string
	Protocol string
	Ordered  bool
	AppData  map[string]any
}

type DataConsumerOptions struct {
	ID                   string
	DataProducerID       string
	SctpStreamParameters SctpStreamParameters
	Label                string
	Protocol             string
	AppData              map[string]any
}

// Producer is a local outbound media flow.
type Producer interface {
	ID() string
	Kind() Kind
	Track() Track
	RtpParameters() RtpParameters
	Paused() bool
	Pause()
	Resume()
	// ReplaceTrack swaps the source without renegotiation.
	ReplaceTrack(ctx context.Context, track Track) error
	Close() error
	Closed() bool
	OnTrackEnded(fn func())
	OnTransportClose(fn func())
}

// Consumer is a local representation of a remote flow.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RtpParameters() RtpParameters
	Track() Track
	Paused() bool
	Pause()
	Resume()
	Close() error
	Closed() bool
	OnTransportClose(fn func())
}

type DataProducer interface {
	ID() string
	Label() string
	Send(data []byte) error
	Close() error
	OnTransportClose(fn func())
}

type DataConsumer interface {
	ID() string
	DataProducerID() string
	Label() string
	Protocol() string
	OnOpen(fn func())
	OnClose(fn func())
	OnError(fn func(error))
	OnMessage(fn func([]byte))
	OnTransportClose(fn func())
	Close() error
}

// Track is a live media source or sink.
type Track interface {
	ID() string
	Kind() Kind
	// DeviceID is the capture device behind a local track, empty otherwise.
	DeviceID() string
	Stop() error
	OnEnded(fn func(error))
}

// DeviceInfo describes one capture device.
type DeviceInfo struct {
	ID    string
	Label string
	Kind  Kind
}

// Capturer acquires local capture tracks.
type Capturer interface {
	VideoInputs(ctx context.Context) ([]DeviceInfo, error)
	OpenAudio(ctx context.Context) (Track, error)
	OpenVideo(ctx context.Context, deviceID string, res config.Resolution) (Track, error)
}
