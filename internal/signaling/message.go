package signaling

import (
	"encoding/json"

	"github.com/BioHazard786/Warpcall/internal/media"
)

// Event names used on the wire. Requests travel as "signal"; the relay pushes
// both "signal" and "notification".
const (
	EventSignal       = "signal"
	EventNotification = "notification"
)

// Request methods, carried in the "method" field of a "signal" request.
const (
	MethodGetRouterRtpCapabilities   = "getRouterRtpCapabilities"
	MethodJoin                       = "join"
	MethodCreateWebRtcTransport      = "createWebRtcTransport"
	MethodConnectWebRtcTransport     = "connectWebRtcTransport"
	MethodRestartIce                 = "restartIce"
	MethodProduce                    = "produce"
	MethodCloseProducer              = "closeProducer"
	MethodPauseProducer              = "pauseProducer"
	MethodResumeProducer             = "resumeProducer"
	MethodCloseConsumer              = "closeConsumer"
	MethodPauseConsumer              = "pauseConsumer"
	MethodResumeConsumer             = "resumeConsumer"
	MethodSetConsumerPreferredLayers = "setConsumerPreferredLayers"
	MethodSetConsumerPriority        = "setConsumerPriority"
	MethodRequestConsumerKeyFrame    = "requestConsumerKeyFrame"
	MethodProduceData                = "produceData"
	MethodChangeDisplayName          = "changeDisplayName"
)

// Server push methods on the "signal" event.
const (
	SignalNewPeer                = "newPeer"
	SignalPeerClosed             = "peerClosed"
	SignalPeerDisplayNameChanged = "peerDisplayNameChanged"
	SignalNewConsumer            = "newConsumer"
	SignalConsumerClosed         = "consumerClosed"
	SignalConsumerPaused         = "consumerPaused"
	SignalConsumerResumed        = "consumerResumed"
	SignalConsumerLayersChanged  = "consumerLayersChanged"
	SignalConsumerScore          = "consumerScore"
	SignalNewDataConsumer        = "newDataConsumer"
	SignalDataConsumerClosed     = "dataConsumerClosed"
)

// Server push methods on the "notification" event.
const (
	NotificationActiveSpeaker        = "activeSpeaker"
	NotificationActiveSpeakerSilence = "activeSpeakerSilence"
)

// Signal is one server push on the "signal" event. Body holds the whole
// message, method included, for lazy decoding into the typed payloads below.
type Signal struct {
	Method string
	Body   json.RawMessage
}

// Decode unmarshals the signal body into v.
func (s Signal) Decode(v any) error {
	return json.Unmarshal(s.Body, v)
}

// Notification is one server push on the "notification" event.
type Notification struct {
	Method string
	Body   json.RawMessage
}

// Decode unmarshals the notification body into v.
func (n Notification) Decode(v any) error {
	return json.Unmarshal(n.Body, v)
}

// envelope peeks at the method of a pushed message.
type envelope struct {
	Method string `json:"method"`
}

// PeerInfo describes a remote peer as announced by the relay.
type PeerInfo struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName,omitempty"`
	Device      json.RawMessage `json:"device,omitempty"`
}

type NewPeer = PeerInfo

type PeerClosed struct {
	PeerID string `json:"peerId"`
}

type PeerDisplayNameChanged struct {
	PeerID         string `json:"peerId"`
	DisplayName    string `json:"displayName"`
	OldDisplayName string `json:"oldDisplayName"`
}

type NewConsumer struct {
	PeerID         string              `json:"peerId"`
	ProducerID     string              `json:"producerId"`
	ConsumerID     string              `json:"consumerId"`
	Kind           media.Kind          `json:"kind"`
	RtpParameters  media.RtpParameters `json:"rtpParameters"`
	Type           string              `json:"type"`
	AppData        map[string]any      `json:"appData,omitempty"`
	ProducerPaused bool                `json:"producerPaused"`
}

type ConsumerClosed struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerPaused struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerResumed struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerLayersChanged struct {
	ConsumerID    string `json:"consumerId"`
	SpatialLayer  *int   `json:"spatialLayer"`
	TemporalLayer *int   `json:"temporalLayer"`
}

type ConsumerScore struct {
	ConsumerID string          `json:"consumerId"`
	Score      json.RawMessage `json:"score"`
}

type NewDataConsumer struct {
	PeerID               string                     `json:"peerId"`
	DataProducerID       string                     `json:"dataProducerId"`
	DataConsumerID       string                     `json:"dataConsumerId"`
	SctpStreamParameters media.SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string                     `json:"label"`
	Protocol             string                     `json:"protocol"`
	AppData              map[string]any             `json:"appData,omitempty"`
}

type DataConsumerClosed struct {
	DataConsumerID string `json:"dataConsumerId"`
}

type ActiveSpeaker struct {
	PeerID string  `json:"peerId"`
	Volume float64 `json:"volume"`
}

type ActiveSpeakerSilence struct {
	PeerID string `json:"peerId"`
}

// Request payloads.

type CreateTransportRequest struct {
	ForceTCP         bool                    `json:"forceTcp"`
	Producing        bool                    `json:"producing"`
	Consuming        bool                    `json:"consuming"`
	SctpCapabilities *media.SctpCapabilities `json:"sctpCapabilities,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID    string               `json:"transportId"`
	DtlsParameters media.DtlsParameters `json:"dtlsParameters"`
}

type RestartIceRequest struct {
	TransportID string `json:"transportId"`
}

type ProduceRequest struct {
	TransportID   string              `json:"transportId"`
	Kind          media.Kind          `json:"kind"`
	RtpParameters media.RtpParameters `json:"rtpParameters"`
	AppData       map[string]any      `json:"appData,omitempty"`
}

type ProduceDataRequest struct {
	TransportID          string                     `json:"transportId"`
	SctpStreamParameters media.SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string                     `json:"label"`
	Protocol             string                     `json:"protocol"`
	AppData              map[string]any             `json:"appData,omitempty"`
}

// IDResponse is the reply to produce and produceData.
type IDResponse struct {
	ID string `json:"id"`
}

type JoinRequest struct {
	DisplayName      string                  `json:"displayName"`
	Device           DeviceInfo              `json:"device"`
	RtpCapabilities  *media.RtpCapabilities  `json:"rtpCapabilities,omitempty"`
	SctpCapabilities *media.SctpCapabilities `json:"sctpCapabilities,omitempty"`
}

// DeviceInfo describes this client to other peers.
type DeviceInfo struct {
	Flag    string `json:"flag"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ProducerRequest struct {
	ProducerID string `json:"producerId"`
}

type ConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerLayersRequest struct {
	ConsumerID    string `json:"consumerId"`
	SpatialLayer  int    `json:"spatialLayer"`
	TemporalLayer int    `json:"temporalLayer"`
}

type ConsumerPriorityRequest struct {
	ConsumerID string `json:"consumerId"`
	Priority   int    `json:"priority"`
}

type ChangeDisplayNameRequest struct {
	DisplayName string `json:"displayName"`
}
