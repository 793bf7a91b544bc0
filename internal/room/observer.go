package room

import "github.com/BioHazard786/Warpcall/internal/media"

// State is the session state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateEntering
	StateJoined
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateEntering:
		return "entering"
	case StateJoined:
		return "joined"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// JoinStatus tracks one join attempt: Loading, then Succeeded or Failed.
type JoinStatus int

const (
	JoinNone JoinStatus = iota
	JoinLoading
	JoinSucceeded
	JoinFailed
)

func (s JoinStatus) String() string {
	switch s {
	case JoinLoading:
		return "loading"
	case JoinSucceeded:
		return "succeeded"
	case JoinFailed:
		return "failed"
	default:
		return "none"
	}
}

// Notice sources.
const (
	SourceDevice    = "device"
	SourceProducer  = "producer"
	SourceConsumer  = "consumer"
	SourceSocket    = "socket"
	SourceTransport = "transport"
)

// Severity of a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a discrete warning or error that does not change the session
// state.
type Notice struct {
	Source   string
	Severity Severity
	Message  string
}

// ProducerInfo describes a local producer to observers.
type ProducerInfo struct {
	ID     string
	Source string
	Kind   media.Kind
	Paused bool
	Codec  string
}

// ActiveSpeaker is the loudest peer, or an empty PeerID when nobody speaks.
type ActiveSpeaker struct {
	PeerID string
	Volume float64
}

type LifecycleObserver interface {
	OnStateChange(state State)
	OnJoinStatus(status JoinStatus)
	OnClose()
}

type PeerObserver interface {
	// OnPeer fires when a peer is added or any of its fields change.
	OnPeer(peer Peer)
	OnPeerClosed(peerID string)
}

type MediaObserver interface {
	OnLocalTrack(track media.Track)
	// OnProducer fires when a local producer appears, changes, or goes
	// away (available false).
	OnProducer(info ProducerInfo, available bool)
	OnActiveSpeaker(speaker ActiveSpeaker)
	OnDataMessage(peerID string, msg DataMessage)
}

type NoticeObserver interface {
	OnNotice(n Notice)
}

// Observer receives everything a session publishes. Callbacks run on
// session goroutines and must not block.
type Observer interface {
	LifecycleObserver
	PeerObserver
	MediaObserver
	NoticeObserver
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStateChange(State)               {}
func (NopObserver) OnJoinStatus(JoinStatus)           {}
func (NopObserver) OnClose()                          {}
func (NopObserver) OnPeer(Peer)                       {}
func (NopObserver) OnPeerClosed(string)               {}
func (NopObserver) OnLocalTrack(media.Track)          {}
func (NopObserver) OnProducer(ProducerInfo, bool)     {}
func (NopObserver) OnActiveSpeaker(ActiveSpeaker)     {}
func (NopObserver) OnDataMessage(string, DataMessage) {}
func (NopObserver) OnNotice(Notice)                   {}

var _ Observer = NopObserver{}
