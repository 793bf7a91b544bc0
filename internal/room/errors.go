package room

import (
	"errors"
	"fmt"
)

var (
	ErrClosed              = errors.New("session closed")
	ErrNotJoined           = errors.New("not joined")
	ErrNoSendTransport     = errors.New("no send transport")
	ErrNoRecvTransport     = errors.New("no receive transport")
	ErrCannotProduce       = errors.New("device cannot produce this kind")
	ErrNoWebcam            = errors.New("no webcam devices")
	ErrNoWebcamProducer    = errors.New("no webcam producer")
	ErrNoMicProducer       = errors.New("no microphone producer")
	ErrNoChatProducer      = errors.New("no chat data producer")
	ErrConsumeDisabled     = errors.New("consuming disabled")
	ErrDataChannelDisabled = errors.New("data channels disabled")
	ErrUnknownConsumer     = errors.New("unknown consumer")
	ErrInFlight            = errors.New("operation already in progress")
)

// SessionError tags a failure with the session step that produced it.
type SessionError struct {
	Op      string
	Err     error
	Details string
}

func (e *SessionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *SessionError {
	return &SessionError{Op: op, Err: err, Details: details}
}
