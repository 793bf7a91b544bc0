package signaling

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventConnectError
	eventDisconnect
	eventSignal
	eventNotification
)

type event struct {
	kind         eventKind
	err          error
	signal       Signal
	notification Notification
}

// eventQueue is an unbounded FIFO drained by a single goroutine. The
// JSON-RPC read loop only ever appends, so a listener that issues requests
// can never stall the delivery of their replies.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	wake   chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run(fn func(event)) {
	for range q.wake {
		for {
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return
			}
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			e := q.items[0]
			q.items[0] = event{}
			q.items = q.items[1:]
			q.mu.Unlock()

			fn(e)
		}
	}
}

// pushHandler routes relay-initiated JSON-RPC notifications onto the queue.
type pushHandler struct {
	queue *eventQueue
	log   zerolog.Logger
}

func (h *pushHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req == nil {
		return
	}

	if !req.Notif {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "client accepts notifications only",
		})
		return
	}

	if req.Params == nil {
		h.log.Warn().Str("event", req.Method).Msg("push without params")
		return
	}

	body := json.RawMessage(*req.Params)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.log.Warn().Err(err).Str("event", req.Method).Msg("failed to parse push")
		return
	}

	switch req.Method {
	case EventSignal:
		h.queue.push(event{kind: eventSignal, signal: Signal{Method: env.Method, Body: body}})
	case EventNotification:
		h.queue.push(event{kind: eventNotification, notification: Notification{Method: env.Method, Body: body}})
	default:
		h.log.Debug().Str("event", req.Method).Msg("ignoring unknown push")
	}
}
