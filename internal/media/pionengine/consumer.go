package pionengine

import (
	"errors"
	"io"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

// Consumer receives one remote flow through an RTP receiver.
type Consumer struct {
	id         string
	producerID string
	kind       media.Kind
	params     media.RtpParameters
	receiver   *webrtc.RTPReceiver
	track      *RemoteTrack
	transport  *Transport

	mu               sync.Mutex
	paused           bool
	closed           bool
	onTransportClose func()
}

func newConsumer(t *Transport, opts media.ConsumerOptions, receiver *webrtc.RTPReceiver) *Consumer {
	c := &Consumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		params:     opts.RtpParameters,
		receiver:   receiver,
		transport:  t,
	}
	c.track = newRemoteTrack(opts.ID, opts.Kind, receiver)
	return c
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producerID }
func (c *Consumer) Kind() media.Kind                   { return c.kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.params }
func (c *Consumer) Track() media.Track                 { return c.track }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause stops delivering packets to the track's reader. Packets keep
// arriving until the relay is told to pause too.
func (c *Consumer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.track.enabled.Store(false)
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.track.enabled.Store(true)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.release(c)
	return c.track.Stop()
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransportClose = fn
}

func (c *Consumer) transportClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onTransportClose
	c.mu.Unlock()

	c.track.Stop()
	if fn != nil {
		fn()
	}
}

// RemoteTrack is the receiving end of a consumer. It drains RTP until a
// reader is attached through OnPacket, counting what arrives.
type RemoteTrack struct {
	id       string
	kind     media.Kind
	receiver *webrtc.RTPReceiver

	enabled atomic.Bool
	packets atomic.Uint64
	bytes   atomic.Uint64

	mu       sync.Mutex
	stopped  bool
	onEnded  func(error)
	onPacket func([]byte)
	started  bool
}

func newRemoteTrack(id string, kind media.Kind, receiver *webrtc.RTPReceiver) *RemoteTrack {
	t := &RemoteTrack{id: id, kind: kind, receiver: receiver}
	t.enabled.Store(true)
	return t
}

func (t *RemoteTrack) ID() string       { return t.id }
func (t *RemoteTrack) Kind() media.Kind { return t.kind }
func (t *RemoteTrack) DeviceID() string { return "" }

// Remote exposes the pion track for renderers.
func (t *RemoteTrack) Remote() *webrtc.TrackRemote {
	return t.receiver.Track()
}

// Stats returns the packets and bytes received so far.
func (t *RemoteTrack) Stats() (packets, bytes uint64) {
	return t.packets.Load(), t.bytes.Load()
}

// OnPacket sets the sink for raw RTP packets and starts reading.
func (t *RemoteTrack) OnPacket(fn func([]byte)) {
	t.mu.Lock()
	t.onPacket = fn
	t.mu.Unlock()
	t.start()
}

func (t *RemoteTrack) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
	t.start()
}

func (t *RemoteTrack) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	go t.read()
}

func (t *RemoteTrack) read() {
	remote := t.receiver.Track()
	if remote == nil {
		return
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			t.end(err)
			return
		}

		t.packets.Inc()
		t.bytes.Add(uint64(n))

		if !t.enabled.Load() {
			continue
		}

		t.mu.Lock()
		fn := t.onPacket
		t.mu.Unlock()
		if fn != nil {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			fn(pkt)
		}
	}
}

func (t *RemoteTrack) end(err error) {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()

	if errors.Is(err, io.EOF) {
		err = media.ErrTrackEnded
	}
	if fn != nil {
		fn(err)
	}
}

func (t *RemoteTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	return t.receiver.Stop()
}

// DataConsumer receives on a negotiated data channel.
type DataConsumer struct {
	id             string
	dataProducerID string
	label          string
	protocol       string
	dc             *webrtc.DataChannel
	transport      *Transport

	mu               sync.Mutex
	closed           bool
	onTransportClose func()
}

func newDataConsumer(t *Transport, opts media.DataConsumerOptions, dc *webrtc.DataChannel) *DataConsumer {
	return &DataConsumer{
		id:             opts.ID,
		dataProducerID: opts.DataProducerID,
		label:          opts.Label,
		protocol:       opts.Protocol,
		dc:             dc,
		transport:      t,
	}
}

func (d *DataConsumer) ID() string             { return d.id }
func (d *DataConsumer) DataProducerID() string { return d.dataProducerID }
func (d *DataConsumer) Label() string          { return d.label }
func (d *DataConsumer) Protocol() string       { return d.protocol }

func (d *DataConsumer) OnOpen(fn func())       { d.dc.OnOpen(fn) }
func (d *DataConsumer) OnClose(fn func())      { d.dc.OnClose(fn) }
func (d *DataConsumer) OnError(fn func(error)) { d.dc.OnError(fn) }

func (d *DataConsumer) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *DataConsumer) OnTransportClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTransportClose = fn
}

func (d *DataConsumer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.transport.release(d)
	return d.dc.Close()
}

func (d *DataConsumer) transportClosed() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	fn := d.onTransportClose
	d.mu.Unlock()

	d.dc.Close()
	if fn != nil {
		fn()
	}
}
