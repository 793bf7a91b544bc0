package mediatest

import (
	"context"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
)

// Producer is a fake media.Producer.
type Producer struct {
	transport *Transport
	id        string
	kind      media.Kind
	params    media.RtpParameters
	opts      media.ProducerOptions

	mu               sync.Mutex
	track            media.Track
	paused           bool
	closed           bool
	replaced         int
	onTrackEnded     func()
	onTransportClose func()
}

func newProducer(t *Transport, id string, opts media.ProducerOptions, params media.RtpParameters) *Producer {
	p := &Producer{
		transport: t,
		id:        id,
		kind:      opts.Track.Kind(),
		params:    params,
		opts:      opts,
		track:     opts.Track,
		paused:    opts.Paused,
	}
	p.watch(opts.Track)
	return p
}

func (p *Producer) watch(track media.Track) {
	track.OnEnded(func(error) {
		p.mu.Lock()
		fire := p.track == track && !p.closed
		fn := p.onTrackEnded
		p.mu.Unlock()
		if fire && fn != nil {
			fn()
		}
	})
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() media.Kind                   { return p.kind }
func (p *Producer) RtpParameters() media.RtpParameters { return p.params }

// Options returns what the producer was created with.
func (p *Producer) Options() media.ProducerOptions { return p.opts }

func (p *Producer) Track() media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *Producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

func (p *Producer) ReplaceTrack(ctx context.Context, track media.Track) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return media.ErrTransportClosed
	}
	old := p.track
	p.track = track
	p.replaced++
	p.mu.Unlock()

	p.watch(track)
	if old != nil {
		old.Stop()
	}
	return nil
}

// Replaced counts ReplaceTrack calls.
func (p *Producer) Replaced() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replaced
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	track := p.track
	p.mu.Unlock()

	if track != nil {
		track.Stop()
	}
	return nil
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrackEnded = fn
}

func (p *Producer) OnTransportClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTransportClose = fn
}

func (p *Producer) transportClosed() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onTransportClose
	track := p.track
	p.mu.Unlock()

	if track != nil {
		track.Stop()
	}
	if fn != nil {
		fn()
	}
}

// Consumer is a fake media.Consumer.
type Consumer struct {
	opts  media.ConsumerOptions
	track *Track

	mu               sync.Mutex
	paused           bool
	closed           bool
	onTransportClose func()
}

func (c *Consumer) ID() string                         { return c.opts.ID }
func (c *Consumer) ProducerID() string                 { return c.opts.ProducerID }
func (c *Consumer) Kind() media.Kind                   { return c.opts.Kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.opts.RtpParameters }
func (c *Consumer) Track() media.Track                 { return c.track }

// AppData returns the application data the consumer was created with.
func (c *Consumer) AppData() map[string]any { return c.opts.AppData }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
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

	if fn != nil {
		fn()
	}
}

// DataProducer is a fake media.DataProducer that records what it sends.
type DataProducer struct {
	id    string
	label string

	mu               sync.Mutex
	sent             [][]byte
	closed           bool
	onTransportClose func()
}

func (d *DataProducer) ID() string    { return d.id }
func (d *DataProducer) Label() string { return d.label }

func (d *DataProducer) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return media.ErrTransportClosed
	}
	d.sent = append(d.sent, append([]byte(nil), data...))
	return nil
}

// Sent returns every payload passed to Send.
func (d *DataProducer) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}

func (d *DataProducer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DataProducer) OnTransportClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTransportClose = fn
}

func (d *DataProducer) transportClosed() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	fn := d.onTransportClose
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// DataConsumer is a fake media.DataConsumer. Open, Deliver, Fail and
// CloseRemote play the remote side.
type DataConsumer struct {
	opts media.DataConsumerOptions

	mu               sync.Mutex
	closed           bool
	onOpen           func()
	onClose          func()
	onError          func(error)
	onMessage        func([]byte)
	onTransportClose func()
}

func (d *DataConsumer) ID() string             { return d.opts.ID }
func (d *DataConsumer) DataProducerID() string { return d.opts.DataProducerID }
func (d *DataConsumer) Label() string          { return d.opts.Label }
func (d *DataConsumer) Protocol() string       { return d.opts.Protocol }

func (d *DataConsumer) OnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *DataConsumer) OnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = fn
}

func (d *DataConsumer) OnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

func (d *DataConsumer) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

func (d *DataConsumer) OnTransportClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTransportClose = fn
}

func (d *DataConsumer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DataConsumer) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DataConsumer) Open() {
	d.mu.Lock()
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *DataConsumer) Deliver(msg []byte) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (d *DataConsumer) Fail(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (d *DataConsumer) CloseRemote() {
	d.mu.Lock()
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
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

	if fn != nil {
		fn()
	}
}

var (
	_ media.Producer     = (*Producer)(nil)
	_ media.Consumer     = (*Consumer)(nil)
	_ media.DataProducer = (*DataProducer)(nil)
	_ media.DataConsumer = (*DataConsumer)(nil)
)
