package pionengine

import (
	"context"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/webrtc/v4"
)

// Producer sends one local track through an RTP sender.
type Producer struct {
	id        string
	kind      media.Kind
	sender    *webrtc.RTPSender
	params    media.RtpParameters
	transport *Transport

	mu               sync.Mutex
	track            LocalTrack
	paused           bool
	closed           bool
	onTrackEnded     func()
	onTransportClose func()
}

func newProducer(t *Transport, id string, track LocalTrack, sender *webrtc.RTPSender, params media.RtpParameters) *Producer {
	p := &Producer{
		id:        id,
		kind:      track.Kind(),
		sender:    sender,
		params:    params,
		transport: t,
		track:     track,
	}
	p.watch(track)
	return p
}

func (p *Producer) watch(track LocalTrack) {
	track.OnEnded(func(error) {
		p.mu.Lock()
		current := p.track == track && !p.closed
		fn := p.onTrackEnded
		p.mu.Unlock()

		if current && fn != nil {
			fn()
		}
	})
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() media.Kind                   { return p.kind }
func (p *Producer) RtpParameters() media.RtpParameters { return p.params }

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

// Pause detaches the track from the sender so nothing goes out.
func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused || p.closed {
		return
	}
	p.paused = true
	if err := p.sender.ReplaceTrack(nil); err != nil {
		p.transport.log.Warn().Err(err).Str("producer_id", p.id).Msg("pause failed")
	}
}

func (p *Producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused || p.closed {
		return
	}
	p.paused = false
	if err := p.sender.ReplaceTrack(p.track.TrackLocal()); err != nil {
		p.transport.log.Warn().Err(err).Str("producer_id", p.id).Msg("resume failed")
	}
}

// ReplaceTrack swaps in track and stops the previous one.
func (p *Producer) ReplaceTrack(ctx context.Context, track media.Track) error {
	local, ok := track.(LocalTrack)
	if !ok {
		return errNotSendable
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return media.ErrTransportClosed
	}
	old := p.track
	p.track = local
	paused := p.paused
	p.mu.Unlock()

	if !paused {
		if err := p.sender.ReplaceTrack(local.TrackLocal()); err != nil {
			return err
		}
	}

	p.watch(local)
	if old != nil {
		old.Stop()
	}
	return nil
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

	p.transport.release(p)

	err := p.sender.Stop()
	if track != nil {
		track.Stop()
	}
	return err
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

	p.sender.Stop()
	if track != nil {
		track.Stop()
	}
	if fn != nil {
		fn()
	}
}

// DataProducer sends on a negotiated data channel.
type DataProducer struct {
	id        string
	label     string
	dc        *webrtc.DataChannel
	transport *Transport

	mu               sync.Mutex
	closed           bool
	onTransportClose func()
}

func (d *DataProducer) ID() string    { return d.id }
func (d *DataProducer) Label() string { return d.label }

func (d *DataProducer) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *DataProducer) Close() error {
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

	d.dc.Close()
	if fn != nil {
		fn()
	}
}
