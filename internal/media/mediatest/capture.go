package mediatest

import (
	"context"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/media"
)

// Track is a fake capture or remote track.
type Track struct {
	id       string
	kind     media.Kind
	deviceID string

	mu      sync.Mutex
	stopped bool
	onEnded []func(error)
}

func NewTrack(kind media.Kind, deviceID string) *Track {
	return &Track{id: newID(), kind: kind, deviceID: deviceID}
}

func (t *Track) ID() string       { return t.id }
func (t *Track) Kind() media.Kind { return t.kind }
func (t *Track) DeviceID() string { return t.deviceID }

func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// Stopped reports whether Stop was called, i.e. the device was released.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// End simulates the device going away.
func (t *Track) End(err error) {
	t.mu.Lock()
	fns := append([]func(error){}, t.onEnded...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// VideoOpen records one OpenVideo call.
type VideoOpen struct {
	DeviceID   string
	Resolution config.Resolution
}

// Capturer is a fake media.Capturer.
type Capturer struct {
	mu sync.Mutex

	Videos       []media.DeviceInfo
	EnumerateErr error
	AudioErr     error
	VideoErr     error
	// Gate, when set, holds every Open call until it is closed or the
	// call's context ends.
	Gate chan struct{}

	audioOpens int
	videoOpens []VideoOpen
	tracks     []*Track
}

// NewCapturer returns a capturer with one camera.
func NewCapturer() *Capturer {
	return &Capturer{
		Videos: []media.DeviceInfo{{ID: "cam-0", Label: "Integrated Camera", Kind: media.KindVideo}},
	}
}

func (c *Capturer) VideoInputs(ctx context.Context) ([]media.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EnumerateErr != nil {
		return nil, c.EnumerateErr
	}
	return append([]media.DeviceInfo(nil), c.Videos...), nil
}

func (c *Capturer) OpenAudio(ctx context.Context) (media.Track, error) {
	c.mu.Lock()
	c.audioOpens++
	gate := c.Gate
	c.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AudioErr != nil {
		return nil, c.AudioErr
	}
	t := NewTrack(media.KindAudio, "default")
	c.tracks = append(c.tracks, t)
	return t, nil
}

func (c *Capturer) OpenVideo(ctx context.Context, deviceID string, res config.Resolution) (media.Track, error) {
	c.mu.Lock()
	c.videoOpens = append(c.videoOpens, VideoOpen{DeviceID: deviceID, Resolution: res})
	gate := c.Gate
	c.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.VideoErr != nil {
		return nil, c.VideoErr
	}
	t := NewTrack(media.KindVideo, deviceID)
	c.tracks = append(c.tracks, t)
	return t, nil
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AudioOpens counts OpenAudio calls.
func (c *Capturer) AudioOpens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioOpens
}

// VideoOpens returns every OpenVideo call in order.
func (c *Capturer) VideoOpens() []VideoOpen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]VideoOpen(nil), c.videoOpens...)
}

// Tracks returns every track handed out.
func (c *Capturer) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}

var (
	_ media.Track    = (*Track)(nil)
	_ media.Capturer = (*Capturer)(nil)
)
