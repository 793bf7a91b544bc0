// Package capture opens the local microphone and cameras with
// pion/mediadevices and hands them to the media engine as tracks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrNoTrack = errors.New("device returned no track")

// Encoder settings for captured media.
const (
	videoBitRate     = 1_000_000
	videoKeyInterval = 60
	videoFrameRate   = 30
	audioBitRate     = 64_000
	audioSampleRate  = 48000
)

// Devices implements media.Capturer on the system's capture devices.
type Devices struct {
	log      zerolog.Logger
	selector *mediadevices.CodecSelector

	// enumerate and getUserMedia are swapped out in tests.
	enumerate    func() []mediadevices.MediaDeviceInfo
	getUserMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

// New builds the VP8 and Opus encoders and returns a capturer using them.
func New() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate
	vpxParams.KeyFrameInterval = videoKeyInterval
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = audioBitRate
	opusParams.Latency = opus.Latency20ms

	return &Devices{
		log: logging.Module("capture"),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		enumerate:    mediadevices.EnumerateDevices,
		getUserMedia: mediadevices.GetUserMedia,
	}, nil
}

// VideoInputs lists cameras in enumeration order.
func (d *Devices) VideoInputs(ctx context.Context) ([]media.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []media.DeviceInfo
	for _, info := range d.enumerate() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, media.DeviceInfo{ID: info.DeviceID, Label: info.Label, Kind: media.KindVideo})
	}
	return out, nil
}

// AudioInputs lists microphones in enumeration order.
func (d *Devices) AudioInputs(ctx context.Context) ([]media.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []media.DeviceInfo
	for _, info := range d.enumerate() {
		if info.Kind != mediadevices.AudioInput {
			continue
		}
		out = append(out, media.DeviceInfo{ID: info.DeviceID, Label: info.Label, Kind: media.KindAudio})
	}
	return out, nil
}

// OpenAudio opens the default microphone.
func (d *Devices) OpenAudio(ctx context.Context) (media.Track, error) {
	stream, err := d.open(ctx, mediadevices.MediaStreamConstraints{
		Audio: audioConstraints,
		Codec: d.selector,
	})
	if err != nil {
		return nil, err
	}
	return d.wrap(stream.GetAudioTracks(), media.KindAudio, "")
}

// OpenVideo opens the camera deviceID at the size res names.
func (d *Devices) OpenVideo(ctx context.Context, deviceID string, res config.Resolution) (media.Track, error) {
	stream, err := d.open(ctx, mediadevices.MediaStreamConstraints{
		Video: videoConstraints(deviceID, res),
		Codec: d.selector,
	})
	if err != nil {
		return nil, err
	}
	return d.wrap(stream.GetVideoTracks(), media.KindVideo, deviceID)
}

// open runs getUserMedia, giving up when ctx ends first. A stream that
// arrives after that is closed.
func (d *Devices) open(ctx context.Context, constraints mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)

	go func() {
		stream, err := d.getUserMedia(constraints)
		done <- result{stream, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("get user media: %w", r.err)
		}
		return r.stream, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				closeAll(r.stream.GetTracks())
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *Devices) wrap(tracks []mediadevices.Track, kind media.Kind, deviceID string) (media.Track, error) {
	if len(tracks) == 0 {
		return nil, ErrNoTrack
	}
	closeAll(tracks[1:])

	t := newTrack(tracks[0], kind, deviceID)
	d.log.Debug().Str("track_id", t.ID()).Str("kind", string(kind)).Str("device_id", deviceID).Msg("track opened")
	return t, nil
}

func closeAll(tracks []mediadevices.Track) {
	for _, t := range tracks {
		t.Close()
	}
}

func audioConstraints(c *mediadevices.MediaTrackConstraints) {
	c.SampleRate = prop.Int(audioSampleRate)
	c.ChannelCount = prop.Int(1)
	c.Latency = prop.Duration(20 * time.Millisecond)
}

func videoConstraints(deviceID string, res config.Resolution) mediadevices.MediaOption {
	dims := res.Dimensions()
	return func(c *mediadevices.MediaTrackConstraints) {
		if deviceID != "" {
			c.DeviceID = prop.String(deviceID)
		}
		c.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
		c.Width = prop.Int(dims.Width)
		c.Height = prop.Int(dims.Height)
		c.FrameRate = prop.Float(videoFrameRate)
		c.DiscardFramesOlderThan = 500 * time.Millisecond
	}
}

// Track is a captured track. It satisfies the engine's local track contract
// through TrackLocal.
type Track struct {
	src      mediadevices.Track
	kind     media.Kind
	deviceID string

	mu      sync.Mutex
	stopped bool
	onEnded []func(error)
}

func newTrack(src mediadevices.Track, kind media.Kind, deviceID string) *Track {
	t := &Track{src: src, kind: kind, deviceID: deviceID}
	src.OnEnded(t.ended)
	return t
}

func (t *Track) ID() string       { return t.src.ID() }
func (t *Track) Kind() media.Kind { return t.kind }
func (t *Track) DeviceID() string { return t.deviceID }

// TrackLocal is the pion view of the track.
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.src }

// Stop releases the device. Listeners are not told; ending is reserved for
// the device going away.
func (t *Track) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	return t.src.Close()
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *Track) ended(err error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	fns := append([]func(error){}, t.onEnded...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

var _ media.Capturer = (*Devices)(nil)
