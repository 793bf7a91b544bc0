package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// fakeSource overrides the parts of mediadevices.Track the capturer uses.
type fakeSource struct {
	mediadevices.Track

	id   string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	closed  bool
	onEnded func(error)
}

func (f *fakeSource) ID() string                 { return f.id }
func (f *fakeSource) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) OnEnded(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}

func (f *fakeSource) end(err error) {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	fn(err)
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeStream struct {
	mediadevices.MediaStream
	tracks []mediadevices.Track
}

func (s fakeStream) GetTracks() []mediadevices.Track { return s.tracks }

func (s fakeStream) GetAudioTracks() []mediadevices.Track {
	return s.byKind(webrtc.RTPCodecTypeAudio)
}

func (s fakeStream) GetVideoTracks() []mediadevices.Track {
	return s.byKind(webrtc.RTPCodecTypeVideo)
}

func (s fakeStream) byKind(kind webrtc.RTPCodecType) []mediadevices.Track {
	var out []mediadevices.Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func newDevices(gum func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)) *Devices {
	return &Devices{
		log: logging.Module("capture"),
		enumerate: func() []mediadevices.MediaDeviceInfo {
			return []mediadevices.MediaDeviceInfo{
				{DeviceID: "mic-0", Kind: mediadevices.AudioInput, Label: "Built-in Microphone"},
				{DeviceID: "cam-1", Kind: mediadevices.VideoInput, Label: "USB Camera"},
				{DeviceID: "cam-0", Kind: mediadevices.VideoInput, Label: "Integrated Camera"},
			}
		},
		getUserMedia: gum,
	}
}

func TestVideoInputsKeepsEnumerationOrder(t *testing.T) {
	d := newDevices(nil)

	cams, err := d.VideoInputs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []media.DeviceInfo{
		{ID: "cam-1", Label: "USB Camera", Kind: media.KindVideo},
		{ID: "cam-0", Label: "Integrated Camera", Kind: media.KindVideo},
	}, cams)

	mics, err := d.AudioInputs(context.Background())
	require.NoError(t, err)
	require.Len(t, mics, 1)
	require.Equal(t, "mic-0", mics[0].ID)
}

func TestOpenVideoConstraints(t *testing.T) {
	src := &fakeSource{id: "v1", kind: webrtc.RTPCodecTypeVideo}

	var got mediadevices.MediaTrackConstraints
	d := newDevices(func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		require.Nil(t, c.Audio)
		c.Video(&got)
		return fakeStream{tracks: []mediadevices.Track{src}}, nil
	})

	track, err := d.OpenVideo(context.Background(), "cam-0", config.ResolutionVGA)
	require.NoError(t, err)

	require.Equal(t, prop.String("cam-0"), got.DeviceID)
	require.Equal(t, prop.Int(640), got.Width)
	require.Equal(t, prop.Int(480), got.Height)

	require.Equal(t, "v1", track.ID())
	require.Equal(t, media.KindVideo, track.Kind())
	require.Equal(t, "cam-0", track.DeviceID())
	require.Same(t, src, track.(*Track).TrackLocal())
}

func TestOpenAudioKeepsOneTrack(t *testing.T) {
	first := &fakeSource{id: "a1", kind: webrtc.RTPCodecTypeAudio}
	extra := &fakeSource{id: "a2", kind: webrtc.RTPCodecTypeAudio}

	d := newDevices(func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		require.Nil(t, c.Video)
		return fakeStream{tracks: []mediadevices.Track{first, extra}}, nil
	})

	track, err := d.OpenAudio(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a1", track.ID())
	require.Equal(t, media.KindAudio, track.Kind())
	require.False(t, first.isClosed())
	require.True(t, extra.isClosed())
}

func TestOpenErrors(t *testing.T) {
	d := newDevices(func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		return nil, errors.New("permission denied")
	})
	_, err := d.OpenAudio(context.Background())
	require.ErrorContains(t, err, "permission denied")

	d = newDevices(func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		return fakeStream{}, nil
	})
	_, err = d.OpenVideo(context.Background(), "cam-0", config.ResolutionHD)
	require.ErrorIs(t, err, ErrNoTrack)
}

func TestOpenCanceledReleasesLateStream(t *testing.T) {
	src := &fakeSource{id: "v1", kind: webrtc.RTPCodecTypeVideo}
	release := make(chan struct{})

	d := newDevices(func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		<-release
		return fakeStream{tracks: []mediadevices.Track{src}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.OpenVideo(ctx, "cam-0", config.ResolutionHD)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.Eventually(t, src.isClosed, time.Second, 10*time.Millisecond)
}

func TestTrackEnded(t *testing.T) {
	src := &fakeSource{id: "v1", kind: webrtc.RTPCodecTypeVideo}
	track := newTrack(src, media.KindVideo, "cam-0")

	var got []error
	track.OnEnded(func(err error) { got = append(got, err) })

	src.end(errors.New("unplugged"))
	require.Len(t, got, 1)

	// a stopped track is released, not ended
	require.NoError(t, track.Stop())
	require.NoError(t, track.Stop())
	require.True(t, src.isClosed())
	src.end(errors.New("closed"))
	require.Len(t, got, 1)
}
