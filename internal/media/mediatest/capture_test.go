package mediatest

import (
	"errors"
	"testing"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/stretchr/testify/require"
)

func TestTrackEndNotifiesEveryListener(t *testing.T) {
	track := NewTrack(media.KindAudio, "mic-0")

	var got []error
	track.OnEnded(func(err error) {
		got = append(got, err)
		// registering from inside a listener must not join the current round
		track.OnEnded(func(error) { got = append(got, nil) })
	})
	track.OnEnded(func(err error) { got = append(got, err) })

	unplugged := errors.New("unplugged")
	track.End(unplugged)
	require.Equal(t, []error{unplugged, unplugged}, got)

	got = nil
	track.End(nil)
	require.Len(t, got, 3)
}
