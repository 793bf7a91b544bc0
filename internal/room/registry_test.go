package room

import (
	"testing"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()

	r.Add("b", "Bob", nil)
	r.Add("a", "Alice", nil)
	r.Add("c", "Carol", nil)
	require.True(t, r.Remove("b"))
	require.False(t, r.Remove("b"))
	r.Add("d", "Dan", nil)

	var ids []string
	for _, p := range r.Snapshot() {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"a", "c", "d"}, ids)
	require.Equal(t, 3, r.Len())
	require.True(t, r.Has("a"))
	require.False(t, r.Has("b"))

	r.Clear()
	require.Empty(t, r.Snapshot())
}

func TestRegistryReaddResetsFlows(t *testing.T) {
	r := NewRegistry()
	r.Add("a", "Alice", nil)
	_, ok := r.AddConsumer("a", PeerConsumer{ID: "c1"})
	require.True(t, ok)

	p := r.Add("a", "Alice again", nil)
	require.Empty(t, p.Consumers)
	require.Equal(t, "Alice again", p.DisplayName)
}

func TestRegistryConsumers(t *testing.T) {
	r := NewRegistry()
	r.Add("a", "Alice", nil)

	_, ok := r.AddConsumer("ghost", PeerConsumer{ID: "c0"})
	require.False(t, ok)
	_, ok = r.AddDataConsumer("ghost", PeerDataConsumer{ID: "d0"})
	require.False(t, ok)

	r.AddConsumer("a", PeerConsumer{ID: "c1", Kind: media.KindAudio, Priority: 1})
	r.AddConsumer("a", PeerConsumer{ID: "c2", Kind: media.KindVideo, Priority: 1})
	r.AddDataConsumer("a", PeerDataConsumer{ID: "d1", Label: "chat"})

	p, ok := r.UpdateConsumer("c2", func(c *PeerConsumer) { c.Priority = 7 })
	require.True(t, ok)
	require.Equal(t, 7, p.Consumers[1].Priority)

	_, ok = r.UpdateConsumer("nope", func(c *PeerConsumer) { c.Priority = 9 })
	require.False(t, ok)

	p, ok = r.RemoveConsumer("c1")
	require.True(t, ok)
	require.Len(t, p.Consumers, 1)
	require.Equal(t, "c2", p.Consumers[0].ID)

	_, ok = r.RemoveConsumer("c1")
	require.False(t, ok)

	p, ok = r.RemoveDataConsumer("d1")
	require.True(t, ok)
	require.Empty(t, p.DataConsumers)
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Add("a", "Alice", nil)
	r.AddConsumer("a", PeerConsumer{ID: "c1", Priority: 1})

	p, _ := r.Get("a")
	p.DisplayName = "Mallory"
	p.Consumers[0].Priority = 42

	again, _ := r.Get("a")
	require.Equal(t, "Alice", again.DisplayName)
	require.Equal(t, 1, again.Consumers[0].Priority)

	snap := r.Snapshot()
	snap[0].Consumers[0].Priority = 42
	again, _ = r.Get("a")
	require.Equal(t, 1, again.Consumers[0].Priority)
}

func TestRegistrySetDisplayName(t *testing.T) {
	r := NewRegistry()
	r.Add("a", "Alice", nil)

	p, ok := r.SetDisplayName("a", "Al")
	require.True(t, ok)
	require.Equal(t, "Al", p.DisplayName)

	_, ok = r.SetDisplayName("ghost", "Boo")
	require.False(t, ok)
}

func TestPeerConsumerPlayable(t *testing.T) {
	require.True(t, PeerConsumer{}.Playable())
	require.False(t, PeerConsumer{LocallyPaused: true}.Playable())
	require.False(t, PeerConsumer{RemotelyPaused: true}.Playable())
}
