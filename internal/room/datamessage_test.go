package room

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataMessageChat(t *testing.T) {
	msg, err := NewDataMessage(MessageChat, "p1", "hello")
	require.NoError(t, err)

	b, err := msg.Encode()
	require.NoError(t, err)

	got := ParseDataMessage(b)
	require.Equal(t, MessageChat, got.Type)
	require.Equal(t, "p1", got.From)
	require.Equal(t, "hello", got.Text())
	require.Nil(t, got.Raw)
}

func TestDataMessagePayload(t *testing.T) {
	type reaction struct {
		Emoji string `msgpack:"emoji"`
		Count int    `msgpack:"count"`
	}

	msg, err := NewDataMessage("reaction", "p1", reaction{Emoji: "+1", Count: 3})
	require.NoError(t, err)
	b, err := msg.Encode()
	require.NoError(t, err)

	var got reaction
	require.NoError(t, ParseDataMessage(b).DecodePayload(&got))
	require.Equal(t, reaction{Emoji: "+1", Count: 3}, got)

	// not a chat message, so there is no text
	require.Empty(t, ParseDataMessage(b).Text())
}

func TestDataMessageRawFallback(t *testing.T) {
	for _, in := range [][]byte{
		[]byte("plain text from a browser"),
		{0xc1},
		{},
	} {
		got := ParseDataMessage(in)
		require.Equal(t, MessageRaw, got.Type)
		require.Equal(t, string(in), got.Text())
	}
}
