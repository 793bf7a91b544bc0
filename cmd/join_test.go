package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestParseRoomArg(t *testing.T) {
	tests := []struct {
		arg     string
		roomID  string
		server  string
		wantErr bool
	}{
		{arg: "standup", roomID: "standup"},
		{arg: "  standup ", roomID: "standup"},
		{arg: "https://sfu.example.com/?roomId=standup", roomID: "standup", server: "https://sfu.example.com"},
		{arg: "wss://sfu.example.com:4443/server?roomId=a1&peerId=x", roomID: "a1", server: "wss://sfu.example.com:4443"},
		{arg: "https://sfu.example.com/", wantErr: true},
		{arg: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			roomID, server, err := parseRoomArg(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.roomID, roomID)
			require.Equal(t, tt.server, server)
		})
	}
}

func TestSessionFlagsBindToConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("name: from-file\n"), 0o600))

	flags := pflag.NewFlagSet("join", pflag.ContinueOnError)
	addSessionFlags(flags, config.Default())
	require.NoError(t, flags.Parse([]string{
		"--audio-only",
		"--consume=false",
		"-r", "vga",
		"--reconnect-timeout=3s",
		"--turn", "turn:turn.example.com",
		"--relay",
		"--peer-id", "me",
	}))

	cfg, err := config.Load(config.Options{Flags: flags, ConfigFile: file})
	require.NoError(t, err)

	require.True(t, cfg.AudioOnly)
	require.False(t, cfg.Consume)
	require.True(t, cfg.Produce)
	require.Equal(t, config.ResolutionVGA, cfg.Resolution)
	require.Equal(t, 3*time.Second, cfg.ReconnectionTimeout)
	require.True(t, cfg.ForceRelay)
	require.Equal(t, "from-file", cfg.DisplayName)
	require.Equal(t, "me", flagPeerID)
}
