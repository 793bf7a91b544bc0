package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BioHazard786/Warpcall/internal/capture"
	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media/pionengine"
	"github.com/BioHazard786/Warpcall/internal/netcheck"
	"github.com/BioHazard786/Warpcall/internal/room"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	flagPeerID string
	flagConfig string
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|room-url>",
	Aliases: []string{"j"},
	Short:   "Join a call room",
	Long: `Join a room on the relay and start sending and receiving media.

Examples:
  warpcall join standup
  warpcall join "https://sfu.example.com/?roomId=standup"
  warpcall join standup --name Alice --audio-only
  warpcall join standup --turn turn:turn.example.com --turn-user u --turn-pass p --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd, args[0])
	},
}

func joinRoom(cmd *cobra.Command, target string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roomID, server, err := parseRoomArg(target)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Options{Flags: cmd.Flags(), ConfigFile: flagConfig})
	if err != nil {
		return room.NewError("load config", err)
	}
	if server != "" && !cmd.Flags().Changed("server") {
		cfg.Server = server
	}

	prefs, err := openPreferences()
	if err != nil {
		return room.NewError("load preferences", err)
	}

	capturer, err := capture.New()
	if err != nil {
		return room.NewError("set up capture", err)
	}

	view := ui.NewCallView(roomID)
	session := room.New(room.Identity{
		RoomID: roomID,
		PeerID: flagPeerID,
		URL:    cfg.Server,
		Path:   cfg.Path,
		Token:  cfg.Token,
	}, *cfg, room.Deps{
		Engine:      newEngine(cfg),
		Capturer:    capturer,
		Preferences: prefs,
	}, room.WithObserver(view))
	view.SetControls(session)

	started := time.Now()
	var summary ui.SessionSummary

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		err := view.Run(gctx)
		summary = summarize(session, started)
		session.Close()
		return err
	})
	g.Go(func() error {
		if err := session.Join(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		session.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println()
	ui.RenderSessionSummary(summary)
	ui.PrintSuccess(fmt.Sprintf("Left room %s", roomID))
	return nil
}

// parseRoomArg accepts a bare room id or a room link carrying a roomId
// query parameter. For a link, server is the link's origin.
func parseRoomArg(arg string) (roomID, server string, err error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", "", errors.New("room id is empty")
	}
	if !strings.Contains(arg, "://") {
		return arg, "", nil
	}

	u, err := url.Parse(arg)
	if err != nil {
		return "", "", fmt.Errorf("invalid room link: %w", err)
	}
	roomID = u.Query().Get("roomId")
	if roomID == "" {
		return "", "", fmt.Errorf("room link %q has no roomId", arg)
	}
	return roomID, u.Scheme + "://" + u.Host, nil
}

func newEngine(cfg *config.SessionConfig) *pionengine.Engine {
	log := logging.Module("cmd")

	opts := []pionengine.Option{
		pionengine.WithICEServers(cfg.ICEServers()),
		pionengine.WithLoggerFactory(logging.NewPionFactory()),
	}

	// Relay-only needs a TURN server to relay through.
	if cfg.TURNServer != "" {
		relay, reason := cfg.ForceRelay, "requested"
		if !relay {
			relay, reason = netcheck.ShouldForceRelay()
		}
		if relay {
			log.Info().Str("reason", reason).Msg("using relay-only ICE")
			opts = append(opts, pionengine.WithRelayOnly())
		}
	}

	return pionengine.New(opts...)
}

func openPreferences() (config.Preferences, error) {
	path := config.DefaultPreferencesFile()
	if path == "" {
		return &config.StaticPreferences{}, nil
	}
	prefs, err := config.OpenPreferences(path)
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

func summarize(session *room.Room, started time.Time) ui.SessionSummary {
	id := session.Identity()
	return ui.SessionSummary{
		RoomID:    id.RoomID,
		PeerID:    id.PeerID,
		State:     session.State(),
		Duration:  time.Since(started),
		Peers:     session.Peers(),
		Producers: session.Producers(),
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addSessionFlags(joinCmd.Flags(), config.Default())
}

// addSessionFlags registers one flag per config key so config.Load can bind
// them by name.
func addSessionFlags(f *pflag.FlagSet, d config.SessionConfig) {
	f.StringVar(&flagPeerID, "peer-id", "", "Peer id (random when empty)")
	f.StringVarP(&flagConfig, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/warpcall/config.yaml)")

	f.String("server", d.Server, "Relay server URL")
	f.String("path", d.Path, "Relay WebSocket path")
	f.String("token", d.Token, "Access token for the relay")
	f.StringP("name", "n", d.DisplayName, "Display name")

	f.Bool("produce", d.Produce, "Send local media")
	f.Bool("consume", d.Consume, "Receive remote media")
	f.Bool("data-channel", d.UseDataChannel, "Open chat data channels")

	f.Bool("h264", d.ForceH264, "Force H264 for the webcam")
	f.Bool("vp9", d.ForceVP9, "Force VP9 for the webcam")
	f.Bool("simulcast", d.UseSimulcast, "Send simulcast webcam layers")
	f.Bool("sharing-simulcast", d.UseSharingSimulcast, "Send simulcast screen sharing layers")
	f.Bool("svc", d.SVC, "Prefer SVC layers")
	f.Bool("tcp", d.ForceTCP, "Force TCP for media transports")

	f.StringP("resolution", "r", string(d.Resolution), "Webcam resolution: qvga, vga or hd")
	f.Bool("webcam-only", d.WebcamOnly, "Pause every remote audio consumer")
	f.Bool("audio-only", d.AudioOnly, "Pause every remote video consumer")
	f.BoolP("muted", "m", d.Muted, "Join with the microphone muted")
	f.Duration("reconnect-timeout", d.ReconnectionTimeout, "Delay before reconnecting the signaling channel")

	f.String("stun", d.STUNServer, "STUN server")
	f.String("turn", d.TURNServer, "TURN server")
	f.String("turn-user", d.TURNUser, "TURN username")
	f.String("turn-pass", d.TURNPass, "TURN password")
	f.Bool("relay", d.ForceRelay, "Force relay mode")
}
