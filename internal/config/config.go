package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultServer              = "wss://sfu.warpcall.qzz.io"
	DefaultPath                = "server"
	DefaultSTUN                = "stun:stun.l.google.com:19302"
	DefaultReconnectionTimeout = time.Second

	envPrefix = "WARPCALL"
)

// SessionConfig is the option set a call session is built from. It is
// supplied once, at session construction.
type SessionConfig struct {
	Server string `mapstructure:"server"`
	Path   string `mapstructure:"path"`
	Token  string `mapstructure:"token"`

	DisplayName string `mapstructure:"name"`

	Produce        bool `mapstructure:"produce"`
	Consume        bool `mapstructure:"consume"`
	UseDataChannel bool `mapstructure:"data-channel"`

	ForceH264           bool `mapstructure:"h264"`
	ForceVP9            bool `mapstructure:"vp9"`
	UseSimulcast        bool `mapstructure:"simulcast"`
	UseSharingSimulcast bool `mapstructure:"sharing-simulcast"`
	SVC                 bool `mapstructure:"svc"`
	ForceTCP            bool `mapstructure:"tcp"`

	Resolution Resolution `mapstructure:"resolution"`
	WebcamOnly bool       `mapstructure:"webcam-only"`
	AudioOnly  bool       `mapstructure:"audio-only"`
	Muted      bool       `mapstructure:"muted"`

	ReconnectionTimeout time.Duration `mapstructure:"reconnect-timeout"`

	// ICE servers for the media transports
	STUNServer string `mapstructure:"stun"`
	TURNServer string `mapstructure:"turn"`
	TURNUser   string `mapstructure:"turn-user"`
	TURNPass   string `mapstructure:"turn-pass"`
	ForceRelay bool   `mapstructure:"relay"`
}

// Default returns the configuration used when nothing overrides it.
func Default() SessionConfig {
	return SessionConfig{
		Server:              DefaultServer,
		Path:                DefaultPath,
		Produce:             true,
		Consume:             true,
		UseSimulcast:        true,
		Resolution:          ResolutionHD,
		ReconnectionTimeout: DefaultReconnectionTimeout,
		STUNServer:          DefaultSTUN,
	}
}

// Options for loading config with CLI flag overrides
type Options struct {
	// Flags, when set, take priority over every other source for the flags
	// the user actually changed.
	Flags *pflag.FlagSet

	// ConfigFile overrides the default config file location.
	ConfigFile string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (WARPCALL_*)
// 3. Config file
// 4. Defaults - lowest priority
func Load(opts Options) (*SessionConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	file := opts.ConfigFile
	if file == "" {
		file = DefaultConfigFile()
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if opts.ConfigFile != "" || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("failed to read config %s: %w", file, err)
			}
		}
	}

	var cfg SessionConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d SessionConfig) {
	v.SetDefault("server", d.Server)
	v.SetDefault("path", d.Path)
	v.SetDefault("token", d.Token)
	v.SetDefault("name", d.DisplayName)
	v.SetDefault("produce", d.Produce)
	v.SetDefault("consume", d.Consume)
	v.SetDefault("data-channel", d.UseDataChannel)
	v.SetDefault("h264", d.ForceH264)
	v.SetDefault("vp9", d.ForceVP9)
	v.SetDefault("simulcast", d.UseSimulcast)
	v.SetDefault("sharing-simulcast", d.UseSharingSimulcast)
	v.SetDefault("svc", d.SVC)
	v.SetDefault("tcp", d.ForceTCP)
	v.SetDefault("resolution", string(d.Resolution))
	v.SetDefault("webcam-only", d.WebcamOnly)
	v.SetDefault("audio-only", d.AudioOnly)
	v.SetDefault("muted", d.Muted)
	v.SetDefault("reconnect-timeout", d.ReconnectionTimeout)
	v.SetDefault("stun", d.STUNServer)
	v.SetDefault("turn", d.TURNServer)
	v.SetDefault("turn-user", d.TURNUser)
	v.SetDefault("turn-pass", d.TURNPass)
	v.SetDefault("relay", d.ForceRelay)
}

// Validate rejects combinations the session cannot run with.
func (c *SessionConfig) Validate() error {
	if _, err := ParseResolution(string(c.Resolution)); err != nil {
		return err
	}
	if c.ReconnectionTimeout <= 0 {
		return fmt.Errorf("reconnect timeout must be positive, got %s", c.ReconnectionTimeout)
	}
	if c.ForceRelay && c.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid server URL %q: unsupported scheme %q", c.Server, u.Scheme)
	}
	return nil
}

// DefaultConfigFile is $XDG_CONFIG_HOME/warpcall/config.yaml, or empty when
// the user config dir cannot be determined.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "warpcall", "config.yaml")
}

// ICEServers returns STUN and TURN URLs. TURN entries carry the configured
// credentials.
func (c *SessionConfig) ICEServers() []ICEServer {
	var servers []ICEServer
	if c.STUNServer != "" && !c.ForceRelay {
		servers = append(servers, ICEServer{URLs: []string{c.STUNServer}})
	}
	if c.TURNServer != "" {
		servers = append(servers, ICEServer{
			URLs: []string{
				fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
				fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
			},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// ICEServer is one STUN/TURN entry.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}
