package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Preferences are the user choices that outlive a single session: the name
// shown to other peers and whether the camera should come up on join.
type Preferences interface {
	DisplayName() string
	// WebcamEnabled reports the remembered camera choice. known is false
	// when the user never made one.
	WebcamEnabled() (enabled bool, known bool)
	WebcamDevice() string
	SetDisplayName(name string) error
	SetWebcamEnabled(enabled bool) error
	SetWebcamDevice(deviceID string) error
}

// StaticPreferences keeps preferences in memory.
type StaticPreferences struct {
	mu sync.Mutex

	Name     string
	Webcam   *bool
	WebcamID string
}

func (p *StaticPreferences) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Name
}

func (p *StaticPreferences) WebcamEnabled() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Webcam == nil {
		return false, false
	}
	return *p.Webcam, true
}

func (p *StaticPreferences) WebcamDevice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.WebcamID
}

func (p *StaticPreferences) SetDisplayName(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Name = name
	return nil
}

func (p *StaticPreferences) SetWebcamEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Webcam = &enabled
	return nil
}

func (p *StaticPreferences) SetWebcamDevice(deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WebcamID = deviceID
	return nil
}

const (
	keyDisplayName   = "user.display_name"
	keyWebcamEnabled = "devices.webcam_enabled"
	keyWebcamDevice  = "devices.webcam_device"
)

// FilePreferences persists preferences to a YAML file.
type FilePreferences struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// DefaultPreferencesFile sits next to the default config file.
func DefaultPreferencesFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "warpcall", "preferences.yaml")
}

// OpenPreferences loads preferences from path. A missing file yields empty
// preferences; it is created on the first write.
func OpenPreferences(path string) (*FilePreferences, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read preferences %s: %w", path, err)
	}

	return &FilePreferences{v: v, path: path}, nil
}

func (p *FilePreferences) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(keyDisplayName)
}

func (p *FilePreferences) WebcamEnabled() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.v.IsSet(keyWebcamEnabled) {
		return false, false
	}
	return p.v.GetBool(keyWebcamEnabled), true
}

func (p *FilePreferences) WebcamDevice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(keyWebcamDevice)
}

func (p *FilePreferences) SetDisplayName(name string) error {
	return p.set(keyDisplayName, name)
}

func (p *FilePreferences) SetWebcamEnabled(enabled bool) error {
	return p.set(keyWebcamEnabled, enabled)
}

func (p *FilePreferences) SetWebcamDevice(deviceID string) error {
	return p.set(keyWebcamDevice, deviceID)
}

func (p *FilePreferences) set(key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.v.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	if err := p.v.WriteConfigAs(p.path); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
