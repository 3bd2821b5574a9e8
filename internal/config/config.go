// Package config provides settings management for the macro recorder.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Speed limits offered by the UI
const (
	MinSpeed = 0.25
	MaxSpeed = 3.0
)

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	// Playback contains the default playback settings
	Playback PlaybackConfig `json:"playback" toml:"playback" yaml:"playback"`

	// Hotkeys contains the global hotkey bindings
	Hotkeys HotkeyConfig `json:"hotkeys" toml:"hotkeys" yaml:"hotkeys"`

	// General contains general application settings
	General GeneralConfig `json:"general" toml:"general" yaml:"general"`
}

// PlaybackConfig contains playback settings
type PlaybackConfig struct {
	// Speed is the playback speed multiplier (0.25 - 3.0)
	Speed float64 `json:"speed" toml:"speed" yaml:"speed"`

	// RepeatEnabled loops playback until stopped
	RepeatEnabled bool `json:"repeat_enabled" toml:"repeat_enabled" yaml:"repeat_enabled"`

	// RepeatDelayMs is the pause between passes in milliseconds
	RepeatDelayMs int `json:"repeat_delay_ms" toml:"repeat_delay_ms" yaml:"repeat_delay_ms"`
}

// HotkeyConfig contains the global hotkeys
type HotkeyConfig struct {
	// Enabled turns all global hotkeys on or off
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`

	// Record toggles recording (e.g. "f9")
	Record string `json:"record" toml:"record" yaml:"record"`

	// Play starts playback (e.g. "f10")
	Play string `json:"play" toml:"play" yaml:"play"`

	// Stop stops playback (e.g. "esc")
	Stop string `json:"stop" toml:"stop" yaml:"stop"`

	// Toggle starts or stops playback. Either a key name ("f8") or a
	// scan code ("scan:41") for keys without a stable name.
	Toggle string `json:"toggle" toml:"toggle" yaml:"toggle"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// LastMacroPath is the macro file used by the last save or load
	LastMacroPath string `json:"last_macro_path,omitempty" toml:"last_macro_path,omitempty" yaml:"last_macro_path,omitempty"`

	// Autoload loads LastMacroPath on startup
	Autoload bool `json:"autoload" toml:"autoload" yaml:"autoload"`

	// StartOnBoot determines if app starts on login
	StartOnBoot bool `json:"start_on_boot" toml:"start_on_boot" yaml:"start_on_boot"`

	// APIEnabled enables the local control panel and HTTP API
	APIEnabled bool `json:"api_enabled" toml:"api_enabled" yaml:"api_enabled"`

	// APIPort is the port for the API server (default: 18090)
	APIPort int `json:"api_port" toml:"api_port" yaml:"api_port"`

	// APIToken is an optional authentication token for API requests
	APIToken string `json:"api_token,omitempty" toml:"api_token,omitempty" yaml:"api_token,omitempty"`

	// OpenUI opens the control panel in a browser on startup
	OpenUI bool `json:"open_ui" toml:"open_ui" yaml:"open_ui"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Playback: PlaybackConfig{
			Speed:         1.0,
			RepeatEnabled: false,
			RepeatDelayMs: 250,
		},
		Hotkeys: HotkeyConfig{
			Enabled: true,
			Record:  "f9",
			Play:    "f10",
			Stop:    "esc",
			Toggle:  "f8",
		},
		General: GeneralConfig{
			Autoload:   true,
			APIEnabled: true,
			APIPort:    18090,
		},
	}
}

// Validate checks the configuration for values the application cannot use
func (c *Config) Validate() error {
	var problems []string
	if c.Playback.Speed < MinSpeed || c.Playback.Speed > MaxSpeed {
		problems = append(problems, fmt.Sprintf("playback.speed %.2f outside %.2f-%.2f", c.Playback.Speed, MinSpeed, MaxSpeed))
	}
	if c.Playback.RepeatDelayMs < 0 {
		problems = append(problems, "playback.repeat_delay_ms must not be negative")
	}
	if strings.TrimSpace(c.Hotkeys.Toggle) == "" {
		problems = append(problems, "hotkeys.toggle must not be empty")
	}
	if c.General.APIPort < 0 || c.General.APIPort > 65535 {
		problems = append(problems, fmt.Sprintf("general.api_port %d out of range", c.General.APIPort))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	lastData   []byte
	onChanged  []func()
}

// NewManager creates a configuration manager for the default location
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(configPath), nil
}

// NewManagerAt creates a configuration manager for an explicit file.
// The format follows the extension: .json, .toml, .yaml or .yml.
func NewManagerAt(path string) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "keymacro")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "keymacro")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "keymacro")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Path returns the configuration file path
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk. A missing file keeps the defaults.
// On any error the current configuration is left unchanged.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := decode(m.configPath, data)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.lastData = data
	m.mu.Unlock()

	m.notify()
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := encode(m.configPath, m.config)
	if err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return err
	}
	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		os.Remove(tmp)
		return err
	}
	m.lastData = data
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.config
}

// Set replaces the configuration
func (m *Manager) Set(cfg Config) {
	m.mu.Lock()
	c := cfg
	m.config = &c
	m.mu.Unlock()
	m.notify()
}

// Update applies fn to the configuration and notifies listeners
func (m *Manager) Update(fn func(*Config)) {
	m.mu.Lock()
	c := *m.config
	fn(&c)
	m.config = &c
	m.mu.Unlock()
	m.notify()
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = append(m.onChanged, fn)
}

func (m *Manager) notify() {
	m.mu.Lock()
	callbacks := append([]func(){}, m.onChanged...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// reloadIfChanged reloads the file unless it holds what was last read or written
func (m *Manager) reloadIfChanged() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	same := bytes.Equal(data, m.lastData)
	m.mu.Unlock()
	if same {
		return nil
	}
	log.Printf("Config: %s changed on disk, reloading", filepath.Base(m.configPath))
	return m.Load()
}
