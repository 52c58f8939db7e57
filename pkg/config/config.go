// Package config loads bridge configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crosswin/walletbridge/pkg/transport"
)

// Errors returned by the config package.
var (
	ErrNoWalletURL = errors.New("config: wallet URL is required")
	ErrBadMode     = errors.New("config: unknown display mode")
)

// App describes the host application.
type App struct {
	Name     string   `yaml:"name"`
	LogoURL  string   `yaml:"logo_url"`
	ChainIDs []uint64 `yaml:"chain_ids"`
}

// Storage selects the backing store for keys and session state. An
// empty path means in-memory storage.
type Storage struct {
	Path string `yaml:"path"`
}

// Config is the full bridge configuration.
type Config struct {
	WalletURL            string        `yaml:"wallet_url"`
	Mode                 string        `yaml:"mode"`
	ReadyEvent           string        `yaml:"ready_event"`
	UnloadEvent          string        `yaml:"unload_event"`
	Preference           string        `yaml:"preference"`
	PageLocation         string        `yaml:"page_location"`
	EmbeddedReadyTimeout time.Duration `yaml:"embedded_ready_timeout"`
	App                  App           `yaml:"app"`
	Storage              Storage       `yaml:"storage"`
}

// Default returns the configuration defaults applied before a file is
// merged on top.
func Default() Config {
	return Config{
		Mode:                 string(transport.ModePopup),
		ReadyEvent:           transport.DefaultReadyEvent,
		UnloadEvent:          transport.DefaultUnloadEvent,
		EmbeddedReadyTimeout: transport.DefaultEmbeddedReadyTimeout,
	}
}

// Load reads a YAML file on top of the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	if c.WalletURL == "" {
		return ErrNoWalletURL
	}
	if c.Mode != "" && !transport.DisplayMode(c.Mode).IsValid() {
		return fmt.Errorf("%w: %q", ErrBadMode, c.Mode)
	}
	return nil
}

// Transport maps the configuration onto a transport.Config. The opener,
// telemetry reporter, and logger factory are runtime concerns wired by
// the caller.
func (c Config) Transport() transport.Config {
	return transport.Config{
		WalletURL: c.WalletURL,
		Mode:      transport.DisplayMode(c.Mode),
		App: transport.AppMetadata{
			Name:     c.App.Name,
			LogoURL:  c.App.LogoURL,
			ChainIDs: c.App.ChainIDs,
		},
		Preference:           c.Preference,
		PageLocation:         c.PageLocation,
		ReadyEvent:           c.ReadyEvent,
		UnloadEvent:          c.UnloadEvent,
		EmbeddedReadyTimeout: c.EmbeddedReadyTimeout,
	}
}
