// Package config loads and validates the echosrv configuration file and
// renders starter templates for both binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Server run modes. Each maps onto a gin mode in cmd/echosrv.
const (
	ModeDefault = "default"
	ModeDebug   = "debug"
	ModeTest    = "test"
)

var ErrInvalidServerConfig = errors.New("config: invalid echo server config")

type EchoServerConfig struct {
	Name         string   `toml:"name"`
	Addr         string   `toml:"addr"`
	Mode         string   `toml:"mode"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
	CorsOrigins  []string `toml:"cors_origins"`
}

func DefaultEchoServerConfig() EchoServerConfig {
	return EchoServerConfig{
		Name:         "echosrv",
		Addr:         ":8080",
		Mode:         ModeDefault,
		MaxBodyBytes: 1 << 20,
		CorsOrigins:  []string{"http://localhost:3000"},
	}
}

// LoadEchoServerConfig reads path over the defaults. Keys absent from the
// file keep their default value.
func LoadEchoServerConfig(path string) (EchoServerConfig, error) {
	cfg := DefaultEchoServerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return EchoServerConfig{}, err
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeDefault
	}
	if err := ValidateEchoServerConfig(cfg); err != nil {
		return EchoServerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateEchoServerConfig(cfg EchoServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidServerConfig)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: missing addr", ErrInvalidServerConfig)
	}
	if !ValidMode(cfg.Mode) {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidServerConfig, cfg.Mode)
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidServerConfig)
	}
	for i, origin := range cfg.CorsOrigins {
		origin = strings.TrimSpace(origin)
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: cors_origins[%d] %q needs an http(s) scheme", ErrInvalidServerConfig, i, origin)
		}
	}
	return nil
}

func ValidMode(mode string) bool {
	switch mode {
	case ModeDefault, ModeDebug, ModeTest:
		return true
	}
	return false
}
