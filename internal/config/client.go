package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/echoctl/internal/transfer"
)

// ClientConfig is the resolved echoctl configuration.
type ClientConfig struct {
	Transfer transfer.Config
	Verbose  bool
}

type clientFile struct {
	ConnectTimeout  string        `toml:"connect_timeout"`
	TransferTimeout string        `toml:"transfer_timeout"`
	UserAgent       string        `toml:"user_agent"`
	MaxHandles      int           `toml:"max_handles"`
	Verbose         bool          `toml:"verbose"`
	TLS             clientFileTLS `toml:"tls"`
}

type clientFileTLS struct {
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// LoadClientConfig applies the keys defined in path on top of base and
// validates the result. Undefined keys keep their base value.
func LoadClientConfig(path string, base transfer.Config) (ClientConfig, error) {
	cfg := ClientConfig{Transfer: base}

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load echoctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("load echoctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Transfer.ConnectTimeout = d
	}

	if meta.IsDefined("transfer_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TransferTimeout))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse transfer_timeout: %w", err)
		}
		cfg.Transfer.TransferTimeout = d
	}

	if meta.IsDefined("user_agent") {
		cfg.Transfer.UserAgent = strings.TrimSpace(raw.UserAgent)
	}

	if meta.IsDefined("max_handles") {
		cfg.Transfer.MaxHandles = raw.MaxHandles
	}

	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}

	if meta.IsDefined("tls", "ca_file") {
		cfg.Transfer.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}

	if meta.IsDefined("tls", "server_name") {
		cfg.Transfer.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}

	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Transfer.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if err := cfg.Transfer.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}
