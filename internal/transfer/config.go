package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultMaxHandles = 64

var (
	ErrInvalidConfig       = errors.New("transfer: invalid config")
	ErrTLSInsecureWithCA   = errors.New("transfer: insecure skip verify set together with ca file")
	ErrTLSCABundle         = errors.New("transfer: parse tls ca bundle")
	ErrNegativeMaxHandles  = errors.New("transfer: max handles must not be negative")
	ErrNegativeTimeout     = errors.New("transfer: timeouts must not be negative")
	ErrUserAgentLineBreaks = errors.New("transfer: user agent contains line breaks")
)

// TLSConfig controls certificate verification for https:// and tls:// targets.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines engine-wide defaults shared by every handle.
type Config struct {
	// ConnectTimeout bounds dial plus TLS handshake. Zero disables it.
	ConnectTimeout time.Duration
	// TransferTimeout bounds one Perform call. Zero disables it.
	TransferTimeout time.Duration
	UserAgent       string
	// MaxHandles caps live handles; zero selects the default.
	MaxHandles int
	// Stderr receives verbose output when no debug callback is installed.
	Stderr io.Writer
	TLS    TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		TransferTimeout: 15 * time.Second,
		MaxHandles:      defaultMaxHandles,
		Stderr:          os.Stderr,
	}
}

// WithDefaults fills unset fields that have no meaningful zero value.
func (c Config) WithDefaults() Config {
	if c.MaxHandles == 0 {
		c.MaxHandles = defaultMaxHandles
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	c.UserAgent = strings.TrimSpace(c.UserAgent)
	c.TLS.CAFile = strings.TrimSpace(c.TLS.CAFile)
	c.TLS.ServerName = strings.TrimSpace(c.TLS.ServerName)
	return c
}

func (c Config) Validate() error {
	if c.ConnectTimeout < 0 || c.TransferTimeout < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNegativeTimeout)
	}
	if c.MaxHandles < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNegativeMaxHandles)
	}
	if strings.ContainsAny(c.UserAgent, "\r\n") {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrUserAgentLineBreaks)
	}
	if c.TLS.InsecureSkipVerify && strings.TrimSpace(c.TLS.CAFile) != "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrTLSInsecureWithCA)
	}
	return nil
}
