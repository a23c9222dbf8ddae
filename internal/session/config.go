package session

import (
	"io"
	"os"
)

// Config holds the per-session tracing switches, fixed at construction.
type Config struct {
	// Verbose turns on engine verbose output.
	Verbose bool
	// Debug installs the hex dump trace callback. The engine only invokes it
	// while Verbose is also set.
	Debug bool
	// TraceOutput receives hex dumps when Debug is set.
	TraceOutput io.Writer
}

func DefaultConfig() Config {
	return Config{
		TraceOutput: os.Stderr,
	}
}

func (c Config) WithDefaults() Config {
	if c.TraceOutput == nil {
		c.TraceOutput = os.Stderr
	}
	return c
}
