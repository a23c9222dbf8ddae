package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/echoctl/internal/config"
	"github.com/danmuck/echoctl/internal/logging"
	"github.com/danmuck/echoctl/internal/session"
	"github.com/danmuck/echoctl/internal/transfer"
	"github.com/rs/zerolog/log"
)

// Exit codes for each failure class.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitAllocation = 3
	exitTransport  = 4
	exitEngine     = 5
	exitConfig     = 6
)

// errConfig marks failures loading the client config file.
var errConfig = errors.New("echoctl: config failed")

type options struct {
	configPath string
	verbose    bool
	target     string
	message    string
	debug      bool
}

func main() {
	logging.ConfigureRuntime("echoctl")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, ok := parseArgs(args, stdout, stderr)
	if !ok {
		return exitFailure
	}
	if err := echoTwice(ctx, opts, stdout, stderr); err != nil {
		code := exitCode(err)
		log.Error().Err(err).Int("exit_code", code).Str("target", opts.target).Msg("echoctl failed")
		return code
	}
	return exitOK
}

func parseArgs(args []string, stdout, stderr io.Writer) (options, bool) {
	fs := flag.NewFlagSet("echoctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to an echoctl TOML config file")
	fs.BoolVar(&opts.verbose, "verbose", false, "print engine verbose output to stderr")
	if err := fs.Parse(args); err != nil {
		return options{}, false
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintf(stdout, "Usage: %s url msg [flag:debug]\n", fs.Name())
		return options{}, false
	}
	opts.target = rest[0]
	opts.message = rest[1]
	// Any third argument turns on full tracing.
	opts.debug = len(rest) >= 3
	return opts, true
}

func loadConfig(opts options, stderr io.Writer) (config.ClientConfig, error) {
	base := transfer.DefaultConfig()
	base.Stderr = stderr
	cfg := config.ClientConfig{Transfer: base}
	if opts.configPath != "" {
		loaded, err := config.LoadClientConfig(opts.configPath, base)
		if err != nil {
			return config.ClientConfig{}, fmt.Errorf("%w: %w", errConfig, err)
		}
		cfg = loaded
		log.Debug().Str("path", opts.configPath).Msg("loaded echoctl config")
	}
	return cfg, nil
}

func echoTwice(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts, stderr)
	if err != nil {
		return err
	}

	engine, err := transfer.Init(cfg.Transfer)
	if err != nil {
		// A rejected config or CA bundle is the config's fault, not the engine's.
		if errors.Is(err, transfer.ErrInvalidConfig) || errors.Is(err, transfer.ErrTLSCABundle) {
			return fmt.Errorf("%w: %w", errConfig, err)
		}
		return fmt.Errorf("%w: %w", session.ErrEngine, err)
	}
	defer engine.Cleanup()

	s, err := session.New(engine, session.Config{
		Verbose:     opts.debug || opts.verbose || cfg.Verbose,
		Debug:       opts.debug,
		TraceOutput: stderr,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Connect(ctx, opts.target); err != nil {
		return err
	}

	for _, prefix := range []string{"Sending message", "Sending message (again)"} {
		fmt.Fprintf(stdout, "%s: \"%s\"...\n", prefix, opts.message)
		reply, err := s.Post(ctx, opts.message)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Got reply: \"%s\"!\n", reply)
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig):
		return exitConfig
	case errors.Is(err, session.ErrUsage):
		return exitUsage
	case errors.Is(err, session.ErrAllocation):
		return exitAllocation
	case errors.Is(err, session.ErrTransport):
		return exitTransport
	case errors.Is(err, session.ErrEngine):
		return exitEngine
	default:
		return exitFailure
	}
}
