package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/danmuck/echoctl/internal/config"
	"github.com/danmuck/echoctl/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ginModes = map[string]string{
	config.ModeDefault: gin.ReleaseMode,
	config.ModeDebug:   gin.DebugMode,
	config.ModeTest:    gin.TestMode,
}

// modeFlag accepts only known run modes.
type modeFlag struct {
	value string
	set   bool
}

func (m *modeFlag) String() string { return m.value }

func (m *modeFlag) Set(v string) error {
	if !config.ValidMode(v) {
		return fmt.Errorf("unknown mode %q", v)
	}
	m.value = v
	m.set = true
	return nil
}

func main() {
	logging.ConfigureRuntime("echosrv")

	configPath := flag.String("config", "cmd/echosrv/config.toml", "path to the echosrv TOML config file")
	port := flag.Int("port", 0, "listen port, overrides addr from the config file")
	mode := &modeFlag{value: config.ModeDefault}
	flag.Var(mode, "mode", "run mode: default|debug|test")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load echosrv config")
	}
	if mode.set {
		cfg.Mode = mode.value
	}
	if *port > 0 {
		cfg.Addr = ":" + strconv.Itoa(*port)
	}
	gin.SetMode(ginModes[cfg.Mode])

	server := config.EchoServer(cfg)
	log.Info().
		Str("id", server.ID).
		Str("addr", server.Addr).
		Str("mode", cfg.Mode).
		Int64("max_body_bytes", server.MaxBodyBytes).
		Msg("echosrv started")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("echosrv stopped")
	}
}

// loadConfig falls back to defaults when the file does not exist.
func loadConfig(path string) (config.EchoServerConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config not found, using defaults")
		return config.DefaultEchoServerConfig(), nil
	}
	return config.LoadEchoServerConfig(path)
}
