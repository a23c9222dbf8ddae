package config

import (
	"github.com/danmuck/echoctl/internal/echo"
)

// EchoServer builds an unstarted echo server from cfg.
func EchoServer(cfg EchoServerConfig) *echo.Server {
	s := echo.Appear(cfg.Name, cfg.Addr, cfg.CorsOrigins)
	s.MaxBodyBytes = cfg.MaxBodyBytes
	return s
}
