// Package echo serves the HTTP echo endpoint that echoctl talks to: a POST
// body comes back verbatim with its Content-Type and Content-Length.
package echo

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/echoctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBodyBytes caps an echoed body unless configured otherwise.
const DefaultMaxBodyBytes = 1 << 20

type Server struct {
	ID           string    `json:"id"`
	Addr         string    `json:"addr"`
	MaxBodyBytes int64     `json:"max_body_bytes"`
	Appeared     time.Time `json:"appeared"`

	router *gin.Engine
}

func Appear(id, addr string, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:           id,
		Addr:         addr,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Appeared:     time.Now(),
		router:       r,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Every other path and method belongs to the echo handler, which
	// rejects anything but POST itself.
	s.router.NoRoute(s.handleEcho)
}

func (s *Server) Serve() error {
	s.RegisterRoutes()
	log.Info().Str("id", s.ID).Str("addr", s.Addr).Msg("echo server listening")
	return s.router.Run(s.Addr)
}

func (s *Server) handleEcho(c *gin.Context) {
	log.Debug().Str("remote", c.Request.RemoteAddr).Str("path", c.Request.URL.Path).Msg("echo request")

	if c.Request.Method != http.MethodPost {
		log.Warn().Str("method", c.Request.Method).Msg("echo rejected method")
		c.Header("Allow", http.MethodPost)
		c.Status(http.StatusMethodNotAllowed)
		observability.RecordEcho(s.ID, observability.EchoOutcomeRejected, 0)
		return
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes())
	echo, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			observability.RecordEcho(s.ID, observability.EchoOutcomeTooLarge, 0)
			return
		}
		log.Error().Err(err).Msg("echo read failed")
		c.Status(http.StatusInternalServerError)
		observability.RecordEcho(s.ID, observability.EchoOutcomeFailed, 0)
		return
	}

	log.Debug().Int("bytes", len(echo)).Msg("echo message")
	for _, v := range c.Request.Header.Values("Content-Type") {
		c.Writer.Header().Add("Content-Type", v)
	}
	c.Writer.Header().Set("Content-Length", strconv.Itoa(len(echo)))
	c.Status(http.StatusOK)
	if _, err := c.Writer.Write(echo); err != nil {
		log.Warn().Err(err).Msg("echo write failed")
		observability.RecordEcho(s.ID, observability.EchoOutcomeFailed, 0)
		return
	}
	observability.RecordEcho(s.ID, observability.EchoOutcomeEchoed, len(echo))
}

func (s *Server) maxBodyBytes() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		out = append(out, origin)
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
