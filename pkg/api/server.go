// Package api provides the local HTTP status API of a chat node
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/zentalk-chat/pkg/chat"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

var log = logging.Logger("chat/api")

// ChatService is the chat runtime seen by the API
type ChatService interface {
	Status() chat.Status
	Submit(ctx context.Context, text string) error
}

// Directory lists known peers
type Directory interface {
	Snapshot() []registry.Entry
	Len() int
}

// Server represents the HTTP status API server
type Server struct {
	service    ChatService
	directory  Directory
	router     *gin.Engine
	limiter    *RateLimiter
	config     *Config
	startedAt  time.Time
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Host          string
	Port          int
	EnableCORS    bool
	RateLimit     int // Requests per minute
	SubmitTimeout time.Duration
	MaxTextLength int // Longest accepted message in bytes
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          8081,
		EnableCORS:    true,
		RateLimit:     100,
		SubmitTimeout: 5 * time.Second,
		MaxTextLength: protocol.MaxLineLength(protocol.MaxFrameSize),
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// NewServer creates a new HTTP API server
func NewServer(service ChatService, directory Directory, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	if config.MaxTextLength <= 0 {
		config.MaxTextLength = DefaultConfig().MaxTextLength
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		service:   service,
		directory: directory,
		router:    gin.New(),
		limiter:   NewRateLimiter(config.RateLimit),
		config:    config,
		startedAt: time.Now(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/node", s.handleNode)
		v1.GET("/peers", s.handlePeers)
		v1.POST("/messages", s.handleSendMessage)
	}

	s.router.GET("/health", s.handleHealth)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infow("status API listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.limiter.Stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.limiter.Stop()
	return s.httpServer.Shutdown(shutdownCtx)
}
