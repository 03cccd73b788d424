package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gringolingo/gringolingo/common/trace"
	"github.com/gringolingo/gringolingo/common/version"
	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
	"github.com/gringolingo/gringolingo/internal/gringo/tutor"
	"github.com/gringolingo/gringolingo/internal/gringo/whatsapp"
)

const maxRequestBytes = 64 << 10

// statusProvider is the part of the backend /status reports on.
type statusProvider interface {
	MessageCount(ctx context.Context) (int, error)
}

// qrSource renders the pending WhatsApp pairing code.
type qrSource interface {
	QRCodePNG(size int) ([]byte, error)
}

// ServerConfig wires the HTTP API.
type ServerConfig struct {
	Addr    string
	Handler channel.Handler
	Stats   statusProvider
	// QR is set when the WhatsApp transport is enabled.
	QR qrSource
}

// Server exposes the chat endpoint for web clients plus /health, /status
// and the WhatsApp pairing QR code.
type Server struct {
	addr      string
	engine    *gin.Engine
	handler   channel.Handler
	stats     statusProvider
	qr        qrSource
	startedAt time.Time
	server    *http.Server
}

type messageRequest struct {
	UserID    string    `json:"user_id" binding:"required"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type messageResponse struct {
	Reply string `json:"reply"`
	State string `json:"state,omitempty"`
}

type statusResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	StartedAt    time.Time `json:"started_at"`
	UptimeSecs   float64   `json:"uptime_seconds"`
	MessageCount int       `json:"message_count"`
}

// NewServer configures the routes. It does not listen until Start.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		addr:      cfg.Addr,
		handler:   cfg.Handler,
		stats:     cfg.Stats,
		qr:        cfg.QR,
		startedAt: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), limitBody(maxRequestBytes))
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.POST("/v1/messages", s.handleMessage)
	r.GET("/whatsapp/qr.png", s.handleQRCode)
	s.engine = r
	return s
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Start listens in the background and shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:     s,
		ReadTimeout: 10 * time.Second,
		// Replies wait on the generation service.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("HTTP API listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP API stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts the listener down, letting in-flight requests finish.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("HTTP API shutdown error", "err", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version, "commit": version.GitCommit})
}

func (s *Server) handleStatus(c *gin.Context) {
	count := 0
	if s.stats != nil {
		n, err := s.stats.MessageCount(c.Request.Context())
		if err != nil {
			slog.Warn("status: count messages", "err", err)
		}
		count = n
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:       "ok",
		Version:      version.Version,
		Commit:       version.GitCommit,
		BuildTime:    version.BuildTime,
		StartedAt:    s.startedAt,
		UptimeSecs:   time.Since(s.startedAt).Seconds(),
		MessageCount: count,
	})
}

func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and text are required"})
		return
	}

	msg := channel.Message{
		Platform:  channel.PlatformHTTP,
		EventID:   req.MessageID,
		UserKey:   channel.UserKey(channel.PlatformHTTP, req.UserID),
		ChatID:    req.UserID,
		Text:      req.Text,
		Timestamp: req.Timestamp,
	}

	resp, err := s.handler.HandleMessage(c.Request.Context(), msg)
	if err != nil {
		c.JSON(statusFor(err), messageResponse{Reply: resp.Text})
		return
	}
	if resp.Text == "" {
		// Redelivered message_id.
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Reply: resp.Text, State: resp.State})
}

func (s *Server) handleQRCode(c *gin.Context) {
	if s.qr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "WhatsApp is not enabled"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "256"))
	if err != nil || size < 64 || size > 1024 {
		size = 256
	}
	png, err := s.qr.QRCodePNG(size)
	if errors.Is(err, whatsapp.ErrNotPairing) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pairing in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render QR code"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func statusFor(err error) int {
	switch {
	case tutor.IsGenerationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger attaches a trace id to the request context and logs each
// request once it completes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := trace.Ensure(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()
		observability.WithTrace(ctx).Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
