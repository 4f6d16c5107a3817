// Package server exposes the engine over HTTP (gin), a websocket envelope
// protocol, Prometheus metrics and a gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/logging"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "nim-recall"

// Server serves the engine.
type Server struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	ping     func(ctx context.Context) error
	router   *gin.Engine
	upgrader websocket.Upgrader
	health   *health.Server
	logger   *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithGatherer serves metrics from g on /metrics. Without it the default
// Prometheus registry is used.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck makes /health and the gRPC health service report the
// result of check, typically a database ping.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.ping = check
	}
}

// New creates a server and registers its routes.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		gatherer: prometheus.DefaultGatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		health: health.NewServer(),
		logger: logging.Module("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", gin.WrapF(s.handleWebsocket))

	api := r.Group("/api/v1")
	api.POST("/search", s.handleSearch)
	api.POST("/messages", s.handlePostMessage)
	api.POST("/context", s.handleContext)

	memories := api.Group("/memories")
	memories.POST("/retrieve", s.handleRetrieve)
	memories.POST("/decay", s.handleDecay)
	memories.GET("/:id", s.handleGetMemory)

	docs := api.Group("/documents")
	docs.POST("", s.handleCreateDocument)
	docs.GET("", s.handleListDocuments)
	docs.GET("/:id", s.handleGetDocument)
	docs.PUT("/:id", s.handleUpdateDocument)
	docs.DELETE("/:id", s.handleDeleteDocument)

	users := api.Group("/users")
	users.GET("/:id/preferences", s.handleGetPreferences)
	users.POST("/:id/preferences/learn", s.handleLearnPreferences)

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on httpAddr and, when grpcAddr is set, the gRPC health
// service on grpcAddr. It returns after ctx is cancelled and both servers
// have shut down, waiting at most shutdownTimeout for in-flight requests.
func (s *Server) Run(ctx context.Context, httpAddr, grpcAddr string, shutdownTimeout time.Duration) error {
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		s.logger.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = httpSrv.Close()
			return fmt.Errorf("listen %s: %w", grpcAddr, err)
		}
		grpcSrv = s.GRPCServer()
		go func() {
			s.logger.Info("gRPC health service listening", "addr", grpcAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	s.logger.Info("Server stopped")
	return runErr
}

// GRPCServer returns a gRPC server with the health service registered.
func (s *Server) GRPCServer() *grpc.Server {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.health)
	return gs
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger logs every request through slog.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
