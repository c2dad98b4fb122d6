// Package api assembles the Gin engines of the two HTTP roles: the controller
// serving the worker registry and the OpenAI-compatible gateway.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/modelrelay/internal/access"
	"github.com/modelrelay/modelrelay/internal/api/handlers"
	"github.com/modelrelay/modelrelay/internal/api/handlers/controller"
	"github.com/modelrelay/modelrelay/internal/api/handlers/openai"
	"github.com/modelrelay/modelrelay/internal/api/middleware"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/logging"
	log "github.com/sirupsen/logrus"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

type serverOptionConfig struct {
	accessManager *access.Manager
}

// ServerOption customises server construction.
type ServerOption func(*serverOptionConfig)

// WithAccessManager shares an access manager instead of creating one.
func WithAccessManager(manager *access.Manager) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.accessManager = manager
	}
}

// Server is one HTTP role bound to one listen address.
type Server struct {
	name    string
	engine  *gin.Engine
	server  *http.Server
	handler *handlers.BaseAPIHandler

	accessManager *access.Manager
}

func newServer(name, addr string, cfg *config.Config, opts []ServerOption) (*Server, *serverOptionConfig) {
	optionState := &serverOptionConfig{}
	for _, opt := range opts {
		opt(optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.CORSMiddleware())

	s := &Server{
		name:    name,
		engine:  engine,
		handler: handlers.NewBaseAPIHandlers(&cfg.SDKConfig),
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return s, optionState
}

// NewControllerServer serves the registry endpoints on the controller port.
func NewControllerServer(cfg *config.Config, reg controller.Registry, opts ...ServerOption) *Server {
	s, _ := newServer("controller", cfg.ControllerListenAddr(), cfg, opts)
	h := controller.NewControllerAPIHandler(s.handler, reg)

	s.engine.POST("/register_worker", h.RegisterWorker)
	s.engine.POST("/receive_heart_beat", h.ReceiveHeartBeat)
	s.engine.POST("/remove_worker", h.RemoveWorker)
	s.engine.POST("/refresh_all_workers", h.RefreshAllWorkers)
	s.engine.POST("/get_worker_address", h.GetWorkerAddress)
	s.engine.POST("/list_models", h.ListModels)
	s.engine.POST("/list_multimodal_models", h.ListMultimodalModels)
	s.engine.POST("/list_language_models", h.ListLanguageModels)
	s.engine.GET("/test_connection", h.TestConnection)
	s.engine.GET("/worker_status", h.WorkerStatus)
	return s
}

// NewGatewayServer serves the OpenAI-compatible API. /v1 routes require an
// API key whenever api-keys is non-empty; /health never does.
func NewGatewayServer(cfg *config.Config, router openai.Resolver, workers openai.Workers, opts ...ServerOption) *Server {
	s, optionState := newServer("gateway", cfg.GatewayListenAddr(), cfg, opts)
	s.accessManager = optionState.accessManager
	if s.accessManager == nil {
		s.accessManager = access.NewManager()
	}
	s.accessManager.ApplyConfig(&cfg.SDKConfig)

	h := openai.NewOpenAIAPIHandler(s.handler, router, workers, cfg)
	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(s.accessManager))
	{
		v1.GET("/models", h.OpenAIModels)
		v1.POST("/chat/completions", h.ChatCompletions)
	}
	s.engine.GET("/health", h.Health)
	return s
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and serves until Stop is called. A clean stop returns nil.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return errors.New("api: server not initialized")
	}
	log.Infof("%s listening on %s", s.name, s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %s server: %w", s.name, err)
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %s server: %w", s.name, err)
	}
	return nil
}

// Stop shuts the server down gracefully within ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: %s shutdown: %w", s.name, err)
	}
	log.Debugf("%s stopped", s.name)
	return nil
}

// UpdateClients applies a reloaded configuration: API keys and the streaming
// keep-alive. Listen addresses and routing need a restart.
func (s *Server) UpdateClients(cfg *config.Config) {
	if s == nil || cfg == nil {
		return
	}
	s.handler.UpdateClients(&cfg.SDKConfig)
	if s.accessManager != nil {
		s.accessManager.ApplyConfig(&cfg.SDKConfig)
	}
}
