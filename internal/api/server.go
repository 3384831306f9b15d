// Package api provides the HTTP REST API and WebSocket server for the retail
// authentication core.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/retail-auth-core/internal/audit"
	"github.com/nerrad567/retail-auth-core/internal/auth"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/config"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/logging"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// AuditQuerier reads the persisted audit trail.
type AuditQuerier interface {
	List(ctx context.Context, f audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by backing stores reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Broker is the subset of the MQTT client used to fan out session
// revocations between instances and to other subscribers.
type Broker interface {
	PublishJSON(topic string, v any) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Topics() mqtt.Topics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	InstanceID string
	Logger     *logging.Logger
	Auth       *auth.Service
	Audit      *audit.Emitter
	AuditLog   AuditQuerier
	Database   HealthChecker
	MQTT       Broker              // optional
	Gatherer   prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	instanceID string
	logger     *logging.Logger
	auth       *auth.Service
	audit      *audit.Emitter
	auditLog   AuditQuerier
	db         HealthChecker
	mqtt       Broker
	metrics    http.Handler
	version    string
	startTime  time.Time
	server     *http.Server
	hub        *Hub
	tickets    *ticketStore
	limiter    *ipLimiter
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies and registers
// it as the session notifier of the auth service, so every session the
// core removes is pushed to WebSocket clients and the broker.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:        deps.Config,
		instanceID: deps.InstanceID,
		logger:     deps.Logger,
		auth:       deps.Auth,
		audit:      deps.Audit,
		auditLog:   deps.AuditLog,
		db:         deps.Database,
		mqtt:       deps.MQTT,
		metrics:    newMetricsHandler(deps.Gatherer),
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Logger),
		tickets:    newTicketStore(),
	}
	if rl := deps.Config.LoginRateLimit; rl.Enabled {
		s.limiter = newIPLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	deps.Auth.Sessions.SetNotifier(s)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to session revocations published
// by other instances, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	if err := s.subscribeRevocations(); err != nil {
		s.logger.Warn("failed to subscribe to session revocations", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup, limiter sweep)
	if s.cancel != nil {
		s.cancel()
	}
	s.unsubscribeRevocations()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
