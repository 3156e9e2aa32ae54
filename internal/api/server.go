package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/history"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/logging"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/akuvox-access-core/internal/reconcile"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Scheduler is the part of the sync scheduler the API drives.
type Scheduler interface {
	MarkChange(deviceID string)
	MarkChangeIn(deviceID string, delay time.Duration)
	SyncNow(ctx context.Context, deviceID string) ([]reconcile.Result, error)
	Status() reconcile.SchedulerStatus
}

// DeviceOps runs direct actions against one device.
type DeviceOps interface {
	Reboot(ctx context.Context, rec *device.Record) error
	Diagnose(ctx context.Context, rec *device.Record) akuvox.Diagnostics
}

// HistorySource returns buffered access events, newest first.
type HistorySource interface {
	Snapshot(limit int) []history.Event
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Registry  *registry.Registry
	Devices   *device.Registry
	Scheduler Scheduler
	DeviceOps DeviceOps
	History   HistorySource

	// Optional.
	AuditRepo audit.Repository
	Audit     *audit.Recorder
	MQTT      *mqtt.Client
	DB        *sql.DB
	Hub       *Hub // shared with the event fan-out; created if nil
	Version   string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *registry.Registry
	devices   *device.Registry
	scheduler Scheduler
	deviceOps DeviceOps
	history   HistorySource
	auditRepo audit.Repository
	audit     *audit.Recorder
	mqtt      *mqtt.Client
	db        *sql.DB
	hub       *Hub
	ownHub    bool
	version   string
	startTime time.Time

	server *http.Server
	cancel context.CancelFunc
}

// New validates deps and builds a server. Call Start to listen.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("user registry is required")
	case deps.Devices == nil:
		return nil, fmt.Errorf("device registry is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("scheduler is required")
	case deps.DeviceOps == nil:
		return nil, fmt.Errorf("device operations are required")
	case deps.History == nil:
		return nil, fmt.Errorf("history source is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		devices:   deps.Devices,
		scheduler: deps.Scheduler,
		deviceOps: deps.DeviceOps,
		history:   deps.History,
		auditRepo: deps.AuditRepo,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		hub:       deps.Hub,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub events are broadcast on.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and starts listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if s.ownHub {
		go s.hub.Run(srvCtx)
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
			s.logger.Info("API server starting with TLS", "address", s.server.Addr)
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

// Close waits up to 10 seconds for in-flight requests, then closes.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// record writes an API-sourced audit entry.
func (s *Server) record(action, entityType, entityID string, details map[string]any) {
	s.audit.Record(action, entityType, entityID, "api", details)
}
