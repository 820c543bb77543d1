// Package server wires every component into a running process, the same
// shape as the teacher's internal/server (Dependency + Server, built
// once in NewServer, started/shut down by Start/Shutdown).
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shipyard/sandboxd/internal/api"
	"github.com/shipyard/sandboxd/internal/capability"
	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/config"
	dockerdriver "github.com/shipyard/sandboxd/internal/driver/docker"
	"github.com/shipyard/sandboxd/internal/idempotency"
	"github.com/shipyard/sandboxd/internal/monitor"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/reconciler"
	"github.com/shipyard/sandboxd/internal/runtimeclient"
	"github.com/shipyard/sandboxd/internal/sandbox"
	"github.com/shipyard/sandboxd/internal/session"
	"github.com/shipyard/sandboxd/internal/warmpool"
	"github.com/shipyard/sandboxd/internal/warmup"
)

type Server struct {
	cfg           *config.Config
	deps          *Dependency
	httpServer    *http.Server
	asynqServer   *asynq.Server
	asynqMux      *asynq.ServeMux
	asynqSched    *asynq.Scheduler
	sandboxMgr    *sandbox.Manager
	warmupQueue   *warmup.Queue
	warmPoolSched *warmpool.Scheduler
	logger        *slog.Logger
}

// grpcTarget derives the Ship runtime's gRPC BrowserBatch address from its
// REST endpoint: same host, fixed gRPC port (spec §4.3 — both services
// run in the same sandbox container).
func grpcTarget(endpoint string, grpcPort int) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return endpoint
	}
	return u.Hostname() + ":" + strconv.Itoa(grpcPort)
}

func NewServer(cfg *config.Config, deps *Dependency) (*Server, error) {
	logger := deps.Logger
	cl := clock.System{}

	profiles, err := profile.Load(cfg.Profile.File)
	if err != nil {
		return nil, err
	}

	drv := dockerdriver.New(deps.Docker, cfg.Docker.NetworkName, logger)

	clientFactory := func(endpoint string) runtimeclient.Client {
		return runtimeclient.NewCompositeClient(endpoint, grpcTarget(endpoint, cfg.Runtime.GRPCPort), cfg.Runtime.RequestTimeout, logger)
	}
	pool := runtimeclient.NewPool(cfg.Runtime.PoolMaxSize, cfg.Runtime.PoolTTL, clientFactory)

	healthFactory := func(endpoint string) session.HealthChecker {
		return pool.GetOrCreate(endpoint)
	}

	sessionMgr := session.NewManager(deps.Store, drv, healthFactory, cl, cfg.Runtime.ReadyDeadline, cfg.Runtime.ReadyPoll, logger).
		WithContainerLimits(cfg.Docker.PIDsLimit, cfg.Docker.StopGrace)
	sandboxMgr := sandbox.NewManager(deps.Store, drv, sessionMgr, profiles, cl, logger)

	router := capability.NewRouter(sandboxMgr, pool)
	idempotent := idempotency.New(deps.Redis)

	warmupQueue := warmup.New(
		cfg.WarmPool.QueueMax, cfg.WarmPool.Workers, warmup.DropOldest, cfg.WarmPool.DropEveryN,
		sandboxMgr, deps.Store, profiles, logger,
	)
	warmPoolSched := warmpool.New(
		deps.Store, sandboxMgr, warmupQueue, profiles, cl,
		cfg.WarmPool.Period, cfg.WarmPool.Concurrency, cfg.WarmPool.RunOnStartup, logger,
	)

	recon := reconciler.New(deps.Store, sandboxMgr, drv, profiles, cl, logger)

	asynqMux := asynq.NewServeMux()
	asynqSched := asynq.NewScheduler(deps.AsynqRedis, nil)
	if err := recon.RegisterCron(asynqSched, asynqMux, cfg.Reconciler.CronSpec); err != nil {
		return nil, err
	}
	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Reconciler.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	httpRouter := api.NewRouter(api.Deps{
		SandboxMgr:  sandboxMgr,
		Router:      router,
		Idempotent:  idempotent,
		Profiles:    profiles,
		Store:       deps.Store,
		Clock:       cl,
		WarmupQueue: warmupQueue,
		WarmPool:    warmPoolSched,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:           cfg,
		deps:          deps,
		httpServer:    httpServer,
		asynqServer:   asynqServer,
		asynqMux:      asynqMux,
		asynqSched:    asynqSched,
		sandboxMgr:    sandboxMgr,
		warmupQueue:   warmupQueue,
		warmPoolSched: warmPoolSched,
		logger:        logger,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	go s.warmupQueue.Run(ctx)
	go s.warmPoolSched.Run(ctx)

	go func() {
		s.logger.Info("starting asynq worker", "concurrency", s.cfg.Reconciler.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("asynq worker failed", "error", err)
		}
	}()

	go func() {
		s.logger.Info("starting asynq scheduler", "cron_spec", s.cfg.Reconciler.CronSpec)
		if err := s.asynqSched.Run(); err != nil {
			s.logger.Error("asynq scheduler failed", "error", err)
		}
	}()

	go func() {
		if err := monitor.StartMetricsServer(ctx, s.cfg.Metrics.Addr, s.logger); err != nil {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()
	s.asynqSched.Shutdown()

	s.cleanupWarmPoolOnShutdown(shutdownCtx)

	s.logger.Info("server stopped gracefully")
	return nil
}

// cleanupWarmPoolOnShutdown best-effort deletes every still-live warm-pool
// sandbox so a graceful restart doesn't leave orphaned warm containers
// behind, ported from original_source's
// warm_pool/lifecycle.py::_cleanup_warm_pool_sandboxes_on_shutdown. Claimed
// (non-warm-pool) sandboxes are never touched; failures are logged and do
// not block shutdown.
func (s *Server) cleanupWarmPoolOnShutdown(ctx context.Context) {
	warm, err := s.deps.Store.Sandboxes().ListAllWarmPool(ctx)
	if err != nil {
		s.logger.Warn("warm pool shutdown cleanup: list failed", "error", err)
		return
	}

	deleted := 0
	for _, sb := range warm {
		if err := s.sandboxMgr.Delete(ctx, sb.ID, "warm_pool.lifecycle.shutdown_cleanup", ""); err != nil {
			s.logger.Warn("warm pool shutdown cleanup: delete failed", "sandbox_id", sb.ID, "error", err)
			continue
		}
		deleted++
	}
	s.logger.Info("warm pool shutdown cleanup complete", "total", len(warm), "deleted", deleted)
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
