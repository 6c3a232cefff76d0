package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/hexforge/reliefd/internal/adapters/blender"
	"github.com/hexforge/reliefd/internal/adapters/duckdb"
	"github.com/hexforge/reliefd/internal/adapters/engine"
	"github.com/hexforge/reliefd/internal/adapters/fsstore"
	"github.com/hexforge/reliefd/internal/adapters/publish"
	appconfig "github.com/hexforge/reliefd/internal/config"
	"github.com/hexforge/reliefd/internal/core/domain"
	"github.com/hexforge/reliefd/internal/core/ports"
	"github.com/hexforge/reliefd/internal/core/services"
	"github.com/hexforge/reliefd/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting reliefd")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Adapters
	store, err := fsstore.New(cfg.JobsDir, logger)
	if err != nil {
		return fmt.Errorf("failed to init job store: %w", err)
	}

	geom := engine.New(cfg.EngineDir, cfg.EnginePython, cfg.EngineVersion, logger)
	renderer := blender.New(cfg.BlenderBin, cfg.BlenderScript, time.Duration(cfg.BlenderTimeoutSecs)*time.Second, logger)
	publisher := publish.New(cfg.AssetsDir, cfg.AssetsURLPrefix, logger)

	audit, err := duckdb.NewAuditLog(cfg.AuditDBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to init audit log: %w", err)
	}
	defer audit.Close()

	// Jobs that were mid-flight when the previous process died can never
	// finish; fail them now so clients stop polling a lie.
	if err := failOrphans(ctx, logger, store); err != nil {
		return fmt.Errorf("orphan cleanup failed: %w", err)
	}

	// Core services
	eventBus := services.NewEventBus(logger)
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})
	runner := services.NewHeightmapRunner(logger, store, geom, renderer, publisher, eventBus, audit, cfg.PreviewSize)
	scheduler.Start(ctx, runner.Run)

	apiDoc, err := kernel.LoadAPISpec(ctx)
	if err != nil {
		return fmt.Errorf("failed to load API document: %w", err)
	}

	apiServer := kernel.NewServer(logger, store, geom, scheduler, eventBus, audit,
		cfg.AssetsDir, cfg.AssetsURLPrefix, cfg.UploadTmpDir)
	apiServer.SetAPISpec(apiDoc)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// failOrphans marks every non-terminal record from a previous run as failed.
func failOrphans(ctx context.Context, logger *slog.Logger, store ports.JobStore) error {
	const pageSize = 200

	// Collect first, update after: failing a job bumps its record and would
	// shuffle the mtime ordering mid-walk.
	var jobs []domain.Job
	for offset := 0; ; offset += pageSize {
		page, err := store.List(ctx, pageSize, offset)
		if err != nil {
			return err
		}
		jobs = append(jobs, page.Items...)
		if len(page.Items) == 0 || offset+pageSize >= page.Total {
			break
		}
	}

	failed := domain.JobStatusFailed
	msg := "interrupted by service restart"
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		logger.Warn("failing orphaned job from previous run", "job_id", job.ID, "status", job.Status)
		if err := store.Update(ctx, job.ID, domain.JobPatch{Status: &failed, Error: &msg}); err != nil {
			return err
		}
	}
	return nil
}
