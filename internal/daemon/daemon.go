// Package daemon runs kernelsync continuously: a scheduled full re-sync
// (the Earth orientation kernel is regenerated daily upstream), an optional
// manifest watcher, run history, event publishing, and a Prometheus
// endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/kernelsync/internal/config"
	"git.home.luguber.info/inful/kernelsync/internal/events"
	"git.home.luguber.info/inful/kernelsync/internal/fetch"
	"git.home.luguber.info/inful/kernelsync/internal/history"
	"git.home.luguber.info/inful/kernelsync/internal/logfields"
	"git.home.luguber.info/inful/kernelsync/internal/manifest"
	"git.home.luguber.info/inful/kernelsync/internal/metrics"
	"git.home.luguber.info/inful/kernelsync/internal/retry"
	"git.home.luguber.info/inful/kernelsync/internal/store"
	"git.home.luguber.info/inful/kernelsync/internal/syncer"
)

// Daemon owns the long-running sync loop and its supporting services.
type Daemon struct {
	cfg       *config.Config
	syncer    *syncer.Syncer
	scheduler gocron.Scheduler
	watcher   *ManifestWatcher
	hist      *history.Store
	publisher *events.Publisher
	metricsRg *prom.Registry
	httpSrv   *http.Server

	// runMu serializes sync passes: a watcher trigger arriving during a
	// scheduled run waits instead of racing it for the same store paths.
	runMu sync.Mutex
}

// New wires up a daemon from configuration.
func New(cfg *config.Config) (*Daemon, error) {
	st, err := store.New(cfg.Store.Directory)
	if err != nil {
		return nil, err
	}

	d := &Daemon{cfg: cfg}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		d.metricsRg = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(d.metricsRg)
	}

	fetcher := fetch.New(fetch.Options{
		ConnectTimeout:  cfg.Sync.ConnectTimeout,
		TransferTimeout: cfg.Sync.TransferTimeout,
		Retry:           retry.FromConfig(cfg.Sync),
	})
	d.syncer = syncer.New(st, fetcher, syncer.Options{
		Concurrency: cfg.Sync.Concurrency,
		Recorder:    recorder,
	})

	if cfg.Daemon.HistoryPath != "" {
		hist, err := history.Open(cfg.Daemon.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		d.hist = hist
	}

	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events)
		if err != nil {
			d.closeServices()
			return nil, fmt.Errorf("create event publisher: %w", err)
		}
		d.publisher = pub
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		d.closeServices()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	d.scheduler = scheduler

	return d, nil
}

// Start runs the daemon until ctx is canceled: an immediate first sync,
// then scheduled re-syncs, plus the optional manifest watcher and metrics
// endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	if d.metricsRg != nil {
		d.startMetricsServer()
	}

	if d.cfg.Daemon.WatchManifest {
		watcher, err := NewManifestWatcher(d.cfg.Manifest, func() {
			slog.Info("Manifest changed, triggering sync")
			d.runSync(ctx)
		})
		if err != nil {
			return err
		}
		d.watcher = watcher
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	if _, err := d.scheduler.NewJob(
		gocron.DurationJob(d.cfg.Daemon.Interval),
		gocron.NewTask(func() { d.runSync(ctx) }),
		gocron.WithName("scheduled-sync"),
	); err != nil {
		return fmt.Errorf("create scheduled sync job: %w", err)
	}
	d.scheduler.Start()

	slog.Info("Daemon started",
		"interval", d.cfg.Daemon.Interval.String(),
		"watch_manifest", d.cfg.Daemon.WatchManifest,
		"metrics", d.cfg.Metrics.Enabled)

	// First pass right away; the schedule covers subsequent ones.
	d.runSync(ctx)

	<-ctx.Done()
	return nil
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop(ctx context.Context) error {
	var errs []error
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if d.httpSrv != nil {
		if err := d.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	d.closeServices()
	slog.Info("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) closeServices() {
	if d.hist != nil {
		_ = d.hist.Close()
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
}

// runSync executes one full sync pass: load the manifest fresh (to pick up
// edits), sync, persist history, and publish update events.
func (d *Daemon) runSync(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	m, err := manifest.Load(d.cfg.Manifest)
	if err != nil {
		slog.Error("Failed to load manifest, skipping sync", logfields.Error(err))
		return
	}

	report, err := d.syncer.Sync(ctx, m)
	if err != nil {
		slog.Warn("Sync interrupted", logfields.RunID(report.RunID), logfields.Error(err))
		return
	}

	skipped, fetched, failed := report.Counts()
	slog.Info("Sync pass finished",
		logfields.RunID(report.RunID),
		slog.Int("skipped", skipped),
		slog.Int("fetched", fetched),
		slog.Int("failed", failed),
		logfields.DurationMS(float64(report.Finished.Sub(report.Started).Milliseconds())))

	if d.hist != nil {
		if err := d.hist.RecordReport(ctx, report); err != nil {
			slog.Error("Failed to record sync history", logfields.RunID(report.RunID), logfields.Error(err))
		}
	}
	if d.publisher != nil && fetched > 0 {
		published := d.publisher.PublishReport(ctx, report)
		slog.Debug("Published artifact events", slog.Int("count", published))
	}
}

func (d *Daemon) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(d.metricsRg))
	d.httpSrv = &http.Server{
		Addr:              d.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Metrics endpoint listening", "addr", d.cfg.Metrics.Listen)
		if err := d.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
}
