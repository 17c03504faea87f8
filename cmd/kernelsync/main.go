package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/kernelsync/internal/config"
	"git.home.luguber.info/inful/kernelsync/internal/daemon"
	"git.home.luguber.info/inful/kernelsync/internal/fetch"
	"git.home.luguber.info/inful/kernelsync/internal/manifest"
	"git.home.luguber.info/inful/kernelsync/internal/retry"
	"git.home.luguber.info/inful/kernelsync/internal/store"
	"git.home.luguber.info/inful/kernelsync/internal/syncer"
)

var CLI struct {
	Verbose bool `short:"v" help:"Enable verbose logging"`

	Sync struct {
		Manifest string `short:"m" help:"Manifest file path" default:"manifest.yaml"`
		Dest     string `short:"d" help:"Destination directory for kernels"`
		Jobs     int    `short:"j" help:"Number of parallel downloads" default:"4"`
	} `cmd:"" help:"Fetch and verify all kernels listed in the manifest"`

	Verify struct {
		Manifest string `short:"m" help:"Manifest file path" default:"manifest.yaml"`
		Dest     string `short:"d" help:"Directory holding the local kernels"`
	} `cmd:"" help:"Check local kernels against manifest checksums without downloading"`

	Init struct {
		Manifest string `short:"m" help:"Manifest file path" default:"manifest.yaml"`
		Force    bool   `short:"f" help:"Overwrite existing manifest file"`
	} `cmd:"" help:"Write the built-in default manifest"`

	Daemon struct {
		Config string `short:"c" help:"Configuration file path" default:"config.yaml"`
	} `cmd:"" help:"Run continuous kernel synchronization"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch ctx.Command() {
	case "sync":
		if err := runSync(CLI.Sync.Manifest, CLI.Sync.Dest, CLI.Sync.Jobs); err != nil {
			slog.Error("Sync failed", "error", err)
			os.Exit(1)
		}
	case "verify":
		if err := runVerify(CLI.Verify.Manifest, CLI.Verify.Dest); err != nil {
			slog.Error("Verify failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Init.Manifest, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		if err := runDaemon(CLI.Daemon.Config); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	}
}

func runSync(manifestPath, dest string, jobs int) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if dest != "" {
		cfg.Store.Directory = dest
	}
	if jobs > 0 {
		cfg.Sync.Concurrency = jobs
	}

	st, err := store.New(cfg.Store.Directory)
	if err != nil {
		return err
	}
	fetcher := fetch.New(fetch.Options{
		ConnectTimeout:  cfg.Sync.ConnectTimeout,
		TransferTimeout: cfg.Sync.TransferTimeout,
		Retry:           retry.FromConfig(cfg.Sync),
	})
	s := syncer.New(st, fetcher, syncer.Options{Concurrency: cfg.Sync.Concurrency})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := s.Sync(ctx, m)
	if err != nil {
		return err
	}

	for _, res := range report.Entries {
		switch res.Status {
		case syncer.StatusFailed:
			fmt.Printf("failed   %s: %v\n", res.Entry.URI, res.Err)
		case syncer.StatusSkipped:
			fmt.Printf("skipped  %s\n", res.Entry.URI)
		case syncer.StatusFetched:
			note := ""
			if res.Unchecked {
				note = " (no checksum, unverified)"
			}
			fmt.Printf("fetched  %s (%d bytes)%s\n", res.Entry.URI, res.Bytes, note)
		}
	}

	skipped, fetched, failed := report.Counts()
	slog.Info("Sync finished",
		"run_id", report.RunID,
		"skipped", skipped,
		"fetched", fetched,
		"failed", failed)

	if report.Failed() {
		return fmt.Errorf("%d of %d entries failed", failed, len(report.Entries))
	}
	return nil
}

func runVerify(manifestPath, dest string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}

	dir := dest
	if dir == "" {
		dir = config.Default().Store.Directory
	}
	st, err := store.New(dir)
	if err != nil {
		return err
	}

	results := syncer.Verify(st, m)
	for _, res := range results {
		switch res.Status {
		case syncer.VerifyOK:
			fmt.Printf("ok        %s (crc32 %08x)\n", res.Entry.FileName(), res.Actual)
		case syncer.VerifyUnchecked:
			fmt.Printf("unchecked %s (no checksum in manifest)\n", res.Entry.FileName())
		case syncer.VerifyMissing:
			fmt.Printf("missing   %s\n", res.Entry.FileName())
		case syncer.VerifyMismatch:
			fmt.Printf("mismatch  %s (got %08x, want %08x)\n", res.Entry.FileName(), res.Actual, *res.Entry.CRC32)
		case syncer.VerifyError:
			fmt.Printf("error     %s: %v\n", res.Entry.FileName(), res.Err)
		}
	}

	if syncer.AnyFailed(results) {
		return fmt.Errorf("local store does not match manifest")
	}
	return nil
}

func runInit(manifestPath string, force bool) error {
	slog.Info("Writing default manifest", "path", manifestPath, "force", force)
	return manifest.Init(manifestPath, force)
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping daemon...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	return nil
}
