// Package syncer orchestrates bringing a local kernel store up to date
// with a manifest.
//
// Each entry walks a small state machine: Checking (is a verified copy
// already on disk?), Downloading, Verifying (when a checksum is present),
// then Done or Failed. Entries are independent: one failure never aborts
// the others, and a full pass always produces a result for every entry.
package syncer

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/kernelsync/internal/checksum"
	"git.home.luguber.info/inful/kernelsync/internal/fetch"
	"git.home.luguber.info/inful/kernelsync/internal/logfields"
	"git.home.luguber.info/inful/kernelsync/internal/manifest"
	"git.home.luguber.info/inful/kernelsync/internal/metrics"
	"git.home.luguber.info/inful/kernelsync/internal/observability"
	"git.home.luguber.info/inful/kernelsync/internal/store"
)

// Options configures a Syncer.
type Options struct {
	// Concurrency bounds the worker pool (default 4). It is additionally
	// capped at the number of manifest entries.
	Concurrency int
	// Recorder receives sync metrics; nil means no metrics.
	Recorder metrics.Recorder
}

// Syncer brings a local store up to date with a manifest.
type Syncer struct {
	store    *store.Store
	fetcher  *fetch.Fetcher
	conc     int
	recorder metrics.Recorder
}

// New constructs a Syncer.
func New(st *store.Store, f *fetch.Fetcher, opts Options) *Syncer {
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 4
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Syncer{store: st, fetcher: f, conc: conc, recorder: rec}
}

// Sync runs a full pass over the manifest and returns a complete report,
// one terminal result per entry in manifest order. Per-entry failures are
// recorded in the report, never returned as an error; the returned error
// is non-nil only when the context is canceled before the pass completes.
func (s *Syncer) Sync(ctx context.Context, m *manifest.Manifest) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Entries: make([]EntryResult, len(m.Files)),
	}
	ctx = observability.WithRunID(ctx, report.RunID)

	concurrency := s.conc
	if concurrency > len(m.Files) {
		concurrency = len(m.Files)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	s.recorder.SetWorkerConcurrency(concurrency)
	observability.InfoContext(ctx, "starting sync",
		logfields.Path(s.store.Dir()),
		logfields.Attempt(len(m.Files)))

	tasks := make(chan int)
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for i := range tasks {
			select {
			case <-ctx.Done():
				return
			default:
			}
			start := time.Now()
			res := s.processEntry(ctx, m.Files[i])
			res.Duration = time.Since(start)
			// Each worker owns a distinct slot, so no locking is needed.
			report.Entries[i] = res
			s.recorder.IncEntryResult(resultLabel(res.Status))
			s.recorder.ObserveEntryDuration(resultLabel(res.Status), res.Duration)
			s.recorder.AddBytesFetched(res.Bytes)
		}
	}
	wg.Add(concurrency)
	for range concurrency {
		go worker()
	}

	canceled := false
	for i := range m.Files {
		select {
		case <-ctx.Done():
			canceled = true
		case tasks <- i:
			continue
		}
		break
	}
	close(tasks)
	wg.Wait()

	// Entries never reached (cancellation) still get a terminal result so
	// the report's key set always equals the manifest's URI set.
	for i := range report.Entries {
		if report.Entries[i].Status == "" {
			report.Entries[i] = EntryResult{Entry: m.Files[i], Status: StatusFailed, Err: ctx.Err()}
		}
	}
	report.Finished = time.Now()
	s.recorder.ObserveSyncDuration(report.Finished.Sub(report.Started))
	s.recorder.IncRunOutcome(!report.Failed())

	if canceled || ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// processEntry walks one entry through the state machine and returns its
// terminal result.
func (s *Syncer) processEntry(ctx context.Context, e manifest.Entry) EntryResult {
	ctx = observability.WithURI(ctx, e.URI)

	// Checking: a present artifact is reusable when no checksum is
	// requested, or when the on-disk checksum matches. A present artifact
	// with a mismatching checksum is stale and gets re-downloaded.
	ctx = observability.WithStage(ctx, "checking")
	present, err := s.store.Present(e.URI)
	if err != nil {
		return EntryResult{Entry: e, Status: StatusFailed, Err: err}
	}
	if present {
		if !e.Checked() {
			observability.DebugContext(ctx, "artifact present, no checksum requested")
			return EntryResult{Entry: e, Status: StatusSkipped, Unchecked: true}
		}
		sum, err := s.store.Checksum(e.URI)
		if err != nil {
			return EntryResult{Entry: e, Status: StatusFailed, Err: err}
		}
		if sum == *e.CRC32 {
			observability.DebugContext(ctx, "artifact present and verified", logfields.Checksum(sum))
			return EntryResult{Entry: e, Status: StatusSkipped}
		}
		observability.WarnContext(ctx, "on-disk artifact is stale, re-downloading",
			logfields.Checksum(sum))
	}

	// Downloading: stream into a temp file next to the final path.
	ctx = observability.WithStage(ctx, "downloading")
	pw, err := s.store.CreateTemp(e.URI)
	if err != nil {
		return EntryResult{Entry: e, Status: StatusFailed, Err: err}
	}
	n, err := s.fetcher.Fetch(ctx, e.URI, pw.File)
	if err != nil {
		pw.Discard()
		observability.ErrorContext(ctx, "download failed", logfields.Error(err))
		return EntryResult{Entry: e, Status: StatusFailed, Err: err}
	}

	// Verifying: checksum the temp file before it can reach the final
	// path. A mismatch discards the download; the final path is never
	// written.
	if e.Checked() {
		ctx = observability.WithStage(ctx, "verifying")
		if _, err := pw.File.Seek(0, io.SeekStart); err != nil {
			pw.Discard()
			return EntryResult{Entry: e, Status: StatusFailed, Err: err}
		}
		sum, err := checksum.Sum(pw.File)
		if err != nil {
			pw.Discard()
			return EntryResult{Entry: e, Status: StatusFailed, Err: err}
		}
		if sum != *e.CRC32 {
			pw.Discard()
			mismatch := &ChecksumMismatchError{URI: e.URI, Expected: *e.CRC32, Actual: sum}
			observability.ErrorContext(ctx, "checksum mismatch, download discarded",
				logfields.Checksum(sum))
			return EntryResult{Entry: e, Status: StatusFailed, Err: mismatch, Bytes: n}
		}
	} else {
		observability.WarnContext(ctx, "no checksum in manifest, integrity not verified",
			logfields.Bytes(n))
		s.recorder.IncUnchecked()
	}

	if err := pw.Commit(); err != nil {
		return EntryResult{Entry: e, Status: StatusFailed, Err: err}
	}
	observability.InfoContext(ctx, "artifact fetched", logfields.Bytes(n))
	return EntryResult{Entry: e, Status: StatusFetched, Bytes: n, Unchecked: !e.Checked()}
}

func resultLabel(s Status) metrics.ResultLabel {
	switch s {
	case StatusSkipped:
		return metrics.ResultSkipped
	case StatusFetched:
		return metrics.ResultFetched
	default:
		return metrics.ResultFailed
	}
}
