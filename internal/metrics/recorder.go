package metrics

import "time"

// ResultLabel enumerates per-entry sync outcomes for counters.
type ResultLabel string

const (
	ResultSkipped ResultLabel = "skipped"
	ResultFetched ResultLabel = "fetched"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for sync runs. Implementations may
// forward to Prometheus, OpenTelemetry, etc. All methods must be safe on
// the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveSyncDuration(d time.Duration)
	ObserveEntryDuration(result ResultLabel, d time.Duration)
	IncEntryResult(result ResultLabel)
	IncUnchecked() // entry fetched without an integrity check
	AddBytesFetched(n int64)
	SetWorkerConcurrency(n int)
	IncRunOutcome(success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveSyncDuration(time.Duration)               {}
func (NoopRecorder) ObserveEntryDuration(ResultLabel, time.Duration) {}
func (NoopRecorder) IncEntryResult(ResultLabel)                      {}
func (NoopRecorder) IncUnchecked()                                   {}
func (NoopRecorder) AddBytesFetched(int64)                           {}
func (NoopRecorder) SetWorkerConcurrency(int)                        {}
func (NoopRecorder) IncRunOutcome(bool)                              {}
