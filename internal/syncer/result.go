package syncer

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/kernelsync/internal/manifest"
)

// Status is the terminal state of one manifest entry within a sync run.
type Status string

const (
	// StatusSkipped means the artifact was already present and verified.
	StatusSkipped Status = "skipped"
	// StatusFetched means the artifact was downloaded (and verified when a
	// checksum was requested).
	StatusFetched Status = "fetched"
	// StatusFailed means the entry could not be brought up to date.
	StatusFailed Status = "failed"
)

// ChecksumMismatchError reports downloaded bytes whose CRC32 does not match
// the manifest. The artifact is discarded; the final path is never written.
type ChecksumMismatchError struct {
	URI      string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %08x, got %08x", e.URI, e.Expected, e.Actual)
}

// EntryResult is the terminal outcome for one manifest entry. Exactly one
// is produced per entry per run.
type EntryResult struct {
	Entry    manifest.Entry
	Status   Status
	Err      error // set only when Status is StatusFailed
	Bytes    int64 // bytes downloaded (zero for skips)
	Duration time.Duration
	// Unchecked marks an entry fetched without an integrity check because
	// the manifest carries no checksum for it.
	Unchecked bool
}

// Report aggregates the outcome of a full sync pass. Entries appear in
// manifest order.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Entries  []EntryResult
}

// Result returns the outcome for a URI.
func (r *Report) Result(uri string) (EntryResult, bool) {
	for _, e := range r.Entries {
		if e.Entry.URI == uri {
			return e, true
		}
	}
	return EntryResult{}, false
}

// Failed reports whether any entry ended in StatusFailed. It drives the
// process exit status.
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if e.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Counts returns totals per terminal state.
func (r *Report) Counts() (skipped, fetched, failed int) {
	for _, e := range r.Entries {
		switch e.Status {
		case StatusSkipped:
			skipped++
		case StatusFetched:
			fetched++
		case StatusFailed:
			failed++
		}
	}
	return
}
