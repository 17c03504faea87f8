package syncer

import (
	"git.home.luguber.info/inful/kernelsync/internal/manifest"
	"git.home.luguber.info/inful/kernelsync/internal/store"
)

// VerifyStatus is the outcome of an offline check of one local artifact.
type VerifyStatus string

const (
	// VerifyOK means the artifact is present and its checksum matches.
	VerifyOK VerifyStatus = "ok"
	// VerifyMissing means no local artifact exists for the entry.
	VerifyMissing VerifyStatus = "missing"
	// VerifyMismatch means the local artifact's checksum differs from the
	// manifest.
	VerifyMismatch VerifyStatus = "mismatch"
	// VerifyUnchecked means the artifact is present but the manifest carries
	// no checksum to verify it against.
	VerifyUnchecked VerifyStatus = "unchecked"
	// VerifyError means the artifact could not be read.
	VerifyError VerifyStatus = "error"
)

// VerifyEntry is the offline verification outcome for one manifest entry.
type VerifyEntry struct {
	Entry  manifest.Entry
	Status VerifyStatus
	Actual uint32 // on-disk checksum, set when the file was read
	Err    error  // set only for VerifyError and VerifyMismatch
}

// Verify checks the local store against the manifest without any network
// access. It returns one result per entry in manifest order.
func Verify(st *store.Store, m *manifest.Manifest) []VerifyEntry {
	results := make([]VerifyEntry, 0, len(m.Files))
	for _, e := range m.Files {
		results = append(results, verifyEntry(st, e))
	}
	return results
}

func verifyEntry(st *store.Store, e manifest.Entry) VerifyEntry {
	present, err := st.Present(e.URI)
	if err != nil {
		return VerifyEntry{Entry: e, Status: VerifyError, Err: err}
	}
	if !present {
		return VerifyEntry{Entry: e, Status: VerifyMissing}
	}
	if !e.Checked() {
		return VerifyEntry{Entry: e, Status: VerifyUnchecked}
	}
	sum, err := st.Checksum(e.URI)
	if err != nil {
		return VerifyEntry{Entry: e, Status: VerifyError, Err: err}
	}
	if sum != *e.CRC32 {
		return VerifyEntry{
			Entry:  e,
			Status: VerifyMismatch,
			Actual: sum,
			Err:    &ChecksumMismatchError{URI: e.URI, Expected: *e.CRC32, Actual: sum},
		}
	}
	return VerifyEntry{Entry: e, Status: VerifyOK, Actual: sum}
}

// AnyFailed reports whether any verification result is a mismatch, a
// missing artifact, or a read error. Unchecked entries do not fail
// verification, they simply cannot be checked.
func AnyFailed(results []VerifyEntry) bool {
	for _, r := range results {
		switch r.Status {
		case VerifyMissing, VerifyMismatch, VerifyError:
			return true
		}
	}
	return false
}
