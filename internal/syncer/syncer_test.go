package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/kernelsync/internal/checksum"
	"git.home.luguber.info/inful/kernelsync/internal/config"
	"git.home.luguber.info/inful/kernelsync/internal/fetch"
	"git.home.luguber.info/inful/kernelsync/internal/manifest"
	"git.home.luguber.info/inful/kernelsync/internal/retry"
	"git.home.luguber.info/inful/kernelsync/internal/store"
)

func newTestSyncer(t *testing.T, concurrency int) (*Syncer, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "kernels"))
	require.NoError(t, err)
	f := fetch.New(fetch.Options{
		Retry: retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 0),
	})
	return New(st, f, Options{Concurrency: concurrency}), st
}

func entryWithSum(uri string, sum uint32) manifest.Entry {
	return manifest.Entry{URI: uri, CRC32: &sum}
}

func TestSyncFetchesAndVerifies(t *testing.T) {
	payload := []byte("planetary ephemeris payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	s, st := newTestSyncer(t, 2)
	m := &manifest.Manifest{Files: []manifest.Entry{
		entryWithSum(srv.URL+"/a.bsp", checksum.SumBytes(payload)),
	}}

	report, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	res := report.Entries[0]
	assert.Equal(t, StatusFetched, res.Status)
	assert.Equal(t, int64(len(payload)), res.Bytes)
	assert.False(t, res.Unchecked)
	assert.False(t, report.Failed())

	p, _ := st.PathFor(srv.URL + "/a.bsp")
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestSyncChecksumMismatchLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("corrupted bytes"))
	}))
	defer srv.Close()

	s, st := newTestSyncer(t, 1)
	m := &manifest.Manifest{Files: []manifest.Entry{
		entryWithSum(srv.URL+"/a.bsp", 0x12345678),
	}}

	report, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	res := report.Entries[0]
	assert.Equal(t, StatusFailed, res.Status)

	var mismatch *ChecksumMismatchError
	require.True(t, errors.As(res.Err, &mismatch))
	assert.Equal(t, uint32(0x12345678), mismatch.Expected)
	assert.Equal(t, checksum.SumBytes([]byte("corrupted bytes")), mismatch.Actual)

	// The final path was never written and no temp file survives.
	present, err := st.Present(srv.URL + "/a.bsp")
	require.NoError(t, err)
	assert.False(t, present)
	files, err := os.ReadDir(st.Dir())
	require.NoError(t, err)
	assert.Empty(t, files, "store directory must be clean after a mismatch")
}

func TestSyncUncheckedEntryAlwaysFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("daily regenerated orientation data"))
	}))
	defer srv.Close()

	s, _ := newTestSyncer(t, 1)
	m := &manifest.Manifest{Files: []manifest.Entry{
		{URI: srv.URL + "/earth_latest_high_prec.bpc"},
	}}

	report, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	res := report.Entries[0]
	assert.Equal(t, StatusFetched, res.Status)
	assert.True(t, res.Unchecked, "missing checksum must surface as unchecked, never as a failure")
	require.NoError(t, res.Err)
}

func TestSyncIdempotence(t *testing.T) {
	payload := []byte("stable kernel bytes")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	s, _ := newTestSyncer(t, 2)
	m := &manifest.Manifest{Files: []manifest.Entry{
		entryWithSum(srv.URL+"/a.bsp", checksum.SumBytes(payload)),
		{URI: srv.URL + "/b.bpc"},
	}}

	first, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	skipped, fetched, failed := first.Counts()
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 2, fetched)
	assert.Equal(t, 0, failed)

	second, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	skipped, fetched, failed = second.Counts()
	assert.Equal(t, 2, skipped, "unchanged store must skip every entry on the second run")
	assert.Equal(t, 0, fetched)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int32(2), hits.Load(), "second run must not hit the network")
}

func TestSyncStaleArtifactRedownloaded(t *testing.T) {
	payload := []byte("fresh kernel")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	s, st := newTestSyncer(t, 1)
	uri := srv.URL + "/a.bsp"
	p, _ := st.PathFor(uri)
	require.NoError(t, os.WriteFile(p, []byte("old stale content"), 0o600))

	m := &manifest.Manifest{Files: []manifest.Entry{
		entryWithSum(uri, checksum.SumBytes(payload)),
	}}
	report, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, report.Entries[0].Status)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestSyncPartialFailure(t *testing.T) {
	okPayload := []byte("good bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.bsp" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(okPayload)
	}))
	defer srv.Close()

	s, _ := newTestSyncer(t, 3)
	m := &manifest.Manifest{Files: []manifest.Entry{
		entryWithSum(srv.URL+"/a.bsp", checksum.SumBytes(okPayload)),
		{URI: srv.URL + "/missing.bsp"},
		entryWithSum(srv.URL+"/c.bsp", checksum.SumBytes(okPayload)),
	}}

	report, err := s.Sync(context.Background(), m)
	require.NoError(t, err, "per-entry failures must not abort the pass")
	require.Len(t, report.Entries, 3)
	assert.True(t, report.Failed())

	resA, ok := report.Result(srv.URL + "/a.bsp")
	require.True(t, ok)
	assert.Equal(t, StatusFetched, resA.Status)

	resMissing, ok := report.Result(srv.URL + "/missing.bsp")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, resMissing.Status)
	var he *fetch.HTTPError
	require.True(t, errors.As(resMissing.Err, &he))
	assert.Equal(t, http.StatusNotFound, he.Status)

	resC, ok := report.Result(srv.URL + "/c.bsp")
	require.True(t, ok)
	assert.Equal(t, StatusFetched, resC.Status)
}

func TestSyncReportCoversAllEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	s, _ := newTestSyncer(t, 2)
	var files []manifest.Entry
	for i := 0; i < 7; i++ {
		files = append(files, manifest.Entry{URI: fmt.Sprintf("%s/k%d.bsp", srv.URL, i)})
	}
	m := &manifest.Manifest{Files: files}

	report, err := s.Sync(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, report.Entries, len(files))
	for i, res := range report.Entries {
		assert.Equal(t, files[i].URI, res.Entry.URI, "report must preserve manifest order")
		assert.NotEqual(t, Status(""), res.Status, "every entry needs exactly one terminal state")
	}
}

func TestSyncCancellationLeavesNoFinalFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write([]byte("the beginning of a large kernel"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s, st := newTestSyncer(t, 1)
	uri := srv.URL + "/big.bsp"
	m := &manifest.Manifest{Files: []manifest.Entry{{URI: uri}}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	report, err := s.Sync(ctx, m)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, StatusFailed, report.Entries[0].Status)

	present, perr := st.Present(uri)
	require.NoError(t, perr)
	assert.False(t, present, "interrupted download must never appear at the final path")
	files, err := os.ReadDir(st.Dir())
	require.NoError(t, err)
	assert.Empty(t, files, "temp file must be removed on cancellation")
}

func TestReportFailedAndCounts(t *testing.T) {
	r := &Report{Entries: []EntryResult{
		{Status: StatusSkipped},
		{Status: StatusFetched},
	}}
	assert.False(t, r.Failed())
	r.Entries = append(r.Entries, EntryResult{Status: StatusFailed, Err: errors.New("boom")})
	assert.True(t, r.Failed())
	skipped, fetched, failed := r.Counts()
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, fetched)
	assert.Equal(t, 1, failed)
}
