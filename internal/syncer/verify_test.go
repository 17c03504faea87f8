package syncer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/kernelsync/internal/checksum"
	"git.home.luguber.info/inful/kernelsync/internal/manifest"
	"git.home.luguber.info/inful/kernelsync/internal/store"
)

func TestVerifyOfflineStates(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)

	okBody := []byte("mercury kernel bytes")
	okSum := checksum.SumBytes(okBody)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.bsp"), okBody, 0o640))

	staleSum := checksum.SumBytes([]byte("expected bytes"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.bpc"), []byte("something else"), 0o640))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "eop.bpc"), []byte("daily eop"), 0o640))

	m := &manifest.Manifest{Files: []manifest.Entry{
		{Name: "ok", URI: "http://example.com/pub/ok.bsp", CRC32: &okSum},
		{Name: "stale", URI: "http://example.com/pub/stale.bpc", CRC32: &staleSum},
		{Name: "eop", URI: "http://example.com/pub/eop.bpc"},
		{Name: "absent", URI: "http://example.com/pub/absent.pca", CRC32: &okSum},
	}}

	results := Verify(st, m)
	require.Len(t, results, 4)

	assert.Equal(t, VerifyOK, results[0].Status)
	assert.Equal(t, okSum, results[0].Actual)

	assert.Equal(t, VerifyMismatch, results[1].Status)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, results[1].Err, &mismatch)
	assert.Equal(t, staleSum, mismatch.Expected)

	assert.Equal(t, VerifyUnchecked, results[2].Status)
	assert.NoError(t, results[2].Err)

	assert.Equal(t, VerifyMissing, results[3].Status)

	assert.True(t, AnyFailed(results))
}

func TestVerifyAllHealthy(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)

	body := []byte("planetary ephemeris")
	sum := checksum.SumBytes(body)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de.bsp"), body, 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eop.bpc"), []byte("x"), 0o640))

	m := &manifest.Manifest{Files: []manifest.Entry{
		{Name: "de", URI: "http://example.com/de.bsp", CRC32: &sum},
		{Name: "eop", URI: "http://example.com/eop.bpc"},
	}}

	results := Verify(st, m)
	require.Len(t, results, 2)
	assert.Equal(t, VerifyOK, results[0].Status)
	assert.Equal(t, VerifyUnchecked, results[1].Status)
	assert.False(t, AnyFailed(results))
}
