package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	doc := []byte(`
files:
  - name: DE440s
    uri: http://example.com/kernels/de440s.bsp
    crc32: 1921414410
  - uri: https://example.com/pck/earth_latest_high_prec.bpc
`)
	m, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, m.Files, 2)

	first := m.Files[0]
	assert.Equal(t, "http://example.com/kernels/de440s.bsp", first.URI)
	require.True(t, first.Checked())
	assert.Equal(t, uint32(1921414410), *first.CRC32)
	assert.Equal(t, "de440s.bsp", first.FileName())

	second := m.Files[1]
	assert.False(t, second.Checked(), "absent checksum must stay absent, not zero")
	assert.Equal(t, "earth_latest_high_prec.bpc", second.FileName())
}

func TestParsePreservesOrder(t *testing.T) {
	doc := []byte(`
files:
  - uri: http://example.com/b.bsp
  - uri: http://example.com/a.bsp
  - uri: http://example.com/c.bsp
`)
	m, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://example.com/b.bsp",
		"http://example.com/a.bsp",
		"http://example.com/c.bsp",
	}, m.URIs())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing uri", "files:\n  - name: oops\n"},
		{"empty uri", "files:\n  - uri: \"\"\n"},
		{"relative uri", "files:\n  - uri: kernels/de440s.bsp\n"},
		{"bad scheme", "files:\n  - uri: ftp://example.com/de440s.bsp\n"},
		{"no file name", "files:\n  - uri: http://example.com/\n"},
		{"non-numeric checksum", "files:\n  - uri: http://example.com/a.bsp\n    crc32: notanumber\n"},
		{"empty document", "files: []\n"},
		{"not yaml", ":\t::: nope"},
		{"duplicate file name", "files:\n  - uri: http://a.example/k/de440s.bsp\n  - uri: http://b.example/other/de440s.bsp\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
		})
	}
}

func TestDefaultManifestParses(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	require.Len(t, m.Files, 5)

	unchecked := 0
	for _, e := range m.Files {
		if !e.Checked() {
			unchecked++
			assert.Equal(t, "earth_latest_high_prec.bpc", e.FileName())
		}
	}
	// Exactly one entry intentionally skips integrity checking.
	assert.Equal(t, 1, unchecked)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/manifest.yaml")
	require.Error(t, err)
}
