// Package manifest models the declarative list of kernel artifacts to fetch.
//
// A manifest is read-only configuration: it is loaded once at process start
// and never mutated. Each entry pairs a remote URI with an optional CRC32
// checksum; absence of a checksum is an explicit, valid state (some upstream
// files are regenerated daily and have no stable fingerprint).
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry describes one remote artifact.
type Entry struct {
	// Name is an optional human-readable label used in reports.
	Name string `yaml:"name,omitempty"`

	// URI is the absolute HTTP/HTTPS location of the artifact.
	URI string `yaml:"uri"`

	// CRC32 is the expected checksum, or nil when no integrity check is
	// requested. Modeled as a pointer so "no checksum" is never confused
	// with "checksum zero".
	CRC32 *uint32 `yaml:"crc32,omitempty"`
}

// FileName returns the final path segment of the entry URI, which is also
// the deterministic local file name for the artifact.
func (e Entry) FileName() string {
	u, err := url.Parse(e.URI)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// Checked reports whether the entry requests an integrity check.
func (e Entry) Checked() bool { return e.CRC32 != nil }

// Manifest is an ordered collection of entries. Source order is preserved
// for deterministic reporting.
type Manifest struct {
	Files []Entry `yaml:"files"`
}

// URIs returns the entry URIs in source order.
func (m *Manifest) URIs() []string {
	out := make([]string, 0, len(m.Files))
	for _, e := range m.Files {
		out = append(out, e.URI)
	}
	return out
}

// ParseError reports a malformed manifest. It is fatal: nothing is fetched
// when the manifest does not parse.
type ParseError struct {
	Index  int // entry index, -1 for document-level problems
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("manifest entry %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("manifest: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads and parses a manifest from the given file path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Index: -1, Reason: "invalid YAML: " + err.Error(), Err: err}
	}
	if len(m.Files) == 0 {
		return nil, &ParseError{Index: -1, Reason: "no files listed"}
	}
	seen := make(map[string]int, len(m.Files))
	for i, e := range m.Files {
		if err := validateEntry(i, e); err != nil {
			return nil, err
		}
		name := e.FileName()
		if prev, dup := seen[name]; dup {
			return nil, &ParseError{Index: i, Reason: fmt.Sprintf("local file name %q collides with entry %d", name, prev)}
		}
		seen[name] = i
	}
	return &m, nil
}

func validateEntry(i int, e Entry) error {
	if strings.TrimSpace(e.URI) == "" {
		return &ParseError{Index: i, Reason: "missing required field 'uri'"}
	}
	u, err := url.Parse(e.URI)
	if err != nil {
		return &ParseError{Index: i, Reason: "invalid uri: " + err.Error(), Err: err}
	}
	if !u.IsAbs() {
		return &ParseError{Index: i, Reason: fmt.Sprintf("uri %q is not absolute", e.URI)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ParseError{Index: i, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if base := path.Base(u.Path); base == "." || base == "/" || base == "" {
		return &ParseError{Index: i, Reason: fmt.Sprintf("uri %q has no file name", e.URI)}
	}
	return nil
}
