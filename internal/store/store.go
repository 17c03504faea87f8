// Package store manages the local kernel artifact store.
//
// The store is one flat directory with one file per manifest entry, named
// by the final path segment of the entry URI. Writes are crash-safe:
// bytes land in a temporary ".partial" file in the same directory and are
// renamed onto the final path only after any requested checksum has
// verified, so an observer never sees a partially written kernel.
package store

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"git.home.luguber.info/inful/kernelsync/internal/checksum"
)

// partialSuffix marks in-flight downloads. Temp files share the target
// directory so the final rename stays within one filesystem.
const partialSuffix = ".partial"

// Store is a local artifact directory.
type Store struct {
	dir string
}

// New creates the base directory if needed and returns a Store for it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string { return s.dir }

// PathFor derives the deterministic local path for a URI (final path segment
// under the base directory).
func (s *Store) PathFor(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri: %w", err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("uri %q has no file name", uri)
	}
	return filepath.Join(s.dir, base), nil
}

// Present reports whether an artifact exists at the final path for uri.
func (s *Store) Present(uri string) (bool, error) {
	p, err := s.PathFor(uri)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return true, nil
}

// Checksum computes the CRC32 of the on-disk artifact for uri. It is
// computed on demand; nothing is cached.
func (s *Store) Checksum(uri string) (uint32, error) {
	p, err := s.PathFor(uri)
	if err != nil {
		return 0, err
	}
	return checksum.File(p)
}

// PendingWrite is an in-flight download destination. Exactly one of Commit
// or Discard must be called.
type PendingWrite struct {
	File      *os.File
	finalPath string
	done      bool
}

// CreateTemp opens a temporary write destination for uri. Any stale partial
// file from an earlier interrupted run is overwritten.
func (s *Store) CreateTemp(uri string) (*PendingWrite, error) {
	finalPath, err := s.PathFor(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(finalPath+partialSuffix, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &PendingWrite{File: f, finalPath: finalPath}, nil
}

// Commit atomically renames the temp file onto the final path.
func (p *PendingWrite) Commit() error {
	if p.done {
		return fmt.Errorf("pending write already finished")
	}
	p.done = true
	if err := p.File.Sync(); err != nil {
		p.File.Close()
		_ = os.Remove(p.File.Name())
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := p.File.Close(); err != nil {
		_ = os.Remove(p.File.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(p.File.Name(), p.finalPath); err != nil {
		_ = os.Remove(p.File.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Discard removes the temp file without touching the final path. Safe to
// call after Commit (it becomes a no-op).
func (p *PendingWrite) Discard() {
	if p.done {
		return
	}
	p.done = true
	p.File.Close()
	_ = os.Remove(p.File.Name())
}

// Remove deletes the artifact for uri if present.
func (s *Store) Remove(uri string) error {
	p, err := s.PathFor(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}
