package manifest

import (
	_ "embed"
	"fmt"
	"os"
)

// DefaultManifest is the standard planetary ephemeris and orientation set.
// The Earth orientation kernel carries no checksum on purpose: JPL
// regenerates it daily, so its content has no stable fingerprint.
//
//go:embed default_manifest.yaml
var DefaultManifest []byte

// Default parses the embedded default manifest. The embedded document is
// validated by tests, so failure here is a programming error.
func Default() (*Manifest, error) {
	return Parse(DefaultManifest)
}

// Init writes the default manifest to path. An existing file is preserved
// unless force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("manifest file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, DefaultManifest, 0o640); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	return nil
}
