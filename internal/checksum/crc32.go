// Package checksum computes CRC32 content fingerprints for kernel files.
//
// The variant is the reflected ISO-3309 CRC32 (polynomial 0xEDB88320),
// matching the checksums published alongside the upstream ephemeris data.
package checksum

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Sum computes the CRC32 of everything readable from r, streaming in
// 64 KiB chunks so large kernels never need to fit in memory.
func Sum(r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("checksum stream: %w", err)
	}
	return h.Sum32(), nil
}

// SumBytes computes the CRC32 of a byte slice.
func SumBytes(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify reports whether the CRC32 of data equals expected.
func Verify(data []byte, expected uint32) bool {
	return SumBytes(data) == expected
}

// File computes the CRC32 of the file at path.
func File(path string) (uint32, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the local store layout
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f)
}
