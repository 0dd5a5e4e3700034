package store

import (
	"fmt"
	"strings"
)

// Compression selects how payloads are encoded at rest.
type Compression uint8

const (
	// CompressionNone stores payloads verbatim.
	CompressionNone Compression = iota

	// CompressionZstd stores payloads zstd-compressed.
	CompressionZstd
)

// String returns the configuration name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", c)
	}
}

// ParseCompression parses a configuration name. The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}
