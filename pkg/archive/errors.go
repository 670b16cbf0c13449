// Package archive implements the append-only record store: a binary
// container of checksummed frames behind a fixed magic header.
//
// Files are only ever appended to. Each frame carries its payload length and
// SHA-256 digest, so truncation and bit rot are detected on read rather than
// silently propagated. Payloads may optionally be encrypted per record; the
// frame digest covers the stored bytes, so integrity checks never need a key.
package archive

import "errors"

// Errors surfaced while reading archive files.
var (
	// ErrInvalidFormat indicates the file does not begin with the archive
	// magic header.
	ErrInvalidFormat = errors.New("invalid archive file: bad magic header")

	// ErrCorrupted indicates a damaged frame: a truncated header or payload,
	// an implausible length field, or a checksum mismatch. Call sites wrap
	// it with detail; match with errors.Is.
	ErrCorrupted = errors.New("archive corrupted")
)
