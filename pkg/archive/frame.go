package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// fileMagic opens every archive file.
var fileMagic = []byte("ONEPAI0")

const (
	// frameHeaderLen is the fixed frame prefix: 4-byte big-endian payload
	// length followed by the payload's SHA-256 digest.
	frameHeaderLen = 4 + sha256.Size

	// maxFramePayload caps a single frame at 256MB. A length field above
	// this is read as a damaged header, not an allocation request.
	maxFramePayload = 256 * 1024 * 1024
)

// writeFrame writes one frame for payload: length, digest, then the bytes.
func writeFrame(w io.Writer, payload []byte) error {
	var header [frameHeaderLen]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	digest := sha256.Sum256(payload)
	copy(header[4:], digest[:])

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// readFrame reads and verifies the next frame. Zero bytes remaining at a
// frame boundary is a clean end of file and returns io.EOF; any other short
// read, an implausible length, or a digest mismatch returns ErrCorrupted.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame header", ErrCorrupted)
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > maxFramePayload {
		return nil, fmt.Errorf("%w: frame length %d exceeds %d byte limit", ErrCorrupted, length, maxFramePayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame payload", ErrCorrupted)
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	digest := sha256.Sum256(payload)
	if !bytes.Equal(digest[:], header[4:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	return payload, nil
}

// readMagic consumes and validates the file magic.
func readMagic(r io.Reader) error {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("%w: file shorter than magic header", ErrInvalidFormat)
	}
	if !bytes.Equal(magic, fileMagic) {
		return ErrInvalidFormat
	}
	return nil
}
