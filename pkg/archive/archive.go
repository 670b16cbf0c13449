package archive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/onepai/onepai/pkg/crypto"
)

// Archive is a handle to one archive file. The file need not exist yet:
// opening an absent path creates it with just the magic header. Handles are
// cheap and carry no open file descriptor between operations.
//
// Appending is not serialized internally; callers that share one file
// between appenders coordinate themselves. Any number of concurrent readers
// is safe, and a reader racing an appender sees ErrCorrupted on the
// still-growing tail, which is retryable.
type Archive struct {
	path   string
	cipher *crypto.Cipher
}

// Option configures an Archive handle.
type Option func(*Archive)

// WithCipher encrypts each record payload before framing and decrypts on
// iteration. The frame checksum covers the stored ciphertext, so integrity
// verification works without the key; only payload access needs it.
func WithCipher(c *crypto.Cipher) Option {
	return func(a *Archive) { a.cipher = c }
}

// Open returns a handle to the archive at path, creating the file with its
// magic header if it does not exist. An existing file is not validated
// here; a bad header surfaces as ErrInvalidFormat on the first read.
func Open(path string, opts ...Option) (*Archive, error) {
	a := &Archive{path: path}
	for _, opt := range opts {
		opt(a)
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat archive: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			if os.IsExist(err) {
				// Lost a create race; the winner wrote the header.
				return a, nil
			}
			return nil, fmt.Errorf("failed to create archive: %w", err)
		}
		if _, err := f.Write(fileMagic); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write magic header: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close archive: %w", err)
		}
	}
	return a, nil
}

// Path returns the archive file path.
func (a *Archive) Path() string {
	return a.path
}

// Append frames and appends the given records in order. Payloads are all
// encoded (and encrypted, if a cipher is set) before anything is written,
// so an encoding failure cannot leave a partial frame behind.
func (a *Archive) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	payloads := make([][]byte, 0, len(records))
	for _, rec := range records {
		payload, err := rec.encode()
		if err != nil {
			return err
		}
		if a.cipher != nil {
			payload, err = a.cipher.Encrypt(payload)
			if err != nil {
				return err
			}
		}
		payloads = append(payloads, payload)
	}

	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open archive for append: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, payload := range payloads {
		if err := writeFrame(w, payload); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	return nil
}

// Iterate opens a streaming reader over the archive. The magic header is
// validated here; frames are read and verified one at a time as the caller
// advances. Each iterator owns its file handle, so iterators are
// independent and safe to use concurrently.
func (a *Archive) Iterate() (*Iterator, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	r := bufio.NewReader(f)
	if err := readMagic(r); err != nil {
		f.Close()
		return nil, err
	}
	return &Iterator{f: f, r: r, cipher: a.cipher}, nil
}

// Records reads up to limit records from the start of the archive; a limit
// of zero or less reads everything.
func (a *Archive) Records(limit int) ([]Record, error) {
	it, err := a.Iterate()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Record
	for it.Next() {
		out = append(out, it.Record())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Iterator walks an archive file record by record. Usage follows the
// database/sql rows pattern:
//
//	it, err := a.Iterate()
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	f      *os.File
	r      *bufio.Reader
	cipher *crypto.Cipher
	rec    Record
	err    error
	done   bool
}

// Next advances to the next record. It returns false at the end of the
// archive or on the first damaged frame; Err distinguishes the two.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	payload, err := readFrame(it.r)
	if err == io.EOF {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		return false
	}

	if it.cipher != nil {
		payload, err = it.cipher.Decrypt(payload)
		if err != nil {
			it.err = err
			return false
		}
	}

	rec, err := decodeRecord(payload)
	if err != nil {
		// The frame checksum passed but the payload is not a record; the
		// store's contract is broken either way.
		it.err = fmt.Errorf("%w: %v", ErrCorrupted, err)
		return false
	}
	it.rec = rec
	return true
}

// Record returns the record read by the last successful Next.
func (it *Iterator) Record() Record {
	return it.rec
}

// Err returns the first error encountered, or nil after a clean end of
// file.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator's file handle.
func (it *Iterator) Close() error {
	return it.f.Close()
}

// Scan streams every frame of the file at path through checksum
// verification without decoding or decrypting payloads. It returns the
// number of intact frames; on damage it returns the count of intact frames
// before the damage alongside the error.
func Scan(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := readMagic(r); err != nil {
		return 0, err
	}

	n := 0
	for {
		if _, err := readFrame(r); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		n++
	}
}

// Salvage rewrites the file at path keeping only its leading run of intact
// frames, dropping everything from the first damaged frame onward. A file
// with a bad magic header is reset to an empty archive. The replacement is
// written to a temporary file and renamed over the original. Returns the
// number of frames kept.
func Salvage(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}

	var payloads [][]byte
	r := bufio.NewReader(f)
	if err := readMagic(r); err == nil {
		for {
			payload, err := readFrame(r)
			if err != nil {
				break
			}
			payloads = append(payloads, payload)
		}
	}
	f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".salvage-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	werr := func() error {
		if _, err := w.Write(fileMagic); err != nil {
			return err
		}
		for _, payload := range payloads {
			if err := writeFrame(w, payload); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if werr == nil {
		werr = tmp.Close()
	} else {
		tmp.Close()
	}
	if werr != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write salvaged archive: %w", werr)
	}

	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to set salvaged archive mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to replace archive: %w", err)
	}
	return len(payloads), nil
}
