// SPDX-License-Identifier: MPL-2.0

// Package archive implements the stager payload container format.
//
// An archive is a flat sequence of records, each framed as:
//
//	[uint32 LE path length][path bytes, UTF-8][uint32 LE data length][data bytes]
//
// Paths are stored slash-separated and relative to the base directory the
// archive was created from. There is no header, footer, index or checksum;
// readers scan forward until the stream ends. The whole record stream can
// optionally pass through a compression wrapper (deflate or xz) that leaves
// the framing untouched.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/ulikunitz/xz"
)

// Compression selects the stream wrapper applied around the record framing.
type Compression string

const (
	// CompressionNone writes records directly to the container stream.
	CompressionNone Compression = "none"
	// CompressionDeflate wraps the stream in a raw deflate stream.
	CompressionDeflate Compression = "deflate"
	// CompressionXZ wraps the stream in an xz stream.
	CompressionXZ Compression = "xz"
)

// maxPathLen bounds the path-length prefix so a damaged stream cannot force
// an arbitrarily large allocation. Real paths are nowhere near this.
const maxPathLen = 1 << 20

// ErrUnknownCompression is returned for a Compression value outside the
// supported set.
var ErrUnknownCompression = errors.New("unknown compression")

// Options configures archive creation and extraction. The same compression
// setting must be used on both sides; the format carries no self-description.
type Options struct {
	// Compression selects the stream wrapper. Defaults to CompressionNone.
	Compression Compression
}

// DefaultOptions returns options for an uncompressed archive.
func DefaultOptions() *Options {
	return &Options{Compression: CompressionNone}
}

// Entry describes one record of an archive without its content.
type Entry struct {
	// Path is the stored slash-separated relative path.
	Path string
	// Size is the content length in bytes.
	Size int64
}

// Create writes the given files as an archive to w. Each file's stored path
// is its path made relative to baseDir, slash-normalized, with leading and
// trailing separators trimmed. Files are written in the order given; callers
// that need deterministic output must order the list themselves.
func Create(w io.Writer, baseDir string, files []string, opts *Options) (err error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	cw, closeWrapper, err := wrapWriter(w, opts.Compression)
	if err != nil {
		return err
	}
	// The compression stream must be finalized on every path, including
	// error exits; an unclosed deflate/xz writer yields a truncated archive.
	defer func() {
		if cerr := closeWrapper(); err == nil {
			err = cerr
		}
	}()

	for _, file := range files {
		if err := writeRecord(cw, baseDir, file); err != nil {
			return err
		}
	}
	return nil
}

// Extract reads records from r and materializes them under destDir, creating
// intermediate directories and overwriting existing files. Extraction stops
// cleanly when the stream ends where a record would begin; a stream truncated
// mid-record likewise ends extraction early rather than failing (the format
// carries no integrity information).
func Extract(r io.Reader, destDir string, opts *Options) error {
	return scan(r, opts, func(relPath string, data []byte) error {
		destPath := filepath.Join(destDir, filepath.FromSlash(relPath))

		// Stored paths are untrusted input; refuse any that escape destDir.
		rel, err := filepath.Rel(destDir, destPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive path %q escapes destination directory", relPath)
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", relPath, err)
		}
		if err := os.WriteFile(destPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", relPath, err)
		}
		return nil
	})
}

// List returns the entries of the archive read from r without extracting it.
func List(r io.Reader, opts *Options) ([]Entry, error) {
	var entries []Entry
	err := scan(r, opts, func(relPath string, data []byte) error {
		entries = append(entries, Entry{Path: relPath, Size: int64(len(data))})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// scan walks the record stream and hands each (path, content) pair to fn.
func scan(r io.Reader, opts *Options, fn func(relPath string, data []byte) error) error {
	if opts == nil {
		opts = DefaultOptions()
	}

	cr, err := wrapReader(r, opts.Compression)
	if err != nil {
		return err
	}

	for {
		pathLen, ok, err := readLength(cr)
		if err != nil {
			return err
		}
		if !ok {
			return nil // clean end of stream at a record boundary
		}
		if pathLen > maxPathLen {
			return fmt.Errorf("archive record path length %d exceeds limit", pathLen)
		}

		pathBytes := make([]byte, pathLen)
		if _, err := io.ReadFull(cr, pathBytes); err != nil {
			if isEOF(err) {
				return nil // truncated mid-record; stop early
			}
			return fmt.Errorf("failed to read archive path: %w", err)
		}

		dataLen, ok, err := readLength(cr)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(cr, data); err != nil {
			if isEOF(err) {
				return nil
			}
			return fmt.Errorf("failed to read content of %s: %w", pathBytes, err)
		}

		if err := fn(string(pathBytes), data); err != nil {
			return err
		}
	}
}

// writeRecord frames a single file into the record stream.
func writeRecord(w io.Writer, baseDir, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	rel, err := storedPath(baseDir, file)
	if err != nil {
		return err
	}

	if err := writeLength(w, uint32(len(rel))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, rel); err != nil {
		return fmt.Errorf("failed to write archive path: %w", err)
	}
	if err := writeLength(w, uint32(len(data))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write content of %s: %w", rel, err)
	}
	return nil
}

// storedPath converts a file path into the relative, slash-separated form
// recorded in the archive.
func storedPath(baseDir, file string) (string, error) {
	rel := file
	if baseDir != "" {
		r, err := filepath.Rel(baseDir, file)
		if err != nil {
			return "", fmt.Errorf("failed to relativize %s against %s: %w", file, baseDir, err)
		}
		rel = r
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", fmt.Errorf("file %s is not under base directory %s", file, baseDir)
	}
	return rel, nil
}

// readLength reads one little-endian uint32 prefix. ok is false when the
// stream ended before any prefix byte was available.
func readLength(r io.Reader) (n uint32, ok bool, err error) {
	var buf [4]byte
	_, err = io.ReadFull(r, buf[:])
	if err == io.EOF {
		return 0, false, nil
	}
	if err == io.ErrUnexpectedEOF {
		return 0, false, nil // truncated prefix; treat as end of stream
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read record length: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), true, nil
}

func writeLength(w io.Writer, n uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	return nil
}

// wrapWriter layers the selected compression around w. The returned close
// function finalizes the compression stream and must be called exactly once.
func wrapWriter(w io.Writer, comp Compression) (io.Writer, func() error, error) {
	switch comp {
	case CompressionNone, "":
		return w, func() error { return nil }, nil
	case CompressionDeflate:
		// Fixed level so identical inputs always produce identical bytes.
		fw, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create deflate writer: %w", err)
		}
		return fw, fw.Close, nil
	case CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return xw, xw.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCompression, comp)
	}
}

func wrapReader(r io.Reader, comp Compression) (io.Reader, error) {
	switch comp {
	case CompressionNone, "":
		return r, nil
	case CompressionDeflate:
		return flate.NewReader(r), nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xr, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, comp)
	}
}

func isEOF(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

// ParseCompression converts a configuration string into a Compression value.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(strings.TrimSpace(s))) {
	case CompressionNone, "":
		return CompressionNone, nil
	case CompressionDeflate:
		return CompressionDeflate, nil
	case CompressionXZ:
		return CompressionXZ, nil
	default:
		return "", fmt.Errorf("%w: %q (expected none, deflate or xz)", ErrUnknownCompression, s)
	}
}
