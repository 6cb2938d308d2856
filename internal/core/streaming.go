package core

// streaming.go provides reader wrappers applied to every import payload
// before parsing:
//
//   - BOM skipping: Windows tools prefix UTF-8 files with 0xEF 0xBB 0xBF,
//     which would otherwise end up in the first header name
//   - Byte counting: import logs and metrics report payload size even when
//     the client did not send a Content-Length

import (
	"bufio"
	"bytes"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CountingReader wraps an io.Reader and counts the bytes read through it.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // Declared size if known (0 if unknown)
}

// NewCountingReader creates a counting reader with an optional declared size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if the total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.BytesRead * 100 / r.Total)
	return min(p, 100)
}

// SkipBOM returns a reader that drops a leading UTF-8 byte order mark.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// WrapForImport counts raw payload bytes and strips a BOM.
//
// The counter sits below the BOM filter so BytesRead matches the payload
// size the client sent.
func WrapForImport(r io.Reader, totalSize int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, totalSize)
	return SkipBOM(counter), counter
}
