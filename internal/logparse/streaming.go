package logparse

// streaming.go holds the reader stack placed between the input stream and
// the CSV reader:
//
//   - CountingReader: counts raw bytes for progress reporting
//   - skipBOM: drops a leading UTF-8 byte order mark
//   - utf8Sanitizer: replaces invalid UTF-8 bytes with '?'
//
// Every layer works on the bytes already in flight, so memory stays
// constant regardless of file size.

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CountingReader counts bytes read from the underlying reader. BytesRead may
// be called from another goroutine while a parse is running.
type CountingReader struct {
	r io.Reader
	n atomic.Int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (c *CountingReader) BytesRead() int64 { return c.n.Load() }

// skipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(utf8BOM))
	if bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer rewrites invalid UTF-8 bytes to '?' in place. A multi-byte
// sequence split across reads is held back until the next call.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	off := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[off:])
	n += off
	if n == 0 {
		return 0, err
	}

	return s.sanitize(p[:n], err != nil), err
}

// sanitize fixes buf in place and returns the number of bytes to hand out.
// Unless final, an incomplete trailing rune is moved to pending.
func (s *utf8Sanitizer) sanitize(buf []byte, final bool) int {
	if !final {
		if tail := partialRuneSuffix(buf); tail > 0 {
			s.pending = append(s.pending, buf[len(buf)-tail:]...)
			buf = buf[:len(buf)-tail]
		}
	}
	if isASCII(buf) || utf8.Valid(buf) {
		return len(buf)
	}

	w := 0
	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 {
			buf[w] = '?'
			w++
			i++
			continue
		}
		w += copy(buf[w:], buf[i:i+size])
		i += size
	}
	return w
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// partialRuneSuffix returns the length of an incomplete rune at the end of
// b, or 0 if b ends on a rune boundary.
func partialRuneSuffix(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// wrapInput builds the reader stack for a parse.
func wrapInput(r io.Reader) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r)
	return newUTF8Sanitizer(skipBOM(counter)), counter
}
