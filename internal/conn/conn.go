// Package conn wraps an accepted stream socket with the line and exact-length
// primitives the exchange protocol is built on.
package conn

import (
	"bufio"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"time"
)

const (
	// MaxLineLength bounds a single control line, terminator included.
	MaxLineLength = 64 * 1024

	copyBufferSize = 32 * 1024
)

var ErrLineTooLong = errors.New("control line too long")

// Conn is safe for one reader and any number of concurrent writers. Writes are
// serialized so a line never lands inside another writer's block.
type Conn struct {
	raw          net.Conn
	r            *bufio.Reader
	writeTimeout time.Duration

	wmu sync.Mutex
	w   *bufio.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps raw. A positive writeTimeout bounds every individual write to the
// peer; reads are never given a deadline.
func New(raw net.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{
		raw:          raw,
		r:            bufio.NewReaderSize(raw, copyBufferSize),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
	c.w = bufio.NewWriterSize(deadlineWriter{c}, copyBufferSize)
	return c
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator. A final
// unterminated line is returned before io.EOF.
func (c *Conn) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineLength {
			return "", ErrLineTooLong
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(line) > 0:
			return trimEOL(line), nil
		case err != nil:
			return "", err
		}
		return trimEOL(line), nil
	}
}

func trimEOL(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b)
}

// ReadExactly copies exactly n payload bytes to dst. It reads through the same
// buffer as ReadLine, so bytes that arrived together with the preceding control
// line are not lost.
func (c *Conn) ReadExactly(dst io.Writer, n int64) (int64, error) {
	return CopyExactly(dst, c.r, n)
}

// ReadBytes is ReadExactly into memory, for small payloads.
func (c *Conn) ReadBytes(n uint64) ([]byte, error) {
	if n > math.MaxInt32 {
		return nil, errors.New("payload too large to buffer")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// CopyExactly copies n bytes from src to dst, retrying short reads. A source
// that ends early yields io.ErrUnexpectedEOF along with the count copied.
func CopyExactly(dst io.Writer, src io.Reader, n int64) (int64, error) {
	if n < 0 {
		return 0, errors.New("negative length")
	}
	buf := make([]byte, copyBufferSize)
	written, err := io.CopyBuffer(dst, io.LimitReader(src, n), buf)
	if err != nil {
		return written, err
	}
	if written < n {
		return written, io.ErrUnexpectedEOF
	}
	return written, nil
}

func (c *Conn) WriteLine(line string) error {
	return c.WriteLines(line)
}

// WriteLines writes several lines as one uninterrupted block.
func (c *Conn) WriteLines(lines ...string) error {
	return c.WriteBlock(func(w io.Writer) error {
		for _, line := range lines {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Conn) WriteBytes(p []byte) error {
	return c.WriteBlock(func(w io.Writer) error {
		_, err := w.Write(p)
		return err
	})
}

// WriteBlock runs fn with exclusive access to the outgoing stream and flushes
// afterwards. Transfer preambles and their payloads go through here so no
// broadcast line can split them.
func (c *Conn) WriteBlock(fn func(w io.Writer) error) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.IsClosed() {
		return net.ErrClosed
	}
	if err := fn(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close closes the socket, unblocking any pending read or write. Only the
// first call does anything.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.raw.Close()
	})
	return err
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// deadlineWriter refreshes the write deadline before each write to the socket,
// so a long payload is bounded per chunk rather than as a whole.
type deadlineWriter struct {
	c *Conn
}

func (d deadlineWriter) Write(p []byte) (int, error) {
	if d.c.writeTimeout > 0 {
		if err := d.c.raw.SetWriteDeadline(time.Now().Add(d.c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return d.c.raw.Write(p)
}
