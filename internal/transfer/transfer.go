// Package transfer moves file payloads over the control stream. A payload is
// announced by one decimal line holding its size and is followed by exactly
// that many raw bytes; nothing but the count marks where it ends.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"fileexchange/internal/conn"
	"fileexchange/internal/store"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrTruncatedTransfer = errors.New("truncated transfer")
	ErrBadPreamble       = errors.New("malformed transfer preamble")
)

// Request is the filename and declared size announced ahead of a payload.
type Request struct {
	Name string
	Size int64
}

// Result describes a completed transfer. Digest is the xxHash64 of the payload.
type Result struct {
	Name   string
	Size   int64
	Digest uint64
}

func (r Result) String() string {
	return fmt.Sprintf("%s (%d bytes, xxh64 %016x)", r.Name, r.Size, r.Digest)
}

// Source yields exactly n payload bytes or fails. *conn.Conn implements it.
type Source interface {
	ReadExactly(dst io.Writer, n int64) (int64, error)
}

type readerSource struct {
	r io.Reader
}

func (s readerSource) ReadExactly(dst io.Writer, n int64) (int64, error) {
	return conn.CopyExactly(dst, s.r, n)
}

// FromReader adapts a plain reader into a Source.
func FromReader(r io.Reader) Source {
	return readerSource{r: r}
}

// ParseSize parses a transfer preamble line.
func ParseSize(line string) (int64, error) {
	size, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadPreamble, line)
	}
	return size, nil
}

// Outgoing is a stored file opened for sending. Its size is fixed at Open.
type Outgoing struct {
	f    *os.File
	Name string
	Size int64
}

// Open opens the file at path for sending. A missing path, or one that is not
// a regular file, yields ErrFileNotFound. Holding the file open means a
// deletion racing with the caller's existence check cannot change what is sent.
func Open(path string) (*Outgoing, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrFileNotFound
	}
	return &Outgoing{f: f, Name: filepath.Base(path), Size: info.Size()}, nil
}

// Send writes the size line followed by exactly Size bytes of the file.
func (o *Outgoing) Send(w io.Writer) (Result, error) {
	res := Result{Name: o.Name, Size: o.Size}
	if _, err := io.WriteString(w, strconv.FormatInt(o.Size, 10)+"\n"); err != nil {
		return res, err
	}

	h := xxhash.New()
	if _, err := conn.CopyExactly(io.MultiWriter(w, h), o.f, o.Size); err != nil {
		return res, fmt.Errorf("send %s: %w", o.Name, err)
	}
	res.Digest = h.Sum64()
	return res, nil
}

func (o *Outgoing) Close() error {
	return o.f.Close()
}

// Send opens path and sends it. Nothing is written if the file is missing.
func Send(w io.Writer, path string) (Result, error) {
	o, err := Open(path)
	if err != nil {
		return Result{}, err
	}
	defer o.Close()
	return o.Send(w)
}

// Receive reads exactly size bytes from src into dest. The bytes go to a
// hidden partial file next to dest that is renamed into place only once the
// whole payload has arrived. If src ends early the partial file is removed and
// ErrTruncatedTransfer is returned. If the disk write fails, the rest of the
// payload is still consumed so the stream stays aligned.
func Receive(src Source, size int64, dest string) (Result, error) {
	res := Result{Name: filepath.Base(dest), Size: size}
	if size < 0 {
		return res, ErrBadPreamble
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+res.Name+"-*"+store.PartialSuffix)
	if err != nil {
		if derr := Discard(src, size); derr != nil {
			return res, derr
		}
		return res, fmt.Errorf("create %s: %w", res.Name, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	h := xxhash.New()
	fw := &fileWriter{f: tmp}
	n, err := src.ReadExactly(io.MultiWriter(fw, h), size)
	if err != nil {
		return res, fmt.Errorf("%w: %s got %d of %d bytes: %v", ErrTruncatedTransfer, res.Name, n, size, err)
	}
	if fw.err != nil {
		return res, fmt.Errorf("write %s: %w", res.Name, fw.err)
	}

	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("write %s: %w", res.Name, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return res, fmt.Errorf("commit %s: %w", res.Name, err)
	}
	committed = true
	res.Digest = h.Sum64()
	return res, nil
}

// Discard consumes a payload that will not be stored.
func Discard(src Source, size int64) error {
	if size <= 0 {
		return nil
	}
	n, err := src.ReadExactly(io.Discard, size)
	if err != nil {
		return fmt.Errorf("%w: discarded %d of %d bytes: %v", ErrTruncatedTransfer, n, size, err)
	}
	return nil
}

// fileWriter keeps accepting bytes after the first write error, which it
// remembers, so a failing disk never stops the payload from being consumed.
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.err == nil {
		_, w.err = w.f.Write(p)
	}
	return len(p), nil
}
