package respath

import (
	"io"

	"github.com/astrodata/respath/pkg/xerrors"
)

// Handle is a seekable stream over a resource. Backends that cannot
// support one of the directions return a not-supported error from the
// corresponding method.
type Handle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Tell returns the current stream position.
	Tell() int64

	// Flush forces buffered writes out to the resource.
	Flush() error
}

// BufferHandle is a read-only Handle over an in-memory snapshot of a
// resource. It backs schemes that cannot stream and the fallback path of
// ranged readers.
type BufferHandle struct {
	buf []byte
	pos int64
}

// NewBufferHandle wraps data in a read-only handle positioned at the
// start.
func NewBufferHandle(data []byte) *BufferHandle {
	return &BufferHandle{buf: data}
}

func (h *BufferHandle) Read(p []byte) (int, error) {
	if h.pos >= int64(len(h.buf)) {
		return 0, io.EOF
	}
	n := copy(p, h.buf[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *BufferHandle) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	case io.SeekEnd:
		abs = int64(len(h.buf)) + offset
	default:
		return 0, xerrors.E(xerrors.KindInvalid, "seek", "")
	}
	if abs < 0 {
		return 0, xerrors.E(xerrors.KindInvalid, "seek", "")
	}
	h.pos = abs
	return abs, nil
}

func (h *BufferHandle) Write(p []byte) (int, error) {
	return 0, xerrors.E(xerrors.KindNotSupported, "write", "")
}

func (h *BufferHandle) Tell() int64 { return h.pos }

func (h *BufferHandle) Flush() error { return nil }

func (h *BufferHandle) Close() error { return nil }
