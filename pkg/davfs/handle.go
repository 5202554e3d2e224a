package davfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

var contentRangeRE = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+|\*)$`)

// readHandle streams a remote resource with ranged GET requests. When
// the server sends more than the requested range, or ignores the range
// and sends the whole representation, the handle keeps the body and
// serves further reads from it.
type readHandle struct {
	c      *Client
	r      respath.ResourcePath
	pos    int64
	eof    bool
	closed bool

	// buf holds the bytes of the resource starting at offset bufStart.
	// bufAll marks it as the complete representation.
	buf      []byte
	bufStart int64
	bufAll   bool
}

func newReadHandle(c *Client, r respath.ResourcePath) *readHandle {
	return &readHandle{c: c, r: r}
}

func (h *readHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, xerrors.E(xerrors.KindInvalid, "read", h.r.String())
	}
	if h.buf != nil {
		off := h.pos - h.bufStart
		switch {
		case off >= 0 && off < int64(len(h.buf)):
			n := copy(p, h.buf[off:])
			h.pos += int64(n)
			return n, nil
		case h.bufAll:
			return 0, io.EOF
		default:
			// A seek left the buffered window; fetch remotely again.
			h.buf = nil
		}
	}
	if h.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	hdr := http.Header{}
	hdr.Set("Range", fmt.Sprintf("bytes=%d-%d", h.pos, h.pos+int64(len(p))-1))
	hdr.Set("Accept-Encoding", "identity")
	resp, err := h.c.send(context.Background(), request{
		method: http.MethodGet,
		url:    wireURL(h.r),
		header: hdr,
		follow: true,
		store:  h.c.data,
	})
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.KindProtocol, "read", h.r.String(), err)
		}
		n := copy(p, data)
		if int64(len(data)) > int64(len(p)) {
			// More arrived than asked for; keep the window and serve
			// the surplus from memory.
			h.buf = data
			h.bufStart = h.pos
			h.pos += int64(n)
			return n, nil
		}
		h.pos += int64(n)
		if n < len(p) || rangeExhausted(resp.Header.Get("Content-Range")) {
			h.eof = true
		}
		return n, nil
	case http.StatusOK:
		// Range ignored: the whole representation arrived. Buffer it so
		// it is never fetched again.
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.KindProtocol, "read", h.r.String(), err)
		}
		h.buf = data
		h.bufStart = 0
		h.bufAll = true
		if h.pos >= int64(len(h.buf)) {
			return 0, io.EOF
		}
		n := copy(p, h.buf[h.pos:])
		h.pos += int64(n)
		return n, nil
	case http.StatusRequestedRangeNotSatisfiable:
		// Past the end; the position stays put so a Seek can resume.
		h.eof = true
		return 0, io.EOF
	case http.StatusNotFound:
		return 0, xerrors.E(xerrors.KindNotFound, "read", h.r.String())
	default:
		return 0, statusErr("get", h.r, resp.StatusCode)
	}
}

func (h *readHandle) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	case io.SeekEnd:
		size, err := h.c.Size(context.Background(), h.r)
		if err != nil {
			return 0, err
		}
		abs = size + offset
	default:
		return 0, xerrors.E(xerrors.KindInvalid, "seek", h.r.String())
	}
	if abs < 0 {
		return 0, xerrors.E(xerrors.KindInvalid, "seek", h.r.String())
	}
	h.pos = abs
	h.eof = false
	return abs, nil
}

func (h *readHandle) Tell() int64 { return h.pos }

func (h *readHandle) Write(p []byte) (int, error) {
	return 0, xerrors.E(xerrors.KindNotSupported, "write", h.r.String())
}

func (h *readHandle) Flush() error { return nil }

func (h *readHandle) Close() error {
	h.closed = true
	return nil
}

// rangeExhausted reports whether a Content-Range header shows the read
// reached the end of the representation.
func rangeExhausted(value string) bool {
	m := contentRangeRE.FindStringSubmatch(value)
	if m == nil || m[3] == "*" {
		return false
	}
	end, err1 := strconv.ParseInt(m[2], 10, 64)
	total, err2 := strconv.ParseInt(m[3], 10, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	return end+1 >= total
}
