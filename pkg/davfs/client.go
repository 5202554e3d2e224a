package davfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func init() {
	respath.Register(respath.SchemeHTTP, func(ctx context.Context) (respath.Accessor, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// maxRedirects bounds manual redirect chasing; storage front ends
// normally answer with a single hop to the back end holding the data.
const maxRedirects = 5

// Client accesses resources over HTTP, using WebDAV extensions when the
// endpoint advertises compliance class 1.
type Client struct {
	cfg       Config
	policy    RetryPolicy
	meta      *SessionStore
	data      *SessionStore
	endpoints *EndpointCache
}

// New returns a client with fresh session pools for the given
// configuration.
func New(cfg Config) (*Client, error) {
	ec, err := OpenEndpointCache(cfg.EndpointCachePath)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		policy:    NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffMin, cfg.BackoffMax),
		meta:      newSessionStore(cfg, cfg.FrontendConnections),
		data:      newSessionStore(cfg, cfg.BackendConnections),
		endpoints: ec,
	}, nil
}

// Invalidate drops all pooled connections and in-memory endpoint state.
func (c *Client) Invalidate() {
	c.meta.Invalidate()
	c.data.Invalidate()
	c.endpoints.Invalidate()
}

// Close releases the endpoint cache; pooled connections close lazily.
func (c *Client) Close() error {
	return c.endpoints.Close()
}

type request struct {
	method string
	url    string
	header http.Header
	body   []byte
	follow bool
	store  *SessionStore
}

// send issues a request with retry, optionally chasing redirects while
// preserving the method. The caller owns the returned response body.
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	u := r.url
	for redirects := 0; ; redirects++ {
		resp, err := c.attempt(ctx, r.method, u, r.header, r.body, r.store)
		if err != nil {
			return nil, err
		}
		if !r.follow || !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		drain(resp)
		if loc == "" || redirects >= maxRedirects {
			return nil, xerrors.E(xerrors.KindProtocol, strings.ToLower(r.method), u)
		}
		next, err := resolveRef(u, loc)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindProtocol, strings.ToLower(r.method), u, err)
		}
		u = next
	}
}

// attempt runs the retry loop for a single URL. The body is replayed
// from the byte slice on every attempt.
func (c *Client) attempt(ctx context.Context, method, u string, header http.Header, body []byte, store *SessionStore) (*http.Response, error) {
	root, err := rootOf(u)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, strings.ToLower(method), u, err)
	}
	client, err := store.For(root)
	if err != nil {
		return nil, err
	}
	token, err := c.cfg.bearerToken()
	if err != nil {
		return nil, err
	}

	for n := 1; ; n++ {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInvalid, strings.ToLower(method), u, err)
		}
		req.ContentLength = int64(len(body))
		for k, vals := range header {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if err == nil && !retryStatuses[status] {
			return resp, nil
		}
		if !c.policy.Retryable(method, status, err) || n >= c.policy.MaxAttempts {
			if err != nil {
				return nil, xerrors.Wrap(xerrors.KindProtocol, strings.ToLower(method), u, err)
			}
			return resp, nil
		}
		delay := c.policy.Delay(n, resp)
		if resp != nil {
			drain(resp)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// isWebDAV probes and caches whether the endpoint root advertises DAV
// compliance class 1.
func (c *Client) isWebDAV(ctx context.Context, r respath.ResourcePath) (bool, error) {
	root := r.RootURI().String()
	if isDav, ok := c.endpoints.Get(root); ok {
		return isDav, nil
	}
	resp, err := c.send(ctx, request{method: http.MethodOptions, url: root, follow: true, store: c.meta})
	if err != nil {
		return false, err
	}
	defer drain(resp)

	isDav := false
	if resp.StatusCode == http.StatusOK {
		for _, class := range strings.Split(resp.Header.Get("DAV"), ",") {
			if strings.TrimSpace(class) == "1" {
				isDav = true
				break
			}
		}
	}
	c.endpoints.Put(root, isDav)
	return isDav, nil
}

// stat fetches the properties for a single resource via a depth-zero
// PROPFIND.
func (c *Client) stat(ctx context.Context, r respath.ResourcePath) (DavProperty, bool, error) {
	hdr := http.Header{}
	hdr.Set("Depth", "0")
	hdr.Set("Content-Type", `application/xml; charset="utf-8"`)
	resp, err := c.send(ctx, request{
		method: "PROPFIND",
		url:    wireURL(r),
		header: hdr,
		body:   []byte(propfindBody),
		follow: true,
		store:  c.meta,
	})
	if err != nil {
		return DavProperty{}, false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusMultiStatus:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return DavProperty{}, false, xerrors.Wrap(xerrors.KindProtocol, "propfind", r.String(), err)
		}
		props, err := parseMultistatus(body)
		if err != nil || len(props) == 0 {
			return DavProperty{}, false, xerrors.Wrap(xerrors.KindProtocol, "propfind", r.String(), err)
		}
		return props[0], true, nil
	case http.StatusNotFound:
		return DavProperty{}, false, nil
	default:
		return DavProperty{}, false, statusErr("propfind", r, resp.StatusCode)
	}
}

func (c *Client) Exists(ctx context.Context, r respath.ResourcePath) (bool, error) {
	dav, err := c.isWebDAV(ctx, r)
	if err != nil {
		return false, err
	}
	if dav {
		_, found, err := c.stat(ctx, r)
		return found, err
	}
	resp, err := c.send(ctx, request{method: http.MethodHead, url: wireURL(r), follow: true, store: c.meta})
	if err != nil {
		return false, err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusErr("head", r, resp.StatusCode)
	}
}

func (c *Client) Size(ctx context.Context, r respath.ResourcePath) (int64, error) {
	dav, err := c.isWebDAV(ctx, r)
	if err != nil {
		return 0, err
	}
	if dav {
		prop, found, err := c.stat(ctx, r)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, xerrors.E(xerrors.KindNotFound, "size", r.String())
		}
		return prop.Size, nil
	}
	resp, err := c.send(ctx, request{method: http.MethodHead, url: wireURL(r), follow: true, store: c.meta})
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.ContentLength, nil
	case http.StatusNotFound:
		return 0, xerrors.E(xerrors.KindNotFound, "size", r.String())
	default:
		return 0, statusErr("head", r, resp.StatusCode)
	}
}

// Read downloads up to size bytes, using a ranged request when size is
// bounded. Payload requests run on the back-end pool since storage front
// ends redirect them to the server holding the data.
func (c *Client) Read(ctx context.Context, r respath.ResourcePath, size int64) ([]byte, error) {
	hdr := http.Header{}
	// A zero-byte request still hits the server so missing resources
	// fail, but a range of bytes=0--1 would be malformed.
	if size > 0 {
		hdr.Set("Range", fmt.Sprintf("bytes=0-%d", size-1))
		// Ranges only make sense on the raw representation.
		hdr.Set("Accept-Encoding", "identity")
	}
	resp, err := c.send(ctx, request{method: http.MethodGet, url: wireURL(r), header: hdr, follow: true, store: c.data})
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// Range past the end of an empty resource.
		return nil, nil
	case http.StatusNotFound:
		return nil, xerrors.E(xerrors.KindNotFound, "read", r.String())
	default:
		return nil, statusErr("get", r, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindProtocol, "read", r.String(), err)
	}
	// Servers may ignore the range and return the whole representation.
	if size >= 0 && int64(len(data)) > size {
		data = data[:size]
	}
	return data, nil
}

// Write uploads data with the two-step PUT: an empty probe discovers the
// redirect target, then the payload goes directly to the server that
// will store it. The probe keeps large payloads off the front end when
// it would only bounce them.
func (c *Client) Write(ctx context.Context, r respath.ResourcePath, data []byte, overwrite bool) error {
	if !overwrite {
		exists, err := c.Exists(ctx, r)
		if err != nil {
			return err
		}
		if exists {
			return xerrors.E(xerrors.KindAlreadyExists, "write", r.String())
		}
	}

	probeHdr := http.Header{}
	if c.cfg.SendExpectOnPut {
		probeHdr.Set("Expect", "100-continue")
	}
	u := wireURL(r)
	resp, err := c.send(ctx, request{method: http.MethodPut, url: u, header: probeHdr, follow: false, store: c.meta})
	if err != nil {
		return err
	}
	target := u
	if isRedirect(resp.StatusCode) {
		loc := resp.Header.Get("Location")
		if loc == "" {
			drain(resp)
			return xerrors.E(xerrors.KindProtocol, "put", r.String())
		}
		if target, err = resolveRef(u, loc); err != nil {
			drain(resp)
			return xerrors.Wrap(xerrors.KindProtocol, "put", r.String(), err)
		}
	} else if !putOK(resp.StatusCode) {
		drain(resp)
		return statusErr("put", r, resp.StatusCode)
	}
	drain(resp)

	hdr := http.Header{}
	if c.cfg.Digest != "" {
		hdr.Set("Want-Digest", c.cfg.Digest)
	}
	resp, err = c.send(ctx, request{method: http.MethodPut, url: target, header: hdr, body: data, follow: false, store: c.data})
	if err != nil {
		return err
	}
	defer drain(resp)
	if !putOK(resp.StatusCode) {
		return statusErr("put", r, resp.StatusCode)
	}
	return nil
}

// Remove deletes the resource. An absent resource is not an error: the
// desired state is reached either way.
func (c *Client) Remove(ctx context.Context, r respath.ResourcePath) error {
	resp, err := c.send(ctx, request{method: http.MethodDelete, url: wireURL(r), follow: true, store: c.meta})
	if err != nil {
		return err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusErr("delete", r, resp.StatusCode)
	}
}

// Mkdir creates the collection and any missing parents. Collections
// need WebDAV; plain HTTP has no notion of them.
func (c *Client) Mkdir(ctx context.Context, r respath.ResourcePath) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "mkdir", r.String())
	}
	dav, err := c.isWebDAV(ctx, r)
	if err != nil {
		return err
	}
	if !dav {
		return xerrors.E(xerrors.KindNotSupported, "mkdir", r.String())
	}
	return c.mkdirAll(ctx, r)
}

func (c *Client) mkdirAll(ctx context.Context, r respath.ResourcePath) error {
	prop, found, err := c.stat(ctx, r)
	if err != nil {
		return err
	}
	if found {
		if !prop.IsCollection {
			return xerrors.E(xerrors.KindAlreadyExists, "mkdir", r.String())
		}
		return nil
	}
	parent, err := r.Parent()
	if err != nil {
		return err
	}
	if !parent.Equal(r) {
		if err := c.mkdirAll(ctx, parent); err != nil {
			return err
		}
	}
	return c.mkcol(ctx, r)
}

func (c *Client) mkcol(ctx context.Context, r respath.ResourcePath) error {
	resp, err := c.send(ctx, request{method: "MKCOL", url: wireURL(r), follow: true, store: c.meta})
	if err != nil {
		return err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusMethodNotAllowed:
		// The collection already exists.
		return nil
	default:
		return statusErr("mkcol", r, resp.StatusCode)
	}
}

// Walk lists the collection recursively via depth-one PROPFIND queries.
func (c *Client) Walk(ctx context.Context, r respath.ResourcePath, fn respath.WalkFunc) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "walk", r.String())
	}
	dav, err := c.isWebDAV(ctx, r)
	if err != nil {
		return err
	}
	if !dav {
		return xerrors.E(xerrors.KindNotSupported, "walk", r.String())
	}
	return c.walk(ctx, r, fn)
}

func (c *Client) walk(ctx context.Context, dir respath.ResourcePath, fn respath.WalkFunc) error {
	props, err := c.list(ctx, dir)
	if err != nil {
		return err
	}
	var subdirs, files []string
	for _, p := range props {
		if sameResource(p.Href, dir) {
			continue
		}
		if p.IsCollection {
			subdirs = append(subdirs, p.Name)
		} else {
			files = append(files, p.Name)
		}
	}
	if err := fn(dir, subdirs, files); err != nil {
		return err
	}
	for _, sub := range subdirs {
		child, err := dir.Join(sub + "/")
		if err != nil {
			return err
		}
		if err := c.walk(ctx, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// list returns the properties of a collection's direct children plus the
// collection itself.
func (c *Client) list(ctx context.Context, dir respath.ResourcePath) ([]DavProperty, error) {
	hdr := http.Header{}
	hdr.Set("Depth", "1")
	hdr.Set("Content-Type", `application/xml; charset="utf-8"`)
	resp, err := c.send(ctx, request{
		method: "PROPFIND",
		url:    wireURL(dir),
		header: hdr,
		body:   []byte(propfindBody),
		follow: true,
		store:  c.meta,
	})
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusMultiStatus:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindProtocol, "propfind", dir.String(), err)
		}
		return parseMultistatus(body)
	case http.StatusNotFound:
		return nil, xerrors.E(xerrors.KindNotFound, "propfind", dir.String())
	default:
		return nil, statusErr("propfind", dir, resp.StatusCode)
	}
}

func (c *Client) Open(ctx context.Context, r respath.ResourcePath) (respath.Handle, error) {
	return newReadHandle(c, r), nil
}

// AsLocal downloads the resource to a staging file owned by the caller.
func (c *Client) AsLocal(ctx context.Context, r respath.ResourcePath) (respath.ResourcePath, error) {
	data, err := c.Read(ctx, r, -1)
	if err != nil {
		return respath.ResourcePath{}, err
	}
	tmp, err := respath.MakeTemp(r.Extension())
	if err != nil {
		return respath.ResourcePath{}, err
	}
	p, err := tmp.OSPath()
	if err != nil {
		return respath.ResourcePath{}, err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		os.Remove(p)
		return respath.ResourcePath{}, xerrors.Wrap(xerrors.KindOf(err), "as-local", p, err)
	}
	return tmp, nil
}

func (c *Client) TransferModes() []respath.TransferMode {
	return []respath.TransferMode{respath.ModeAuto, respath.ModeCopy, respath.ModeMove}
}

func (c *Client) TransferDefault() respath.TransferMode {
	return respath.ModeCopy
}

// TransferDirect copies or moves server-side via COPY/MOVE when both
// URIs live on the same WebDAV endpoint. Disabled by CopyViaLocal for
// servers whose COPY is unreliable against remote storage back ends.
func (c *Client) TransferDirect(ctx context.Context, dst, src respath.ResourcePath, mode respath.TransferMode, overwrite bool) (bool, error) {
	if c.cfg.CopyViaLocal {
		return false, nil
	}
	if !strings.HasPrefix(src.Scheme(), respath.SchemeHTTP) {
		return false, nil
	}
	if !src.RootURI().Equal(dst.RootURI()) {
		return false, nil
	}
	dav, err := c.isWebDAV(ctx, dst)
	if err != nil {
		return false, err
	}
	if !dav {
		return false, nil
	}

	method := "COPY"
	if mode == respath.ModeMove {
		method = "MOVE"
	}
	hdr := http.Header{}
	hdr.Set("Destination", wireURL(dst))
	if overwrite {
		hdr.Set("Overwrite", "T")
	} else {
		hdr.Set("Overwrite", "F")
	}
	resp, err := c.send(ctx, request{method: method, url: wireURL(src), header: hdr, follow: true, store: c.meta})
	if err != nil {
		return true, err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent:
		return true, nil
	case http.StatusPreconditionFailed:
		return true, xerrors.E(xerrors.KindAlreadyExists, strings.ToLower(method), dst.String())
	default:
		return true, statusErr(strings.ToLower(method), dst, resp.StatusCode)
	}
}

func putOK(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func wireURL(r respath.ResourcePath) string {
	u := r.String()
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return u
}

func rootOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host + "/", nil
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// sameResource compares a PROPFIND href against a resource path,
// ignoring trailing separators and the authority.
func sameResource(href string, r respath.ResourcePath) bool {
	h := strings.TrimSuffix(href, "/")
	if u, err := url.Parse(href); err == nil {
		h = strings.TrimSuffix(u.EscapedPath(), "/")
	}
	return h == strings.TrimSuffix(r.Path(), "/")
}

func statusErr(op string, r respath.ResourcePath, status int) error {
	kind := xerrors.KindProtocol
	if status == http.StatusForbidden {
		kind = xerrors.KindPermission
	}
	return xerrors.Wrap(kind, op, r.String(), fmt.Errorf("unexpected status %d", status))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
