// Package access exposes the scheme-dispatching client used for all
// resource I/O, including cross-scheme transfers.
package access

import (
	"context"
	"os"
	"sync"

	"github.com/astrodata/respath/pkg/respath"
)

// Invalidator is implemented by accessors that hold per-endpoint state
// such as connection pools or metadata caches.
type Invalidator interface {
	Invalidate()
}

// Client dispatches operations to the accessor registered for each URI
// scheme. Accessors are constructed lazily and reused; a Client is safe
// for concurrent use.
type Client struct {
	mu        sync.Mutex
	accessors map[string]respath.Accessor
}

// NewClient returns an empty client; accessors attach on first use.
func NewClient() *Client {
	return &Client{accessors: make(map[string]respath.Accessor)}
}

func (c *Client) accessor(ctx context.Context, r respath.ResourcePath) (respath.Accessor, error) {
	scheme := r.Scheme()
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.accessors[scheme]; ok {
		return a, nil
	}
	a, err := respath.Open(ctx, scheme)
	if err != nil {
		return nil, err
	}
	c.accessors[scheme] = a
	return a, nil
}

// Invalidate drops all attached accessors, releasing any cached sessions
// or endpoint state they hold. Needed after a fork or a credential
// rotation; subsequent operations reattach cleanly.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.accessors {
		if inv, ok := a.(Invalidator); ok {
			inv.Invalidate()
		}
	}
	c.accessors = make(map[string]respath.Accessor)
}

// Exists reports whether the resource exists.
func (c *Client) Exists(ctx context.Context, r respath.ResourcePath) (bool, error) {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return false, err
	}
	return a.Exists(ctx, r)
}

// Size returns the resource size in bytes.
func (c *Client) Size(ctx context.Context, r respath.ResourcePath) (int64, error) {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return 0, err
	}
	return a.Size(ctx, r)
}

// Read returns up to size bytes of the resource, the whole resource when
// size is negative.
func (c *Client) Read(ctx context.Context, r respath.ResourcePath, size int64) ([]byte, error) {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return nil, err
	}
	return a.Read(ctx, r, size)
}

// Write stores data at the resource.
func (c *Client) Write(ctx context.Context, r respath.ResourcePath, data []byte, overwrite bool) error {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return err
	}
	return a.Write(ctx, r, data, overwrite)
}

// Remove deletes the resource.
func (c *Client) Remove(ctx context.Context, r respath.ResourcePath) error {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return err
	}
	return a.Remove(ctx, r)
}

// Mkdir creates a container for a dir-like resource.
func (c *Client) Mkdir(ctx context.Context, r respath.ResourcePath) error {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return err
	}
	return a.Mkdir(ctx, r)
}

// Open returns a streaming handle for the resource.
func (c *Client) Open(ctx context.Context, r respath.ResourcePath) (respath.Handle, error) {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return nil, err
	}
	return a.Open(ctx, r)
}

// Walk visits the dir-like resource and every container below it.
func (c *Client) Walk(ctx context.Context, r respath.ResourcePath, fn respath.WalkFunc) error {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return err
	}
	return a.Walk(ctx, r, fn)
}

// AsLocal makes the resource available as a local file, downloading to
// staging storage when needed. The release func must be called when the
// local copy is no longer required; it deletes the file only when the
// backend staged a temporary copy.
func (c *Client) AsLocal(ctx context.Context, r respath.ResourcePath) (respath.ResourcePath, func(), error) {
	a, err := c.accessor(ctx, r)
	if err != nil {
		return respath.ResourcePath{}, nil, err
	}
	local, err := a.AsLocal(ctx, r)
	if err != nil {
		return respath.ResourcePath{}, nil, err
	}
	release := func() {}
	if local.IsTemporary() {
		release = func() {
			if p, err := local.OSPath(); err == nil {
				os.Remove(p)
			}
		}
	}
	return local, release, nil
}
