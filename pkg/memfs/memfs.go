// Package memfs implements resource access for mem URIs, backed by one
// in-memory file system per network location. Collections are implicit:
// they exist exactly while resources live below them. Useful for tests
// and for pipelines that hand intermediate products around without
// touching disk.
package memfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/go-git/go-billy/v5"
	billymem "github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func init() {
	respath.Register(respath.SchemeMem, func(ctx context.Context) (respath.Accessor, error) {
		return New(), nil
	})
}

// Accessor stores resources in memory, one volume per netloc.
type Accessor struct {
	mu   sync.Mutex
	vols map[string]billy.Filesystem
}

// New returns an accessor with no volumes; they appear on first use.
func New() *Accessor {
	return &Accessor{vols: make(map[string]billy.Filesystem)}
}

func (a *Accessor) vol(netloc string) billy.Filesystem {
	a.mu.Lock()
	defer a.mu.Unlock()
	fs, ok := a.vols[netloc]
	if !ok {
		fs = billymem.New()
		a.vols[netloc] = fs
	}
	return fs
}

func volPath(r respath.ResourcePath) string {
	return "/" + r.RelativeToPathRoot()
}

func (a *Accessor) Exists(ctx context.Context, r respath.ResourcePath) (bool, error) {
	fs := a.vol(r.Netloc())
	_, err := fs.Stat(volPath(r))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.KindOf(err), "exists", r.String(), err)
}

func (a *Accessor) Size(ctx context.Context, r respath.ResourcePath) (int64, error) {
	fs := a.vol(r.Netloc())
	info, err := fs.Stat(volPath(r))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.KindOf(err), "size", r.String(), err)
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}

func (a *Accessor) Read(ctx context.Context, r respath.ResourcePath, size int64) ([]byte, error) {
	fs := a.vol(r.Netloc())
	f, err := fs.Open(volPath(r))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "read", r.String(), err)
	}
	defer f.Close()

	if size < 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInternal, "read", r.String(), err)
		}
		return data, nil
	}
	data := make([]byte, size)
	n, err := io.ReadFull(f, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, xerrors.Wrap(xerrors.KindInternal, "read", r.String(), err)
	}
	return data[:n], nil
}

func (a *Accessor) Write(ctx context.Context, r respath.ResourcePath, data []byte, overwrite bool) error {
	fs := a.vol(r.Netloc())
	p := volPath(r)
	if !overwrite {
		if _, err := fs.Stat(p); err == nil {
			return xerrors.E(xerrors.KindAlreadyExists, "write", r.String())
		}
	}
	if err := util.WriteFile(fs, p, data, 0o644); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "write", r.String(), err)
	}
	return nil
}

func (a *Accessor) Remove(ctx context.Context, r respath.ResourcePath) error {
	fs := a.vol(r.Netloc())
	if err := fs.Remove(volPath(r)); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "remove", r.String(), err)
	}
	return nil
}

// Mkdir succeeds for any dir-like URI; collections materialize when the
// first resource below them is written.
func (a *Accessor) Mkdir(ctx context.Context, r respath.ResourcePath) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "mkdir", r.String())
	}
	fs := a.vol(r.Netloc())
	if err := fs.MkdirAll(volPath(r), 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "mkdir", r.String(), err)
	}
	return nil
}

func (a *Accessor) Open(ctx context.Context, r respath.ResourcePath) (respath.Handle, error) {
	fs := a.vol(r.Netloc())
	f, err := fs.Open(volPath(r))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "open", r.String(), err)
	}
	return &memHandle{f: f}, nil
}

func (a *Accessor) AsLocal(ctx context.Context, r respath.ResourcePath) (respath.ResourcePath, error) {
	data, err := a.Read(ctx, r, -1)
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

func (a *Accessor) Walk(ctx context.Context, r respath.ResourcePath, fn respath.WalkFunc) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "walk", r.String())
	}
	fs := a.vol(r.Netloc())
	return a.walk(ctx, fs, r, volPath(r), fn)
}

func (a *Accessor) walk(ctx context.Context, fs billy.Filesystem, dir respath.ResourcePath, p string, fn respath.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := fs.ReadDir(p)
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "walk", dir.String(), err)
	}
	var subdirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	sort.Strings(subdirs)
	sort.Strings(files)
	if err := fn(dir, subdirs, files); err != nil {
		return err
	}
	for _, sub := range subdirs {
		child, err := dir.Join(sub + "/")
		if err != nil {
			return err
		}
		if err := a.walk(ctx, fs, child, path.Join(p, sub), fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accessor) TransferModes() []respath.TransferMode {
	return []respath.TransferMode{respath.ModeAuto, respath.ModeCopy, respath.ModeMove}
}

func (a *Accessor) TransferDefault() respath.TransferMode {
	return respath.ModeCopy
}

// TransferDirect copies between volumes without leaving memory.
func (a *Accessor) TransferDirect(ctx context.Context, dst, src respath.ResourcePath, mode respath.TransferMode, overwrite bool) (bool, error) {
	if src.Scheme() != respath.SchemeMem {
		return false, nil
	}
	data, err := a.Read(ctx, src, -1)
	if err != nil {
		return true, err
	}
	if err := a.Write(ctx, dst, data, overwrite); err != nil {
		return true, err
	}
	if mode == respath.ModeMove {
		if err := a.Remove(ctx, src); err != nil {
			return true, err
		}
	}
	return true, nil
}

type memHandle struct {
	f billy.File
}

func (h *memHandle) Read(p []byte) (int, error)  { return h.f.Read(p) }
func (h *memHandle) Write(p []byte) (int, error) { return h.f.Write(p) }

func (h *memHandle) Seek(offset int64, whence int) (int64, error) {
	return h.f.Seek(offset, whence)
}

func (h *memHandle) Tell() int64 {
	pos, err := h.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (h *memHandle) Flush() error { return nil }
func (h *memHandle) Close() error { return h.f.Close() }
