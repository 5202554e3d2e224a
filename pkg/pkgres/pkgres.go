// Package pkgres implements resource URIs resolving into file trees
// compiled into the binary, typically go:embed trees registered at init
// time. The network location selects the registered tree and the path
// addresses a file within it. Everything is read-only.
package pkgres

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func init() {
	respath.Register(respath.SchemeResource, func(ctx context.Context) (respath.Accessor, error) {
		return defaultAccessor, nil
	})
}

var defaultAccessor = &Accessor{trees: make(map[string]fs.FS)}

// RegisterTree makes fsys resolvable under resource://name/. Meant to be
// called from init functions of packages embedding data files.
func RegisterTree(name string, fsys fs.FS) {
	defaultAccessor.mu.Lock()
	defer defaultAccessor.mu.Unlock()
	if _, dup := defaultAccessor.trees[name]; dup {
		panic("pkgres: RegisterTree called twice for " + name)
	}
	defaultAccessor.trees[name] = fsys
}

// Accessor serves registered read-only file trees.
type Accessor struct {
	mu    sync.RWMutex
	trees map[string]fs.FS
}

func (a *Accessor) tree(r respath.ResourcePath) (fs.FS, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fsys, ok := a.trees[r.Netloc()]
	if !ok {
		return nil, xerrors.E(xerrors.KindNotFound, "resolve", r.String())
	}
	return fsys, nil
}

// treePath maps the URI path onto the fs.FS name space, where the root
// is "." and names never start with a separator.
func treePath(r respath.ResourcePath) string {
	p := strings.TrimSuffix(r.RelativeToPathRoot(), "/")
	if p == "" {
		return "."
	}
	return p
}

func (a *Accessor) Exists(ctx context.Context, r respath.ResourcePath) (bool, error) {
	fsys, err := a.tree(r)
	if err != nil {
		return false, err
	}
	_, err = fs.Stat(fsys, treePath(r))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.KindOf(err), "exists", r.String(), err)
}

func (a *Accessor) Size(ctx context.Context, r respath.ResourcePath) (int64, error) {
	fsys, err := a.tree(r)
	if err != nil {
		return 0, err
	}
	info, err := fs.Stat(fsys, treePath(r))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.KindOf(err), "size", r.String(), err)
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}

func (a *Accessor) Read(ctx context.Context, r respath.ResourcePath, size int64) ([]byte, error) {
	fsys, err := a.tree(r)
	if err != nil {
		return nil, err
	}
	f, err := fsys.Open(treePath(r))
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
	return xerrors.E(xerrors.KindNotSupported, "write", r.String())
}

func (a *Accessor) Remove(ctx context.Context, r respath.ResourcePath) error {
	return xerrors.E(xerrors.KindNotSupported, "remove", r.String())
}

func (a *Accessor) Mkdir(ctx context.Context, r respath.ResourcePath) error {
	return xerrors.E(xerrors.KindNotSupported, "mkdir", r.String())
}

func (a *Accessor) Open(ctx context.Context, r respath.ResourcePath) (respath.Handle, error) {
	data, err := a.Read(ctx, r, -1)
	if err != nil {
		return nil, err
	}
	return respath.NewBufferHandle(data), nil
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
	fsys, err := a.tree(r)
	if err != nil {
		return err
	}
	return a.walk(ctx, fsys, r, treePath(r), fn)
}

func (a *Accessor) walk(ctx context.Context, fsys fs.FS, dir respath.ResourcePath, p string, fn respath.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := fs.ReadDir(fsys, p)
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
		next := p + "/" + sub
		if p == "." {
			next = sub
		}
		if err := a.walk(ctx, fsys, child, next, fn); err != nil {
			return err
		}
	}
	return nil
}

// TransferModes is empty: a read-only tree cannot be a destination.
func (a *Accessor) TransferModes() []respath.TransferMode { return nil }

func (a *Accessor) TransferDefault() respath.TransferMode { return respath.ModeCopy }
