// Package localfs implements resource access for file URIs and bare OS
// paths. It registers itself for the file scheme on import.
package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func init() {
	respath.Register(respath.SchemeFile, func(ctx context.Context) (respath.Accessor, error) {
		return New(), nil
	})
}

// Accessor performs I/O on the local file system.
type Accessor struct{}

// New returns a local file accessor.
func New() *Accessor { return &Accessor{} }

func ospath(r respath.ResourcePath) (string, error) {
	p, err := r.OSPath()
	if err != nil {
		return "", err
	}
	return p, nil
}

func (a *Accessor) Exists(ctx context.Context, r respath.ResourcePath) (bool, error) {
	p, err := ospath(r)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.KindOf(err), "exists", p, err)
}

func (a *Accessor) Size(ctx context.Context, r respath.ResourcePath) (int64, error) {
	p, err := ospath(r)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.KindOf(err), "size", p, err)
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}

func (a *Accessor) Read(ctx context.Context, r respath.ResourcePath, size int64) ([]byte, error) {
	p, err := ospath(r)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "read", p, err)
	}
	defer f.Close()

	var data []byte
	if size < 0 {
		data, err = io.ReadAll(f)
	} else {
		data = make([]byte, size)
		var n int
		n, err = io.ReadFull(f, data)
		data = data[:n]
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "read", p, err)
	}
	return data, nil
}

func (a *Accessor) Write(ctx context.Context, r respath.ResourcePath, data []byte, overwrite bool) error {
	p, err := ospath(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "write", p, err)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "write", p, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	return xerrors.Wrap(xerrors.KindOf(werr), "write", p, werr)
}

func (a *Accessor) Remove(ctx context.Context, r respath.ResourcePath) error {
	p, err := ospath(r)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "remove", p, err)
	}
	return nil
}

func (a *Accessor) Mkdir(ctx context.Context, r respath.ResourcePath) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "mkdir", r.String())
	}
	p, err := ospath(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "mkdir", p, err)
	}
	return nil
}

func (a *Accessor) Open(ctx context.Context, r respath.ResourcePath) (respath.Handle, error) {
	p, err := ospath(r)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "open", p, err)
	}
	return &fileHandle{f: f}, nil
}

// AsLocal returns the path itself; nothing needs staging.
func (a *Accessor) AsLocal(ctx context.Context, r respath.ResourcePath) (respath.ResourcePath, error) {
	return r, nil
}

func (a *Accessor) Walk(ctx context.Context, r respath.ResourcePath, fn respath.WalkFunc) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "walk", r.String())
	}
	p, err := ospath(r)
	if err != nil {
		return err
	}
	return walk(ctx, r, p, fn)
}

func walk(ctx context.Context, dir respath.ResourcePath, p string, fn respath.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "walk", p, err)
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
		subPath, err := dir.Join(sub + "/")
		if err != nil {
			return err
		}
		if err := walk(ctx, subPath, filepath.Join(p, sub), fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accessor) TransferModes() []respath.TransferMode {
	return []respath.TransferMode{
		respath.ModeAuto,
		respath.ModeCopy,
		respath.ModeMove,
		respath.ModeLink,
		respath.ModeHardlink,
		respath.ModeSymlink,
		respath.ModeRelsymlink,
	}
}

func (a *Accessor) TransferDefault() respath.TransferMode {
	return respath.ModeCopy
}

// Link realizes the link transfer family. src must be local; relsymlink
// computes the target relative to the destination directory.
func (a *Accessor) Link(ctx context.Context, dst, src respath.ResourcePath, mode respath.TransferMode) error {
	dstPath, err := ospath(dst)
	if err != nil {
		return err
	}
	srcPath, err := ospath(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "link", dstPath, err)
	}

	switch mode {
	case respath.ModeHardlink:
		err = os.Link(srcPath, dstPath)
	case respath.ModeSymlink:
		err = os.Symlink(srcPath, dstPath)
	case respath.ModeRelsymlink:
		var rel string
		rel, err = filepath.Rel(filepath.Dir(dstPath), srcPath)
		if err == nil {
			err = os.Symlink(rel, dstPath)
		}
	case respath.ModeLink:
		// Prefer a hard link, falling back to a symlink when the paths
		// are on different file systems.
		if err = os.Link(srcPath, dstPath); err != nil {
			err = os.Symlink(srcPath, dstPath)
		}
	default:
		return xerrors.E(xerrors.KindTransferMode, "link", dst.String())
	}
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "link", dstPath, err)
	}
	return nil
}

// TransferDirect copies or moves between local paths without staging.
// Sources that are not local are left to the generic transfer path.
func (a *Accessor) TransferDirect(ctx context.Context, dst, src respath.ResourcePath, mode respath.TransferMode, overwrite bool) (bool, error) {
	if !src.IsLocal() {
		return false, nil
	}
	dstPath, err := ospath(dst)
	if err != nil {
		return false, err
	}
	srcPath, err := ospath(src)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return true, xerrors.Wrap(xerrors.KindOf(err), "transfer", dstPath, err)
	}

	if mode == respath.ModeMove {
		if err := os.Rename(srcPath, dstPath); err == nil {
			return true, nil
		}
		// Cross-device rename fails; copy then remove.
		if err := copyFile(srcPath, dstPath); err != nil {
			return true, err
		}
		if err := os.Remove(srcPath); err != nil {
			return true, xerrors.Wrap(xerrors.KindOf(err), "transfer", srcPath, err)
		}
		return true, nil
	}
	return true, copyFile(srcPath, dstPath)
}

// copyFile writes to a sibling temporary file and renames over the
// destination, so readers never observe a partial copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "transfer", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "transfer", dst, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.KindOf(err), "transfer", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "transfer", dst, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "transfer", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "transfer", dst, err)
	}
	return nil
}

type fileHandle struct {
	f *os.File
}

func (h *fileHandle) Read(p []byte) (int, error)  { return h.f.Read(p) }
func (h *fileHandle) Write(p []byte) (int, error) { return h.f.Write(p) }

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	return h.f.Seek(offset, whence)
}

func (h *fileHandle) Tell() int64 {
	pos, err := h.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (h *fileHandle) Flush() error { return h.f.Sync() }
func (h *fileHandle) Close() error { return h.f.Close() }
