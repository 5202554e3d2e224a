package access

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"

	_ "github.com/astrodata/respath/pkg/localfs"
)

func newRes(t *testing.T, p string) respath.ResourcePath {
	t.Helper()
	r, err := respath.New(p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func writeFile(t *testing.T, p string, data []byte) respath.ResourcePath {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return newRes(t, p)
}

func TestTransferCopy(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	payload := []byte("transfer payload")
	src := writeFile(t, filepath.Join(t.TempDir(), "src.bin"), payload)
	dst := newRes(t, filepath.Join(t.TempDir(), "dst.bin"))

	if err := c.Transfer(ctx, dst, src, respath.ModeCopy, false); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(ctx, dst, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("dst content = %q", got)
	}
	if ok, _ := c.Exists(ctx, src); !ok {
		t.Error("copy removed the source")
	}
}

func TestTransferRejectsUnknownMode(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	src := writeFile(t, filepath.Join(t.TempDir(), "src.bin"), []byte("x"))
	dst := newRes(t, filepath.Join(t.TempDir(), "dst.bin"))

	err := c.Transfer(ctx, dst, src, respath.TransferMode("teleport"), false)
	if !xerrors.Is(err, xerrors.KindTransferMode) {
		t.Fatalf("err = %v, want transfer-mode", err)
	}
	if ok, _ := c.Exists(ctx, dst); ok {
		t.Error("rejected transfer still created destination")
	}
}

func TestTransferNoOverwrite(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	src := writeFile(t, filepath.Join(t.TempDir(), "src.bin"), []byte("new"))
	dst := writeFile(t, filepath.Join(t.TempDir(), "dst.bin"), []byte("old"))

	err := c.Transfer(ctx, dst, src, respath.ModeCopy, false)
	if !xerrors.Is(err, xerrors.KindAlreadyExists) {
		t.Fatalf("err = %v, want already-exists", err)
	}
	got, _ := c.Read(ctx, dst, -1)
	if string(got) != "old" {
		t.Errorf("destination clobbered: %q", got)
	}

	if err := c.Transfer(ctx, dst, src, respath.ModeCopy, true); err != nil {
		t.Fatal(err)
	}
	got, _ = c.Read(ctx, dst, -1)
	if string(got) != "new" {
		t.Errorf("overwrite content = %q", got)
	}
}

func TestTransferMove(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	src := writeFile(t, filepath.Join(t.TempDir(), "src.bin"), []byte("moved"))
	dst := newRes(t, filepath.Join(t.TempDir(), "dst.bin"))

	if err := c.Transfer(ctx, dst, src, respath.ModeMove, false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, src); ok {
		t.Error("source survived the move")
	}
	got, _ := c.Read(ctx, dst, -1)
	if string(got) != "moved" {
		t.Errorf("dst content = %q", got)
	}
}

func TestTransferIdenticalIsNoop(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	src := writeFile(t, filepath.Join(t.TempDir(), "same.bin"), []byte("keep"))

	if err := c.Transfer(ctx, src, src, respath.ModeMove, true); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, src); !ok {
		t.Error("self-move deleted the resource")
	}
}

func TestTransferSymlink(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	src := writeFile(t, filepath.Join(t.TempDir(), "src.bin"), []byte("linked"))
	dst := newRes(t, filepath.Join(t.TempDir(), "dst.bin"))

	if err := c.Transfer(ctx, dst, src, respath.ModeSymlink, false); err != nil {
		t.Fatal(err)
	}
	p, _ := dst.OSPath()
	if _, err := os.Readlink(p); err != nil {
		t.Errorf("destination is not a symlink: %v", err)
	}
}

func TestTransferLinkFromTemporary(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	staged := writeFile(t, filepath.Join(t.TempDir(), "staged.bin"), []byte("x")).AsTemporary()
	dst := newRes(t, filepath.Join(t.TempDir(), "dst.bin"))

	err := c.Transfer(ctx, dst, staged, respath.ModeSymlink, false)
	if !xerrors.Is(err, xerrors.KindInvalid) {
		t.Fatalf("err = %v, want invalid", err)
	}
}

func TestAsLocalReleaseKeepsNonTemporary(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	src := writeFile(t, filepath.Join(t.TempDir(), "keep.bin"), []byte("x"))

	local, release, err := c.AsLocal(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if !local.Equal(src) {
		t.Errorf("local = %q, want source itself", local)
	}
	release()
	if ok, _ := c.Exists(ctx, src); !ok {
		t.Error("release removed a non-temporary local file")
	}
}

func TestSweeper(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, respath.StagePrefix+"old.fits")
	fresh := filepath.Join(dir, respath.StagePrefix+"fresh.fits")
	other := filepath.Join(dir, "unrelated.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, stale, stale); err != nil {
		t.Fatal(err)
	}

	root, err := respath.New(dir, respath.ForceDirectory())
	if err != nil {
		t.Fatal(err)
	}
	s := NewSweeper(SweeperOptions{
		Dir:    root,
		MaxAge: 24 * time.Hour,
		Logger: t.Logf,
	})
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d files, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale staging file survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staging file removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("unrelated file removed")
	}
}
