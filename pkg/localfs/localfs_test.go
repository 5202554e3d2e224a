package localfs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func tempRes(t *testing.T, elem ...string) respath.ResourcePath {
	t.Helper()
	p := filepath.Join(append([]string{t.TempDir()}, elem...)...)
	r, err := respath.New(p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := New()
	r := tempRes(t, "sub", "data.bin")
	payload := []byte("local payload")

	if err := a.Write(ctx, r, payload, false); err != nil {
		t.Fatal(err)
	}
	got, err := a.Read(ctx, r, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read = %q, want %q", got, payload)
	}

	// Partial read.
	got, err = a.Read(ctx, r, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "local" {
		t.Errorf("partial read = %q", got)
	}

	n, err := a.Size(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Errorf("size = %d, want %d", n, len(payload))
	}
}

func TestWriteNoOverwrite(t *testing.T) {
	ctx := context.Background()
	a := New()
	r := tempRes(t, "data.bin")

	if err := a.Write(ctx, r, []byte("one"), false); err != nil {
		t.Fatal(err)
	}
	err := a.Write(ctx, r, []byte("two"), false)
	if !xerrors.Is(err, xerrors.KindAlreadyExists) {
		t.Fatalf("err = %v, want already-exists", err)
	}
	if err := a.Write(ctx, r, []byte("two"), true); err != nil {
		t.Fatal(err)
	}
	got, _ := a.Read(ctx, r, -1)
	if string(got) != "two" {
		t.Errorf("content after overwrite = %q", got)
	}
}

func TestExistsRemove(t *testing.T) {
	ctx := context.Background()
	a := New()
	r := tempRes(t, "gone.txt")

	ok, err := a.Exists(ctx, r)
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v on missing file", ok, err)
	}
	if err := a.Write(ctx, r, []byte("x"), false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Exists(ctx, r); !ok {
		t.Fatal("file not found after write")
	}
	if err := a.Remove(ctx, r); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Exists(ctx, r); ok {
		t.Fatal("file still exists after remove")
	}
	if err := a.Remove(ctx, r); !xerrors.Is(err, xerrors.KindNotFound) {
		t.Errorf("second remove err = %v, want not-found", err)
	}
}

func TestMkdirRequiresDirLike(t *testing.T) {
	ctx := context.Background()
	a := New()

	file := tempRes(t, "plain.txt")
	if err := a.Mkdir(ctx, file); !xerrors.Is(err, xerrors.KindInvalid) {
		t.Fatalf("err = %v, want invalid", err)
	}

	dir, err := file.Parent()
	if err != nil {
		t.Fatal(err)
	}
	sub, err := dir.Join("a/b/c/")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Mkdir(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Exists(ctx, sub); !ok {
		t.Error("nested directory not created")
	}
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	a := New()
	root := t.TempDir()
	for _, p := range []string{"a/x.txt", "a/y.txt", "b/z.txt", "top.txt"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	r, err := respath.New(root, respath.ForceDirectory())
	if err != nil {
		t.Fatal(err)
	}

	seen := map[string][]string{}
	err = a.Walk(ctx, r, func(dir respath.ResourcePath, subdirs, files []string) error {
		rel, ok := dir.RelativeTo(r)
		if !ok {
			t.Fatalf("walk dir %q not under root", dir)
		}
		seen[rel] = files
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := seen["."]; len(got) != 1 || got[0] != "top.txt" {
		t.Errorf("root files = %v", got)
	}
	if got := seen["a"]; len(got) != 2 {
		t.Errorf("a files = %v", got)
	}
	if got := seen["b"]; len(got) != 1 || got[0] != "z.txt" {
		t.Errorf("b files = %v", got)
	}
}

func TestLinkModes(t *testing.T) {
	ctx := context.Background()
	a := New()
	src := tempRes(t, "src.txt")
	if err := a.Write(ctx, src, []byte("linked"), false); err != nil {
		t.Fatal(err)
	}

	for _, mode := range []respath.TransferMode{
		respath.ModeHardlink, respath.ModeSymlink, respath.ModeRelsymlink, respath.ModeLink,
	} {
		t.Run(string(mode), func(t *testing.T) {
			dst := tempRes(t, string(mode)+".txt")
			if err := a.Link(ctx, dst, src, mode); err != nil {
				t.Fatal(err)
			}
			got, err := a.Read(ctx, dst, -1)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "linked" {
				t.Errorf("content = %q", got)
			}
			if mode == respath.ModeRelsymlink {
				p, _ := dst.OSPath()
				target, err := os.Readlink(p)
				if err != nil {
					t.Fatal(err)
				}
				if filepath.IsAbs(target) {
					t.Errorf("relsymlink target is absolute: %q", target)
				}
			}
		})
	}
}

func TestTransferDirectMove(t *testing.T) {
	ctx := context.Background()
	a := New()
	src := tempRes(t, "src.bin")
	dst := tempRes(t, "dst.bin")
	if err := a.Write(ctx, src, []byte("payload"), false); err != nil {
		t.Fatal(err)
	}

	handled, err := a.TransferDirect(ctx, dst, src, respath.ModeMove, false)
	if err != nil || !handled {
		t.Fatalf("TransferDirect = %v, %v", handled, err)
	}
	if ok, _ := a.Exists(ctx, src); ok {
		t.Error("source still present after move")
	}
	got, err := a.Read(ctx, dst, -1)
	if err != nil || string(got) != "payload" {
		t.Errorf("dst content = %q, %v", got, err)
	}
}
