package memfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := New()
	r := respath.MustNew("mem://vol0/run/data.json")
	payload := []byte(`{"k": 1}`)

	if err := a.Write(ctx, r, payload, false); err != nil {
		t.Fatal(err)
	}
	got, err := a.Read(ctx, r, -1)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("read = %q, %v", got, err)
	}
	got, err = a.Read(ctx, r, 4)
	if err != nil || string(got) != `{"k"` {
		t.Errorf("partial read = %q, %v", got, err)
	}
	n, err := a.Size(ctx, r)
	if err != nil || n != int64(len(payload)) {
		t.Errorf("size = %d, %v", n, err)
	}

	if err := a.Write(ctx, r, payload, false); !xerrors.Is(err, xerrors.KindAlreadyExists) {
		t.Errorf("rewrite err = %v, want already-exists", err)
	}
}

func TestVolumesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := New()
	r0 := respath.MustNew("mem://vol0/a.txt")
	r1 := respath.MustNew("mem://vol1/a.txt")

	if err := a.Write(ctx, r0, []byte("zero"), false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Exists(ctx, r1); ok {
		t.Error("resource leaked across volumes")
	}
	if err := a.Write(ctx, r1, []byte("one"), false); err != nil {
		t.Fatal(err)
	}
	got, _ := a.Read(ctx, r0, -1)
	if string(got) != "zero" {
		t.Errorf("vol0 content = %q", got)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	a := New()
	r := respath.MustNew("mem://vol0/a.txt")
	if err := a.Write(ctx, r, []byte("x"), false); err != nil {
		t.Fatal(err)
	}
	if err := a.Remove(ctx, r); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Exists(ctx, r); ok {
		t.Error("resource survived remove")
	}
	if err := a.Remove(ctx, r); !xerrors.Is(err, xerrors.KindNotFound) {
		t.Errorf("second remove err = %v, want not-found", err)
	}
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	a := New()
	for _, p := range []string{"run1/x.fits", "run1/y.fits", "run2/z.fits", "top.txt"} {
		if err := a.Write(ctx, respath.MustNew("mem://vol0/store/"+p), []byte(p), false); err != nil {
			t.Fatal(err)
		}
	}
	root := respath.MustNew("mem://vol0/store/")
	seen := map[string]int{}
	err := a.Walk(ctx, root, func(dir respath.ResourcePath, subdirs, files []string) error {
		rel, ok := dir.RelativeTo(root)
		if !ok {
			t.Fatalf("walk dir %q not under root", dir)
		}
		seen[rel] = len(files)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen["."] != 1 || seen["run1"] != 2 || seen["run2"] != 1 {
		t.Errorf("walk saw %v", seen)
	}
}

func TestTransferDirectMove(t *testing.T) {
	ctx := context.Background()
	a := New()
	src := respath.MustNew("mem://vol0/a.txt")
	dst := respath.MustNew("mem://vol1/b.txt")
	if err := a.Write(ctx, src, []byte("payload"), false); err != nil {
		t.Fatal(err)
	}

	handled, err := a.TransferDirect(ctx, dst, src, respath.ModeMove, false)
	if !handled || err != nil {
		t.Fatalf("TransferDirect = %v, %v", handled, err)
	}
	if ok, _ := a.Exists(ctx, src); ok {
		t.Error("source survived move")
	}
	got, _ := a.Read(ctx, dst, -1)
	if string(got) != "payload" {
		t.Errorf("dst content = %q", got)
	}
}

func TestHandleSeek(t *testing.T) {
	ctx := context.Background()
	a := New()
	r := respath.MustNew("mem://vol0/a.txt")
	if err := a.Write(ctx, r, []byte("0123456789"), false); err != nil {
		t.Fatal(err)
	}
	h, err := a.Open(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	buf := make([]byte, 3)
	if _, err := h.Read(buf); err != nil || string(buf) != "012" {
		t.Fatalf("read = %q, %v", buf, err)
	}
	if h.Tell() != 3 {
		t.Errorf("Tell = %d", h.Tell())
	}
	if _, err := h.Seek(5, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Read(buf); err != nil || string(buf) != "567" {
		t.Fatalf("read after seek = %q, %v", buf, err)
	}
}
