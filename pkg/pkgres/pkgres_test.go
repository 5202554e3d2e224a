package pkgres

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func newTestTree() *Accessor {
	return &Accessor{trees: map[string]fs.FS{
		"calibrations": fstest.MapFS{
			"camera.yaml":     &fstest.MapFile{Data: []byte("detectors: 189")},
			"defects/d0.ecsv": &fstest.MapFile{Data: []byte("# defects")},
		},
	}}
}

func TestReadRegisteredTree(t *testing.T) {
	ctx := context.Background()
	a := newTestTree()

	r := respath.MustNew("resource://calibrations/camera.yaml")
	ok, err := a.Exists(ctx, r)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	data, err := a.Read(ctx, r, -1)
	if err != nil || string(data) != "detectors: 189" {
		t.Fatalf("read = %q, %v", data, err)
	}
	n, err := a.Size(ctx, r)
	if err != nil || n != 14 {
		t.Errorf("size = %d, %v", n, err)
	}

	missing := respath.MustNew("resource://calibrations/nope.yaml")
	if ok, _ := a.Exists(ctx, missing); ok {
		t.Error("missing file reported present")
	}
	unknown := respath.MustNew("resource://other/camera.yaml")
	if _, err := a.Read(ctx, unknown, -1); !xerrors.Is(err, xerrors.KindNotFound) {
		t.Errorf("unknown tree err = %v, want not-found", err)
	}
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	a := newTestTree()
	r := respath.MustNew("resource://calibrations/camera.yaml")

	if err := a.Write(ctx, r, []byte("x"), true); !xerrors.Is(err, xerrors.KindNotSupported) {
		t.Errorf("write err = %v, want not-supported", err)
	}
	if err := a.Remove(ctx, r); !xerrors.Is(err, xerrors.KindNotSupported) {
		t.Errorf("remove err = %v, want not-supported", err)
	}
	if got := a.TransferModes(); len(got) != 0 {
		t.Errorf("transfer modes = %v, want none", got)
	}
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	a := newTestTree()

	root := respath.MustNew("resource://calibrations/", respath.ForceDirectory())
	seen := map[string][]string{}
	err := a.Walk(ctx, root, func(dir respath.ResourcePath, subdirs, files []string) error {
		rel, ok := dir.RelativeTo(root)
		if !ok {
			t.Fatalf("walk dir %q not under root", dir)
		}
		seen[rel] = files
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := seen["."]; len(got) != 1 || got[0] != "camera.yaml" {
		t.Errorf("root files = %v", got)
	}
	if got := seen["defects"]; len(got) != 1 || got[0] != "d0.ecsv" {
		t.Errorf("defects files = %v", got)
	}
}

func TestAsLocalStaging(t *testing.T) {
	ctx := context.Background()
	a := newTestTree()

	local, err := a.AsLocal(ctx, respath.MustNew("resource://calibrations/camera.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !local.IsTemporary() {
		t.Error("staged copy not flagged temporary")
	}
}
