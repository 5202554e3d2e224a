package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/astrodata/respath/pkg/access"
	"github.com/astrodata/respath/pkg/respath"
)

func TestParseModeValid(t *testing.T) {
	mode, err := parseMode("relsymlink")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != respath.ModeRelsymlink {
		t.Fatalf("mode = %q", mode)
	}
}

func TestParseModeUnknown(t *testing.T) {
	if _, err := parseMode("teleport"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestPutCatRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := access.NewClient()
	if err := doPut(ctx, client, "mem://vol/notes.txt", strings.NewReader("hello"), false); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out bytes.Buffer
	if err := doCat(ctx, client, "mem://vol/notes.txt", &out); err != nil {
		t.Fatalf("cat: %v", err)
	}
	if out.String() != "hello" {
		t.Fatalf("content = %q", out.String())
	}
}

func TestListNonRecursiveStopsAtTopLevel(t *testing.T) {
	ctx := context.Background()
	client := access.NewClient()
	for _, p := range []string{"mem://ls/a.txt", "mem://ls/sub/b.txt"} {
		r, err := respath.New(p)
		if err != nil {
			t.Fatalf("parse %s: %v", p, err)
		}
		if err := client.Write(ctx, r, []byte("x"), false); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	var out bytes.Buffer
	if err := doList(ctx, client, "mem://ls/", false, &out); err != nil {
		t.Fatalf("ls: %v", err)
	}
	listing := out.String()
	if !strings.Contains(listing, "a.txt") || !strings.Contains(listing, "sub/") {
		t.Fatalf("listing missing top-level entries:\n%s", listing)
	}
	if strings.Contains(listing, "b.txt") {
		t.Fatalf("non-recursive listing descended:\n%s", listing)
	}
}
