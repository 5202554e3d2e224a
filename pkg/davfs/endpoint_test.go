package davfs

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestEndpointCachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.db")

	ec, err := OpenEndpointCache(path)
	if err != nil {
		t.Fatal(err)
	}
	ec.Put("https://dav.example.org/", true)
	ec.Put("https://plain.example.org/", false)
	if err := ec.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh cache over the same file sees the classifications.
	ec, err = OpenEndpointCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ec.Close()

	isDav, ok := ec.Get("https://dav.example.org/")
	if !ok || !isDav {
		t.Errorf("dav endpoint = %v, %v", isDav, ok)
	}
	isDav, ok = ec.Get("https://plain.example.org/")
	if !ok || isDav {
		t.Errorf("plain endpoint = %v, %v", isDav, ok)
	}
	if _, ok := ec.Get("https://unknown.example.org/"); ok {
		t.Error("unknown endpoint classified")
	}

	// Invalidate clears memory but the file survives.
	ec.Invalidate()
	if isDav, ok := ec.Get("https://dav.example.org/"); !ok || !isDav {
		t.Errorf("persisted classification lost: %v, %v", isDav, ok)
	}
}

// Writes that grow the bolt file remap it, so reads must not hold on to
// transaction-owned memory.
func TestEndpointCacheConcurrentPutAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.db")
	ec, err := OpenEndpointCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ec.Close()

	root := "https://dav.example.org/"
	ec.Put(root, true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ec.Put(fmt.Sprintf("https://site%03d.example.org/", i), i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			// Force the persistent lookup rather than the memory hit.
			ec.Invalidate()
			if isDav, ok := ec.Get(root); !ok || !isDav {
				t.Errorf("classification lost: %v, %v", isDav, ok)
			}
		}
	}()
	wg.Wait()
}
