package davfs

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/astrodata/respath/pkg/cache"
	"github.com/astrodata/respath/pkg/xerrors"
)

var endpointBucket = []byte("endpoints")

// EndpointCache remembers whether an endpoint root speaks WebDAV. The
// OPTIONS probe is cheap but adds a round trip to every cold start, so
// the classification can additionally be persisted in a bolt file shared
// across processes.
type EndpointCache struct {
	mem *cache.Cache
	db  *bolt.DB
}

// OpenEndpointCache returns a cache backed by the bolt file at path, or
// memory only when path is empty.
func OpenEndpointCache(path string) (*EndpointCache, error) {
	ec := &EndpointCache{mem: cache.New(256, 0)}
	if path == "" {
		return ec, nil
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "endpoint-cache", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(endpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.KindInternal, "endpoint-cache", path, err)
	}
	ec.db = db
	return ec, nil
}

// Get reports the cached classification for root and whether one exists.
func (ec *EndpointCache) Get(root string) (isDav, ok bool) {
	if v, hit := ec.mem.Get(root); hit {
		return v.(bool), true
	}
	if ec.db == nil {
		return false, false
	}
	// Values returned by bolt are only valid inside the transaction, so
	// the classification byte is decoded before View returns.
	ec.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(endpointBucket).Get([]byte(root)); v != nil {
			ok = true
			isDav = v[0] == 1
		}
		return nil
	})
	if !ok {
		return false, false
	}
	ec.mem.Set(root, isDav)
	return isDav, true
}

// Put records the classification for root.
func (ec *EndpointCache) Put(root string, isDav bool) {
	ec.mem.Set(root, isDav)
	if ec.db == nil {
		return
	}
	val := []byte{0}
	if isDav {
		val[0] = 1
	}
	ec.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(endpointBucket).Put([]byte(root), val)
	})
}

// Invalidate drops the in-memory classifications. The persistent file is
// kept: it exists precisely to survive restarts.
func (ec *EndpointCache) Invalidate() {
	ec.mem.Clear()
}

// Close releases the persistent store.
func (ec *EndpointCache) Close() error {
	ec.mem.Close()
	if ec.db != nil {
		return ec.db.Close()
	}
	return nil
}
