package respath

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/astrodata/respath/pkg/xerrors"
)

// TransferMode names a strategy for materializing a source resource at a
// destination.
type TransferMode string

const (
	ModeAuto       TransferMode = "auto"
	ModeCopy       TransferMode = "copy"
	ModeMove       TransferMode = "move"
	ModeLink       TransferMode = "link"
	ModeHardlink   TransferMode = "hardlink"
	ModeSymlink    TransferMode = "symlink"
	ModeRelsymlink TransferMode = "relsymlink"
)

// WalkFunc is invoked once per directory during a recursive walk. subdirs
// and files carry unquoted child names relative to dir. Returning a
// non-nil error aborts the walk.
type WalkFunc func(dir ResourcePath, subdirs, files []string) error

// Accessor performs I/O for one scheme. Implementations are safe for
// concurrent use.
type Accessor interface {
	// Exists reports whether the resource exists.
	Exists(ctx context.Context, r ResourcePath) (bool, error)

	// Size returns the resource size in bytes. Dir-like resources report
	// zero. Missing resources yield a not-found error.
	Size(ctx context.Context, r ResourcePath) (int64, error)

	// Read returns up to size bytes of the resource, or the whole
	// resource when size is negative.
	Read(ctx context.Context, r ResourcePath, size int64) ([]byte, error)

	// Write stores data at the resource. Without overwrite an existing
	// resource is an already-exists error.
	Write(ctx context.Context, r ResourcePath, data []byte, overwrite bool) error

	// Remove deletes the resource.
	Remove(ctx context.Context, r ResourcePath) error

	// Mkdir creates a container for a dir-like resource, including
	// missing parents.
	Mkdir(ctx context.Context, r ResourcePath) error

	// Open returns a handle for streaming access.
	Open(ctx context.Context, r ResourcePath) (Handle, error)

	// AsLocal makes the resource available as a local file, downloading
	// to temporary storage when required. The result is flagged
	// temporary exactly when the caller owns its cleanup.
	AsLocal(ctx context.Context, r ResourcePath) (ResourcePath, error)

	// Walk visits dir-like r and every container below it.
	Walk(ctx context.Context, r ResourcePath, fn WalkFunc) error

	// TransferModes lists the modes this scheme accepts as a
	// destination.
	TransferModes() []TransferMode

	// TransferDefault resolves the auto mode for this scheme.
	TransferDefault() TransferMode
}

// DirectTransferrer is implemented by accessors that can transfer from
// certain sources without staging through the local file system. A false
// handled result means the caller should fall back to staging.
type DirectTransferrer interface {
	TransferDirect(ctx context.Context, dst, src ResourcePath, mode TransferMode, overwrite bool) (handled bool, err error)
}

// Linker is implemented by accessors whose scheme supports the link
// transfer family. src must be a local, non-temporary path.
type Linker interface {
	Link(ctx context.Context, dst ResourcePath, src ResourcePath, mode TransferMode) error
}

// Driver constructs the accessor for a scheme on first use.
type Driver func(ctx context.Context) (Accessor, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes an accessor driver available under the given scheme.
// Register panics when invoked twice for a scheme, which points at a
// duplicated blank import.
func Register(scheme string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("respath: Register driver is nil")
	}
	key := driverKey(scheme)
	if _, dup := drivers[key]; dup {
		panic("respath: Register called twice for scheme " + scheme)
	}
	drivers[key] = d
}

// Open returns an accessor for the given scheme, constructing it via the
// registered driver.
func Open(ctx context.Context, scheme string) (Accessor, error) {
	driversMu.RLock()
	d, ok := drivers[driverKey(scheme)]
	driversMu.RUnlock()
	if !ok {
		return nil, xerrors.E(xerrors.KindNotSupported, "open", scheme)
	}
	return d(ctx)
}

// Schemes lists the registered driver keys, sorted.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	keys := make([]string, 0, len(drivers))
	for k := range drivers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// driverKey folds scheme aliases onto the driver that serves them:
// schemeless paths are local files, and the WebDAV accessor covers both
// plain and TLS endpoints.
func driverKey(scheme string) string {
	switch {
	case scheme == "":
		return SchemeFile
	case strings.HasPrefix(scheme, SchemeHTTP):
		return SchemeHTTP
	default:
		return scheme
	}
}

// StagePrefix names the temporary files created when remote resources
// are staged locally. The staging sweeper only touches files carrying
// this prefix.
const StagePrefix = "respath-stage-"

// MakeTemp creates an empty staging file under TempDir with the given
// extension and returns it flagged temporary.
func MakeTemp(ext string) (ResourcePath, error) {
	dir, err := TempDir().OSPath()
	if err != nil {
		return ResourcePath{}, err
	}
	f, err := os.CreateTemp(dir, StagePrefix+"*"+ext)
	if err != nil {
		return ResourcePath{}, xerrors.Wrap(xerrors.KindOf(err), "mktemp", dir, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return ResourcePath{}, xerrors.Wrap(xerrors.KindOf(err), "mktemp", name, err)
	}
	r, err := New(name, Temporary())
	if err != nil {
		return ResourcePath{}, err
	}
	return r, nil
}

// TempDir returns the directory for staging files, honoring the
// RESPATH_TMPDIR override.
func TempDir() ResourcePath {
	dir := os.Getenv("RESPATH_TMPDIR")
	if dir == "" {
		dir = os.TempDir()
	}
	r, err := New(dir, ForceDirectory())
	if err != nil {
		r = MustNew(os.TempDir(), ForceDirectory())
	}
	return r
}
