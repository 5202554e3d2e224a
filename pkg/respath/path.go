package respath

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/astrodata/respath/pkg/xerrors"
)

// Supported URI schemes. The empty scheme denotes a bare OS path
// (relative or absolute) that has not been promoted to file yet.
const (
	SchemeFile     = "file"
	SchemeS3       = "s3"
	SchemeHTTP     = "http"
	SchemeHTTPS    = "https"
	SchemeResource = "resource"
	SchemeMem      = "mem"
)

const sep = "/"

// escapesRE spots percent escapes already present in an input string.
var escapesRE = regexp.MustCompile(`%[A-F0-9]{2}`)

// LooksQuoted reports whether New will take uri as already percent-quoted
// and skip quoting it. A plain path that legitimately contains a percent
// sign followed by two hex digits trips this, so callers handing over
// user input can warn when the heuristic fires. Inputs with an explicit
// scheme are quoted by definition and report false.
func LooksQuoted(uri string) bool {
	if strings.Contains(uri, "://") || strings.HasPrefix(uri, "file:") {
		return false
	}
	return escapesRE.MatchString(uri)
}

// ResourcePath is a parsed resource URI plus a directory/file distinction.
//
// The path component is kept in percent-quoted form for every scheme except
// the schemeless variant, which always stores the bare OS path. Values are
// immutable by convention: all path algebra returns new instances except
// UpdateFile, which documents its in-place mutation.
type ResourcePath struct {
	scheme    string
	netloc    string
	path      string
	query     string
	fragment  string
	dirLike   bool
	temporary bool
}

type parseOptions struct {
	root           *ResourcePath
	forceAbsolute  bool
	forceDirectory bool
	temporary      bool
}

// Option adjusts construction behavior.
type Option func(*parseOptions)

// WithRoot supplies the directory used to absolutize relative local paths.
// Must be a file or schemeless URI.
func WithRoot(root ResourcePath) Option {
	return func(o *parseOptions) { o.root = &root }
}

// ForceDirectory marks the resource as directory-like even when the input
// lacks a trailing separator.
func ForceDirectory() Option {
	return func(o *parseOptions) { o.forceDirectory = true }
}

// KeepRelative prevents a relative schemeless path from being absolutized.
func KeepRelative() Option {
	return func(o *parseOptions) { o.forceAbsolute = false }
}

// Temporary marks the resource as owned by a scoped cleanup; the staging
// helpers delete such resources on release.
func Temporary() Option {
	return func(o *parseOptions) { o.temporary = true }
}

// New parses uri into a ResourcePath. The scheme is resolved exactly once,
// here; a schemeless path whose target is absolute is promoted to file.
// Unknown schemes fail construction.
func New(uri string, opts ...Option) (ResourcePath, error) {
	o := parseOptions{forceAbsolute: true}
	for _, opt := range opts {
		opt(&o)
	}

	// Local paths can contain characters that are reserved in URIs, so
	// quote them before generic parsing. Inputs that already carry escape
	// sequences are assumed quoted, re-quoting would double-encode them;
	// LooksQuoted lets callers detect that case.
	if !strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file:") {
		if !LooksQuoted(uri) {
			uri = quotePath(uri)
		}
	}

	u, err := url.Parse(uri)
	if err != nil {
		return ResourcePath{}, xerrors.Wrap(xerrors.KindInvalid, "parse", uri, err)
	}

	r := ResourcePath{
		scheme:    u.Scheme,
		netloc:    u.Host,
		path:      u.EscapedPath(),
		query:     u.RawQuery,
		fragment:  u.Fragment,
		temporary: o.temporary,
	}
	// file:relative/path parses as opaque rather than as a path.
	if u.Opaque != "" {
		r.path = u.Opaque
	}

	return r.fixup(o)
}

// MustNew is New for statically known-good URIs; it panics on error.
func MustNew(uri string, opts ...Option) ResourcePath {
	r, err := New(uri, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// fixup applies scheme-specific normalization. It is run once at
// construction and again by operations that rebuild the path component.
func (r ResourcePath) fixup(o parseOptions) (ResourcePath, error) {
	switch {
	case r.scheme == "":
		return r.fixupSchemeless(o)
	case r.scheme == SchemeFile:
		return r.fixupFile(o)
	case r.scheme == SchemeS3,
		r.scheme == SchemeResource,
		r.scheme == SchemeMem,
		strings.HasPrefix(r.scheme, SchemeHTTP):
		return r.fixupGeneric(o)
	default:
		return ResourcePath{}, xerrors.E(xerrors.KindNotSupported, "parse", r.scheme+"://"+r.netloc+r.path)
	}
}

// fixupGeneric handles schemes whose paths are always absolute and quoted.
func (r ResourcePath) fixupGeneric(o parseOptions) (ResourcePath, error) {
	endsOnSep := strings.HasSuffix(r.path, sep)
	if o.forceDirectory || endsOnSep {
		r.dirLike = true
		if !endsOnSep {
			r.path += sep
		}
	}
	return r, nil
}

func (r ResourcePath) fixupFile(o parseOptions) (ResourcePath, error) {
	up, err := url.PathUnescape(r.path)
	if err != nil {
		return ResourcePath{}, xerrors.Wrap(xerrors.KindInvalid, "parse", r.path, err)
	}

	// The URI may point at something that does not exist yet, but when it
	// names an existing directory that fact wins.
	if !o.forceDirectory && isDir(up) {
		o.forceDirectory = true
	}

	if !path.IsAbs(up) {
		// RFC 8089 does not allow relative file URIs but they occur in
		// the wild, so anchor them at the supplied root.
		root, err := resolveRoot(o.root)
		if err != nil {
			return ResourcePath{}, err
		}
		up = path.Join(root, up)
	}
	up = path.Clean(up)

	endsOnSep := strings.HasSuffix(up, sep)
	if o.forceDirectory || endsOnSep {
		r.dirLike = true
		if !endsOnSep {
			up += sep
		}
	}
	r.path = quotePath(up)
	return r, nil
}

func (r ResourcePath) fixupSchemeless(o parseOptions) (ResourcePath, error) {
	// A schemeless path is stored raw, so this can see paths that were
	// never quoted; fall back to the input when unescaping fails.
	up, err := url.PathUnescape(r.path)
	if err != nil {
		up = r.path
	}
	raw := up
	up = expandUser(up)

	switch {
	case filepath.IsAbs(up):
		// An absolute bare path is promoted to an explicit file URI.
		r.scheme = SchemeFile
		up = filepath.Clean(up)
	case o.forceAbsolute:
		root, err := resolveRoot(o.root)
		if err != nil {
			return ResourcePath{}, err
		}
		up = filepath.Clean(filepath.Join(root, up))
	default:
		up = filepath.Clean(up)
		if raw == "" {
			// Clean("") is "." which is a directory reference.
			r.dirLike = true
		}
	}

	if !o.forceDirectory && isDir(up) {
		o.forceDirectory = true
	}

	endsOnSep := strings.HasSuffix(raw, sep) && !strings.HasSuffix(up, sep)
	if o.forceDirectory || endsOnSep || r.dirLike {
		r.dirLike = true
		if !strings.HasSuffix(up, sep) {
			up += sep
		}
	}

	if r.scheme == SchemeFile {
		r.path = quotePath(up)
	} else {
		r.path = up
	}
	return r, nil
}

func resolveRoot(root *ResourcePath) (string, error) {
	if root == nil {
		cwd, err := os.Getwd()
		if err != nil {
			return "", xerrors.Wrap(xerrors.KindInternal, "parse", "", err)
		}
		return cwd, nil
	}
	if root.scheme != "" && root.scheme != SchemeFile {
		return "", xerrors.E(xerrors.KindInvalid, "parse", root.String())
	}
	ospath, err := root.OSPath()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(ospath)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindInternal, "parse", ospath, err)
	}
	return abs, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func expandUser(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + strings.TrimPrefix(p, "~")
		}
	}
	return p
}

// quotePath percent-quotes every path segment, preserving separators.
func quotePath(p string) string {
	if p == "" {
		return ""
	}
	segments := strings.Split(p, sep)
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, sep)
}

// Scheme returns the URI scheme, empty for schemeless paths.
func (r ResourcePath) Scheme() string { return r.scheme }

// Netloc returns the network location (host and optional port).
func (r ResourcePath) Netloc() string { return r.netloc }

// Path returns the path component, quoted except for schemeless paths.
func (r ResourcePath) Path() string { return r.path }

// Query returns the raw query string.
func (r ResourcePath) Query() string { return r.query }

// Fragment returns the fragment component.
func (r ResourcePath) Fragment() string { return r.fragment }

// DirLike reports whether this path represents a container.
func (r ResourcePath) DirLike() bool { return r.dirLike }

// IsTemporary reports whether the resource is owned by a scoped cleanup.
func (r ResourcePath) IsTemporary() bool { return r.temporary }

// AsTemporary returns a copy flagged as temporary.
func (r ResourcePath) AsTemporary() ResourcePath {
	r.temporary = true
	return r
}

// IsLocal reports whether the path refers to the local file system.
func (r ResourcePath) IsLocal() bool {
	return r.scheme == "" || r.scheme == SchemeFile
}

// IsAbs reports whether the resource is fully specified. Only schemeless
// paths can be relative.
func (r ResourcePath) IsAbs() bool {
	if r.scheme != "" {
		return true
	}
	return filepath.IsAbs(r.path)
}

// UnquotedPath returns the path component with any URI quoting reversed.
func (r ResourcePath) UnquotedPath() string {
	if r.scheme == "" {
		return r.path
	}
	up, err := url.PathUnescape(r.path)
	if err != nil {
		return r.path
	}
	return up
}

// OSPath returns the path localized to the OS. Only local paths have one.
func (r ResourcePath) OSPath() (string, error) {
	if !r.IsLocal() {
		return "", xerrors.E(xerrors.KindNotSupported, "ospath", r.String())
	}
	return r.UnquotedPath(), nil
}

// String reassembles the URI in string form.
func (r ResourcePath) String() string {
	if r.scheme == "" {
		return r.path
	}
	var b strings.Builder
	b.WriteString(r.scheme)
	b.WriteString("://")
	b.WriteString(r.netloc)
	b.WriteString(r.path)
	if r.query != "" {
		b.WriteString("?")
		b.WriteString(r.query)
	}
	if r.fragment != "" {
		b.WriteString("#")
		b.WriteString(r.fragment)
	}
	return b.String()
}

// Equal reports whether two paths stringify identically.
func (r ResourcePath) Equal(other ResourcePath) bool {
	return r.String() == other.String()
}

// RootURI returns the URI for the root of the network location, which is
// the cache key for sessions and endpoint classification.
func (r ResourcePath) RootURI() ResourcePath {
	r.path = sep
	r.query = ""
	r.fragment = ""
	r.dirLike = true
	return r
}

// RelativeToPathRoot returns the path relative to the network location,
// always unquoted, keeping a trailing separator for dir-like paths.
func (r ResourcePath) RelativeToPathRoot() string {
	rel := strings.TrimPrefix(r.UnquotedPath(), sep)
	if r.dirLike && rel != "" && !strings.HasSuffix(rel, sep) {
		rel += sep
	}
	return rel
}

// IsRoot reports whether the path refers to the top of the network
// location.
func (r ResourcePath) IsRoot() bool {
	return strings.Trim(r.path, sep) == ""
}

// Split divides the URI into a dir-like head and an unquoted tail, with
// POSIX split semantics. The tail is empty when the path ends on a
// separator and never contains separators itself.
func (r ResourcePath) Split() (ResourcePath, string, error) {
	head, tail := path.Split(r.path)
	if r.scheme == "" {
		head, tail = filepath.Split(r.path)
	}
	unquotedTail, err := url.PathUnescape(tail)
	if err != nil {
		unquotedTail = tail
	}
	headPath, err := r.rewrap(head, parseOptions{
		forceDirectory: true,
		forceAbsolute:  r.IsAbs(),
	})
	if err != nil {
		return ResourcePath{}, "", err
	}
	return headPath, unquotedTail, nil
}

// Basename returns the last path component, unquoted, empty when the path
// ends on a separator.
func (r ResourcePath) Basename() (string, error) {
	_, tail, err := r.Split()
	return tail, err
}

// Dirname returns everything except the tail of the path as a dir-like
// URI of the same scheme.
func (r ResourcePath) Dirname() (ResourcePath, error) {
	head, _, err := r.Split()
	return head, err
}

// Parent returns the containing directory. For a file-like URI this is
// Dirname; for a dir-like URI exactly one path component is stripped. The
// parent of a root is the root itself.
func (r ResourcePath) Parent() (ResourcePath, error) {
	if !r.dirLike {
		return r.Dirname()
	}
	trimmed := strings.TrimSuffix(r.path, sep)
	if trimmed == "" {
		// Already at the root.
		return r, nil
	}
	parent := path.Dir(trimmed)
	return r.rewrap(parent, parseOptions{
		forceDirectory: true,
		forceAbsolute:  r.IsAbs(),
	})
}

// Join appends path components to this URI treated as a container. The
// incoming path is quoted according to the policy of the resulting scheme,
// since the dirname of a schemeless path can become a file path. The
// result is file-like unless p itself ends in a separator.
func (r ResourcePath) Join(p string) (ResourcePath, error) {
	base, err := r.Dirname()
	if err != nil {
		return ResourcePath{}, err
	}
	if base.quotePaths() {
		p = quotePath(p)
	}
	endsOnSep := strings.HasSuffix(p, sep)
	joined := path.Clean(path.Join(base.path, p))
	if endsOnSep && !strings.HasSuffix(joined, sep) {
		joined += sep
	}
	base.path = joined
	base.dirLike = endsOnSep
	return base, nil
}

// UpdateFile replaces, in place, the final component of the path with the
// supplied file name. The new name is quoted when the scheme requires it.
func (r *ResourcePath) UpdateFile(name string) {
	if r.quotePaths() {
		name = quotePath(name)
	}
	dir, _ := path.Split(r.path)
	r.path = path.Join(dir, name)
	r.dirLike = false
}

// Replace returns a new instance with the path component swapped out,
// re-running directory fix-up for the scheme.
func (r ResourcePath) Replace(newPath string) (ResourcePath, error) {
	return r.rewrap(newPath, parseOptions{forceAbsolute: r.IsAbs()})
}

// Extension returns the file extension including the dot, combining a
// compression suffix with the preceding extension (e.g. ".fits.gz").
func (r ResourcePath) Extension() string {
	compressed := map[string]bool{".gz": true, ".bz2": true, ".xz": true, ".fz": true}

	name := path.Base(r.UnquotedPath())
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	if compressed[ext] {
		rest := strings.TrimSuffix(name, ext)
		if inner := path.Ext(rest); inner != "" {
			return inner + ext
		}
	}
	return ext
}

// RelativeTo returns the unquoted sub-path of r under other, and whether
// such a relation exists at all. It is a predicate: unrelated paths report
// false rather than an error. Schemes and network locations must match,
// with file and schemeless treated as compatible local variants.
func (r ResourcePath) RelativeTo(other ResourcePath) (string, bool) {
	if r.IsLocal() || other.IsLocal() {
		return r.relativeToLocal(other)
	}
	if r.scheme != other.scheme || r.netloc != other.netloc {
		return "", false
	}
	return relativeSubpath(r.RelativeToPathRoot(), other.RelativeToPathRoot())
}

func (r ResourcePath) relativeToLocal(other ResourcePath) (string, bool) {
	if !r.IsLocal() || !other.IsLocal() {
		return "", false
	}

	// Two relative paths compare directly.
	if !r.IsAbs() && !other.IsAbs() {
		return relativeSubpath(r.UnquotedPath(), other.UnquotedPath())
	}

	// A relative child of an absolute parent is anchored under the parent
	// unless a ".." escape walks back out of it.
	if !r.IsAbs() {
		child, err := other.Join(r.path)
		if err != nil {
			return "", false
		}
		return child.RelativeTo(other)
	}
	if !other.IsAbs() {
		return "", false
	}

	self, err := r.ForceToFile()
	if err != nil {
		return "", false
	}
	parent, err := other.ForceToFile()
	if err != nil {
		return "", false
	}
	if self.netloc != parent.netloc {
		return "", false
	}
	return relativeSubpath(self.RelativeToPathRoot(), parent.RelativeToPathRoot())
}

func relativeSubpath(child, parent string) (string, bool) {
	c := path.Clean(sep + child)
	p := path.Clean(sep + parent)
	switch {
	case c == p:
		return ".", true
	case p == sep:
		return strings.TrimPrefix(c, sep), true
	case strings.HasPrefix(c, p+sep):
		return c[len(p)+1:], true
	default:
		return "", false
	}
}

// ForceToFile promotes a schemeless URI to an explicit file URI, quoting
// the path. A file URI is returned unchanged; other schemes fail.
func (r ResourcePath) ForceToFile() (ResourcePath, error) {
	if r.scheme == SchemeFile {
		return r, nil
	}
	if r.scheme != "" {
		return ResourcePath{}, xerrors.E(xerrors.KindNotSupported, "force-to-file", r.String())
	}
	if !r.IsAbs() {
		return ResourcePath{}, xerrors.E(xerrors.KindInvalid, "force-to-file", r.String())
	}
	r.scheme = SchemeFile
	r.path = quotePath(r.path)
	return r, nil
}

// rewrap rebuilds the URI around a new path component, re-running the
// scheme fix-up.
func (r ResourcePath) rewrap(newPath string, o parseOptions) (ResourcePath, error) {
	r.path = newPath
	r.dirLike = false
	return r.fixup(o)
}

func (r ResourcePath) quotePaths() bool {
	return r.scheme != ""
}
