package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/rs/zerolog"
)

// Filesystem is a Repository backed by a directory tree.
type Filesystem struct {
	root   string
	logger zerolog.Logger
	cache  *metadataCache
}

// Option configures a Filesystem repository.
type Option func(*Filesystem)

// WithCache keeps parsed metadata in memory. Call Watch to have changes on
// disk invalidate the cache.
func WithCache() Option {
	return func(f *Filesystem) {
		f.cache = newMetadataCache()
	}
}

// WithLogger sets the logger used for cache and watch diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Filesystem) {
		f.logger = logger
	}
}

// NewFilesystem creates a repository rooted at root.
func NewFilesystem(root string, opts ...Option) *Filesystem {
	f := &Filesystem{
		root:   filepath.Clean(root),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "repository").Str("root", f.root).Logger()
	return f
}

// Root returns the repository root directory.
func (f *Filesystem) Root() string {
	return f.root
}

// Platforms lists the platform directories under the root.
func (f *Filesystem) Platforms(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := listDirs(f.root)
	if err != nil {
		return nil, errUnavailable(fmt.Sprintf("cannot list repository root %s", f.root), err)
	}
	return names, nil
}

// Packages lists the package directories of a platform.
func (f *Filesystem) Packages(ctx context.Context, platform string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(platform) || !isDir(filepath.Join(f.root, platform)) {
		return nil, errUnknownPlatform(platform)
	}
	names, err := listDirs(filepath.Join(f.root, platform))
	if err != nil {
		return nil, errUnavailable(fmt.Sprintf("cannot list platform %s", platform), err)
	}
	return names, nil
}

// Query returns the matching versions of platform/pkg in file order.
func (f *Filesystem) Query(ctx context.Context, platform, pkg string, criteria Criteria) ([]Version, error) {
	versions, err := f.load(ctx, platform, pkg)
	if err != nil {
		return nil, err
	}
	return Filter(versions, criteria), nil
}

// Versions returns every version of platform/pkg. The slice is the
// caller's own; the cached one is never handed out.
func (f *Filesystem) Versions(ctx context.Context, platform, pkg string) ([]Version, error) {
	versions, err := f.load(ctx, platform, pkg)
	if err != nil {
		return nil, err
	}
	return slices.Clone(versions), nil
}

func (f *Filesystem) load(ctx context.Context, platform, pkg string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var gen uint64
	if f.cache != nil {
		versions, g, ok := f.cache.get(platform, pkg)
		if ok {
			return versions, nil
		}
		gen = g
	}

	if !validName(platform) || !isDir(filepath.Join(f.root, platform)) {
		return nil, errUnknownPlatform(platform)
	}
	pkgDir := filepath.Join(f.root, platform, pkg)
	if !validName(pkg) || !isDir(pkgDir) {
		return nil, errUnknownPackage(platform, pkg)
	}

	data, err := os.ReadFile(filepath.Join(pkgDir, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errMetadataNotFound(platform, pkg)
		}
		return nil, errCorruptedMetadata(platform, pkg, err)
	}

	versions, err := ParseMetadata(data)
	if err != nil {
		return nil, errCorruptedMetadata(platform, pkg, err)
	}

	if f.cache != nil && f.cache.put(platform, pkg, versions, gen) {
		f.logger.Debug().Str("platform", platform).Str("package", pkg).Int("versions", len(versions)).Msg("metadata cached")
	}
	return versions, nil
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
