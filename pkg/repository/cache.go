package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type cacheKey struct {
	platform string
	pkg      string
}

// metadataCache memoises parsed metadata per package. Only successful loads
// are stored. Every invalidation bumps gen so that a load which raced with
// a change on disk does not store what it read.
type metadataCache struct {
	mu      sync.RWMutex
	gen     uint64
	entries map[cacheKey][]Version
}

func newMetadataCache() *metadataCache {
	return &metadataCache{entries: make(map[cacheKey][]Version)}
}

// get returns the cached versions, or the current generation on a miss.
func (c *metadataCache) get(platform, pkg string) ([]Version, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey{platform, pkg}]
	return v, c.gen, ok
}

func (c *metadataCache) put(platform, pkg string, versions []Version, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.entries[cacheKey{platform, pkg}] = versions
	return true
}

func (c *metadataCache) invalidate(platform, pkg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.entries, cacheKey{platform, pkg})
}

func (c *metadataCache) invalidatePlatform(platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for k := range c.entries {
		if k.platform == platform {
			delete(c.entries, k)
		}
	}
}

func (c *metadataCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Invalidate drops all cached metadata.
func (f *Filesystem) Invalidate() {
	if f.cache == nil {
		return
	}
	f.cache.mu.Lock()
	f.cache.gen++
	f.cache.entries = make(map[cacheKey][]Version)
	f.cache.mu.Unlock()
	f.logger.Debug().Msg("metadata cache cleared")
}

// Watch invalidates cached metadata whenever files under the repository
// change. It watches the root, every platform directory and every package
// directory, and picks up directories created later. Watching stops when
// ctx is done. Without WithCache, Watch is a no-op.
func (f *Filesystem) Watch(ctx context.Context) error {
	if f.cache == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := f.watchTree(watcher); err != nil {
		_ = watcher.Close()
		return err
	}

	go f.processEvents(ctx, watcher)

	f.logger.Info().Msg("watching repository for metadata changes")
	return nil
}

// watchTree adds the root plus the platform and package levels below it.
func (f *Filesystem) watchTree(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(f.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.root, err)
	}
	platforms, err := listDirs(f.root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", f.root, err)
	}
	for _, platform := range platforms {
		f.watchDir(watcher, filepath.Join(f.root, platform))
	}
	return nil
}

// watchDir watches dir and, for platform directories, its package directories.
func (f *Filesystem) watchDir(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		f.logger.Warn().Err(err).Str("path", dir).Msg("failed to watch directory")
		return
	}
	platform, pkg := f.split(dir)
	if platform == "" || pkg != "" {
		return
	}
	packages, err := listDirs(dir)
	if err != nil {
		return
	}
	for _, p := range packages {
		if err := watcher.Add(filepath.Join(dir, p)); err != nil {
			f.logger.Warn().Err(err).Str("path", filepath.Join(dir, p)).Msg("failed to watch directory")
		}
	}
}

func (f *Filesystem) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (f *Filesystem) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	platform, pkg := f.split(event.Name)
	if platform == "" {
		return
	}

	f.logger.Debug().
		Str("file", event.Name).
		Str("op", event.Op.String()).
		Msg("repository changed")

	// Watch new directories before invalidating so no later write is missed
	if event.Has(fsnotify.Create) && isDir(event.Name) {
		if d := f.depth(event.Name); d == 1 || d == 2 {
			f.watchDir(watcher, event.Name)
		}
	}

	if pkg == "" {
		f.cache.invalidatePlatform(platform)
	} else {
		f.cache.invalidate(platform, pkg)
	}
}

// split maps a path below the root to its platform and package ids.
func (f *Filesystem) split(path string) (platform, pkg string) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	platform = parts[0]
	if len(parts) > 1 {
		pkg = parts[1]
	}
	return platform, pkg
}

func (f *Filesystem) depth(path string) int {
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}
