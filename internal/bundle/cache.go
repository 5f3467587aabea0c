package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache is the local content-addressed store for pulled bundles. The
// in-memory index maps an oci:// URI to its on-disk directory; I/O happens
// outside the lock where possible, per spec.md's concurrency model.
type Cache struct {
	root string

	mu    sync.RWMutex
	index map[string]string // uri -> absolute directory path
}

// NewCache creates the cache root if needed and rebuilds the index by
// walking the tree.
func NewCache(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("bundle: creating cache root %s: %w", root, err)
	}
	c := &Cache{root: root, index: make(map[string]string)}
	if err := c.rebuildIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultDir returns "<home>/.mcpkit/bundles".
func DefaultDir(home string) string {
	return filepath.Join(home, ".mcpkit", "bundles")
}

func (c *Cache) rebuildIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]string)
	return c.scanDirectory(c.root)
}

// scanDirectory recurses looking for directories that contain both
// module.wasm and config.yaml; each such directory is a leaf bundle and its
// path uniquely determines the URI via pathToURI. Must be called with mu
// held.
func (c *Cache) scanDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bundle: scanning %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wasmPath := filepath.Join(path, wasmFileName)
		configPath := filepath.Join(path, configFileName)
		if fileExists(wasmPath) && fileExists(configPath) {
			if uri, ok := c.pathToURI(path); ok {
				c.index[uri] = path
			}
			continue
		}
		if err := c.scanDirectory(path); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// pathToURI reconstructs an oci:// URI from a cache directory's position
// relative to root: <root>/<registry>/<repo...>/<tag>.
func (c *Cache) pathToURI(path string) (string, bool) {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return "", false
	}
	registry := parts[0]
	tag := parts[len(parts)-1]
	repo := strings.Join(parts[1:len(parts)-1], "/")
	return fmt.Sprintf("oci://%s/%s:%s", registry, repo, tag), true
}

// URIToPath returns the cache directory for uri without requiring the
// bundle to exist yet.
func (c *Cache) URIToPath(uri string) (string, error) {
	registry, repo, tag, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if tag == "" {
		tag = "latest"
	}
	return filepath.Join(c.root, registry, repo, tag), nil
}

// Put writes b to uri's directory and updates the index. The files are
// written in place by Bundle.SaveToDirectory, with no rename; Get and
// Exists see uri only once the index entry is added after all writes
// succeed.
func (c *Cache) Put(uri string, b *Bundle) error {
	path, err := c.URIToPath(uri)
	if err != nil {
		return err
	}
	if err := b.SaveToDirectory(path); err != nil {
		return err
	}
	c.mu.Lock()
	c.index[uri] = path
	c.mu.Unlock()
	return nil
}

// Get loads the bundle stored at uri.
func (c *Cache) Get(uri string) (*Bundle, error) {
	c.mu.RLock()
	path, ok := c.index[uri]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return LoadFromDirectory(path)
}

// Exists reports whether uri is tracked in the index.
func (c *Cache) Exists(uri string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[uri]
	return ok
}

// Remove deletes uri's cache directory and drops it from the index.
func (c *Cache) Remove(uri string) error {
	c.mu.Lock()
	path, ok := c.index[uri]
	delete(c.index, uri)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("bundle: removing %s: %w", path, err)
	}
	return nil
}

// Clear removes every cached bundle.
func (c *Cache) Clear() error {
	c.mu.Lock()
	paths := make([]string, 0, len(c.index))
	for _, p := range c.index {
		paths = append(paths, p)
	}
	c.index = make(map[string]string)
	c.mu.Unlock()

	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("bundle: clearing %s: %w", p, err)
		}
	}
	return nil
}

// List returns every cached URI, in no particular order.
func (c *Cache) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uris := make([]string, 0, len(c.index))
	for uri := range c.index {
		uris = append(uris, uri)
	}
	return uris
}

// Stats reports aggregate cache occupancy.
type Stats struct {
	BundleCount int
	TotalSize   uint64
	CacheDir    string
}

// Stats walks every cached bundle's directory and sums its size.
func (c *Cache) Stats() (Stats, error) {
	c.mu.RLock()
	paths := make([]string, 0, len(c.index))
	for _, p := range c.index {
		paths = append(paths, p)
	}
	c.mu.RUnlock()

	var total uint64
	count := 0
	for _, p := range paths {
		if !fileExists(p) {
			continue
		}
		size, err := dirSize(p)
		if err != nil {
			return Stats{}, err
		}
		total += size
		count++
	}
	return Stats{BundleCount: count, TotalSize: total, CacheDir: c.root}, nil
}

func dirSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("bundle: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return uint64(info.Size()), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("bundle: reading %s: %w", path, err)
	}
	var size uint64
	for _, entry := range entries {
		sub := filepath.Join(path, entry.Name())
		s, err := dirSize(sub)
		if err != nil {
			return 0, err
		}
		size += s
	}
	return size, nil
}

// FormatSize renders n using binary units (KiB/MiB/GiB), matching spec.md's
// "binary units" rule.
func FormatSize(n uint64) string {
	const unit = 1024.0
	units := []string{"B", "KiB", "MiB", "GiB"}
	size := float64(n)
	idx := 0
	for size >= unit && idx < len(units)-1 {
		size /= unit
		idx++
	}
	return fmt.Sprintf("%.2f %s", size, units[idx])
}

// Verify re-reads every cached bundle and recomputes digests, returning the
// URIs whose files are missing or whose digests no longer match. Corrupted
// entries are left in the index and on disk -- verify never mutates.
func (c *Cache) Verify() []string {
	c.mu.RLock()
	snapshot := make(map[string]string, len(c.index))
	for uri, p := range c.index {
		snapshot[uri] = p
	}
	c.mu.RUnlock()

	var corrupted []string
	for uri, path := range snapshot {
		wasmPath := filepath.Join(path, wasmFileName)
		configPath := filepath.Join(path, configFileName)
		if !fileExists(wasmPath) || !fileExists(configPath) {
			corrupted = append(corrupted, uri)
			continue
		}
		b, err := LoadFromDirectory(path)
		if err != nil || b.Verify() != nil {
			corrupted = append(corrupted, uri)
		}
	}
	return corrupted
}
