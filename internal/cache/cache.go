// Package cache implements the content-addressed step cache (spec.md §4.5):
// a keyed on-disk map from (cache_key, input_digest) to stored output text.
// The cache never participates in correctness; any I/O failure is treated
// as a miss on read or a skipped write, never as fatal.
package cache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	loomerrors "github.com/alexisbeaulieu97/loomwork/pkg/errors"
)

// Cache is a directory-backed store of entries named
// "<cache_key-slug>-<hex digest>" (spec.md §4.5 layout note).
type Cache struct {
	dir string
}

// Open returns a Cache rooted at dir, creating the directory if absent.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, loomerrors.NewCacheError(dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Digest computes the collision-resistant digest spec.md §4.3 step 4 and
// §9 require: blake2b-256 of cacheKey || "\x00" || input, resolving the
// spec's open question on the hash function (see SPEC_FULL.md §4.5/§9).
func Digest(cacheKey, input string) string {
	h, _ := blake2b.New256(nil) // nil key, fixed output size: never errors
	h.Write([]byte(cacheKey))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the stored text for (cacheKey, digest) if present and
// readable. Any read error, including a missing file, is reported as a
// miss (spec.md §4.5 "Any I/O error during read is treated as a miss").
func (c *Cache) Get(cacheKey, digest string) (string, bool) {
	data, err := os.ReadFile(c.entryPath(cacheKey, digest))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Put best-effort stores text under (cacheKey, digest), writing to a
// sibling temp file and renaming over the final path so concurrent readers
// never observe a partial write (spec.md §4.5/§5). A failure is returned as
// a CacheError for the caller to log; callers must never fail the workflow
// on it (spec.md §7).
func (c *Cache) Put(cacheKey, digest, text string) error {
	final := c.entryPath(cacheKey, digest)

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return loomerrors.NewCacheError(cacheKey, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return loomerrors.NewCacheError(cacheKey, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return loomerrors.NewCacheError(cacheKey, err)
	}

	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return loomerrors.NewCacheError(cacheKey, err)
	}

	return nil
}

func (c *Cache) entryPath(cacheKey, digest string) string {
	return filepath.Join(c.dir, slug(cacheKey)+"-"+digest)
}

// slug converts an arbitrary cache_key into a filesystem-safe fragment.
func slug(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
