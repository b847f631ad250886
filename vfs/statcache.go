package vfs

import (
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/smartfile/client-go/api"
	"github.com/smartfile/client-go/obs"
)

// CacheLevel controls how aggressively path metadata is retained
// between calls.
type CacheLevel int

// Cache levels.
const (
	// CacheOff disables the stat cache entirely.
	CacheOff CacheLevel = iota
	// CacheListing allows listing-primed, single-use entries: a stat
	// hit consumes and evicts the entry.
	CacheListing
	// CachePersistent allows persistent entries which survive repeated
	// stat hits, including negative ("not found") markers.
	CachePersistent
)

// statEntry is one cached record. info is nil when negative is set: a
// cached "not found" is distinct from a cache miss.
type statEntry struct {
	info      *api.PathInfo
	negative  bool
	singleUse bool
}

// statCache maps exact path strings to metadata records.
//
// Entries only ever come from a single-item metadata fetch, a row of a
// directory listing, or the resource info returned by a mutating call.
// The backing store is safe for concurrent use but the mutex is still
// needed: a single-use hit is a read-modify-write.
type statCache struct {
	mu      sync.Mutex
	level   CacheLevel
	store   *gocache.Cache
	log     obs.Logger
	metrics obs.Metrics
	hits    uint64
}

func newStatCache(level CacheLevel, log obs.Logger, metrics obs.Metrics) *statCache {
	return &statCache{
		level:   level,
		store:   gocache.New(gocache.NoExpiration, 0),
		log:     log,
		metrics: metrics,
	}
}

// Get looks up path. ok distinguishes a hit from a miss; negative
// reports a cached "not found". Single-use entries are consumed by the
// hit.
func (c *statCache) Get(path string) (info *api.PathInfo, negative, ok bool) {
	if c.level == CacheOff {
		return nil, false, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, found := c.store.Get(path)
	if !found {
		return nil, false, false
	}
	entry := value.(statEntry)
	if entry.singleUse {
		c.store.Delete(path)
	}
	c.hits++
	c.metrics.IncCacheHit()
	c.log.Debugf("statcache: hit for %q (negative=%v)", path, entry.negative)
	return entry.info, entry.negative, true
}

// PutStat caches the result of a single-item metadata fetch or the
// info returned by a mutating call. Only the persistent level retains
// these.
func (c *statCache) PutStat(info *api.PathInfo) {
	if c.level < CachePersistent {
		return
	}
	stripped := info.StripChildren()
	c.mu.Lock()
	c.store.Set(stripped.Path, statEntry{info: &stripped}, gocache.NoExpiration)
	c.mu.Unlock()
}

// PutNegative caches a "not found" marker after a metadata fetch
// returned not-found. Only the persistent level retains these.
func (c *statCache) PutNegative(path string) {
	if c.level < CachePersistent {
		return
	}
	c.mu.Lock()
	c.store.Set(path, statEntry{negative: true}, gocache.NoExpiration)
	c.mu.Unlock()
}

// PutListing caches one row of a directory listing. At the listing
// level the entry is single-use; at the persistent level it sticks.
func (c *statCache) PutListing(info *api.PathInfo) {
	if c.level == CacheOff {
		return
	}
	entry := statEntry{info: info, singleUse: c.level == CacheListing}
	c.mu.Lock()
	c.store.Set(info.Path, entry, gocache.NoExpiration)
	c.mu.Unlock()
}

// BeforeListing resets the cache ahead of a directory listing pass.
// Below the persistent level a listing invalidates everything primed
// so far.
func (c *statCache) BeforeListing() {
	if c.level <= CacheListing {
		c.mu.Lock()
		c.store.Flush()
		c.mu.Unlock()
	}
}

// Invalidate removes the entry for path only.
func (c *statCache) Invalidate(path string) {
	c.mu.Lock()
	c.store.Delete(path)
	c.mu.Unlock()
}

// InvalidateTree removes path and, treating it as a directory, every
// entry lexically prefixed by path+"/". Siblings sharing the prefix
// without the separator (e.g. "/ab" for "/a") are untouched.
func (c *statCache) InvalidateTree(path string) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Delete(path)
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
}

// Hits returns the number of stats served from the cache.
func (c *statCache) Hits() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Len returns the number of cached entries.
func (c *statCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.ItemCount()
}
