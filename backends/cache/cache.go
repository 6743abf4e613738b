// Package cache is a process-local k/v cache used to memoize expensive reads
// (parsed CSV exports, release-database lookups, run-state outcomes).
package cache

import (
	"strings"
	"time"

	gcache "github.com/patrickmn/go-cache"
)

const (
	CSVPrefix         = "csv"
	ReleaseDBPrefix   = "mb"
	CoverArtPrefix    = "caa"
	RunOutcomePrefix  = "outcome"
	EventPrefix       = "event"
	DefaultCleanupInt = time.Minute
)

type ICache interface {
	Add(key string, value interface{}, exp ...time.Duration) error
	Set(key string, value interface{}, exp ...time.Duration)
	Get(key string) (value interface{}, ok bool)
	Contains(key string) (exists bool)
	Remove(key string) bool
}

type Cache struct {
	*gcache.Cache
}

// New returns a cache whose entries never expire unless an expiration is
// given per entry.
func New() (*Cache, error) {
	return NewWithExpiration(gcache.NoExpiration)
}

// NewWithExpiration returns a cache with a default TTL applied to entries
// that are stored without an explicit expiration.
func NewWithExpiration(defaultExp time.Duration) (*Cache, error) {
	return &Cache{
		Cache: gcache.New(defaultExp, DefaultCleanupInt),
	}, nil
}

// Key joins parts into a namespaced cache key (ie. "mb:search:abbey road").
func Key(prefix string, parts ...string) string {
	return prefix + ":" + strings.Join(parts, ":")
}

// Add will error if adding a key that already exists in cache; accepts an
// optional expiration time.
func (c *Cache) Add(key string, value interface{}, exp ...time.Duration) error {
	if len(exp) > 0 {
		return c.Cache.Add(key, value, exp[0])
	}

	return c.Cache.Add(key, value, gcache.DefaultExpiration)
}

// Set will add OR overwrite an element in the cache; accepts an optional
// expiration time.
func (c *Cache) Set(key string, value interface{}, exp ...time.Duration) {
	if len(exp) > 0 {
		c.Cache.Set(key, value, exp[0])
		return
	}

	c.Cache.Set(key, value, gcache.DefaultExpiration)
}

func (c *Cache) Get(key string) (interface{}, bool) {
	return c.Cache.Get(key)
}

func (c *Cache) Contains(key string) bool {
	_, ok := c.Cache.Get(key)
	return ok
}

func (c *Cache) Remove(key string) bool {
	_, ok := c.Cache.Get(key)
	if !ok {
		return false
	}

	c.Cache.Delete(key)

	return true
}
