// Package cache wraps an in-memory TTL cache used to reuse compiled
// query templates and compiled trigger-condition ASTs across monitor
// runs, instead of reparsing them on every invocation.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Compiled holds reusable compiled artifacts keyed by a stable string
// with a kind prefix ("query:<monitorID>:<index>:<source hash>" for
// query templates, "trigger:<triggerID>" for scripts, "action:..." for
// action templates). Safe for concurrent use.
type Compiled struct {
	c *gocache.Cache
}

// New builds a Compiled cache. Entries expire ttl after they were last
// Set (a Get does not extend them); cleanupInterval controls how often
// expired entries are purged.
func New(ttl, cleanupInterval time.Duration) *Compiled {
	return &Compiled{c: gocache.New(ttl, cleanupInterval)}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Compiled) Get(key string) (interface{}, bool) {
	return c.c.Get(key)
}

// Set stores value under key using the cache's default expiration.
func (c *Compiled) Set(key string, value interface{}) {
	c.c.Set(key, value, gocache.DefaultExpiration)
}

// GetOrCompile returns the cached value for key, compiling and storing
// it via fn on a miss.
func (c *Compiled) GetOrCompile(key string, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(key, v)
	return v, nil
}

// Purge drops every cached entry whose key starts with prefix.
func (c *Compiled) Purge(prefix string) {
	for key := range c.c.Items() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.c.Delete(key)
		}
	}
}
