package tokenizer

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
)

// CachedEncoder memoises Encode results for repeated prompts, such as a
// long shared system message. Entries expire after the configured TTL.
type CachedEncoder struct {
	Tokenizer
	cache  *ttlcache.Cache[uint64, cachedEncoding]
	key    func(text string, addSpecial bool) uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// cachedEncoding keeps the input alongside its ids so a hash collision is
// detected on lookup instead of returning another prompt's tokens.
type cachedEncoding struct {
	text       string
	addSpecial bool
	ids        []int
}

// CacheStats is a point-in-time view of encoder cache effectiveness.
type CacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// NewCachedEncoder wraps tok. A zero capacity leaves the cache unbounded.
// Call Close to stop the expiry loop.
func NewCachedEncoder(tok Tokenizer, ttl time.Duration, capacity uint64) *CachedEncoder {
	opts := []ttlcache.Option[uint64, cachedEncoding]{
		ttlcache.WithTTL[uint64, cachedEncoding](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[uint64, cachedEncoding](capacity))
	}
	c := &CachedEncoder{
		Tokenizer: tok,
		cache:     ttlcache.New(opts...),
		key:       encodeKey,
	}
	go c.cache.Start()
	return c
}

func (c *CachedEncoder) Encode(text string, addSpecial bool) ([]int, error) {
	key := c.key(text, addSpecial)
	if item := c.cache.Get(key); item != nil {
		if v := item.Value(); v.text == text && v.addSpecial == addSpecial {
			c.hits.Add(1)
			return slices.Clone(v.ids), nil
		}
	}
	c.misses.Add(1)
	ids, err := c.Tokenizer.Encode(text, addSpecial)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cachedEncoding{text: text, addSpecial: addSpecial, ids: slices.Clone(ids)}, ttlcache.DefaultTTL)
	return ids, nil
}

func (c *CachedEncoder) Stats() CacheStats {
	return CacheStats{
		Size:   c.cache.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

func (c *CachedEncoder) Close() {
	c.cache.Stop()
}

func encodeKey(text string, addSpecial bool) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(text)
	if addSpecial {
		_, _ = d.Write([]byte{1})
	} else {
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
