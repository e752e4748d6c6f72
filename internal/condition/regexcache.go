package condition

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// regexCache caches compiled regex patterns for the "regex" operator.
// Compilation is the expensive part of evaluating a regex predicate
// (~5µs); an LRU keeps hot patterns resident instead of clearing the
// whole cache on overflow the way a simple bounded map would.
type regexCache struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

const defaultRegexCacheSize = 1000

func newRegexCache(size int) *regexCache {
	if size <= 0 {
		size = defaultRegexCacheSize
	}
	c, _ := lru.New[string, *regexp.Regexp](size)
	return &regexCache{cache: c}
}

// get returns the compiled pattern, compiling and caching it on a miss.
func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.cache.Add(pattern, re)
	return re, nil
}
