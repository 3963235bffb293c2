package ffmpeg

import (
	"strings"
	"sync"

	"github.com/risevideo/risecast/internal/media"
)

// ProbeCache caches probe results by (url, arguments). The resolver
// hoists its probe calls above this cache so each source is probed at
// most once per resolution.
type ProbeCache struct {
	mu    sync.Mutex
	cache map[string]map[string]media.SourceInfo
}

func NewProbeCache() *ProbeCache {
	return &ProbeCache{cache: make(map[string]map[string]media.SourceInfo)}
}

// argsKey flattens the argument list into a map key. Arguments never
// contain NUL, so this is collision-free.
func argsKey(arguments []string) string {
	return strings.Join(arguments, "\x00")
}

// Contains reports whether any probe for the URL is cached.
func (c *ProbeCache) Contains(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache[url]) > 0
}

// Get returns the cached result for (url, arguments).
func (c *ProbeCache) Get(url string, arguments []string) (media.SourceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byArgs, ok := c.cache[url]
	if !ok {
		return media.SourceInfo{}, false
	}
	info, ok := byArgs[argsKey(arguments)]
	return info, ok
}

// Insert records a probe result.
func (c *ProbeCache) Insert(info media.SourceInfo, url string, arguments []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byArgs, ok := c.cache[url]
	if !ok {
		byArgs = make(map[string]media.SourceInfo)
		c.cache[url] = byArgs
	}
	byArgs[argsKey(arguments)] = info
}
