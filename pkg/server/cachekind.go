package server

import "strconv"

// CacheKind selects the Cache-Control policy for a response.
type CacheKind int

const (
	// CacheNone must be revalidated every time.
	CacheNone CacheKind = iota

	// CacheEphemeral may be reused for about a second.
	CacheEphemeral

	// CacheFixed may be reused for the configured non-live time.
	CacheFixed

	// CacheIndefinite never changes.
	CacheIndefinite
)

const indefiniteCacheSeconds = 366 * 24 * 3600

// CacheControl renders the Cache-Control header value. nonLiveTime is
// the http.cacheNonLiveTime configuration value in seconds.
func (k CacheKind) CacheControl(nonLiveTime uint) string {
	switch k {
	case CacheEphemeral:
		return "public, max-age=1"
	case CacheFixed:
		return "public, max-age=" + strconv.FormatUint(uint64(nonLiveTime), 10)
	case CacheIndefinite:
		return "public, max-age=" + strconv.Itoa(indefiniteCacheSeconds)
	}
	return "no-cache"
}
