package config

import "time"

// CacheConfig defines settings for the market price response cache.  When
// Enabled is false or no Redis client is configured, caching is disabled.
// Entries are keyed by route and query string under Prefix; responses larger
// than MaxBodyBytes are not cached.
type CacheConfig struct {
    Enabled      bool
    Methods      map[string]bool
    TTL          time.Duration
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables.  Market statistics only move when a
// tick settles, so the default TTL is a few minutes.
func LoadCacheConfig() CacheConfig {
    c := CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        Methods:      envList("CACHE_METHODS", "GET"),
        TTL:          envDur("CACHE_TTL", 5*time.Minute),
        Prefix:       envStr("CACHE_PREFIX", "cache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
    }
    if c.TTL <= 0 {
        c.TTL = 5 * time.Minute
    }
    return c
}
