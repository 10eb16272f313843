package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/slot-market/internal/config"
)

// cachedResponse is what the cache stores per key.
type cachedResponse struct {
    Status int         `json:"status"`
    Header http.Header `json:"header"`
    Body   []byte      `json:"body"`
}

// bodyRecorder tees the response body into a bounded buffer.
type bodyRecorder struct {
    http.ResponseWriter
    status   int
    buf      bytes.Buffer
    limit    int
    overflow bool
}

func (r *bodyRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
    if !r.overflow {
        if r.limit > 0 && r.buf.Len()+len(b) > r.limit {
            r.overflow = true
            r.buf.Reset()
        } else {
            r.buf.Write(b)
        }
    }
    return r.ResponseWriter.Write(b)
}

// CacheKey returns the Redis key for a route path and raw query.  Keys of
// one path share the prefix:path: stem so they can be dropped together.
func CacheKey(prefix, path, rawQuery string) string {
    sum := sha1.Sum([]byte(rawQuery))
    return fmt.Sprintf("%s:%s:%x", prefix, path, sum[:])
}

// CacheInvalidator drops every cached response of one route path.
type CacheInvalidator struct {
    rdb     *redis.Client
    pattern string
}

// NewCacheInvalidator returns an invalidator for path under cfg.Prefix.  With
// caching disabled or no Redis client, Invalidate does nothing.
func NewCacheInvalidator(cfg config.CacheConfig, rdb *redis.Client, path string) *CacheInvalidator {
    if !cfg.Enabled {
        rdb = nil
    }
    return &CacheInvalidator{rdb: rdb, pattern: cfg.Prefix + ":" + path + ":*"}
}

// Invalidate scans and deletes the path's cached entries.
func (c *CacheInvalidator) Invalidate(ctx context.Context) error {
    if c == nil || c.rdb == nil {
        return nil
    }
    iter := c.rdb.Scan(ctx, 0, c.pattern, 100).Iterator()
    var keys []string
    for iter.Next(ctx) {
        keys = append(keys, iter.Val())
        if len(keys) == 100 {
            if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
                return err
            }
            keys = keys[:0]
        }
    }
    if err := iter.Err(); err != nil {
        return err
    }
    if len(keys) > 0 {
        return c.rdb.Del(ctx, keys...).Err()
    }
    return nil
}

// NewRedisCache serves repeated reads from Redis.  Only successful
// responses for the configured methods are stored; oversized bodies are
// passed through uncached.  A missing Redis client disables caching.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            if !cfg.Methods[strings.ToUpper(req.Method)] {
                return next(c)
            }
            key := CacheKey(cfg.Prefix, req.URL.Path, req.URL.RawQuery)

            if raw, err := rdb.Get(req.Context(), key).Bytes(); err == nil {
                var hit cachedResponse
                if json.Unmarshal(raw, &hit) == nil && hit.Status != 0 {
                    for k, vals := range hit.Header {
                        if strings.EqualFold(k, echo.HeaderContentLength) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    return c.Blob(hit.Status, hit.Header.Get(echo.HeaderContentType), hit.Body)
                }
            }

            rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if rec.status != http.StatusOK || rec.overflow {
                return nil
            }
            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            payload, err := json.Marshal(cachedResponse{Status: rec.status, Header: hdr, Body: rec.buf.Bytes()})
            if err == nil {
                _ = rdb.Set(context.Background(), key, payload, cfg.TTL).Err()
            }
            return nil
        }
    }
}
