package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a country snapshot stays cached.
const DefaultCacheTTL = 15 * time.Minute

// errCacheMiss is returned by snapshotCache.Get for an absent key.
var errCacheMiss = errors.New("cache miss")

// snapshotCache is the minimal key/value surface the cached directory needs.
type snapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

func (c redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errCacheMiss
	}
	return data, err
}

func (c redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedDirectory puts a Redis snapshot cache in front of another directory.
// Cache failures are logged and the inner directory is used.
type CachedDirectory struct {
	inner Directory
	cache snapshotCache
	ttl   time.Duration
}

// NewCachedDirectory wraps inner with a Redis cache. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedDirectory(inner Directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return newCachedDirectory(inner, redisCache{client: client}, ttl)
}

func newCachedDirectory(inner Directory, cache snapshotCache, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{inner: inner, cache: cache, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

func (d *CachedDirectory) key(countryCode string) string {
	return fmt.Sprintf("clinics:%s", countryCode)
}

// Clinics implements Directory.
func (d *CachedDirectory) Clinics(ctx context.Context, countryCode string) ([]models.Clinic, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if countryCode == "" {
		return nil, nil
	}
	key := d.key(countryCode)

	data, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var clinics []models.Clinic
		if err := json.Unmarshal(data, &clinics); err == nil {
			slog.Debug("CachedDirectory.Clinics: cache hit", "country", countryCode, "count", len(clinics))
			return clinics, nil
		}
		slog.Warn("CachedDirectory.Clinics: corrupt cache entry", "key", key)
	case !errors.Is(err, errCacheMiss):
		slog.Warn("CachedDirectory.Clinics: cache read failed", "key", key, "error", err)
	}

	clinics, err := d.inner.Clinics(ctx, countryCode)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(clinics); err == nil {
		if err := d.cache.Set(ctx, key, data, d.ttl); err != nil {
			slog.Warn("CachedDirectory.Clinics: cache write failed", "key", key, "error", err)
		}
	}
	return clinics, nil
}
