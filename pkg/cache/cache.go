// Package cache keeps processed documents in Redis for fast reads.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/metrics"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when nothing is cached for a document.
var ErrMiss = errors.New("cache miss")

const cacheType = "document"

// Entry is what is cached for a processed document.
type Entry struct {
	LayoutData    []graph.PageLayout `json:"layout_data"`
	GraphData     *graph.WireGraph   `json:"graph_data"`
	ProcessedJSON map[string]any     `json:"processed_json"`
}

// Cache stores processed document entries.
type Cache interface {
	Get(ctx context.Context, documentID string) (*Entry, error)
	Set(ctx context.Context, documentID string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, documentID string) error
}

// Key is the cache key of a document.
func Key(documentID string) string {
	return "document:" + documentID
}

// Redis is a Cache storing snappy compressed JSON.
type Redis struct {
	client *redis.Client
}

// NewRedis connects using a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	return NewRedisFromClient(redis.NewClient(opts)), nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, documentID string) (*Entry, error) {
	data, err := r.client.Get(ctx, Key(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "cache get")
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, "cache decompress")
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, errors.Wrap(err, "cache decode")
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	return &entry, nil
}

func (r *Redis) Set(ctx context.Context, documentID string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "cache encode")
	}
	return errors.Wrap(r.client.Set(ctx, Key(documentID), snappy.Encode(nil, raw), ttl).Err(), "cache set")
}

func (r *Redis) Delete(ctx context.Context, documentID string) error {
	return errors.Wrap(r.client.Del(ctx, Key(documentID)).Err(), "cache delete")
}

// Disabled is used when no Redis is configured. Every Get misses.
type Disabled struct{}

func (Disabled) Get(context.Context, string) (*Entry, error) {
	metrics.CacheMisses.WithLabelValues(cacheType).Inc()
	return nil, ErrMiss
}

func (Disabled) Set(context.Context, string, *Entry, time.Duration) error { return nil }

func (Disabled) Delete(context.Context, string) error { return nil }
