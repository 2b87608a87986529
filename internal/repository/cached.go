package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/domain"
)

// CacheRecorder receives cache hit and miss observations.
type CacheRecorder interface {
	RecordCache(hit bool)
}

// cachedObjectRepository serves Get and ListTags from a Cache and
// invalidates the affected keys on every write. Query is never cached.
// Cache failures degrade to the inner repository.
type cachedObjectRepository struct {
	inner    ObjectRepository
	cache    Cache
	ttl      time.Duration
	recorder CacheRecorder
	logger   zerolog.Logger
}

// NewCachedObjectRepository wraps inner with a read-through cache.
// recorder may be nil.
func NewCachedObjectRepository(inner ObjectRepository, cache Cache, ttl time.Duration, recorder CacheRecorder, logger zerolog.Logger) ObjectRepository {
	return &cachedObjectRepository{
		inner:    inner,
		cache:    cache,
		ttl:      ttl,
		recorder: recorder,
		logger:   logger.With().Str("component", "metadata_cache").Logger(),
	}
}

func (r *cachedObjectRepository) record(hit bool) {
	if r.recorder != nil {
		r.recorder.RecordCache(hit)
	}
}

// lookup decodes a cached value into dst. It reports false on miss or any
// cache error.
func (r *cachedObjectRepository) lookup(ctx context.Context, key string, dst any) bool {
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		r.record(false)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		r.record(false)
		return false
	}
	r.record(true)
	return true
}

func (r *cachedObjectRepository) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (r *cachedObjectRepository) invalidate(ctx context.Context, keys ...string) {
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

func (r *cachedObjectRepository) Exists(ctx context.Context, id string) (bool, error) {
	return r.inner.Exists(ctx, id)
}

func (r *cachedObjectRepository) Register(ctx context.Context, obj *domain.Object, initialTags []string) (bool, error) {
	created, err := r.inner.Register(ctx, obj, initialTags)
	if err != nil {
		return false, err
	}
	if created {
		r.invalidate(ctx, CacheKeys.Object(obj.ID), CacheKeys.Labels())
	}
	return created, nil
}

func (r *cachedObjectRepository) Get(ctx context.Context, id string) (*domain.Object, error) {
	key := CacheKeys.Object(id)

	var cached domain.Object
	if r.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	obj, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, obj)
	return obj, nil
}

func (r *cachedObjectRepository) AddTag(ctx context.Context, id, label string) error {
	if err := r.inner.AddTag(ctx, id, label); err != nil {
		return err
	}
	r.invalidate(ctx, CacheKeys.Object(id), CacheKeys.Labels())
	return nil
}

func (r *cachedObjectRepository) RemoveTag(ctx context.Context, id, label string) error {
	if err := r.inner.RemoveTag(ctx, id, label); err != nil {
		return err
	}
	r.invalidate(ctx, CacheKeys.Object(id), CacheKeys.Labels())
	return nil
}

func (r *cachedObjectRepository) ListTags(ctx context.Context) ([]string, error) {
	key := CacheKeys.Labels()

	var cached []string
	if r.lookup(ctx, key, &cached) && cached != nil {
		return cached, nil
	}

	labels, err := r.inner.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, labels)
	return labels, nil
}

func (r *cachedObjectRepository) Query(ctx context.Context, opts QueryOptions) ([]*domain.Object, error) {
	return r.inner.Query(ctx, opts)
}

func (r *cachedObjectRepository) Delete(ctx context.Context, id string) error {
	err := r.inner.Delete(ctx, id)
	// Invalidate even on not-found; a stale entry may outlive its row.
	r.invalidate(ctx, CacheKeys.Object(id), CacheKeys.Labels())
	return err
}

func (r *cachedObjectRepository) Count(ctx context.Context) (*Stats, error) {
	return r.inner.Count(ctx)
}

var _ ObjectRepository = (*cachedObjectRepository)(nil)
