package insights

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/pkg/store"
)

// cached returns the payload stored under key when its digest matches, and
// otherwise calls compute and stores the result with digest. A failed cache
// read counts as a miss; a failed write is logged.
func cached[T any](ctx context.Context, s *Service, key store.CacheKey, digest string, compute func(context.Context) (T, error)) (T, error) {
	log := observe.Logger(ctx).With("kind", string(key.Kind), "range_days", key.RangeDays)

	entry, err := s.store.ReadCache(ctx, key)
	switch {
	case err == nil && entry.Digest == digest:
		var v T
		if err := json.Unmarshal(entry.Payload, &v); err == nil {
			s.metrics.RecordCacheLookup(ctx, string(key.Kind), true)
			return v, nil
		}
		log.Warn("insights: undecodable cache payload")
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Warn("insights: cache read failed", "err", err)
	}
	s.metrics.RecordCacheLookup(ctx, string(key.Kind), false)

	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := s.store.WriteCache(ctx, key, store.CacheEntry{Digest: digest, Payload: payload, UpdatedAt: s.now()}); err != nil {
		log.Warn("insights: cache write failed", "err", err)
	}
	return v, nil
}
