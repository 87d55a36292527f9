package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/qam-project/qam/pkg/domain"
)

// ClassificationCache caches export-control classification results keyed by
// (template id, template version, rule generation), so a classification
// never outlives the rule set it was computed against: bumping the rule
// generation (on any jurisdiction/export-control rule file change)
// naturally misses every previously cached key instead of requiring
// explicit invalidation.
//
// A singleflight.Group collapses concurrent cache misses for the same key
// into a single classification call, so a burst of requests for a
// just-published template doesn't stampede the classifier.
type ClassificationCache struct {
	rdb   *redis.Client
	group singleflight.Group
}

func NewClassificationCache(rdb *redis.Client) *ClassificationCache {
	return &ClassificationCache{rdb: rdb}
}

// classificationTTL is how long a cached classification is kept.
const classificationTTL = 90 * 24 * time.Hour

func cacheKey(templateID, version string, ruleGeneration uint64) string {
	return fmt.Sprintf("qam:policy:classification:%s:%s:%d", templateID, version, ruleGeneration)
}

// GetOrClassify returns the cached classification for the given key, or
// calls classify exactly once per key across all concurrent callers and
// caches its result.
func (c *ClassificationCache) GetOrClassify(
	ctx context.Context,
	templateID, version string,
	ruleGeneration uint64,
	classify func(ctx context.Context) (*domain.ExportClassification, error),
) (*domain.ExportClassification, error) {
	key := cacheKey(templateID, version, ruleGeneration)

	if cached, ok, err := c.get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check after winning the singleflight race: another goroutine
		// may have populated the cache while we were waiting to be the
		// leader for this key.
		if cached, ok, err := c.get(ctx, key); err == nil && ok {
			return cached, nil
		}

		classification, err := classify(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.set(ctx, key, classification); err != nil {
			return nil, err
		}
		return classification, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ExportClassification), nil
}

func (c *ClassificationCache) get(ctx context.Context, key string) (*domain.ExportClassification, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("policy: failed to read classification cache: %w", err)
	}
	var classification domain.ExportClassification
	if err := json.Unmarshal(raw, &classification); err != nil {
		return nil, false, fmt.Errorf("policy: failed to unmarshal cached classification: %w", err)
	}
	return &classification, true, nil
}

func (c *ClassificationCache) set(ctx context.Context, key string, classification *domain.ExportClassification) error {
	payload, err := json.Marshal(classification)
	if err != nil {
		return fmt.Errorf("policy: failed to marshal classification: %w", err)
	}
	if err := c.rdb.Set(ctx, key, payload, classificationTTL).Err(); err != nil {
		return fmt.Errorf("policy: failed to write classification cache: %w", err)
	}
	return nil
}
