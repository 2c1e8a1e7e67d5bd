package sink

import (
	"context"
	"encoding/json"
)

// getCachedStrings/setCachedStrings adapt the teacher's TTL-keyed pricing
// cache pattern (api-server's PricingCache) to the metadata lookups this
// sink performs once per run.
func (s *Sink) getCachedStrings(ctx context.Context, key string) ([]string, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

func (s *Sink) setCachedStrings(ctx context.Context, key string, values []string) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return
	}
	s.redis.Set(ctx, key, raw, s.cacheTTL)
}
