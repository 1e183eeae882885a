package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

const defaultPriceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache with one hash per feed key at
// "price:{key}" holding price, ts (Unix nanoseconds), seq and src. Entries
// expire after the TTL so a dead engine does not leave a live-looking price.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A non-positive ttl uses ten minutes.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = defaultPriceTTL
	}
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(key string) string { return "price:" + key }

// SetObservation overwrites the entry for key and refreshes its expiry.
func (pc *PriceCache) SetObservation(ctx context.Context, key string, obs domain.PriceObservation) error {
	k := priceKey(key)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, k,
		"price", strconv.FormatFloat(obs.Value, 'f', -1, 64),
		"ts", strconv.FormatInt(obs.ObservedAt.UnixNano(), 10),
		"seq", strconv.FormatUint(obs.Sequence, 10),
		"src", obs.Source.String(),
	)
	pipe.Expire(ctx, k, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set observation %s: %w", key, err)
	}
	return nil
}

// GetObservation returns the cached observation or domain.ErrNotFound.
func (pc *PriceCache) GetObservation(ctx context.Context, key string) (domain.PriceObservation, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(key)).Result()
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: get observation %s: %w", key, err)
	}
	obs, err := parseObservation(vals)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: observation %s: %w", key, err)
	}
	return obs, nil
}

// GetObservations fetches several keys in one round trip. Missing or
// malformed entries are left out of the result.
func (pc *PriceCache) GetObservations(ctx context.Context, keys []string) (map[string]domain.PriceObservation, error) {
	out := make(map[string]domain.PriceObservation, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, priceKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get observations: %w", err)
	}

	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if obs, err := parseObservation(vals); err == nil {
			out[keys[i]] = obs
		}
	}
	return out, nil
}

func parseObservation(vals map[string]string) (domain.PriceObservation, error) {
	if len(vals) == 0 || vals["price"] == "" {
		return domain.PriceObservation{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("parse ts: %w", err)
	}
	obs := domain.PriceObservation{Value: price, ObservedAt: time.Unix(0, ts)}
	if seq, err := strconv.ParseUint(vals["seq"], 10, 64); err == nil {
		obs.Sequence = seq
	}
	if src, ok := domain.ParseSource(vals["src"]); ok {
		obs.Source = src
	}
	return obs, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
