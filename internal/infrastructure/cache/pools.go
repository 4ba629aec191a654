package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"coinvest-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// generationTTL outlives any read that could still be holding an older generation.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("pool changed since read")

// PoolCache is a Redis read-through cache of pool snapshots for the public read path.
// Writers invalidate after commit. Every invalidation bumps a per-pool generation, and a
// fill only lands when the generation it read on the miss is still current, so a reader
// that loaded the row before a write cannot put the old row back.
// A nil *PoolCache is a valid no-op cache.
type PoolCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPoolCache(rdb *redis.Client, ttl time.Duration) *PoolCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &PoolCache{rdb: rdb, ttl: ttl}
}

func poolKey(id uuid.UUID) string { return fmt.Sprintf("coinvest:pool:%s", id) }

func generationKey(id uuid.UUID) string { return fmt.Sprintf("coinvest:pool:%s:gen", id) }

// Get returns the cached pool. On a miss it returns nil and the generation to hand to Fill.
func (c *PoolCache) Get(ctx context.Context, id uuid.UUID) (*domain.Pool, int64) {
	if c == nil {
		return nil, 0
	}
	vals, err := c.rdb.MGet(ctx, poolKey(id), generationKey(id)).Result()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("pool_id", id.String()).Msg("pool cache read failed")
		return nil, -1
	}
	gen := int64(0)
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, -1
		}
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, gen
	}
	var p domain.Pool
	if json.Unmarshal([]byte(data), &p) != nil {
		return nil, gen
	}
	return &p, gen
}

// Fill caches p unless the pool was invalidated after gen was read. A negative gen
// means the miss could not be read cleanly and nothing is stored.
func (c *PoolCache) Fill(ctx context.Context, p *domain.Pool, gen int64) {
	if c == nil || p == nil || gen < 0 {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	genKey := generationKey(p.PoolID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, poolKey(p.PoolID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, errStaleFill) && !errors.Is(err, redis.TxFailedErr) {
		log.Ctx(ctx).Warn().Err(err).Str("pool_id", p.PoolID.String()).Msg("pool cache fill failed")
	}
}

func (c *PoolCache) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if c == nil || len(ids) == 0 {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, poolKey(id))
		}
		return nil
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("pool cache invalidation failed")
	}
}
