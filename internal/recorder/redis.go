package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/obslog"
)

const (
	redisRecentKey = "chessduel:games:recent"
	defaultKeep    = 100
)

// Redis stores records as JSON with a capped recency list.
type Redis struct {
	rdb  *redis.Client
	keep int64
	ttl  time.Duration
	own  bool
}

type RedisOption func(*Redis)

// WithKeep caps the recency list; older records fall off it and expire with ttl.
func WithKeep(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.keep = int64(n)
		}
	}
}

func WithTTL(d time.Duration) RedisOption { return func(r *Redis) { r.ttl = d } }

// NewRedis dials redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, opts ...RedisOption) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis recorder")
	}
	o, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r := NewRedisWithClient(rdb, opts...)
	r.own = true
	return r, nil
}

// NewRedisWithClient shares an existing client. Close leaves it open.
func NewRedisWithClient(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, keep: defaultKeep}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

func gameKey(id string) string { return "chessduel:game:" + strings.TrimSpace(id) }

func (r *Redis) SaveGame(ctx context.Context, rec *domain.GameRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	cp := *rec
	complete(&cp)
	raw, err := json.Marshal(&cp)
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, gameKey(cp.ID), raw, r.ttl)
	pipe.LRem(ctx, redisRecentKey, 0, cp.ID)
	pipe.LPush(ctx, redisRecentKey, cp.ID)
	pipe.LTrim(ctx, redisRecentKey, 0, r.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Error("game_persist_error", zap.String("game_id", cp.ID), zap.String("store", "redis"), zap.Error(err))
		return err
	}
	obslog.L().Info("game_persist", zap.String("game_id", cp.ID), zap.String("store", "redis"), zap.String("result", cp.Result))
	return nil
}

func (r *Redis) RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := r.rdb.LRange(ctx, redisRecentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.GameRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.GameRecord, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// expired between LRANGE and MGET
			continue
		}
		var rec domain.GameRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			obslog.L().Warn("game_record_corrupt", zap.String("game_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil || !r.own {
		return nil
	}
	return r.rdb.Close()
}
