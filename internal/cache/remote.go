package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Spok95/stock-ledger/internal/infra/metrics"
)

// Remote — межпроцессный тир на Redis. Любой сбой транспорта деградирует в no-op:
// кэш не должен быть источником видимых пользователю ошибок.
type Remote struct {
	rdb    *redis.Client
	minTTL time.Duration
	log    *slog.Logger
}

func NewRemote(rdb *redis.Client, minTTL time.Duration, log *slog.Logger) *Remote {
	return &Remote{rdb: rdb, minTTL: minTTL, log: log}
}

// Get кладёт распакованное значение в dest. false — промах или сбой.
func (r *Remote) Get(ctx context.Context, key string, dest any) bool {
	if r == nil || r.rdb == nil {
		return false
	}
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Debug("remote cache get failed", "key", key, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		r.log.Warn("remote cache payload unmarshal failed", "key", key, "err", err)
		return false
	}
	return true
}

func (r *Remote) Set(ctx context.Context, key string, val any, ttl time.Duration) {
	if r == nil || r.rdb == nil {
		return
	}
	if ttl < r.minTTL {
		ttl = r.minTTL
	}
	raw, err := json.Marshal(val)
	if err != nil {
		r.log.Warn("remote cache payload marshal failed", "key", key, "err", err)
		return
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.log.Debug("remote cache set failed", "key", key, "err", err)
	}
}

func (r *Remote) Delete(ctx context.Context, keys ...string) {
	if r == nil || r.rdb == nil || len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		r.log.Debug("remote cache delete failed", "err", err)
	}
}

// DeleteByPrefix выметает ключи семейства через SCAN, пачками.
func (r *Remote) DeleteByPrefix(ctx context.Context, prefix string) {
	if r == nil || r.rdb == nil {
		return
	}
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			r.Delete(ctx, batch...)
			batch = batch[:0]
		}
	}
	r.Delete(ctx, batch...)
	if err := iter.Err(); err != nil {
		metrics.RemotePurgeErrors.Inc()
		r.log.Warn("remote cache purge failed", "prefix", prefix, "err", err)
	}
}
