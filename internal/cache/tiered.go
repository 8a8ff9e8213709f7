package cache

import (
	"context"
	"time"

	"github.com/Spok95/stock-ledger/internal/infra/metrics"
)

// Tiered — сквозное чтение: процессный тир → Redis → источник, с обратным
// заполнением обоих тиров. Запись в кэш при мутациях не делается (write-around).
type Tiered struct {
	Local  *Memory
	Remote *Remote
}

func NewTiered(local *Memory, remote *Remote) *Tiered {
	return &Tiered{Local: local, Remote: remote}
}

type bypassKey struct{}

// WithBypass помечает запрос как принудительное обновление: оба тира
// пропускаются на чтении, но результат всё равно кладётся обратно.
func WithBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func Bypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// Fetch возвращает значение по ключу, добывая его через load на промахе.
// Ошибка кэша наружу не выходит никогда — только ошибка загрузчика.
func Fetch[T any](ctx context.Context, c *Tiered, key Key, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	k := key.String()
	if !Bypassed(ctx) {
		if v, ok := c.Local.Get(k); ok {
			if t, ok := v.(T); ok {
				metrics.CacheHits.WithLabelValues("local").Inc()
				return t, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("local").Inc()

		var t T
		if c.Remote.Get(ctx, k, &t) {
			metrics.CacheHits.WithLabelValues("remote").Inc()
			c.Local.Set(k, t, ttl)
			return t, nil
		}
		metrics.CacheMisses.WithLabelValues("remote").Inc()
	}

	t, err := load(ctx)
	if err != nil {
		return t, err
	}
	c.Local.Set(k, t, ttl)
	c.Remote.Set(ctx, k, t, ttl)
	return t, nil
}
