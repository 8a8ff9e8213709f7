package cache

import (
	"context"
	"log/slog"
	"time"
)

// Invalidator чистит оба тира после успешной мутации. Локальный тир — синхронно:
// следующее локальное чтение не должно увидеть старые данные. Удалённый —
// в фоне, best-effort; его сбой мутацию не роняет.
type Invalidator struct {
	local  *Memory
	remote *Remote
	log    *slog.Logger
}

func NewInvalidator(local *Memory, remote *Remote, log *slog.Logger) *Invalidator {
	return &Invalidator{local: local, remote: remote, log: log}
}

func (i *Invalidator) Purge(families ...Family) {
	for _, f := range families {
		i.local.DeletePrefix(FamilyPrefix(f))
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, f := range families {
			i.remote.DeleteByPrefix(ctx, FamilyPrefix(f))
		}
	}()
}
