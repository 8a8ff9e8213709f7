package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	val       any
	createdAt time.Time
	expiresAt time.Time
}

// Memory — процессный тир кэша. Часы инжектируются, чтобы тесты управляли временем.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
	stop  chan struct{}
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]entry), now: now}
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	// ленивая проверка срока на каждом чтении
	if !m.now().Before(e.expiresAt) {
		delete(m.items, key)
		return nil, false
	}
	return e.val, true
}

func (m *Memory) Set(key string, val any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := m.now()
	m.mu.Lock()
	m.items[key] = entry{val: val, createdAt: now, expiresAt: now.Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// DeletePrefix чистит все ключи семейства. Возвращает число удалённых.
func (m *Memory) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// StartSweep запускает периодическую выметалку просроченных записей.
// Интервал фиксированный, от трафика не зависит. Повторный запуск — no-op,
// неположительный интервал отключает выметание (остаётся ленивая проверка).
func (m *Memory) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Memory) StopSweep() {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()
}

// Sweep удаляет просроченные записи. Держит только свой мьютекс.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n
}
