// Package ratelimit реализует ограничение частоты запросов по пользователям.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	started time.Time
}

// Limiter ведёт счётчик запросов каждого пользователя в фиксированном окне.
// Проверки для одного пользователя сериализуются, записи устаревших окон
// удаляются лениво при обращении.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[int64]*window
	now     func() time.Time
}

// New создаёт ограничитель с указанным порогом запросов в окне.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		period:  period,
		windows: make(map[int64]*window),
		now:     time.Now,
	}
}

// Admit сообщает, разрешён ли очередной запрос пользователя. При достижении
// порога внутри окна возвращает false без побочных эффектов; иначе
// увеличивает счётчик и возвращает true.
func (l *Limiter) Admit(identity int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[identity]
	if ok && now.Sub(w.started) >= l.period {
		delete(l.windows, identity)
		ok = false
	}

	if !ok {
		l.windows[identity] = &window{count: 1, started: now}
		return true
	}

	if w.count >= l.limit {
		return false
	}

	w.count++
	return true
}

// Len возвращает число активных окон. Устаревшие окна удаляются попутно.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, w := range l.windows {
		if now.Sub(w.started) >= l.period {
			delete(l.windows, id)
		}
	}
	return len(l.windows)
}
