package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iudanet/dirsync/internal/server/handlers"
)

// RateLimiter ограничивает число запросов на ключ в пределах окна
type RateLimiter struct {
	buckets map[string]*bucket
	logger  *slog.Logger
	stopC   chan struct{}
	now     func() time.Time
	rate    int
	window  time.Duration
	mu      sync.Mutex
	stopped sync.Once
}

type bucket struct {
	windowStart time.Time
	tokens      int
}

// NewRateLimiter создает limiter на rate запросов за window и запускает очистку бакетов
func NewRateLimiter(rate int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		logger:  logger,
		stopC:   make(chan struct{}),
		now:     time.Now,
		rate:    rate,
		window:  window,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopC:
			return
		}
	}
}

// cleanup удаляет бакеты, не использовавшиеся дольше двух окон
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.windowStart) > rl.window*2 {
			delete(rl.buckets, key)
		}
	}
}

// Stop останавливает фоновую очистку. Повторный вызов безопасен.
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stopC) })
}

// Allow расходует один токен ключа и сообщает, разрешен ли запрос
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.windowStart) >= rl.window {
		b = &bucket{windowStart: now, tokens: rl.rate}
		rl.buckets[key] = b
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware ограничивает запросы по реплике из токена, для анонимных запросов по IP.
// Должен стоять после ReplicaAuthMiddleware, чтобы видеть идентификатор реплики.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r)
		if !rl.Allow(key) {
			rl.logger.Warn("Rate limit exceeded",
				"key", key,
				"method", r.Method,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if id, ok := handlers.GetReplicaID(r.Context()); ok {
		return fmt.Sprintf("replica:%d", id)
	}
	return "ip:" + clientIP(r)
}

// clientIP извлекает IP адрес клиента с учетом X-Forwarded-For и X-Real-IP
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
