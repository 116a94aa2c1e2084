package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/web"
	"golang.org/x/time/rate"
)

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &web.StatusWriter{ResponseWriter: w, Code: 200}
		next.ServeHTTP(sw, r)
		ms := uint64(time.Since(start).Milliseconds())
		atomic.AddUint64(&metricRequestsTotal, 1)
		atomic.AddUint64(&metricRequestLatencyN, ms)
		if sw.Code >= 400 {
			atomic.AddUint64(&metricRequestsFailed, 1)
		}
		slog.Info("request",
			"requestId", w.Header().Get("X-Request-Id"),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Code,
			"ms", ms,
		)
	})
}

func AuthMiddleware(cfg *config.RuntimeConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Token != "" {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pplxhelper", error="missing_token"`)
				web.ErrorCode(w, 401, "missing_token", "unauthorized", false, nil)
				return
			}
			if auth != "Bearer "+cfg.Token {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pplxhelper", error="bad_token"`)
				web.ErrorCode(w, 401, "bad_token", "unauthorized", false, nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			b := make([]byte, 8)
			_, _ = rand.Read(b)
			rid = hex.EncodeToString(b)
		}
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r)
	})
}

const (
	rateWindow = 10 * time.Second
	rateMax    = 120
)

// hostLimiters holds one token bucket per client host.
type hostLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	byHost  map[string]*rate.Limiter
	maxHost int
}

func newHostLimiters(window time.Duration, maxReq int) *hostLimiters {
	return &hostLimiters{
		limit:   rate.Every(window / time.Duration(maxReq)),
		burst:   maxReq,
		byHost:  make(map[string]*rate.Limiter),
		maxHost: 1024,
	}
}

func (l *hostLimiters) allow(host string) bool {
	l.mu.Lock()
	lim, ok := l.byHost[host]
	if !ok {
		if len(l.byHost) >= l.maxHost {
			clear(l.byHost)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byHost[host] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func clientHost(r *http.Request) string {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	if host == "" {
		host = r.RemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		host = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return host
}

func RateLimitMiddleware(next http.Handler) http.Handler {
	limiters := newHostLimiters(rateWindow, rateMax)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimSpace(r.URL.Path)
		if p == "/health" || p == "/metrics" || p == "/events" {
			next.ServeHTTP(w, r)
			return
		}
		if !limiters.allow(clientHost(r)) {
			atomic.AddUint64(&metricRateLimited, 1)
			web.ErrorCode(w, 429, "rate_limited", "too many requests", true, map[string]any{"windowSec": int(rateWindow.Seconds()), "max": rateMax})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Chain applies the standard middleware stack in the order requests see it.
func Chain(cfg *config.RuntimeConfig, h http.Handler) http.Handler {
	return RequestIDMiddleware(LoggingMiddleware(CorsMiddleware(AuthMiddleware(cfg, RateLimitMiddleware(h)))))
}
