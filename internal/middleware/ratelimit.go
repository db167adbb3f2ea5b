package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"

	"golang.org/x/time/rate"
)

// 文档注释：按访问者 IP 的令牌桶限流
// 背景：上报接口会触发远端发帖，需要防止单一来源刷量；每个来源一个 rate.Limiter，空闲超过 idle 的来源被清理。
// 约束：不排队，超限直接返回 429。
type VisitorLimiter struct {
	qps   rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
	now      func() time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewVisitorLimiter：burst<=0 时取 qps 向上取整（至少 1）
func NewVisitorLimiter(qps float64, burst int) *VisitorLimiter {
	if burst <= 0 {
		burst = int(qps + 0.999)
		if burst < 1 {
			burst = 1
		}
	}
	return &VisitorLimiter{
		qps:      rate.Limit(qps),
		burst:    burst,
		idle:     10 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow：消耗来源 key 的一个令牌
func (vl *VisitorLimiter) Allow(key string) bool {
	vl.mu.Lock()
	now := vl.now()
	if now.Sub(vl.lastGC) > vl.idle {
		for k, v := range vl.visitors {
			if now.Sub(v.seen) > vl.idle {
				delete(vl.visitors, k)
			}
		}
		vl.lastGC = now
	}
	v, ok := vl.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(vl.qps, vl.burst)}
		vl.visitors[key] = v
	}
	v.seen = now
	vl.mu.Unlock()
	return v.lim.AllowN(now, 1)
}

// Len：当前跟踪的来源数
func (vl *VisitorLimiter) Len() int {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	return len(vl.visitors)
}

// Handler：chi 风格中间件
func (vl *VisitorLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := VisitorIP(r)
		if !vl.Allow(ip) {
			metrics.RateLimitedTotal.Inc()
			logger.L().Debug("rate_limited", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// 文档注释：获取访问者 IP（用于限流与重复上报去重）
// 背景：多层代理环境下依次读取常见反向代理头，最后回退远端地址。
// 约束：头部可被伪造，部署于不可信代理链路时需在网关过滤。
func VisitorIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := h.Get(k); x != "" {
			return strings.TrimSpace(x)
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\"")
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		return strings.Trim(host[:i], "[]")
	}
	return host
}
