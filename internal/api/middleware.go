package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			s.log.Error("request", fields...)
		case status >= 400:
			s.log.Warn("request", fields...)
		default:
			s.log.Debug("request", fields...)
		}
	}
}

// noCache disables client and proxy caching on every response.
func noCache(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("X-Response-Time", fmt.Sprintf("%.6f", float64(now().UnixNano())/1e9))
		c.Next()
	}
}

func (s *Server) allowedOrigin(origin string) bool {
	return s.origins["*"] || s.origins[origin]
}

// cors answers preflight requests and sets credentialed CORS headers for
// configured origins.
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !s.allowedOrigin(origin) {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Response-Time")
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if req := c.GetHeader("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// checkOrigin accepts websocket upgrades from configured origins and from
// non-browser clients that send no Origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowedOrigin(origin)
}

// RateLimits sets per-client request budgets, in requests per minute.
type RateLimits struct {
	Upload   int
	Sessions int
	Prompt   int
}

const (
	maxTrackedClients = 4096
	clientIdle        = 10 * time.Minute
)

// limiterPool keeps one token bucket per client address.
type limiterPool struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterPool(perMinute int, now func() time.Time) *limiterPool {
	return &limiterPool{
		perMinute: perMinute,
		now:       now,
		clients:   make(map[string]*clientLimiter),
	}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	cl, ok := p.clients[key]
	if !ok {
		if len(p.clients) >= maxTrackedClients {
			p.sweepLocked(now)
		}
		cl = &clientLimiter{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.perMinute)), p.perMinute)}
		p.clients[key] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

func (p *limiterPool) sweepLocked(now time.Time) {
	for key, cl := range p.clients {
		if now.Sub(cl.seen) > clientIdle {
			delete(p.clients, key)
		}
	}
}

// rateLimit rejects clients over perMinute requests with 429. A non-positive
// budget disables the check.
func (s *Server) rateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	pool := newLimiterPool(perMinute, s.now)
	detail := fmt.Sprintf("Rate limit exceeded: %d per 1 minute", perMinute)
	return func(c *gin.Context) {
		if !pool.allow(c.ClientIP()) {
			s.log.Warn("rate limited",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": detail})
			return
		}
		c.Next()
	}
}

func (s *Server) limit(pick func(RateLimits) int) gin.HandlerFunc {
	if s.rateLimits == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.rateLimit(pick(*s.rateLimits))
}
