package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

const tenantContextKey = "foreman_tenant"

// RequestLogger logs every request with latency and status
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("Request handled", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// AuthMiddleware enforces the presence of a well-formed bearer token. The
// token itself is not a durable credential here; validation is format-only.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		c.Next()
	}
}

// TenantMiddleware resolves the x-org-id header into a tenant context and
// stores it for handlers. Requests without a tenant are rejected.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.GetHeader("x-org-id")
		if orgID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing org id"})
			return
		}
		tc, err := tenant.NewContext(orgID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid org id"})
			return
		}
		c.Set(tenantContextKey, tc)
		c.Next()
	}
}

// tenantFromContext retrieves the tenant context set by TenantMiddleware
func tenantFromContext(c *gin.Context) (tenant.Context, bool) {
	v, exists := c.Get(tenantContextKey)
	if !exists {
		return tenant.Context{}, false
	}
	tc, ok := v.(tenant.Context)
	return tc, ok
}

// mustTenant aborts with 401 when no tenant context is present
func mustTenant(c *gin.Context) (tenant.Context, bool) {
	tc, ok := tenantFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing org id"})
	}
	return tc, ok
}

// CORSMiddleware enables cross-origin requests and answers preflights
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-org-id")
			c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// rateLimiterStore keeps a token bucket per client
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (s *rateLimiterStore) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(s.rps, s.burst)
	s.limiters[key] = l
	return l
}

// RateLimiter limits request rates per org, falling back to client IP for
// unauthenticated paths
func RateLimiter(rps float64, burst int) gin.HandlerFunc {
	store := newRateLimiterStore(rps, burst)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if tc, ok := tenantFromContext(c); ok {
			key = "org:" + tc.OrgID()
		}
		if !store.limiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
