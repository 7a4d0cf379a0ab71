package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/foreman-dev/foreman/pkg/queue"
)

// ConfigAPI serves broker and queue coordinates to clients so workers can
// be pointed at the service without duplicating its configuration. Responses
// are cached briefly; coordinates change only on redeploy.
type ConfigAPI struct {
	queueCfg    queue.Config
	environment string
	cache       *expirable.LRU[string, gin.H]
}

func NewConfigAPI(queueCfg queue.Config, environment string, ttl time.Duration) *ConfigAPI {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConfigAPI{
		queueCfg:    queueCfg,
		environment: environment,
		cache:       expirable.NewLRU[string, gin.H](8, nil, ttl),
	}
}

// RegisterRoutes registers config endpoints under /config
func (a *ConfigAPI) RegisterRoutes(router *gin.RouterGroup) {
	cfg := router.Group("/config")
	cfg.GET("", a.getConfig)
	cfg.GET("/redis", a.getRedisConfig)
	cfg.GET("/queues", a.getQueueConfig)
}

func (a *ConfigAPI) cached(key string, build func() gin.H) gin.H {
	if v, ok := a.cache.Get(key); ok {
		return v
	}
	v := build()
	a.cache.Add(key, v)
	return v
}

func (a *ConfigAPI) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.cached("config", func() gin.H {
		return gin.H{
			"environment": a.environment,
			"redis":       a.redisBody(),
			"queues":      a.queueBody(),
		}
	}))
}

func (a *ConfigAPI) getRedisConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.cached("redis", a.redisBody))
}

func (a *ConfigAPI) getQueueConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.cached("queues", a.queueBody))
}

func (a *ConfigAPI) redisBody() gin.H {
	return gin.H{
		"address": fmt.Sprintf("%s:%d", a.queueCfg.Host, a.queueCfg.Port),
		"db":      a.queueCfg.DB,
	}
}

func (a *ConfigAPI) queueBody() gin.H {
	return gin.H{
		"taskQueue":       a.queueCfg.TaskStream,
		"resultQueue":     a.queueCfg.ResultStream,
		"deadLetterQueue": a.queueCfg.DeadLetterStream(),
		"consumerGroup":   a.queueCfg.Group,
	}
}
