package router // package router registers the HTTP routes of the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/slot-market/internal/config"
	"github.com/iliyamo/slot-market/internal/handler"
	"github.com/iliyamo/slot-market/internal/middleware"
)

// RegisterRoutes registers the unauthenticated routes: the health check, order
// intake and lookup, and the payment provider webhook.  Order intake is rate
// limited per caller.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, orders *handler.OrderHandler, webhook *handler.PaymentWebhookHandler, limit echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health(db))

	v1 := e.Group("/v1")
	v1.POST("/orders", orders.CreateOrder, limit)
	v1.GET("/orders/:id", orders.GetOrder)
	v1.POST("/webhooks/payment", webhook.Receive)
}

// MarketPricesPath serves the cached market price statistics.
const MarketPricesPath = "/v1/market-prices"

// RegisterMarket registers the market price read endpoint behind the rate
// limiter and the Redis response cache.  Both degrade to pass-through when
// rdb is nil.
func RegisterMarket(e *echo.Echo, m *handler.MarketPriceHandler, rdb *redis.Client, cacheCfg config.CacheConfig, limit echo.MiddlewareFunc) {
	e.GET(MarketPricesPath, m.List, limit, middleware.NewRedisCache(cacheCfg, rdb))
}
