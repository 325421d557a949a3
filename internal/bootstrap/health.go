package bootstrap

import (
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/dispatch"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/health"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	sup *supervisor.Supervisor,
	engine *dispatch.Engine,
	cfg *Config,
) *health.Handler {
	return health.NewHandler(
		db,
		redisClient,
		sup.Prober(),
		engine,
		cfg.MoondreamAPIKey != "",
		version,
	)
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
