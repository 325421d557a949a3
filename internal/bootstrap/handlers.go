package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/analysis"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/dispatch"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/frames"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/history"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/provider"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/realtime"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideSupervisor(lc fx.Lifecycle, cfg *Config, logger *slog.Logger) *supervisor.Supervisor {
	sup := supervisor.New(supervisor.Config{
		BaseURL:  cfg.OllamaURL,
		BindAddr: cfg.OllamaBind,
		DataDir:  cfg.DataDir,
		Model:    cfg.VisionModel,
	}, logger)

	// The child process must not outlive the service.
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sup.Stop()
			return nil
		},
	})
	return sup
}

func ProvideEngine(sup *supervisor.Supervisor, cfg *Config, logger *slog.Logger) *dispatch.Engine {
	engine := dispatch.NewEngine(sup.Prober(), logger)

	engine.Register(provider.NewOllama(provider.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.VisionModel,
		Timeout: cfg.OllamaTimeout(),
	}, logger), true)

	engine.Register(provider.NewMoondream(provider.MoondreamConfig{
		BaseURL: cfg.MoondreamURL,
		APIKey:  cfg.MoondreamAPIKey,
		Timeout: cfg.MoondreamTimeout(),
	}, logger), false)

	return engine
}

func ProvideAnalysisHandler(sup *supervisor.Supervisor, engine *dispatch.Engine, frameStore *frames.Store, historyStore *history.Store, logger *slog.Logger) *analysis.Handler {
	return analysis.NewHandler(sup, engine, frameStore, historyStore, logger)
}

func ProvideStatusStream(sup *supervisor.Supervisor, cfg *Config, logger *slog.Logger) *realtime.Stream {
	return realtime.NewStream(sup.Prober(), cfg.StatusInterval(), logger)
}

type HandlerParams struct {
	fx.In

	AnalysisHandler *analysis.Handler
	StatusStream    *realtime.Stream
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1")
	params.AnalysisHandler.RegisterRoutes(api)
	api.GET("/ws/status", params.StatusStream.Handle)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideSupervisor,
		ProvideEngine,
		ProvideAnalysisHandler,
		ProvideStatusStream,
	),
	fx.Invoke(RegisterRoutes),
)
