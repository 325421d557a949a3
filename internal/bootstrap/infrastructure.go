package bootstrap

import (
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/frames"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/history"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ProvideRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func ProvideDatabase(cfg *Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func ProvideFrameStore(redisClient *redis.Client, cfg *Config) *frames.Store {
	return frames.NewStore(redisClient, cfg.FrameTTL())
}

func ProvideHistoryStore(db *gorm.DB) (*history.Store, error) {
	store := history.NewStore(db)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideDatabase,
		ProvideFrameStore,
		ProvideHistoryStore,
	),
)
