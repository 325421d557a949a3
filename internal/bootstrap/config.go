package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	OllamaURL       string
	OllamaBind      string
	DataDir         string
	VisionModel     string
	OllamaTimeoutMs int

	MoondreamURL       string
	MoondreamAPIKey    string
	MoondreamTimeoutMs int

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FrameTTLSeconds  int
	StatusIntervalMs int
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8090"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		OllamaURL:       getEnv("OLLAMA_URL", "http://127.0.0.1:11434"),
		OllamaBind:      getEnv("OLLAMA_BIND", "127.0.0.1:11434"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		VisionModel:     getEnv("VISION_MODEL", "llava:7b"),
		OllamaTimeoutMs: getEnvInt("OLLAMA_TIMEOUT_MS", 30000),

		MoondreamURL:       getEnv("MOONDREAM_URL", ""),
		MoondreamAPIKey:    getEnv("MOONDREAM_API_KEY", ""),
		MoondreamTimeoutMs: getEnvInt("MOONDREAM_TIMEOUT_MS", 60000),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       0,

		FrameTTLSeconds:  getEnvInt("FRAME_TTL_SECONDS", 60),
		StatusIntervalMs: getEnvInt("STATUS_INTERVAL_MS", 2000),
	}
}

func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.OllamaTimeoutMs) * time.Millisecond
}

func (c *Config) MoondreamTimeout() time.Duration {
	return time.Duration(c.MoondreamTimeoutMs) * time.Millisecond
}

func (c *Config) FrameTTL() time.Duration {
	return time.Duration(c.FrameTTLSeconds) * time.Second
}

func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
