package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Liveness       LivenessConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// LivenessConfig tunes the stale-connection sweep.
type LivenessConfig struct {
	SweepInterval  time.Duration // how often the monitor scans the registry
	StaleThreshold time.Duration // silence before an entry is probed
	ProbeTimeout   time.Duration // how long a probed entry has to answer
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Liveness: LivenessConfig{
			SweepInterval:  getDuration("SWEEP_INTERVAL", 30*time.Second),
			StaleThreshold: getDuration("STALE_THRESHOLD", 2*time.Minute),
			ProbeTimeout:   getDuration("PROBE_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
