package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	LogLevel  string
	LogPretty bool

	// Per-deployment rule toggles: team-commission propagation
	// (skip|break), rank demotion (sticky|reevaluate), team-reward dip
	// handling (reset|pause).
	TeamCommissionMode string
	RankDemotion       string
	TeamRewardDip      string

	SweepSchedule string
}

func Load() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:           dbSource,
		Port:               envOr("SERVER_PORT", "8080"),
		Env:                envOr("ENVIRONMENT", "development"),
		// Empty REDIS_ADDR disables the account cache entirely.
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		CacheTTL:           envDuration("CACHE_TTL", 30*time.Second),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogPretty:          envBool("LOG_PRETTY"),
		TeamCommissionMode: envOr("TEAM_COMMISSION_MODE", "skip"),
		RankDemotion:       envOr("RANK_DEMOTION", "sticky"),
		TeamRewardDip:      envOr("TEAM_REWARD_DIP", "reset"),
		SweepSchedule:      envOr("SWEEP_SCHEDULE", "@hourly"),
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
