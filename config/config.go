// Package config reads service settings from the environment, loading a .env
// file first when one is present.
package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"game-reward-ledger/models"
)

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Enabled reports whether a redis host was configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.Bucket != ""
}

type Config struct {
	Port           string
	GatewayToken   string
	AllowedOrigins string
	DatabaseURL    string

	DefaultReward  models.RewardConfig
	VerifierIDs    []string
	ConfigAdminIDs []string

	Redis RedisConfig

	TokenServiceURL string
	MinterJWTSecret string

	MintRetryInterval   time.Duration
	MintRetryBatch      int
	MintRetryWorkers    int
	AuditExportInterval time.Duration
	R2                  R2Config
}

// Load reads the environment. GAME_SERVICE_TOKEN is required; everything else
// has a default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "5300"),
		GatewayToken:   os.Getenv("GAME_SERVICE_TOKEN"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		DefaultReward: models.RewardConfig{
			BaseReward:    getEnvAsUint64("REWARD_BASE", 100),
			KillBonus:     getEnvAsUint64("REWARD_KILL_BONUS", 10),
			SurvivalBonus: getEnvAsUint64("REWARD_SURVIVAL_BONUS", 5),
			MassBonus:     getEnvAsUint64("REWARD_MASS_BONUS", 1),
			MaxReward:     getEnvAsUint64("REWARD_MAX", 1000),
		},
		VerifierIDs:    getEnvAsList("VERIFIER_IDS"),
		ConfigAdminIDs: getEnvAsList("CONFIG_ADMIN_IDS"),

		Redis: RedisConfig{
			Host:        os.Getenv("REDIS_HOST"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          getEnvAsInt("REDIS_DB", 0),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 10*time.Second),
		},

		TokenServiceURL: os.Getenv("TOKEN_SERVICE_URL"),
		MinterJWTSecret: os.Getenv("MINTER_JWT_SECRET"),

		MintRetryInterval:   getEnvAsDuration("MINT_RETRY_INTERVAL", 30*time.Second),
		MintRetryBatch:      getEnvAsInt("MINT_RETRY_BATCH", 100),
		MintRetryWorkers:    getEnvAsInt("MINT_RETRY_WORKERS", 4),
		AuditExportInterval: getEnvAsDuration("AUDIT_EXPORT_INTERVAL", 24*time.Hour),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
	}

	if cfg.GatewayToken == "" {
		return nil, errors.New("GAME_SERVICE_TOKEN environment variable not set")
	}
	if cfg.TokenServiceURL != "" && cfg.MinterJWTSecret == "" {
		return nil, errors.New("MINTER_JWT_SECRET is required when TOKEN_SERVICE_URL is set")
	}
	if cfg.DefaultReward.MaxReward == 0 {
		return nil, errors.New("REWARD_MAX must be positive")
	}
	return cfg, nil
}

// AllowedOriginsList splits ALLOWED_ORIGINS and trims each entry.
func (c *Config) AllowedOriginsList() []string {
	return splitList(c.AllowedOrigins)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("[Config] Invalid integer value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		log.Printf("[Config] Invalid unsigned value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("[Config] Invalid duration value for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	return splitList(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
