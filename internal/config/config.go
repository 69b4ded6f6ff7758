package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	AppEnv                string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ItemCacheTTLSeconds   int
	LockBackend           string
	LockTimeoutMS         int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
}

// Load reads the flat environment names. Unparseable or non-positive numbers
// fall back to their defaults; AUTH_SECRET never gets one.
func Load() Config {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("app_env", "development")
	v.SetDefault("auto_migrate", false)
	v.SetDefault("redis_db", 0)
	v.SetDefault("item_cache_ttl_seconds", 300)
	v.SetDefault("lock_backend", "local")
	v.SetDefault("lock_timeout_ms", 3000)
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.AutomaticEnv()

	cfg := Config{
		Port:                  v.GetString("port"),
		AllowedOrigin:         v.GetString("allowed_origin"),
		AppEnv:                strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		DatabaseURL:           v.GetString("database_url"),
		AutoMigrate:           v.GetBool("auto_migrate"),
		RedisAddr:             v.GetString("redis_addr"),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		ItemCacheTTLSeconds:   positiveOr(v.GetInt("item_cache_ttl_seconds"), 300),
		LockBackend:           strings.ToLower(strings.TrimSpace(v.GetString("lock_backend"))),
		LockTimeoutMS:         positiveOr(v.GetInt("lock_timeout_ms"), 3000),
		AuthSecret:            strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes: positiveOr(v.GetInt("access_token_ttl_minutes"), 480),
		LogLevel:              v.GetString("log_level"),
		LogFormat:             v.GetString("log_format"),
	}
	if cfg.LockBackend != "redis" {
		cfg.LockBackend = "local"
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) ItemCacheTTL() time.Duration {
	return time.Duration(c.ItemCacheTTLSeconds) * time.Second
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
