// Package config loads the §6 environment configuration via viper, the
// same pattern the teacher's service main.go files call before dialing
// any dependency.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors spec.md §6's enumerated environment options.
type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	AuthSecret  string

	SigWindow           time.Duration
	CommentCooldown     time.Duration
	RateUserPerSec      int
	RateIPPerSec        int
	AdvisoryLockTimeout time.Duration
	TxTimeout           time.Duration
	TempKeyTTL          time.Duration

	DocsOnlyMode bool

	HTTPPort int

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel string
}

// Load reads configuration from process environment variables via viper's
// AutomaticEnv (no config file is read), applying spec.md §6's documented
// defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SIG_WINDOW_SECS", 300)
	v.SetDefault("COMMENT_COOLDOWN_SECS", 3)
	v.SetDefault("RATE_USER_PER_SEC", 10)
	v.SetDefault("RATE_IP_PER_SEC", 20)
	v.SetDefault("ADVISORY_LOCK_TIMEOUT_SECS", 10)
	v.SetDefault("TX_TIMEOUT_SECS", 30)
	v.SetDefault("TEMP_KEY_TTL_SECS", 180)
	v.SetDefault("DOCS_ONLY_MODE", false)
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "chatcore.audit")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RedisURL:            v.GetString("REDIS_URL"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		AuthSecret:          v.GetString("AUTH_SECRET"),
		SigWindow:           time.Duration(v.GetInt("SIG_WINDOW_SECS")) * time.Second,
		CommentCooldown:     time.Duration(v.GetInt("COMMENT_COOLDOWN_SECS")) * time.Second,
		RateUserPerSec:      v.GetInt("RATE_USER_PER_SEC"),
		RateIPPerSec:        v.GetInt("RATE_IP_PER_SEC"),
		AdvisoryLockTimeout: time.Duration(v.GetInt("ADVISORY_LOCK_TIMEOUT_SECS")) * time.Second,
		TxTimeout:           time.Duration(v.GetInt("TX_TIMEOUT_SECS")) * time.Second,
		TempKeyTTL:          time.Duration(v.GetInt("TEMP_KEY_TTL_SECS")) * time.Second,
		DocsOnlyMode:        v.GetBool("DOCS_ONLY_MODE"),
		HTTPPort:            v.GetInt("HTTP_PORT"),
		KafkaBrokers:        strings.Split(v.GetString("KAFKA_BROKERS"), ","),
		KafkaTopic:          v.GetString("KAFKA_AUDIT_TOPIC"),
		LogLevel:            v.GetString("LOG_LEVEL"),
	}

	return cfg, nil
}
