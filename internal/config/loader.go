package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, and applies DURATION_* environment overrides. The
// returned Config has NOT been validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env if present; missing files are fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites config fields from well-known DURATION_*
// variables when set, so operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Protocol
	setStr(&cfg.Protocol.VerifyingContract, "DURATION_PROTOCOL_VERIFYING_CONTRACT")
	setStr(&cfg.Protocol.Treasury, "DURATION_PROTOCOL_TREASURY")
	setStr(&cfg.Protocol.Custody, "DURATION_PROTOCOL_CUSTODY")
	setInt64(&cfg.Protocol.ChainID, "DURATION_PROTOCOL_CHAIN_ID")
	setUint32(&cfg.Protocol.FeeBps, "DURATION_PROTOCOL_FEE_BPS")
	setUint32(&cfg.Protocol.SlippageBps, "DURATION_PROTOCOL_SLIPPAGE_BPS")

	// Stable
	setStr(&cfg.Stable.Address, "DURATION_STABLE_ADDRESS")

	// Signer
	setStr(&cfg.Signer.PrivateKey, "DURATION_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "DURATION_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "DURATION_SIGNER_KEY_PASSWORD")

	// Prices
	setStr(&cfg.Prices.OracleURL, "DURATION_PRICES_ORACLE_URL")
	setDuration(&cfg.Prices.OracleMaxAge, "DURATION_PRICES_ORACLE_MAX_AGE")
	setDuration(&cfg.Prices.CacheTTL, "DURATION_PRICES_CACHE_TTL")
	setBool(&cfg.Prices.AllowStaticPrices, "DURATION_PRICES_ALLOW_STATIC")

	// 1inch
	setStr(&cfg.OneInch.BaseURL, "DURATION_ONEINCH_BASE_URL")
	setStr(&cfg.OneInch.APIKey, "DURATION_ONEINCH_API_KEY")
	setInt64(&cfg.OneInch.ChainID, "DURATION_ONEINCH_CHAIN_ID")

	// Settlement
	setStr(&cfg.Settlement.Spender, "DURATION_SETTLEMENT_SPENDER")
	setUint32(&cfg.Settlement.ToleranceBps, "DURATION_SETTLEMENT_TOLERANCE_BPS")

	// Postgres
	setStr(&cfg.Postgres.DSN, "DURATION_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DURATION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DURATION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DURATION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DURATION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DURATION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DURATION_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DURATION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DURATION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DURATION_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "DURATION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DURATION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DURATION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DURATION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DURATION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DURATION_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "DURATION_REDIS_STREAM_MAX_LEN")

	// S3
	setStr(&cfg.S3.Endpoint, "DURATION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DURATION_S3_REGION")
	setStr(&cfg.S3.Bucket, "DURATION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DURATION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DURATION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DURATION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DURATION_S3_FORCE_PATH_STYLE")

	// Archive
	setBool(&cfg.Archive.Enabled, "DURATION_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DURATION_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DURATION_ARCHIVE_INTERVAL")

	// Sweep
	setDuration(&cfg.Sweep.Interval, "DURATION_SWEEP_INTERVAL")

	// Server
	setBool(&cfg.Server.Enabled, "DURATION_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DURATION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DURATION_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DURATION_SERVER_API_KEY")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "DURATION_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DURATION_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DURATION_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DURATION_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "DURATION_MODE")
	setStr(&cfg.LogLevel, "DURATION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
