// Package config defines the daemon configuration and validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by DURATION_* environment variables.
type Config struct {
	Protocol   ProtocolConfig   `toml:"protocol"`
	Stable     StableConfig     `toml:"stable"`
	Assets     []AssetConfig    `toml:"assets"`
	Signer     SignerConfig     `toml:"signer"`
	Prices     PricesConfig     `toml:"prices"`
	OneInch    OneInchConfig    `toml:"oneinch"`
	Settlement SettlementConfig `toml:"settlement"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Sweep      SweepConfig      `toml:"sweep"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ProtocolConfig holds the EIP-712 domain and protocol-level accounts and
// rates.
type ProtocolConfig struct {
	Name              string `toml:"name"`
	Version           string `toml:"version"`
	ChainID           int64  `toml:"chain_id"`
	VerifyingContract string `toml:"verifying_contract"`
	Treasury          string `toml:"treasury"`
	Custody           string `toml:"custody"`
	FeeBps            uint32 `toml:"fee_bps"`
	SlippageBps       uint32 `toml:"slippage_bps"` // PUT take-time conversion tolerance
}

// StableConfig describes the settlement stable coin.
type StableConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// AssetConfig describes one allow-listed collateral asset. Sizes are decimal
// strings in atomic units.
type AssetConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
	MinSize  string `toml:"min_size"`
	MaxSize  string `toml:"max_size"`
}

// SignerConfig holds the optional operator signing key, used by dev tooling
// to create commitments. Exactly one of private_key and encrypted_key_path
// should be set when signing is needed.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PricesConfig configures the tiered price source chain.
type PricesConfig struct {
	OracleURL         string            `toml:"oracle_url"`
	OracleMaxAge      duration          `toml:"oracle_max_age"`
	CacheTTL          duration          `toml:"cache_ttl"`
	AllowStaticPrices bool              `toml:"allow_static_prices"`
	StaticPrices      map[string]string `toml:"static_prices"` // address -> 8-decimal price
}

// OneInchConfig holds the 1inch aggregation API parameters.
type OneInchConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	ChainID int64  `toml:"chain_id"`
}

// SettlementConfig holds gateway-level settlement guards.
type SettlementConfig struct {
	Spender      string `toml:"spender"` // venue router granted per-swap allowances
	ToleranceBps uint32 `toml:"tolerance_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage archive sweep.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// SweepConfig controls the expiry sweeper.
type SweepConfig struct {
	Interval duration `toml:"interval"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML files can use "30s" / "5m" strings.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			Name:        "Duration.Finance",
			Version:     "1",
			ChainID:     8453,
			FeeBps:      500,
			SlippageBps: 100,
		},
		Stable: StableConfig{
			Symbol:   "USDC",
			Decimals: 6,
		},
		Prices: PricesConfig{
			OracleMaxAge: duration{2 * time.Minute},
			CacheTTL:     duration{30 * time.Second},
		},
		OneInch: OneInchConfig{
			BaseURL: "https://api.1inch.dev/swap/v6.0",
			ChainID: 8453,
		},
		Settlement: SettlementConfig{
			ToleranceBps: 300,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Sweep: SweepConfig{
			Interval: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"option_taken", "option_exercised", "option_expired", "option_liquidated"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"api":    true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one
// combined error naming every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, api, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol
	if c.Protocol.Name == "" {
		errs = append(errs, "protocol: name must not be empty")
	}
	if c.Protocol.ChainID <= 0 {
		errs = append(errs, "protocol: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Protocol.VerifyingContract) {
		errs = append(errs, "protocol: verifying_contract must be a hex address")
	}
	if !common.IsHexAddress(c.Protocol.Treasury) {
		errs = append(errs, "protocol: treasury must be a hex address")
	}
	if !common.IsHexAddress(c.Protocol.Custody) {
		errs = append(errs, "protocol: custody must be a hex address")
	}
	if c.Protocol.FeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("protocol: fee_bps must be below 10000, got %d", c.Protocol.FeeBps))
	}
	if c.Protocol.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("protocol: slippage_bps must be below 10000, got %d", c.Protocol.SlippageBps))
	}

	// Stable
	if !common.IsHexAddress(c.Stable.Address) {
		errs = append(errs, "stable: address must be a hex address")
	}
	if c.Stable.Decimals == 0 || c.Stable.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("stable: decimals must be 1-18, got %d", c.Stable.Decimals))
	}

	// Assets
	if len(c.Assets) == 0 {
		errs = append(errs, "assets: at least one allow-listed asset is required")
	}
	for i, a := range c.Assets {
		prefix := fmt.Sprintf("assets[%d]", i)
		if !common.IsHexAddress(a.Address) {
			errs = append(errs, prefix+": address must be a hex address")
		}
		if a.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("%s: decimals must be at most 36, got %d", prefix, a.Decimals))
		}
		minSize, okMin := new(big.Int).SetString(a.MinSize, 10)
		if !okMin || minSize.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("%s: min_size must be a positive integer, got %q", prefix, a.MinSize))
		}
		maxSize, okMax := new(big.Int).SetString(a.MaxSize, 10)
		if !okMax || maxSize.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("%s: max_size must be a positive integer, got %q", prefix, a.MaxSize))
		}
		if okMin && okMax && minSize.Cmp(maxSize) > 0 {
			errs = append(errs, prefix+": min_size must not exceed max_size")
		}
	}

	// Signer
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
	}

	// Settlement
	if c.Settlement.ToleranceBps == 0 || c.Settlement.ToleranceBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("settlement: tolerance_bps must be 1-9999, got %d", c.Settlement.ToleranceBps))
	}
	if c.Settlement.Spender != "" && !common.IsHexAddress(c.Settlement.Spender) {
		errs = append(errs, "settlement: spender must be a hex address")
	}

	// Prices
	if c.Prices.OracleURL == "" && !c.Prices.AllowStaticPrices {
		errs = append(errs, "prices: oracle_url is required unless allow_static_prices is set")
	}
	for addr, price := range c.Prices.StaticPrices {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("prices: static price key %q must be a hex address", addr))
		}
		if _, ok := new(big.Int).SetString(price, 10); !ok {
			errs = append(errs, fmt.Sprintf("prices: static price %q must be a decimal integer", price))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive / S3
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Sweep
	if c.Sweep.Interval.Duration <= 0 {
		errs = append(errs, "sweep: interval must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
