package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL     string
	ChainID    uint64
	PrivateKey string
	Owner      string

	MarketAddress string

	AttestationAddress    string
	AttestationSchema     string
	AttestationFromBlock  uint64
	AttestationBatchSize  uint64
	AttestationCheckpoint string

	GraphQLURL    string
	GraphQLAPIKey string

	OracleAPIKey  string
	OracleBaseURL string
	OracleModel   string

	CollateralAmount     decimal.Decimal
	EmergencyStopBalance decimal.Decimal
	ConcentrationRange   float64
	MinPrice             float64
	MaxPrice             float64
	DeviationThreshold   float64
	Cooldown             time.Duration
	MaxPositions         int
	TxDeadline           time.Duration
	ConfirmTimeout       time.Duration

	PollInterval time.Duration
	ScanInterval time.Duration
	QueueSize    int
	ItemTimeout  time.Duration

	MaxRetries   int
	RetryBackoff time.Duration
	RPCRateLimit float64

	EventsOut string
	PgDSN     string
	LogLevel  string
}

// Load merges .env, config file, environment variables, and flags into Config.
// Keys use LPAGENT_ as environment prefix with dashes mapped to underscores.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LPAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("attestation-batch-size", uint64(2000))
	v.SetDefault("checkpoint", "./data/attest_checkpoint.json")
	v.SetDefault("oracle-model", "gpt-4o-mini")
	v.SetDefault("collateral-amount", "100")
	v.SetDefault("emergency-stop-balance", "0")
	v.SetDefault("concentration-range", 0.05)
	v.SetDefault("min-price", 0.01)
	v.SetDefault("max-price", 0.99)
	v.SetDefault("deviation-threshold", 0.02)
	v.SetDefault("cooldown", 10*time.Minute)
	v.SetDefault("max-positions", 10)
	v.SetDefault("tx-deadline", 30*time.Minute)
	v.SetDefault("confirm-timeout", 5*time.Minute)
	v.SetDefault("poll-interval", 30*time.Second)
	v.SetDefault("scan-interval", 5*time.Minute)
	v.SetDefault("queue-size", 64)
	v.SetDefault("item-timeout", 15*time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("rpc-rate-limit", 10.0)
	v.SetDefault("events-out", "./data/events.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	collateral, err := getDecimal(v, "collateral-amount")
	if err != nil {
		return Config{}, err
	}
	emergency, err := getDecimal(v, "emergency-stop-balance")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:                v.GetString("rpc"),
		ChainID:               v.GetUint64("chain-id"),
		PrivateKey:            strings.TrimPrefix(strings.TrimSpace(v.GetString("private-key")), "0x"),
		Owner:                 v.GetString("owner"),
		MarketAddress:         v.GetString("market-address"),
		AttestationAddress:    v.GetString("attestation-address"),
		AttestationSchema:     v.GetString("attestation-schema"),
		AttestationFromBlock:  v.GetUint64("attestation-from-block"),
		AttestationBatchSize:  v.GetUint64("attestation-batch-size"),
		AttestationCheckpoint: v.GetString("checkpoint"),
		GraphQLURL:            v.GetString("graphql-url"),
		GraphQLAPIKey:         v.GetString("graphql-api-key"),
		OracleAPIKey:          v.GetString("oracle-api-key"),
		OracleBaseURL:         v.GetString("oracle-base-url"),
		OracleModel:           v.GetString("oracle-model"),
		CollateralAmount:      collateral,
		EmergencyStopBalance:  emergency,
		ConcentrationRange:    v.GetFloat64("concentration-range"),
		MinPrice:              v.GetFloat64("min-price"),
		MaxPrice:              v.GetFloat64("max-price"),
		DeviationThreshold:    v.GetFloat64("deviation-threshold"),
		Cooldown:              v.GetDuration("cooldown"),
		MaxPositions:          v.GetInt("max-positions"),
		TxDeadline:            v.GetDuration("tx-deadline"),
		ConfirmTimeout:        v.GetDuration("confirm-timeout"),
		PollInterval:          v.GetDuration("poll-interval"),
		ScanInterval:          v.GetDuration("scan-interval"),
		QueueSize:             v.GetInt("queue-size"),
		ItemTimeout:           v.GetDuration("item-timeout"),
		MaxRetries:            v.GetInt("max-retries"),
		RetryBackoff:          v.GetDuration("retry-backoff"),
		RPCRateLimit:          v.GetFloat64("rpc-rate-limit"),
		EventsOut:             v.GetString("events-out"),
		PgDSN:                 v.GetString("pg-dsn"),
		LogLevel:              v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings required to run the agent.
func (c Config) Validate() error {
	if err := c.ValidateRead(); err != nil {
		return err
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private-key is required")
	}
	if !c.CollateralAmount.IsPositive() {
		return fmt.Errorf("collateral-amount must be positive")
	}
	if c.EmergencyStopBalance.IsNegative() {
		return fmt.Errorf("emergency-stop-balance must not be negative")
	}
	if c.ConcentrationRange <= 0 || c.ConcentrationRange >= 1 {
		return fmt.Errorf("concentration-range must be in (0, 1)")
	}
	if c.MinPrice <= 0 || c.MaxPrice >= 1 || c.MinPrice >= c.MaxPrice {
		return fmt.Errorf("min-price and max-price must satisfy 0 < min < max < 1")
	}
	if c.DeviationThreshold <= 0 {
		return fmt.Errorf("deviation-threshold must be positive")
	}
	if c.PollInterval <= 0 || c.ScanInterval <= 0 {
		return fmt.Errorf("poll-interval and scan-interval must be positive")
	}
	if c.MaxPositions < 0 {
		return fmt.Errorf("max-positions must not be negative")
	}
	if c.AttestationEnabled() {
		if !common.IsHexAddress(c.AttestationAddress) {
			return fmt.Errorf("invalid attestation-address: %s", c.AttestationAddress)
		}
		if _, err := c.Schema(); err != nil {
			return err
		}
		if c.AttestationBatchSize == 0 {
			return fmt.Errorf("attestation-batch-size must be greater than zero")
		}
	}
	if c.GraphQLURL != "" && c.OracleAPIKey == "" {
		return fmt.Errorf("oracle-api-key is required when graphql-url is set")
	}
	if c.GraphQLURL == "" && !c.AttestationEnabled() {
		return fmt.Errorf("either graphql-url or attestation-address must be set")
	}
	return nil
}

// ValidateRead checks the settings required for read-only commands.
func (c Config) ValidateRead() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if !common.IsHexAddress(c.MarketAddress) {
		return fmt.Errorf("market-address is required and must be a hex address")
	}
	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("invalid owner: %s", c.Owner)
	}
	return nil
}

// AttestationEnabled reports whether the attestation watcher is configured.
func (c Config) AttestationEnabled() bool {
	return c.AttestationAddress != ""
}

// Market returns the market contract address.
func (c Config) Market() common.Address {
	return common.HexToAddress(c.MarketAddress)
}

// Schema returns the attestation schema uid.
func (c Config) Schema() (common.Hash, error) {
	s := strings.TrimPrefix(strings.TrimSpace(c.AttestationSchema), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("attestation-schema must be a 32-byte hex string")
	}
	return common.BytesToHash(b), nil
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
