// Package config loads server settings and the bootstrap sale from the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// PriceScale is the number of fractional digits a sale price may carry.
const PriceScale = 6

// Config holds process settings. See .env.example for the variables.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	UseMemory     bool   `env:"USE_MEMORY" envDefault:"false"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	ClickhouseDSN string `env:"CLICKHOUSE_DSN"`

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	AMQP struct {
		URL   string `env:"AMQP_URL"`
		Queue string `env:"AMQP_QUEUE" envDefault:"presale.events"`
	}

	PriceFeed struct {
		URL     string        `env:"PRICE_FEED_URL"`
		Timeout time.Duration `env:"PRICE_FEED_TIMEOUT" envDefault:"2s"`
	}

	AdminToken string `env:"ADMIN_TOKEN"`
	ProgramID  string `env:"PROGRAM_ID" envDefault:"866rtVC4sbenX7nMm3X3R6yDM9wg8Mrc7p4PJJssZzht"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	FinalizeSchedule string        `env:"FINALIZE_SCHEDULE" envDefault:"@every 1m"`
	NonceTTL         time.Duration `env:"NONCE_TTL" envDefault:"720h"`

	Sale SaleEnv
}

// SaleEnv is the optional sale created at startup. It is ignored when ID is empty.
type SaleEnv struct {
	ID              string   `env:"SALE_ID"`
	Authority       string   `env:"SALE_AUTHORITY"`
	TokenMint       string   `env:"SALE_TOKEN_MINT"`
	Treasury        string   `env:"SALE_TREASURY"`
	FeeWallet       string   `env:"SALE_FEE_WALLET"`
	OracleAuthority string   `env:"SALE_ORACLE_AUTHORITY"`
	AcceptedAssets  []string `env:"SALE_ACCEPTED_ASSETS" envSeparator:","`

	TotalTokens       uint64 `env:"SALE_TOTAL_TOKENS"`
	PrivateAllocation uint64 `env:"SALE_PRIVATE_ALLOCATION" envDefault:"0"`
	PublicAllocation  uint64 `env:"SALE_PUBLIC_ALLOCATION" envDefault:"0"`
	PriceUSD          string `env:"SALE_PRICE_USD"`
	TokenDecimals     uint8  `env:"SALE_TOKEN_DECIMALS" envDefault:"9"`
	MinBuyUSD         uint64 `env:"SALE_MIN_BUY_USD" envDefault:"0"`
	MaxPerWalletUSD   uint64 `env:"SALE_MAX_PER_WALLET_USD"`
	LPMinThresholdUSD uint64 `env:"SALE_LP_MIN_THRESHOLD_USD" envDefault:"0"`
	LPTargetUSD       uint64 `env:"SALE_LP_TARGET_USD" envDefault:"0"`

	DailyReleaseBps uint16 `env:"SALE_DAILY_RELEASE_BPS" envDefault:"0"`
	VestingDays     uint16 `env:"SALE_VESTING_DAYS" envDefault:"0"`
	CliffSeconds    uint64 `env:"SALE_CLIFF_SECONDS" envDefault:"0"`
	FeeBps          uint16 `env:"SALE_FEE_BPS" envDefault:"0"`
	EndTime         int64  `env:"SALE_END_TIME" envDefault:"0"`
}

// Load reads .env when present, then parses the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		return errors.New("POSTGRES_DSN and CLICKHOUSE_DSN are required (set USE_MEMORY=true for in-memory storage)")
	}
	if c.PriceFeed.URL != "" && c.PriceFeed.Timeout <= 0 {
		return fmt.Errorf("PRICE_FEED_TIMEOUT must be positive, got %s", c.PriceFeed.Timeout)
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("NONCE_TTL must be positive, got %s", c.NonceTTL)
	}
	if _, err := domain.ParsePublicKey(c.ProgramID); err != nil {
		return fmt.Errorf("PROGRAM_ID: %w", err)
	}
	return nil
}

// Program returns the parsed escrow program id.
func (c *Config) Program() domain.PublicKey {
	return domain.MustParsePublicKey(c.ProgramID)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

// BootstrapSale converts SALE_* into a validated SaleConfig. It returns nil
// when no bootstrap sale is configured.
func (c *Config) BootstrapSale() (*domain.SaleConfig, error) {
	s := c.Sale
	if s.ID == "" {
		return nil, nil
	}

	cfg := &domain.SaleConfig{
		SaleID:            s.ID,
		TotalTokens:       s.TotalTokens,
		PrivateAllocation: s.PrivateAllocation,
		PublicAllocation:  s.PublicAllocation,
		TokenDecimals:     s.TokenDecimals,
		MinBuyUSD:         s.MinBuyUSD,
		MaxPerWalletUSD:   s.MaxPerWalletUSD,
		LPMinThresholdUSD: s.LPMinThresholdUSD,
		LPTargetUSD:       s.LPTargetUSD,
		DailyReleaseBps:   s.DailyReleaseBps,
		VestingDays:       s.VestingDays,
		CliffSeconds:      s.CliffSeconds,
		FeeBps:            s.FeeBps,
		EndTime:           s.EndTime,
	}

	required := []struct {
		name  string
		value string
		dst   *domain.PublicKey
	}{
		{"SALE_AUTHORITY", s.Authority, &cfg.Authority},
		{"SALE_TOKEN_MINT", s.TokenMint, &cfg.TokenMint},
		{"SALE_TREASURY", s.Treasury, &cfg.Treasury},
		{"SALE_ORACLE_AUTHORITY", s.OracleAuthority, &cfg.OracleAuthority},
	}
	for _, r := range required {
		k, err := domain.ParsePublicKey(r.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", presale.ErrInvalidConfig, r.name, err)
		}
		*r.dst = k
	}
	if s.FeeWallet != "" {
		k, err := domain.ParsePublicKey(s.FeeWallet)
		if err != nil {
			return nil, fmt.Errorf("%w: SALE_FEE_WALLET: %v", presale.ErrInvalidConfig, err)
		}
		cfg.FeeWallet = k
	}

	assets, err := domain.ParseAssetSet(s.AcceptedAssets)
	if err != nil {
		return nil, fmt.Errorf("%w: SALE_ACCEPTED_ASSETS: %v", presale.ErrInvalidConfig, err)
	}
	cfg.AcceptedAssets = assets

	price, err := ParsePriceMicro(s.PriceUSD)
	if err != nil {
		return nil, fmt.Errorf("SALE_PRICE_USD: %w", err)
	}
	cfg.PriceUSDMicro = price

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsePriceMicro converts a decimal USD price such as "0.10" into micro-USD.
// The price must be positive and carry at most six fractional digits.
func ParsePriceMicro(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", presale.ErrInvalidConfig, s, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: price %s must be positive", presale.ErrInvalidConfig, d)
	}
	micro := d.Shift(PriceScale)
	if !micro.IsInteger() {
		return 0, fmt.Errorf("%w: price %s has more than %d fractional digits", presale.ErrInvalidConfig, d, PriceScale)
	}
	n := micro.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: price %s: %w", presale.ErrInvalidConfig, d, presale.ErrOverflow)
	}
	return n.Uint64(), nil
}
