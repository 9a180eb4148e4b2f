package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/go-playground/validator/v10"
)

const (
	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"

	defaultDatabaseURL    = "sqlite:///tmp/custody.db"
	defaultGRPCListenAddr = ":7000"
	defaultRequestTimeout = 3 * time.Second
	defaultJWTIssuer      = "custody"
	defaultKeeperInterval = time.Minute
	defaultStaleThreshold = 2 * time.Hour
)

var configValidator = validator.New()

// Config aggregates runtime settings for custodyd.
type Config struct {
	DatabaseURL    string        `validate:"required"`
	StoreDriver    string        `validate:"oneof=gorm pgx"`
	GRPCListenAddr string        `validate:"required"`
	HTTPListenAddr string        `validate:"omitempty"`
	AllowedOrigins []string      `validate:"dive,url"`
	RequestTimeout time.Duration `validate:"gt=0"`

	JWTSigningKey string `validate:"required,min=16"`
	JWTIssuer     string `validate:"required"`

	RedisAddr     string `validate:"required_with=KeeperSymbols"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	KafkaBrokers []string `validate:"required,min=1,dive,hostname_port"`
	PayoutTopic  string   `validate:"required"`
	AuditTopic   string

	CapacityCap        string `validate:"required"`
	PerWithdrawalCap   string
	DailyWithdrawalCap string
	MinDeposit         string
	InterestRateBps    int64 `validate:"gte=0,lte=10000"`

	Administrators []string `validate:"dive,required"`
	Pausers        []string `validate:"dive,required"`
	Treasurers     []string `validate:"dive,required"`
	OracleUpdaters []string `validate:"dive,required"`

	KeeperIdentity string        `validate:"required_with=KeeperSymbols"`
	KeeperSymbols  []string      `validate:"dive,required"`
	KeeperInterval time.Duration `validate:"gt=0"`
	StaleThreshold time.Duration `validate:"gt=0"`
}

// Validate fills defaults and checks the configuration.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.KeeperInterval <= 0 {
		cfg.KeeperInterval = defaultKeeperInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaultStaleThreshold
	}
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.StoreDriver == StoreDriverPgx && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("invalid config: store driver %s requires a postgres database url", StoreDriverPgx)
	}
	if _, err := cfg.BankConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Grants(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BankConfig converts the native-unit limits into a ledger.BankConfig.
func (cfg *Config) BankConfig() (ledger.BankConfig, error) {
	capacity, err := ledger.ParseNativeAmount(cfg.CapacityCap)
	if err != nil {
		return ledger.BankConfig{}, fmt.Errorf("capacity cap: %w", err)
	}
	options := []ledger.BankConfigOption{ledger.WithInterestRateBps(cfg.InterestRateBps)}
	for _, limit := range []struct {
		name  string
		raw   string
		apply func(ledger.Amount) ledger.BankConfigOption
	}{
		{name: "per-withdrawal cap", raw: cfg.PerWithdrawalCap, apply: ledger.WithPerWithdrawalCap},
		{name: "daily withdrawal cap", raw: cfg.DailyWithdrawalCap, apply: ledger.WithDailyWithdrawalCap},
		{name: "min deposit", raw: cfg.MinDeposit, apply: ledger.WithMinDeposit},
	} {
		if strings.TrimSpace(limit.raw) == "" {
			continue
		}
		amount, err := ledger.ParseNativeAmount(limit.raw)
		if err != nil {
			return ledger.BankConfig{}, fmt.Errorf("%s: %w", limit.name, err)
		}
		options = append(options, limit.apply(amount))
	}
	return ledger.NewBankConfig(capacity, options...)
}

// Grants maps each capability to its configured holders.
func (cfg *Config) Grants() (map[ledger.Capability][]ledger.Identity, error) {
	grants := map[ledger.Capability][]ledger.Identity{}
	for capability, holders := range map[ledger.Capability][]string{
		ledger.CapabilityAdministrator: cfg.Administrators,
		ledger.CapabilityPauser:        cfg.Pausers,
		ledger.CapabilityTreasurer:     cfg.Treasurers,
		ledger.CapabilityOracleUpdater: cfg.OracleUpdaters,
	} {
		for _, raw := range holders {
			identity, err := ledger.NewIdentity(raw)
			if err != nil {
				return nil, fmt.Errorf("%s grant: %w", capability, err)
			}
			grants[capability] = append(grants[capability], identity)
		}
	}
	if cfg.KeeperIdentity != "" {
		keeper, err := ledger.NewIdentity(cfg.KeeperIdentity)
		if err != nil {
			return nil, fmt.Errorf("keeper identity: %w", err)
		}
		grants[ledger.CapabilityOracleUpdater] = append(grants[ledger.CapabilityOracleUpdater], keeper)
	}
	return grants, nil
}

// ParseList splits a comma-delimited value into trimmed, non-empty items.
// Blank input yields nil so that required_with rules see the list as absent.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var normalized []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
