package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/custody/internal/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagEnvFile            = "env-file"
	flagDatabaseURL        = "database-url"
	flagStoreDriver        = "store-driver"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagHTTPListenAddr     = "http-listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagRequestTimeout     = "request-timeout"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagRedisAddr          = "redis-addr"
	flagRedisPassword      = "redis-password"
	flagRedisDB            = "redis-db"
	flagKafkaBrokers       = "kafka-brokers"
	flagPayoutTopic        = "payout-topic"
	flagAuditTopic         = "audit-topic"
	flagCapacityCap        = "capacity-cap"
	flagPerWithdrawalCap   = "per-withdrawal-cap"
	flagDailyWithdrawalCap = "daily-withdrawal-cap"
	flagMinDeposit         = "min-deposit"
	flagInterestRateBps    = "interest-rate-bps"
	flagAdministrators     = "administrators"
	flagPausers            = "pausers"
	flagTreasurers         = "treasurers"
	flagOracleUpdaters     = "oracle-updaters"
	flagKeeperIdentity     = "keeper-identity"
	flagKeeperSymbols      = "keeper-symbols"
	flagKeeperInterval     = "keeper-interval"
	flagStaleThreshold     = "stale-threshold"
	envPrefix              = "CUSTODY"

	defaultInterestRateBps = 500
)

var boundFlags = []string{
	flagDatabaseURL, flagStoreDriver, flagGRPCListenAddr, flagHTTPListenAddr, flagAllowedOrigins, flagRequestTimeout,
	flagJWTSigningKey, flagJWTIssuer, flagRedisAddr, flagRedisPassword, flagRedisDB, flagKafkaBrokers, flagPayoutTopic,
	flagAuditTopic, flagCapacityCap, flagPerWithdrawalCap, flagDailyWithdrawalCap, flagMinDeposit, flagInterestRateBps,
	flagAdministrators, flagPausers, flagTreasurers, flagOracleUpdaters, flagKeeperIdentity, flagKeeperSymbols,
	flagKeeperInterval, flagStaleThreshold,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "custodyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := daemon.Config{}
	cmd := &cobra.Command{
		Use:           "custodyd",
		Short:         "Custodial ledger and price oracle server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return daemon.Run(ctx, cfg, logger)
		},
	}

	cmd.Flags().String(flagEnvFile, "", "optional .env file loaded before reading the environment")
	cmd.Flags().String(flagDatabaseURL, "sqlite:///tmp/custody.db", "postgres:// URL or sqlite path")
	cmd.Flags().String(flagStoreDriver, daemon.StoreDriverGorm, "ledger store driver: gorm or pgx")
	cmd.Flags().String(flagGRPCListenAddr, ":7000", "gRPC listen address")
	cmd.Flags().String(flagHTTPListenAddr, "", "HTTP query API listen address (disabled when empty)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, 3*time.Second, "HTTP request timeout")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 signing key for caller tokens (required)")
	cmd.Flags().String(flagJWTIssuer, "custody", "expected JWT issuer")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for price feeds (oracle disabled when empty)")
	cmd.Flags().String(flagRedisPassword, "", "Redis password")
	cmd.Flags().Int(flagRedisDB, 0, "Redis database index")
	cmd.Flags().String(flagKafkaBrokers, "", "comma-separated Kafka brokers (required)")
	cmd.Flags().String(flagPayoutTopic, "custody.payouts", "Kafka topic receiving payouts")
	cmd.Flags().String(flagAuditTopic, "", "Kafka topic receiving audit events (disabled when empty)")
	cmd.Flags().String(flagCapacityCap, "", "total custody capacity in native units, e.g. 1000 (required)")
	cmd.Flags().String(flagPerWithdrawalCap, "", "per-withdrawal cap in native units")
	cmd.Flags().String(flagDailyWithdrawalCap, "", "daily withdrawal cap per identity in native units")
	cmd.Flags().String(flagMinDeposit, "", "minimum deposit in native units")
	cmd.Flags().Int64(flagInterestRateBps, defaultInterestRateBps, "annual simple interest rate in basis points")
	cmd.Flags().String(flagAdministrators, "", "comma-separated administrator identities")
	cmd.Flags().String(flagPausers, "", "comma-separated pauser identities")
	cmd.Flags().String(flagTreasurers, "", "comma-separated treasurer identities")
	cmd.Flags().String(flagOracleUpdaters, "", "comma-separated oracle updater identities")
	cmd.Flags().String(flagKeeperIdentity, "", "identity the price keeper acts as")
	cmd.Flags().String(flagKeeperSymbols, "", "comma-separated symbols the keeper refreshes (disabled when empty)")
	cmd.Flags().Duration(flagKeeperInterval, time.Minute, "price keeper refresh interval")
	cmd.Flags().Duration(flagStaleThreshold, 2*time.Hour, "maximum age of an accepted feed reading")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *daemon.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.AllowedOrigins = daemon.ParseList(v.GetString(flagAllowedOrigins))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.KafkaBrokers = daemon.ParseList(v.GetString(flagKafkaBrokers))
	cfg.PayoutTopic = strings.TrimSpace(v.GetString(flagPayoutTopic))
	cfg.AuditTopic = strings.TrimSpace(v.GetString(flagAuditTopic))
	cfg.CapacityCap = strings.TrimSpace(v.GetString(flagCapacityCap))
	cfg.PerWithdrawalCap = strings.TrimSpace(v.GetString(flagPerWithdrawalCap))
	cfg.DailyWithdrawalCap = strings.TrimSpace(v.GetString(flagDailyWithdrawalCap))
	cfg.MinDeposit = strings.TrimSpace(v.GetString(flagMinDeposit))
	cfg.InterestRateBps = v.GetInt64(flagInterestRateBps)
	cfg.Administrators = daemon.ParseList(v.GetString(flagAdministrators))
	cfg.Pausers = daemon.ParseList(v.GetString(flagPausers))
	cfg.Treasurers = daemon.ParseList(v.GetString(flagTreasurers))
	cfg.OracleUpdaters = daemon.ParseList(v.GetString(flagOracleUpdaters))
	cfg.KeeperIdentity = strings.TrimSpace(v.GetString(flagKeeperIdentity))
	cfg.KeeperSymbols = daemon.ParseList(v.GetString(flagKeeperSymbols))
	cfg.KeeperInterval = v.GetDuration(flagKeeperInterval)
	cfg.StaleThreshold = v.GetDuration(flagStaleThreshold)

	return cfg.Validate()
}
