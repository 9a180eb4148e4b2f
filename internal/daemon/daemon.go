// Package daemon wires the custody services, stores and transports into one process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/internal/auth"
	"github.com/MarkoPoloResearchLab/custody/internal/feeds/redisfeed"
	"github.com/MarkoPoloResearchLab/custody/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/custody/internal/httpapi"
	"github.com/MarkoPoloResearchLab/custody/internal/keeper"
	"github.com/MarkoPoloResearchLab/custody/internal/oplog"
	"github.com/MarkoPoloResearchLab/custody/internal/payout/kafkasink"
	"github.com/MarkoPoloResearchLab/custody/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/custody/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	serviceName    = "custody.v1.CustodyService"
)

type stores struct {
	ledger  ledger.Store
	oracle  oracle.Store
	cleanup []func()
}

func (s *stores) close() {
	for index := len(s.cleanup) - 1; index >= 0; index-- {
		s.cleanup[index]()
	}
}

// Run starts every configured component and blocks until ctx is cancelled or a server fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := func() int64 { return time.Now().UTC().Unix() }

	opened, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer opened.close()

	payoutWriter, err := kafkasink.NewWriter(cfg.KafkaBrokers, cfg.PayoutTopic)
	if err != nil {
		return fmt.Errorf("payout writer: %w", err)
	}
	sink, err := kafkasink.New(payoutWriter, nil)
	if err != nil {
		return fmt.Errorf("payout sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	recorders := oplog.Fanout{oplog.NewZapRecorder(logger)}
	if cfg.AuditTopic != "" {
		auditWriter, err := kafkasink.NewWriter(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return fmt.Errorf("audit writer: %w", err)
		}
		defer func() { _ = auditWriter.Close() }()
		recorders = append(recorders, oplog.NewAuditPublisher(auditWriter, logger, nil))
	}

	grants, err := cfg.Grants()
	if err != nil {
		return err
	}
	gate, err := ledger.NewGate(ledger.NewCapabilitySet(grants))
	if err != nil {
		return fmt.Errorf("capability gate: %w", err)
	}

	ledgerOptions := []ledger.ServiceOption{ledger.WithOperationLogger(recorders)}
	var oracleService *oracle.Service
	if cfg.RedisAddr != "" {
		redisClient, err := redisfeed.Connect(ctx, redisfeed.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		oracleService, err = oracle.NewService(opened.oracle, redisfeed.NewResolver(redisClient), gate, clock,
			oracle.WithOperationLogger(recorders),
			oracle.WithStaleThreshold(cfg.StaleThreshold),
		)
		if err != nil {
			return fmt.Errorf("oracle service init: %w", err)
		}
		converter, err := oracle.NewConverter(oracleService)
		if err != nil {
			return fmt.Errorf("converter init: %w", err)
		}
		ledgerOptions = append(ledgerOptions, ledger.WithPriceConverter(converter))
	}

	bankConfig, err := cfg.BankConfig()
	if err != nil {
		return err
	}
	ledgerService, err := ledger.NewService(opened.ledger, gate, sink, bankConfig, clock, ledgerOptions...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	verifier, err := auth.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer, nil)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 3)

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := newGRPCServer(verifier, ledgerService, oracleService)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		errCh <- grpcServer.Serve(listener)
	}()

	if cfg.HTTPListenAddr != "" {
		httpServer, err := httpapi.NewServer(httpapi.Config{
			ListenAddr:     cfg.HTTPListenAddr,
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
		}, logger, ledgerService, oracleService)
		if err != nil {
			grpcServer.Stop()
			return fmt.Errorf("http api init: %w", err)
		}
		go func() {
			errCh <- httpServer.Run(runCtx)
		}()
	}

	if len(cfg.KeeperSymbols) > 0 {
		keeperIdentity, err := ledger.NewIdentity(cfg.KeeperIdentity)
		if err != nil {
			grpcServer.Stop()
			return fmt.Errorf("keeper identity: %w", err)
		}
		priceKeeper, err := keeper.New(oracleService, keeperIdentity, cfg.KeeperSymbols, cfg.KeeperInterval, logger)
		if err != nil {
			grpcServer.Stop()
			return fmt.Errorf("keeper init: %w", err)
		}
		go priceKeeper.Run(runCtx)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		cancel()
		grpcServer.GracefulStop()
		return nil
	case serveErr := <-errCh:
		cancel()
		grpcServer.GracefulStop()
		if serveErr == nil || errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func newGRPCServer(verifier *auth.Verifier, ledgerService *ledger.Service, oracleService *oracle.Service) *grpc.Server {
	server := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.AuthInterceptor(verifier)))
	grpcserver.RegisterCustodyService(server, grpcserver.NewCustodyServiceServer(ledgerService, oracleService))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
	healthgrpc.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	return server
}

func openStores(ctx context.Context, cfg Config) (*stores, error) {
	opened := &stores{}
	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	opened.cleanup = append(opened.cleanup, func() { _ = cleanup() })
	opened.oracle = gormstore.NewOracleStore(gormDB)

	if cfg.StoreDriver == StoreDriverPgx {
		if driver != driverPostgres {
			opened.close()
			return nil, fmt.Errorf("store driver %s requires postgres", StoreDriverPgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			opened.close()
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		opened.cleanup = append(opened.cleanup, pool.Close)
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			opened.close()
			return nil, err
		}
		if err := gormstore.AutoMigrateOracle(gormDB); err != nil {
			opened.close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		opened.ledger = pgstore.New(pool)
		return opened, nil
	}

	if err := gormstore.AutoMigrate(gormDB); err != nil {
		opened.close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	opened.ledger = gormstore.New(gormDB)
	return opened, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		// sqlite allows one writer at a time.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "custody.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a plain sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
