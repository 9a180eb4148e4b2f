package grpcserver_test

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/custody/internal/auth"
	"github.com/MarkoPoloResearchLab/custody/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/custody/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	bufconnSize       = 1 << 20
	testNowUnix int64 = 1_700_000_000
)

type recordingSink struct {
	mutex   sync.Mutex
	payouts []ledger.Payout
}

func (sink *recordingSink) Transfer(_ context.Context, payout ledger.Payout) error {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	sink.payouts = append(sink.payouts, payout)
	return nil
}

type fixedFeed struct {
	round oracle.Round
}

func (feed fixedFeed) LatestRound(context.Context) (oracle.Round, error) {
	return feed.round, nil
}

func (feed fixedFeed) RoundData(context.Context, oracle.RoundID) (oracle.Round, error) {
	return feed.round, nil
}

func (feed fixedFeed) Metadata(context.Context) (oracle.FeedMetadata, error) {
	return oracle.FeedMetadata{Description: "ETH / USD", Decimals: 8}, nil
}

type fixedResolver struct {
	feed oracle.Feed
}

func (resolver fixedResolver) Resolve(context.Context, string) (oracle.Feed, error) {
	return resolver.feed, nil
}

type testHarness struct {
	client   *grpcserver.Client
	verifier *auth.Verifier
	sink     *recordingSink
}

func mustIdentity(test *testing.T, raw string) ledger.Identity {
	test.Helper()
	identity, err := ledger.NewIdentity(raw)
	if err != nil {
		test.Fatalf("identity %q: %v", raw, err)
	}
	return identity
}

func openTestDB(test *testing.T) *gorm.DB {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "custody.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.AutoMigrate(db); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	return db
}

func startCustodyClient(test *testing.T) testHarness {
	test.Helper()
	db := openTestDB(test)
	clock := func() int64 { return testNowUnix }
	gate, err := ledger.NewGate(ledger.NewCapabilitySet(map[ledger.Capability][]ledger.Identity{
		ledger.CapabilityTreasurer:     {mustIdentity(test, "treasurer-1")},
		ledger.CapabilityPauser:        {mustIdentity(test, "pauser-1")},
		ledger.CapabilityOracleUpdater: {mustIdentity(test, "oracle-bot")},
		ledger.CapabilityAdministrator: {mustIdentity(test, "admin-1")},
	}))
	if err != nil {
		test.Fatalf("gate: %v", err)
	}
	capacity, err := ledger.ParseNativeAmount("1000")
	if err != nil {
		test.Fatalf("capacity: %v", err)
	}
	config, err := ledger.NewBankConfig(capacity)
	if err != nil {
		test.Fatalf("config: %v", err)
	}
	sink := &recordingSink{}
	ledgerService, err := ledger.NewService(gormstore.New(db), gate, sink, config, clock)
	if err != nil {
		test.Fatalf("ledger service init failed: %v", err)
	}
	roundID, err := oracle.NewRoundID(decimal.NewFromInt(42))
	if err != nil {
		test.Fatalf("round id: %v", err)
	}
	feed := fixedFeed{round: oracle.Round{
		RoundID:         roundID,
		Answer:          decimal.New(2000, 8),
		StartedAt:       testNowUnix - 30,
		UpdatedAt:       testNowUnix - 30,
		AnsweredInRound: roundID,
	}}
	oracleService, err := oracle.NewService(gormstore.NewOracleStore(db), fixedResolver{feed: feed}, gate, clock)
	if err != nil {
		test.Fatalf("oracle service init failed: %v", err)
	}
	verifier, err := auth.NewVerifier("test-signing-key", "custody", func() time.Time { return time.Unix(testNowUnix, 0) })
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.AuthInterceptor(verifier)))
	grpcserver.RegisterCustodyService(grpcServer, grpcserver.NewCustodyServiceServer(ledgerService, oracleService))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	test.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})
	return testHarness{client: grpcserver.NewClient(conn), verifier: verifier, sink: sink}
}

func (harness testHarness) as(test *testing.T, subject string) context.Context {
	test.Helper()
	token, err := harness.verifier.Issue(subject, time.Hour)
	if err != nil {
		test.Fatalf("issue token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	test.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func anonymous(test *testing.T) context.Context {
	test.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	test.Cleanup(cancel)
	return ctx
}

func requireCode(test *testing.T, err error, want codes.Code) {
	test.Helper()
	if status.Code(err) != want {
		test.Fatalf("expected %s, got %v", want, err)
	}
}

func TestDepositWithdrawOverGRPC(test *testing.T) {
	test.Parallel()
	harness := startCustodyClient(test)

	deposit, err := harness.client.Call(harness.as(test, "alice"), "Deposit", map[string]any{"amount": "5000000000000000000"})
	if err != nil {
		test.Fatalf("deposit: %v", err)
	}
	if deposit.Fields["kind"].GetStringValue() != "deposit" || deposit.Fields["amount"].GetStringValue() != "5000000000000000000" {
		test.Fatalf("unexpected deposit response %v", deposit)
	}

	withdrawal, err := harness.client.Call(harness.as(test, "alice"), "Withdraw", map[string]any{"amount": "2000000000000000000"})
	if err != nil {
		test.Fatalf("withdraw: %v", err)
	}
	if withdrawal.Fields["index"].GetNumberValue() != 1 || !withdrawal.Fields["processed"].GetBoolValue() {
		test.Fatalf("unexpected withdrawal response %v", withdrawal)
	}
	if len(harness.sink.payouts) != 1 || harness.sink.payouts[0].Recipient.String() != "alice" {
		test.Fatalf("expected one payout to alice, got %+v", harness.sink.payouts)
	}

	account, err := harness.client.Call(anonymous(test), "GetAccount", map[string]any{"identity": "alice"})
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if account.Fields["balance"].GetStringValue() != "3000000000000000000" {
		test.Fatalf("unexpected balance %v", account.Fields["balance"])
	}

	state, err := harness.client.Call(anonymous(test), "GetState", nil)
	if err != nil {
		test.Fatalf("get state: %v", err)
	}
	if state.Fields["holdings"].GetStringValue() != "3000000000000000000" || state.Fields["run_state"].GetStringValue() != "running" {
		test.Fatalf("unexpected state %v", state)
	}

	listed, err := harness.client.Call(anonymous(test), "ListTransactions", map[string]any{"identity": "alice", "limit": 10})
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	if got := len(listed.Fields["transactions"].GetListValue().GetValues()); got != 2 {
		test.Fatalf("expected 2 transactions, got %d", got)
	}

	first, err := harness.client.Call(anonymous(test), "GetTransaction", map[string]any{"identity": "alice", "index": 0})
	if err != nil {
		test.Fatalf("get transaction: %v", err)
	}
	if first.Fields["kind"].GetStringValue() != "deposit" {
		test.Fatalf("unexpected first transaction %v", first)
	}
}

func TestGRPCErrorMapping(test *testing.T) {
	test.Parallel()
	harness := startCustodyClient(test)
	if _, err := harness.client.Call(harness.as(test, "alice"), "Deposit", map[string]any{"amount": "1000000000000000000"}); err != nil {
		test.Fatalf("seed deposit: %v", err)
	}

	testCases := []struct {
		name   string
		ctx    context.Context
		method string
		fields map[string]any
		want   codes.Code
	}{
		{name: "missing token", ctx: anonymous(test), method: "Withdraw", fields: map[string]any{"amount": "1"}, want: codes.Unauthenticated},
		{name: "garbage token", ctx: metadata.AppendToOutgoingContext(anonymous(test), "authorization", "Bearer nope"), method: "GetState", want: codes.Unauthenticated},
		{name: "malformed amount", ctx: harness.as(test, "alice"), method: "Deposit", fields: map[string]any{"amount": "1.5"}, want: codes.InvalidArgument},
		{name: "missing amount", ctx: harness.as(test, "alice"), method: "Deposit", want: codes.InvalidArgument},
		{name: "below minimum", ctx: harness.as(test, "alice"), method: "Deposit", fields: map[string]any{"amount": "1"}, want: codes.InvalidArgument},
		{name: "exceeds balance", ctx: harness.as(test, "alice"), method: "Withdraw", fields: map[string]any{"amount": "2000000000000000000"}, want: codes.FailedPrecondition},
		{name: "unauthorized suspend", ctx: harness.as(test, "alice"), method: "Suspend", want: codes.PermissionDenied},
		{name: "unauthorized reserve", ctx: harness.as(test, "alice"), method: "FundReserve", fields: map[string]any{"amount": "1"}, want: codes.PermissionDenied},
		{name: "resume while running", ctx: harness.as(test, "pauser-1"), method: "Resume", want: codes.FailedPrecondition},
		{name: "unknown transaction", ctx: anonymous(test), method: "GetTransaction", fields: map[string]any{"identity": "alice", "index": 9}, want: codes.NotFound},
		{name: "invalid identity", ctx: anonymous(test), method: "GetAccount", fields: map[string]any{"identity": " "}, want: codes.InvalidArgument},
		{name: "list limit too large", ctx: anonymous(test), method: "ListTransactions", fields: map[string]any{"identity": "alice", "limit": 1000}, want: codes.InvalidArgument},
		{name: "score by non-admin", ctx: harness.as(test, "treasurer-1"), method: "UpdateCreditScore", fields: map[string]any{"identity": "alice", "score": 700}, want: codes.PermissionDenied},
		{name: "score out of range", ctx: harness.as(test, "admin-1"), method: "UpdateCreditScore", fields: map[string]any{"identity": "alice", "score": 900}, want: codes.InvalidArgument},
		{name: "feed not configured", ctx: anonymous(test), method: "GetLatestPrice", fields: map[string]any{"symbol": "BTC/USD"}, want: codes.NotFound},
		{name: "nothing cached", ctx: anonymous(test), method: "GetCachedPrice", fields: map[string]any{"symbol": "BTC/USD"}, want: codes.FailedPrecondition},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			_, err := harness.client.Call(testCase.ctx, testCase.method, testCase.fields)
			requireCode(test, err, testCase.want)
		})
	}
}

func TestSuspendBlocksDepositsOverGRPC(test *testing.T) {
	test.Parallel()
	harness := startCustodyClient(test)

	suspended, err := harness.client.Call(harness.as(test, "pauser-1"), "Suspend", nil)
	if err != nil {
		test.Fatalf("suspend: %v", err)
	}
	if suspended.Fields["run_state"].GetStringValue() != "suspended" {
		test.Fatalf("unexpected suspend response %v", suspended)
	}
	_, err = harness.client.Call(harness.as(test, "alice"), "Deposit", map[string]any{"amount": "1000000000000000000"})
	requireCode(test, err, codes.FailedPrecondition)
	if status.Convert(err).Message() != "system_suspended" {
		test.Fatalf("expected system_suspended reason, got %q", status.Convert(err).Message())
	}
	if _, err := harness.client.Call(harness.as(test, "pauser-1"), "Resume", nil); err != nil {
		test.Fatalf("resume: %v", err)
	}
	if _, err := harness.client.Call(harness.as(test, "alice"), "Deposit", map[string]any{"amount": "1000000000000000000"}); err != nil {
		test.Fatalf("deposit after resume: %v", err)
	}
}

func TestOracleOperationsOverGRPC(test *testing.T) {
	test.Parallel()
	harness := startCustodyClient(test)
	updater := harness.as(test, "oracle-bot")

	configured, err := harness.client.Call(updater, "ConfigureFeed", map[string]any{"symbol": "eth/usd", "source_ref": "eth-usd"})
	if err != nil {
		test.Fatalf("configure feed: %v", err)
	}
	if configured.Fields["symbol"].GetStringValue() != "ETH/USD" || configured.Fields["decimals"].GetNumberValue() != 8 {
		test.Fatalf("unexpected feed config %v", configured)
	}
	_, err = harness.client.Call(harness.as(test, "alice"), "UpdateCachedPrice", map[string]any{"symbol": "ETH/USD"})
	requireCode(test, err, codes.PermissionDenied)

	latest, err := harness.client.Call(anonymous(test), "GetLatestPrice", map[string]any{"symbol": "ETH/USD"})
	if err != nil {
		test.Fatalf("latest price: %v", err)
	}
	if latest.Fields["price"].GetStringValue() != "200000000000" || latest.Fields["round_id"].GetStringValue() != "42" {
		test.Fatalf("unexpected latest price %v", latest)
	}

	if _, err := harness.client.Call(updater, "UpdateCachedPrice", map[string]any{"symbol": "ETH/USD"}); err != nil {
		test.Fatalf("update cached price: %v", err)
	}
	cached, err := harness.client.Call(anonymous(test), "GetCachedPrice", map[string]any{"symbol": "ETH/USD"})
	if err != nil {
		test.Fatalf("cached price: %v", err)
	}
	if !cached.Fields["valid"].GetBoolValue() || cached.Fields["cached_at"].GetNumberValue() != float64(testNowUnix) {
		test.Fatalf("unexpected cached price %v", cached)
	}

	if _, err := harness.client.Call(updater, "InvalidateCachedPrice", map[string]any{"symbol": "ETH/USD"}); err != nil {
		test.Fatalf("invalidate: %v", err)
	}
	_, err = harness.client.Call(anonymous(test), "GetCachedPrice", map[string]any{"symbol": "ETH/USD"})
	requireCode(test, err, codes.FailedPrecondition)
}

func TestServerWithoutOracle(test *testing.T) {
	test.Parallel()
	server := grpcserver.NewCustodyServiceServer(nil, nil)
	_, err := server.GetLatestPrice(context.Background(), nil)
	requireCode(test, err, codes.Unimplemented)
	_, err = server.Deposit(context.Background(), nil)
	requireCode(test, err, codes.Unauthenticated)
}
