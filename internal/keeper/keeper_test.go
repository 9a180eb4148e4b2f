package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type scriptedRefresher struct {
	mutex       sync.Mutex
	failures    map[string]error
	updates     []string
	invalidated []string
	callers     []ledger.Identity
}

func (refresher *scriptedRefresher) UpdateCachedPrice(_ context.Context, caller ledger.Identity, symbol string) (oracle.CachedPrice, error) {
	refresher.mutex.Lock()
	defer refresher.mutex.Unlock()
	refresher.updates = append(refresher.updates, symbol)
	refresher.callers = append(refresher.callers, caller)
	if err := refresher.failures[symbol]; err != nil {
		return oracle.CachedPrice{}, err
	}
	return oracle.CachedPrice{Price: decimal.New(2000, 8), Decimals: 8, Valid: true}, nil
}

func (refresher *scriptedRefresher) InvalidateCachedPrice(_ context.Context, _ ledger.Identity, symbol string) error {
	refresher.mutex.Lock()
	defer refresher.mutex.Unlock()
	refresher.invalidated = append(refresher.invalidated, symbol)
	return nil
}

func (refresher *scriptedRefresher) updateCount() int {
	refresher.mutex.Lock()
	defer refresher.mutex.Unlock()
	return len(refresher.updates)
}

func mustIdentity(test *testing.T, raw string) ledger.Identity {
	test.Helper()
	identity, err := ledger.NewIdentity(raw)
	if err != nil {
		test.Fatalf("identity %q: %v", raw, err)
	}
	return identity
}

func TestRefreshOnceInvalidatesOnlyRejectedReadings(test *testing.T) {
	test.Parallel()
	refresher := &scriptedRefresher{failures: map[string]error{
		"BTC/USD": errors.Join(oracle.ErrInvalidFeedData, errors.New("stale")),
		"SOL/USD": oracle.ErrFeedUnavailable,
	}}
	core, logs := observer.New(zapcore.DebugLevel)
	keeper, err := New(refresher, mustIdentity(test, "oracle-bot"), []string{"ETH/USD", "BTC/USD", "SOL/USD"}, time.Minute, zap.New(core))
	if err != nil {
		test.Fatalf("keeper: %v", err)
	}

	err = keeper.RefreshOnce(context.Background())
	if !errors.Is(err, oracle.ErrInvalidFeedData) || !errors.Is(err, oracle.ErrFeedUnavailable) {
		test.Fatalf("expected both failures joined, got %v", err)
	}
	if len(refresher.updates) != 3 {
		test.Fatalf("expected every symbol refreshed, got %v", refresher.updates)
	}
	if len(refresher.invalidated) != 1 || refresher.invalidated[0] != "BTC/USD" {
		test.Fatalf("expected only BTC/USD invalidated, got %v", refresher.invalidated)
	}
	for _, caller := range refresher.callers {
		if caller.String() != "oracle-bot" {
			test.Fatalf("unexpected caller %q", caller)
		}
	}
	if logs.FilterMessage("rejected feed reading, invalidating cache").Len() != 1 || logs.FilterMessage("price refresh failed").Len() != 1 {
		test.Fatalf("unexpected log entries: %v", logs.All())
	}
}

func TestRefreshOnceSucceeds(test *testing.T) {
	test.Parallel()
	refresher := &scriptedRefresher{}
	keeper, err := New(refresher, mustIdentity(test, "oracle-bot"), []string{"ETH/USD"}, time.Minute, nil)
	if err != nil {
		test.Fatalf("keeper: %v", err)
	}
	if err := keeper.RefreshOnce(context.Background()); err != nil {
		test.Fatalf("refresh: %v", err)
	}
	if len(refresher.invalidated) != 0 {
		test.Fatalf("unexpected invalidation %v", refresher.invalidated)
	}
}

func TestRunRefreshesUntilCancelled(test *testing.T) {
	test.Parallel()
	refresher := &scriptedRefresher{}
	keeper, err := New(refresher, mustIdentity(test, "oracle-bot"), []string{"ETH/USD"}, 5*time.Millisecond, nil)
	if err != nil {
		test.Fatalf("keeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		keeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for refresher.updateCount() < 3 {
		select {
		case <-deadline:
			cancel()
			test.Fatalf("expected repeated refreshes, got %d", refresher.updateCount())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		test.Fatalf("keeper did not stop after cancellation")
	}
}

func TestKeeperConfigValidation(test *testing.T) {
	test.Parallel()
	identity := mustIdentity(test, "oracle-bot")
	testCases := []struct {
		name      string
		refresher PriceRefresher
		identity  ledger.Identity
		symbols   []string
		interval  time.Duration
	}{
		{name: "nil refresher", identity: identity, symbols: []string{"ETH/USD"}, interval: time.Second},
		{name: "zero identity", refresher: &scriptedRefresher{}, symbols: []string{"ETH/USD"}, interval: time.Second},
		{name: "no symbols", refresher: &scriptedRefresher{}, identity: identity, interval: time.Second},
		{name: "zero interval", refresher: &scriptedRefresher{}, identity: identity, symbols: []string{"ETH/USD"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := New(testCase.refresher, testCase.identity, testCase.symbols, testCase.interval, nil); !errors.Is(err, ErrInvalidKeeperConfig) {
				test.Fatalf("expected ErrInvalidKeeperConfig, got %v", err)
			}
		})
	}
}
