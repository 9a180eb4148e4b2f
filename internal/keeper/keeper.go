// Package keeper refreshes cached oracle prices on a fixed interval.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"go.uber.org/zap"
)

var ErrInvalidKeeperConfig = errors.New("invalid keeper config")

// PriceRefresher is the slice of oracle.Service the keeper drives.
type PriceRefresher interface {
	UpdateCachedPrice(ctx context.Context, caller ledger.Identity, symbol string) (oracle.CachedPrice, error)
	InvalidateCachedPrice(ctx context.Context, caller ledger.Identity, symbol string) error
}

// Keeper refreshes a fixed set of symbols under a single oracle_updater identity.
type Keeper struct {
	refresher PriceRefresher
	identity  ledger.Identity
	symbols   []string
	interval  time.Duration
	logger    *zap.Logger
}

// New validates the keeper settings. logger may be nil.
func New(refresher PriceRefresher, identity ledger.Identity, symbols []string, interval time.Duration, logger *zap.Logger) (*Keeper, error) {
	if refresher == nil {
		return nil, fmt.Errorf("%w: refresher is nil", ErrInvalidKeeperConfig)
	}
	if identity.IsZero() {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidKeeperConfig)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ErrInvalidKeeperConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidKeeperConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Keeper{
		refresher: refresher,
		identity:  identity,
		symbols:   append([]string(nil), symbols...),
		interval:  interval,
		logger:    logger,
	}, nil
}

// Run refreshes immediately and then on every tick until ctx is done.
func (keeper *Keeper) Run(ctx context.Context) {
	keeper.logger.Info("price keeper started", zap.Strings("symbols", keeper.symbols), zap.Duration("interval", keeper.interval))
	defer keeper.logger.Info("price keeper stopped")

	ticker := time.NewTicker(keeper.interval)
	defer ticker.Stop()
	for {
		_ = keeper.RefreshOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshOnce refreshes every symbol and joins the failures.
// A reading rejected as invalid feed data also invalidates the cached entry;
// other failures leave the cache untouched.
func (keeper *Keeper) RefreshOnce(ctx context.Context) error {
	var failures []error
	for _, symbol := range keeper.symbols {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		cached, err := keeper.refresher.UpdateCachedPrice(ctx, keeper.identity, symbol)
		if err == nil {
			keeper.logger.Debug("price refreshed", zap.String("symbol", symbol), zap.String("price", cached.Price.String()))
			continue
		}
		failures = append(failures, fmt.Errorf("%s: %w", symbol, err))
		if !errors.Is(err, oracle.ErrInvalidFeedData) {
			keeper.logger.Warn("price refresh failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		keeper.logger.Warn("rejected feed reading, invalidating cache", zap.String("symbol", symbol), zap.Error(err))
		if invalidateErr := keeper.refresher.InvalidateCachedPrice(ctx, keeper.identity, symbol); invalidateErr != nil {
			keeper.logger.Error("cache invalidation failed", zap.String("symbol", symbol), zap.Error(invalidateErr))
			failures = append(failures, fmt.Errorf("%s: %w", symbol, invalidateErr))
		}
	}
	return errors.Join(failures...)
}
