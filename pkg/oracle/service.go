package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/shopspring/decimal"
)

// Service validates feed readings and maintains the price cache.
type Service struct {
	store          Store
	resolver       FeedResolver
	gate           *ledger.Gate
	nowFn          func() int64
	staleThreshold time.Duration
	logger         OperationLogger
}

// NewService wires a Service.
func NewService(store Store, resolver FeedResolver, gate *ledger.Gate, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: feed resolver dependency is nil", ErrInvalidServiceConfig)
	}
	if gate == nil {
		return nil, fmt.Errorf("%w: gate dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, resolver: resolver, gate: gate, nowFn: now, staleThreshold: defaultStaleThreshold}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.staleThreshold <= 0 {
		return nil, fmt.Errorf("%w: stale threshold must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// StaleThreshold returns the maximum accepted reading age.
func (service *Service) StaleThreshold() time.Duration {
	return service.staleThreshold
}

// ConfigureFeed stores the configuration of a symbol, replacing any previous one.
func (service *Service) ConfigureFeed(ctx context.Context, caller ledger.Identity, input FeedConfigInput) (FeedConfig, error) {
	config, operationError := service.configureFeed(ctx, caller, input)
	service.logOperation(ctx, OperationLog{
		Operation: operationConfigureFeed,
		Caller:    caller,
		Symbol:    input.Symbol,
		Error:     operationError,
	})
	return config, operationError
}

func (service *Service) configureFeed(ctx context.Context, caller ledger.Identity, input FeedConfigInput) (FeedConfig, error) {
	if err := service.gate.Require(ctx, caller, ledger.CapabilityOracleUpdater); err != nil {
		return FeedConfig{}, err
	}
	symbol, err := NewSymbol(input.Symbol)
	if err != nil {
		return FeedConfig{}, err
	}
	sourceRef := strings.TrimSpace(input.SourceRef)
	if sourceRef == "" {
		return FeedConfig{}, fmt.Errorf("%w: empty source reference", ErrInvalidFeedConfig)
	}
	feed, err := service.resolver.Resolve(ctx, sourceRef)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("%w: resolve %s: %w", ErrFeedUnavailable, sourceRef, err)
	}
	metadata, err := feed.Metadata(ctx)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("%w: metadata %s: %w", ErrFeedUnavailable, sourceRef, err)
	}
	if metadata.Decimals < 0 {
		return FeedConfig{}, fmt.Errorf("%w: negative decimals %d", ErrInvalidFeedConfig, metadata.Decimals)
	}
	minimum, maximum, err := resolveBounds(symbol, input, metadata.Decimals)
	if err != nil {
		return FeedConfig{}, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = metadata.Description
	}
	config := FeedConfig{
		Symbol:      symbol,
		SourceRef:   sourceRef,
		Description: description,
		Active:      !input.Disabled,
		Decimals:    metadata.Decimals,
		MinPrice:    minimum,
		MaxPrice:    maximum,
		UpdatedAt:   service.nowFn(),
	}
	if err := service.store.SaveFeedConfig(ctx, config); err != nil {
		return FeedConfig{}, err
	}
	return config, nil
}

// LatestPrice fetches and fully validates the current reading of symbol.
func (service *Service) LatestPrice(ctx context.Context, rawSymbol string) (PriceData, error) {
	config, feed, err := service.activeFeed(ctx, rawSymbol)
	if err != nil {
		return PriceData{}, err
	}
	round, err := feed.LatestRound(ctx)
	if err != nil {
		return PriceData{}, fmt.Errorf("%w: latest round %s: %w", ErrFeedUnavailable, config.Symbol, err)
	}
	if err := validateLatestRound(round, config, service.nowFn(), int64(service.staleThreshold/time.Second)); err != nil {
		return PriceData{}, err
	}
	return PriceData{
		Symbol:    config.Symbol,
		Price:     round.Answer,
		Decimals:  config.Decimals,
		RoundID:   round.RoundID,
		UpdatedAt: round.UpdatedAt,
	}, nil
}

// MonitorHealth runs the LatestPrice checks and reports any failure as unhealthy.
func (service *Service) MonitorHealth(ctx context.Context, rawSymbol string) FeedHealth {
	price, err := service.LatestPrice(ctx, rawSymbol)
	if err != nil {
		return FeedHealth{Healthy: false, LastUpdate: 0, Price: decimal.Zero}
	}
	return FeedHealth{Healthy: true, LastUpdate: price.UpdatedAt, Price: price.Price}
}

// UpdateCachedPrice validates the latest reading and stores it in the cache.
func (service *Service) UpdateCachedPrice(ctx context.Context, caller ledger.Identity, rawSymbol string) (CachedPrice, error) {
	var cached CachedPrice
	operationError := func() error {
		if err := service.gate.Require(ctx, caller, ledger.CapabilityOracleUpdater); err != nil {
			return err
		}
		price, err := service.LatestPrice(ctx, rawSymbol)
		if err != nil {
			return err
		}
		entry := CachedPrice{
			Symbol:   price.Symbol,
			Price:    price.Price,
			Decimals: price.Decimals,
			CachedAt: service.nowFn(),
			Valid:    true,
		}
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := txStore.SaveCachedPrice(ctx, entry); err != nil {
				return err
			}
			_, err := txStore.IncrementUpdateCount(ctx)
			return err
		})
		if err != nil {
			return err
		}
		cached = entry
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateCachedPrice,
		Caller:    caller,
		Symbol:    rawSymbol,
		Price:     cached.Price,
		Error:     operationError,
	})
	return cached, operationError
}

// InvalidateCachedPrice marks the cached entry of symbol unusable.
func (service *Service) InvalidateCachedPrice(ctx context.Context, caller ledger.Identity, rawSymbol string) error {
	operationError := func() error {
		if err := service.gate.Require(ctx, caller, ledger.CapabilityOracleUpdater); err != nil {
			return err
		}
		symbol, err := NewSymbol(rawSymbol)
		if err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			cached, err := txStore.GetCachedPrice(ctx, symbol)
			if errors.Is(err, ErrNoValidCachedData) {
				return nil
			}
			if err != nil {
				return err
			}
			cached.Valid = false
			return txStore.SaveCachedPrice(ctx, cached)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationInvalidateCachedPrice,
		Caller:    caller,
		Symbol:    rawSymbol,
		Error:     operationError,
	})
	return operationError
}

// CachedPrice returns the cached price of symbol, never an invalid one.
func (service *Service) CachedPrice(ctx context.Context, rawSymbol string) (CachedPrice, error) {
	symbol, err := NewSymbol(rawSymbol)
	if err != nil {
		return CachedPrice{}, err
	}
	cached, err := service.store.GetCachedPrice(ctx, symbol)
	if err != nil {
		return CachedPrice{}, err
	}
	if !cached.Valid {
		return CachedPrice{}, fmt.Errorf("%w: %s invalidated", ErrNoValidCachedData, symbol)
	}
	return cached, nil
}

// HistoricalPrice reads a specific round. Historical reads skip freshness and bounds checks.
func (service *Service) HistoricalPrice(ctx context.Context, rawSymbol string, roundID RoundID) (PriceData, error) {
	config, feed, err := service.activeFeed(ctx, rawSymbol)
	if err != nil {
		return PriceData{}, err
	}
	round, err := feed.RoundData(ctx, roundID)
	if err != nil {
		return PriceData{}, fmt.Errorf("%w: round %s of %s: %w", ErrFeedUnavailable, roundID, config.Symbol, err)
	}
	if err := validateRoundConsistency(round); err != nil {
		return PriceData{}, err
	}
	return PriceData{
		Symbol:    config.Symbol,
		Price:     round.Answer,
		Decimals:  config.Decimals,
		RoundID:   round.RoundID,
		UpdatedAt: round.UpdatedAt,
	}, nil
}

// FeedMetadata returns the stored configuration of symbol.
func (service *Service) FeedMetadata(ctx context.Context, rawSymbol string) (FeedConfig, error) {
	symbol, err := NewSymbol(rawSymbol)
	if err != nil {
		return FeedConfig{}, err
	}
	return service.store.GetFeedConfig(ctx, symbol)
}

// Feeds lists every stored configuration.
func (service *Service) Feeds(ctx context.Context) ([]FeedConfig, error) {
	return service.store.ListFeedConfigs(ctx)
}

// UpdateCount returns the number of successful cache refreshes.
func (service *Service) UpdateCount(ctx context.Context) (int64, error) {
	return service.store.UpdateCount(ctx)
}

func (service *Service) activeFeed(ctx context.Context, rawSymbol string) (FeedConfig, Feed, error) {
	symbol, err := NewSymbol(rawSymbol)
	if err != nil {
		return FeedConfig{}, nil, err
	}
	config, err := service.store.GetFeedConfig(ctx, symbol)
	if err != nil {
		return FeedConfig{}, nil, err
	}
	if !config.Active {
		return FeedConfig{}, nil, fmt.Errorf("%w: %s inactive", ErrFeedNotConfigured, symbol)
	}
	feed, err := service.resolver.Resolve(ctx, config.SourceRef)
	if err != nil {
		return FeedConfig{}, nil, fmt.Errorf("%w: resolve %s: %w", ErrFeedUnavailable, config.SourceRef, err)
	}
	return config, feed, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOracleOperation(ctx, entry)
}
