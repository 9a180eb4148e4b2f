package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Symbol names a price pair such as "ETH/USD".
type Symbol struct {
	value string
}

// NewSymbol validates and upper-cases a symbol.
func NewSymbol(raw string) (Symbol, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return Symbol{}, fmt.Errorf("%w: empty value", ErrInvalidSymbol)
	}
	if strings.ContainsAny(normalized, " \t\n") {
		return Symbol{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidSymbol, raw)
	}
	return Symbol{value: normalized}, nil
}

// String returns the normalized symbol.
func (symbol Symbol) String() string {
	return symbol.value
}

// RoundID identifies a feed round; ids are unsigned 80-bit values upstream.
type RoundID struct {
	value decimal.Decimal
}

// NewRoundID validates a non-negative integer round id.
func NewRoundID(raw decimal.Decimal) (RoundID, error) {
	if raw.IsNegative() || !raw.IsInteger() {
		return RoundID{}, fmt.Errorf("%w: %s", ErrInvalidRoundID, raw.String())
	}
	return RoundID{value: raw}, nil
}

// ParseRoundID parses a decimal round id.
func ParseRoundID(raw string) (RoundID, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return RoundID{}, fmt.Errorf("%w: %v", ErrInvalidRoundID, err)
	}
	return NewRoundID(parsed)
}

// Cmp compares two round ids.
func (roundID RoundID) Cmp(other RoundID) int {
	return roundID.value.Cmp(other.value)
}

// String renders the round id.
func (roundID RoundID) String() string {
	return roundID.value.String()
}

// Round is one reading reported by a feed. Answer is scaled by the feed's decimals.
type Round struct {
	RoundID         RoundID
	Answer          decimal.Decimal
	StartedAt       int64
	UpdatedAt       int64
	AnsweredInRound RoundID
}

// FeedMetadata describes a feed source.
type FeedMetadata struct {
	Description string
	Decimals    int32
}

// Feed is an untrusted external price source.
type Feed interface {
	LatestRound(ctx context.Context) (Round, error)
	RoundData(ctx context.Context, roundID RoundID) (Round, error)
	Metadata(ctx context.Context) (FeedMetadata, error)
}

// FeedResolver maps a configured source reference to a Feed.
type FeedResolver interface {
	Resolve(ctx context.Context, sourceRef string) (Feed, error)
}

// FeedConfigInput is the caller-supplied part of a feed configuration.
// Bounds are whole reference-currency units; absent bounds fall back to the per-symbol defaults.
type FeedConfigInput struct {
	Symbol      string
	SourceRef   string
	Description string
	Disabled    bool
	MinPrice    decimal.NullDecimal
	MaxPrice    decimal.NullDecimal
}

// FeedConfig is the stored configuration of a symbol. Bounds are scaled by Decimals.
type FeedConfig struct {
	Symbol      Symbol
	SourceRef   string
	Description string
	Active      bool
	Decimals    int32
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	UpdatedAt   int64
}

// PriceData is a validated reading.
type PriceData struct {
	Symbol    Symbol
	Price     decimal.Decimal
	Decimals  int32
	RoundID   RoundID
	UpdatedAt int64
}

// CachedPrice is the last validated price stored for a symbol.
type CachedPrice struct {
	Symbol   Symbol
	Price    decimal.Decimal
	Decimals int32
	CachedAt int64
	Valid    bool
}

// FeedHealth is the diagnostic view of a feed.
type FeedHealth struct {
	Healthy    bool
	LastUpdate int64
	Price      decimal.Decimal
}

// Store persists feed configuration, the price cache and the update counter.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	SaveFeedConfig(ctx context.Context, config FeedConfig) error
	GetFeedConfig(ctx context.Context, symbol Symbol) (FeedConfig, error)
	ListFeedConfigs(ctx context.Context) ([]FeedConfig, error)
	SaveCachedPrice(ctx context.Context, price CachedPrice) error
	GetCachedPrice(ctx context.Context, symbol Symbol) (CachedPrice, error)
	IncrementUpdateCount(ctx context.Context) (int64, error)
	UpdateCount(ctx context.Context) (int64, error)
}
