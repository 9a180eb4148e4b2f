package oracle

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/shopspring/decimal"
)

// Converter translates between native base units and reference-currency fixed point.
// Results are truncated toward zero.
type Converter struct {
	service *Service
}

// NewConverter wires a Converter over the validated price source.
func NewConverter(service *Service) (*Converter, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: oracle service is nil", ErrInvalidServiceConfig)
	}
	return &Converter{service: service}, nil
}

// ToReferenceCurrency returns nativeAmount × price / 10^decimals using a freshly validated price.
func (converter *Converter) ToReferenceCurrency(ctx context.Context, nativeAmount ledger.Amount, symbol string) (decimal.Decimal, error) {
	price, err := converter.service.LatestPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return toReference(nativeAmount, price.Price, price.Decimals), nil
}

// FromReferenceCurrency returns referenceAmount × 10^decimals / price using a freshly validated price.
func (converter *Converter) FromReferenceCurrency(ctx context.Context, referenceAmount decimal.Decimal, symbol string) (ledger.Amount, error) {
	if err := validateReferenceAmount(referenceAmount); err != nil {
		return ledger.Amount{}, err
	}
	price, err := converter.service.LatestPrice(ctx, symbol)
	if err != nil {
		return ledger.Amount{}, err
	}
	return fromReference(referenceAmount, price.Price, price.Decimals)
}

// ToReferenceCurrencyCached converts with the cached price instead of a fresh reading.
func (converter *Converter) ToReferenceCurrencyCached(ctx context.Context, nativeAmount ledger.Amount, symbol string) (decimal.Decimal, error) {
	cached, err := converter.service.CachedPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return toReference(nativeAmount, cached.Price, cached.Decimals), nil
}

// FromReferenceCurrencyCached converts with the cached price instead of a fresh reading.
func (converter *Converter) FromReferenceCurrencyCached(ctx context.Context, referenceAmount decimal.Decimal, symbol string) (ledger.Amount, error) {
	if err := validateReferenceAmount(referenceAmount); err != nil {
		return ledger.Amount{}, err
	}
	cached, err := converter.service.CachedPrice(ctx, symbol)
	if err != nil {
		return ledger.Amount{}, err
	}
	return fromReference(referenceAmount, cached.Price, cached.Decimals)
}

func validateReferenceAmount(referenceAmount decimal.Decimal) error {
	if referenceAmount.IsNegative() || !referenceAmount.IsInteger() {
		return fmt.Errorf("%w: reference amount %s", ledger.ErrInvalidAmount, referenceAmount)
	}
	return nil
}

func toReference(nativeAmount ledger.Amount, price decimal.Decimal, decimals int32) decimal.Decimal {
	quotient, _ := nativeAmount.Decimal().Mul(price).QuoRem(decimal.New(1, decimals), 0)
	return quotient
}

func fromReference(referenceAmount decimal.Decimal, price decimal.Decimal, decimals int32) (ledger.Amount, error) {
	if !price.IsPositive() {
		return ledger.Amount{}, fmt.Errorf("%w: non-positive price %s", ErrInvalidFeedData, price)
	}
	quotient, _ := referenceAmount.Shift(decimals).QuoRem(price, 0)
	return ledger.NewAmount(quotient)
}
