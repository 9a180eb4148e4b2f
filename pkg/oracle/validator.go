package oracle

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Default sanity bounds in whole reference-currency units.
var defaultBounds = map[string][2]decimal.Decimal{
	"ETH/USD": {decimal.NewFromInt(100), decimal.NewFromInt(50000)},
}

func validateRoundConsistency(round Round) error {
	if !round.Answer.IsPositive() {
		return fmt.Errorf("%w: non-positive answer %s", ErrInvalidFeedData, round.Answer)
	}
	if round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return fmt.Errorf("%w: answered in round %s before round %s", ErrInvalidFeedData, round.AnsweredInRound, round.RoundID)
	}
	return nil
}

func validateFreshness(round Round, nowUnixUTC int64, staleThresholdSeconds int64) error {
	if round.UpdatedAt <= 0 {
		return fmt.Errorf("%w: stale reading with no update time", ErrInvalidFeedData)
	}
	if round.UpdatedAt > nowUnixUTC {
		return fmt.Errorf("%w: stale check failed, updated at %d is after now %d", ErrInvalidFeedData, round.UpdatedAt, nowUnixUTC)
	}
	age := nowUnixUTC - round.UpdatedAt
	if age > staleThresholdSeconds {
		return fmt.Errorf("%w: stale by %ds (threshold %ds)", ErrInvalidFeedData, age, staleThresholdSeconds)
	}
	return nil
}

func validateBounds(round Round, config FeedConfig) error {
	if round.Answer.LessThan(config.MinPrice) || round.Answer.GreaterThan(config.MaxPrice) {
		return fmt.Errorf("%w: answer %s outside [%s, %s]", ErrInvalidFeedData, round.Answer, config.MinPrice, config.MaxPrice)
	}
	return nil
}

// validateLatestRound applies the checks in order and reports the first failure.
func validateLatestRound(round Round, config FeedConfig, nowUnixUTC int64, staleThresholdSeconds int64) error {
	if err := validateRoundConsistency(round); err != nil {
		return err
	}
	if err := validateFreshness(round, nowUnixUTC, staleThresholdSeconds); err != nil {
		return err
	}
	return validateBounds(round, config)
}

// resolveBounds scales explicit or default whole-unit bounds to the feed's precision.
func resolveBounds(symbol Symbol, input FeedConfigInput, decimals int32) (decimal.Decimal, decimal.Decimal, error) {
	var minimum, maximum decimal.Decimal
	switch {
	case input.MinPrice.Valid && input.MaxPrice.Valid:
		minimum, maximum = input.MinPrice.Decimal, input.MaxPrice.Decimal
	case !input.MinPrice.Valid && !input.MaxPrice.Valid:
		bounds, ok := defaultBounds[symbol.String()]
		if !ok {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: no default bounds for %s", ErrInvalidFeedConfig, symbol)
		}
		minimum, maximum = bounds[0], bounds[1]
	default:
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: both bounds are required", ErrInvalidFeedConfig)
	}
	if !minimum.IsPositive() || !maximum.GreaterThan(minimum) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: bounds [%s, %s]", ErrInvalidFeedConfig, minimum, maximum)
	}
	return minimum.Shift(decimals), maximum.Shift(decimals), nil
}
