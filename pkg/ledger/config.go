package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	defaultInterestRateBps    int64 = 500
	defaultMinCreditScore     int64 = 300
	defaultMaxCreditScore     int64 = 850
	defaultInitialCreditScore int64 = 600
)

var (
	defaultMinDeposit         = Amount{value: decimal.New(1, 15)}
	defaultPerWithdrawalCap   = Amount{value: decimal.New(10, 18)}
	defaultDailyWithdrawalCap = Amount{value: decimal.New(50, 18)}
)

// BankConfig holds the limits fixed at construction time.
type BankConfig struct {
	capacityCap        Amount
	perWithdrawalCap   Amount
	minDeposit         Amount
	dailyWithdrawalCap Amount
	interestRateBps    int64
	minCreditScore     int64
	maxCreditScore     int64
	defaultCreditScore int64
}

// BankConfigOption overrides a default limit.
type BankConfigOption func(*BankConfig)

// WithPerWithdrawalCap overrides the single-withdrawal ceiling.
func WithPerWithdrawalCap(limit Amount) BankConfigOption {
	return func(config *BankConfig) {
		config.perWithdrawalCap = limit
	}
}

// WithMinDeposit overrides the deposit floor.
func WithMinDeposit(limit Amount) BankConfigOption {
	return func(config *BankConfig) {
		config.minDeposit = limit
	}
}

// WithDailyWithdrawalCap overrides the per-identity daily ceiling.
func WithDailyWithdrawalCap(limit Amount) BankConfigOption {
	return func(config *BankConfig) {
		config.dailyWithdrawalCap = limit
	}
}

// WithInterestRateBps overrides the annual simple interest rate.
func WithInterestRateBps(rateBps int64) BankConfigOption {
	return func(config *BankConfig) {
		config.interestRateBps = rateBps
	}
}

// WithCreditScoreRange overrides the accepted score range and the score given to new accounts.
func WithCreditScoreRange(minimum int64, maximum int64, initial int64) BankConfigOption {
	return func(config *BankConfig) {
		config.minCreditScore = minimum
		config.maxCreditScore = maximum
		config.defaultCreditScore = initial
	}
}

// NewBankConfig validates the capacity cap and applies overrides on top of the defaults.
func NewBankConfig(capacityCap Amount, options ...BankConfigOption) (BankConfig, error) {
	config := BankConfig{
		capacityCap:        capacityCap,
		perWithdrawalCap:   defaultPerWithdrawalCap,
		minDeposit:         defaultMinDeposit,
		dailyWithdrawalCap: defaultDailyWithdrawalCap,
		interestRateBps:    defaultInterestRateBps,
		minCreditScore:     defaultMinCreditScore,
		maxCreditScore:     defaultMaxCreditScore,
		defaultCreditScore: defaultInitialCreditScore,
	}
	for _, option := range options {
		if option != nil {
			option(&config)
		}
	}
	if config.capacityCap.IsZero() {
		return BankConfig{}, fmt.Errorf("%w: capacity cap must be positive", ErrInvalidBankConfig)
	}
	if config.perWithdrawalCap.IsZero() {
		return BankConfig{}, fmt.Errorf("%w: per-withdrawal cap must be positive", ErrInvalidBankConfig)
	}
	if config.dailyWithdrawalCap.IsZero() {
		return BankConfig{}, fmt.Errorf("%w: daily withdrawal cap must be positive", ErrInvalidBankConfig)
	}
	if config.interestRateBps < 0 || config.interestRateBps > basisPointsDenominator {
		return BankConfig{}, fmt.Errorf("%w: interest rate %d bps out of range", ErrInvalidBankConfig, config.interestRateBps)
	}
	if config.minCreditScore > config.maxCreditScore {
		return BankConfig{}, fmt.Errorf("%w: credit score range [%d, %d]", ErrInvalidBankConfig, config.minCreditScore, config.maxCreditScore)
	}
	if config.defaultCreditScore < config.minCreditScore || config.defaultCreditScore > config.maxCreditScore {
		return BankConfig{}, fmt.Errorf("%w: default credit score %d outside range", ErrInvalidBankConfig, config.defaultCreditScore)
	}
	return config, nil
}

func (config BankConfig) CapacityCap() Amount        { return config.capacityCap }
func (config BankConfig) PerWithdrawalCap() Amount   { return config.perWithdrawalCap }
func (config BankConfig) MinDeposit() Amount         { return config.minDeposit }
func (config BankConfig) DailyWithdrawalCap() Amount { return config.dailyWithdrawalCap }
func (config BankConfig) InterestRateBps() int64     { return config.interestRateBps }
func (config BankConfig) MinCreditScore() int64      { return config.minCreditScore }
func (config BankConfig) MaxCreditScore() int64      { return config.maxCreditScore }
func (config BankConfig) DefaultCreditScore() int64  { return config.defaultCreditScore }
