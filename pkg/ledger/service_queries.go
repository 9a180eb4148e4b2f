package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

const maxListLimit = 1000

// State returns the process-wide aggregate.
func (service *Service) State(ctx context.Context) (SystemState, error) {
	return service.reader(ctx).LoadState(ctx)
}

// RunState returns the current operating mode.
func (service *Service) RunState(ctx context.Context) (RunState, error) {
	state, err := service.State(ctx)
	if err != nil {
		return "", err
	}
	return state.RunState, nil
}

// Account returns identity's snapshot; unknown identities get a blank inactive account.
func (service *Service) Account(ctx context.Context, identity Identity) (Account, error) {
	if identity.IsZero() {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidIdentity)
	}
	return service.loadAccount(ctx, service.reader(ctx), identity)
}

// Transaction returns the index-th transaction of identity.
func (service *Service) Transaction(ctx context.Context, identity Identity, index int64) (Transaction, error) {
	if index < 0 {
		return Transaction{}, fmt.Errorf("%w: %d", ErrInvalidTransactionIndex, index)
	}
	return service.reader(ctx).GetTransaction(ctx, identity, index)
}

// TransactionCount returns the number of transactions logged for identity.
func (service *Service) TransactionCount(ctx context.Context, identity Identity) (int64, error) {
	return service.reader(ctx).CountTransactions(ctx, identity)
}

// ListTransactions pages through identity's log in insertion order.
func (service *Service) ListTransactions(ctx context.Context, identity Identity, offset int64, limit int) ([]Transaction, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset %d", ErrInvalidTransactionIndex, offset)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return service.reader(ctx).ListTransactions(ctx, identity, offset, limit)
}

// DailyWithdrawn returns the total withdrawn by identity during day.
func (service *Service) DailyWithdrawn(ctx context.Context, identity Identity, day DayBucket) (Amount, error) {
	return service.reader(ctx).GetDailyWithdrawn(ctx, identity, day)
}

// AccountValue converts identity's balance into the reference currency.
func (service *Service) AccountValue(ctx context.Context, identity Identity, symbol string) (decimal.Decimal, error) {
	if service.converter == nil {
		return decimal.Zero, fmt.Errorf("%w: price converter not configured", ErrInvalidServiceConfig)
	}
	account, err := service.Account(ctx, identity)
	if err != nil {
		return decimal.Zero, err
	}
	return service.converter.ToReferenceCurrency(ctx, account.Balance, symbol)
}
