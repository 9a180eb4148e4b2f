package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CalculateInterest returns the simple interest accrued since the last deposit, truncated toward zero.
func (service *Service) CalculateInterest(ctx context.Context, identity Identity) (Amount, error) {
	account, err := service.loadAccount(ctx, service.reader(ctx), identity)
	if err != nil {
		return Amount{}, err
	}
	interest, _ := service.accruedInterest(account, service.nowFn())
	return interest, nil
}

// PayInterest pays accrued interest out of holdings and restarts accrual.
// Anyone may trigger it for any identity.
func (service *Service) PayInterest(ctx context.Context, identity Identity) (Amount, error) {
	var interest Amount
	var metadata MetadataJSON
	operationError := service.execute(ctx, func(ctx context.Context, txStore Store) error {
		if identity.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidIdentity)
		}
		state, err := txStore.LoadState(ctx)
		if err != nil {
			return err
		}
		if err := requireRunState(state, RunStateRunning); err != nil {
			return err
		}
		account, err := service.loadAccount(ctx, txStore, identity)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		accrued, elapsedDays := service.accruedInterest(account, nowUnixUTC)
		if accrued.IsZero() {
			return nil
		}
		remainingHoldings, err := state.Holdings.Sub(accrued)
		if err != nil {
			return fmt.Errorf("%w: interest %s exceeds holdings %s", ErrInsufficientLiquidity, accrued, state.Holdings)
		}
		account.LastDepositAt = nowUnixUTC
		state.Holdings = remainingHoldings
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		if err := txStore.SaveState(ctx, state); err != nil {
			return err
		}
		metadata = metadataFromValues(map[string]string{
			metadataKeyDays:    formatInt64(elapsedDays),
			metadataKeyRateBps: formatInt64(service.config.interestRateBps),
		})
		recorded, err := service.appendTransaction(ctx, txStore, identity, TransactionInterestPayment, accrued, metadata, nowUnixUTC)
		if err != nil {
			return err
		}
		if err := service.transfer(ctx, identity, accrued, recorded); err != nil {
			return err
		}
		interest = accrued
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPayInterest,
		Identity:  identity,
		Amount:    interest,
		Metadata:  metadata,
		Error:     operationError,
	})
	if operationError != nil {
		return Amount{}, operationError
	}
	return interest, nil
}

func (service *Service) accruedInterest(account Account, nowUnixUTC int64) (Amount, int64) {
	if !account.Active || account.TotalDeposited.IsZero() {
		return Amount{}, 0
	}
	elapsedSeconds := nowUnixUTC - account.LastDepositAt
	if elapsedSeconds <= 0 {
		return Amount{}, 0
	}
	elapsedDays := elapsedSeconds / SecondsPerDay
	numerator := account.TotalDeposited.Decimal().
		Mul(decimal.NewFromInt(service.config.interestRateBps)).
		Mul(decimal.NewFromInt(elapsedDays))
	denominator := decimal.NewFromInt(basisPointsDenominator * daysPerYear)
	quotient, _ := numerator.QuoRem(denominator, 0)
	return Amount{value: quotient}, elapsedDays
}
