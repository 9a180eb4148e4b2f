package ledger

import (
	"context"
	"fmt"
)

// UpdateCreditScore sets identity's score; the account is created inactive when missing.
func (service *Service) UpdateCreditScore(ctx context.Context, caller Identity, identity Identity, score int64) (Account, error) {
	var updated Account
	operationError := service.execute(ctx, func(ctx context.Context, txStore Store) error {
		if err := service.gate.Require(ctx, caller, CapabilityAdministrator); err != nil {
			return err
		}
		if identity.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidIdentity)
		}
		if score < service.config.minCreditScore || score > service.config.maxCreditScore {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrCreditScoreOutOfRange, score, service.config.minCreditScore, service.config.maxCreditScore)
		}
		account, err := service.loadAccount(ctx, txStore, identity)
		if err != nil {
			return err
		}
		account.CreditScore = score
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateCreditScore,
		Caller:    caller,
		Identity:  identity,
		Error:     operationError,
	})
	return updated, operationError
}

// FundReserve adds liquidity to holdings without crediting any account.
func (service *Service) FundReserve(ctx context.Context, caller Identity, amount Amount) (SystemState, error) {
	var updated SystemState
	operationError := service.execute(ctx, func(ctx context.Context, txStore Store) error {
		if err := service.gate.Require(ctx, caller, CapabilityTreasurer); err != nil {
			return err
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
		}
		state, err := txStore.LoadState(ctx)
		if err != nil {
			return err
		}
		projectedHoldings := state.Holdings.Add(amount)
		if projectedHoldings.GreaterThan(service.config.capacityCap) {
			return fmt.Errorf("%w: %s > %s", ErrCapacityExceeded, projectedHoldings, service.config.capacityCap)
		}
		state.Holdings = projectedHoldings
		if err := txStore.SaveState(ctx, state); err != nil {
			return err
		}
		updated = state
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationFundReserve,
		Caller:    caller,
		Amount:    amount,
		Error:     operationError,
	})
	return updated, operationError
}

// Suspend halts deposits, withdrawals and interest payouts.
func (service *Service) Suspend(ctx context.Context, caller Identity) error {
	operationError := service.transitionRunState(ctx, caller, RunStateRunning, RunStateSuspended)
	service.logOperation(ctx, OperationLog{Operation: operationSuspend, Caller: caller, Error: operationError})
	return operationError
}

// Resume returns the system to normal operation.
func (service *Service) Resume(ctx context.Context, caller Identity) error {
	operationError := service.transitionRunState(ctx, caller, RunStateSuspended, RunStateRunning)
	service.logOperation(ctx, OperationLog{Operation: operationResume, Caller: caller, Error: operationError})
	return operationError
}

func (service *Service) transitionRunState(ctx context.Context, caller Identity, from RunState, to RunState) error {
	return service.execute(ctx, func(ctx context.Context, txStore Store) error {
		if err := service.gate.Require(ctx, caller, CapabilityPauser); err != nil {
			return err
		}
		state, err := txStore.LoadState(ctx)
		if err != nil {
			return err
		}
		if err := requireRunState(state, from); err != nil {
			return err
		}
		state.RunState = to
		return txStore.SaveState(ctx, state)
	})
}
