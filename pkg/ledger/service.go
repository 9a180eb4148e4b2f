package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Service contains the domain logic over a Store.
type Service struct {
	store     Store
	gate      *Gate
	sink      TransferSink
	config    BankConfig
	nowFn     func() int64
	logger    OperationLogger
	converter PriceConverter
	mutex     sync.Mutex
}

type txScopeKey struct{}

type txScope struct {
	owner *Service
	store Store
}

// NewService wires a Service.
func NewService(store Store, gate *Gate, sink TransferSink, config BankConfig, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if gate == nil {
		return nil, fmt.Errorf("%w: gate dependency is nil", ErrInvalidServiceConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: transfer sink dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if config.capacityCap.IsZero() {
		return nil, fmt.Errorf("%w: bank config not initialized", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, gate: gate, sink: sink, config: config, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Config returns the construction-time limits.
func (service *Service) Config() BankConfig {
	return service.config
}

// execute runs fn exclusively inside one store transaction. A call made from
// inside a running operation (a re-entrant transfer sink) runs in a nested
// transaction of the active one, so its failure discards only its own effects.
func (service *Service) execute(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if scope, ok := service.activeScope(ctx); ok {
		return scope.store.WithTx(ctx, service.scoped(fn))
	}
	service.mutex.Lock()
	defer service.mutex.Unlock()
	return service.store.WithTx(ctx, service.scoped(fn))
}

func (service *Service) scoped(fn func(ctx context.Context, txStore Store) error) func(ctx context.Context, txStore Store) error {
	return func(ctx context.Context, txStore Store) error {
		scopedContext := context.WithValue(ctx, txScopeKey{}, &txScope{owner: service, store: txStore})
		return fn(scopedContext, txStore)
	}
}

func (service *Service) activeScope(ctx context.Context) (*txScope, bool) {
	scope, ok := ctx.Value(txScopeKey{}).(*txScope)
	if !ok || scope.owner != service {
		return nil, false
	}
	return scope, true
}

func (service *Service) reader(ctx context.Context) Store {
	if scope, ok := service.activeScope(ctx); ok {
		return scope.store
	}
	return service.store
}

// Deposit credits amount to identity.
func (service *Service) Deposit(ctx context.Context, identity Identity, amount Amount) (Transaction, error) {
	var recorded Transaction
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
		if amount.Cmp(service.config.minDeposit) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrBelowMinimumDeposit, amount, service.config.minDeposit)
		}
		projectedHoldings := state.Holdings.Add(amount)
		if projectedHoldings.GreaterThan(service.config.capacityCap) {
			return fmt.Errorf("%w: %s > %s", ErrCapacityExceeded, projectedHoldings, service.config.capacityCap)
		}
		account, err := service.loadAccount(ctx, txStore, identity)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		account.Balance = account.Balance.Add(amount)
		account.TotalDeposited = account.TotalDeposited.Add(amount)
		account.LastDepositAt = nowUnixUTC
		account.Active = true
		state.Holdings = projectedHoldings
		state.DepositCount++
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		if err := txStore.SaveState(ctx, state); err != nil {
			return err
		}
		recorded, err = service.appendTransaction(ctx, txStore, identity, TransactionDeposit, amount, MetadataJSON{}, nowUnixUTC)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeposit,
		Caller:    identity,
		Identity:  identity,
		Amount:    amount,
		Error:     operationError,
	})
	return recorded, operationError
}

// Withdraw debits amount from identity and pays it out.
func (service *Service) Withdraw(ctx context.Context, identity Identity, amount Amount) (Transaction, error) {
	var recorded Transaction
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
		if amount.IsZero() {
			return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
		}
		account, err := service.loadAccount(ctx, txStore, identity)
		if err != nil {
			return err
		}
		if amount.GreaterThan(account.Balance) {
			return fmt.Errorf("%w: %s > %s", ErrExceedsBalance, amount, account.Balance)
		}
		if amount.GreaterThan(service.config.perWithdrawalCap) {
			return fmt.Errorf("%w: %s > %s", ErrExceedsPerWithdrawalCap, amount, service.config.perWithdrawalCap)
		}
		nowUnixUTC := service.nowFn()
		day := DayBucketAt(nowUnixUTC)
		withdrawnToday, err := txStore.GetDailyWithdrawn(ctx, identity, day)
		if err != nil {
			return err
		}
		projectedDaily := withdrawnToday.Add(amount)
		if projectedDaily.GreaterThan(service.config.dailyWithdrawalCap) {
			return fmt.Errorf("%w: %s > %s", ErrDailyLimitExceeded, projectedDaily, service.config.dailyWithdrawalCap)
		}
		remainingBalance, err := account.Balance.Sub(amount)
		if err != nil {
			return err
		}
		remainingHoldings, err := state.Holdings.Sub(amount)
		if err != nil {
			return fmt.Errorf("%w: holdings below account balance", ErrInsufficientLiquidity)
		}
		account.Balance = remainingBalance
		account.TotalWithdrawn = account.TotalWithdrawn.Add(amount)
		account.LastWithdrawalAt = nowUnixUTC
		state.Holdings = remainingHoldings
		state.WithdrawalCount++
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		if err := txStore.SaveDailyWithdrawn(ctx, identity, day, projectedDaily); err != nil {
			return err
		}
		if err := txStore.SaveState(ctx, state); err != nil {
			return err
		}
		recorded, err = service.appendTransaction(ctx, txStore, identity, TransactionWithdrawal, amount, MetadataJSON{}, nowUnixUTC)
		if err != nil {
			return err
		}
		return service.transfer(ctx, identity, amount, recorded)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationWithdraw,
		Caller:    identity,
		Identity:  identity,
		Amount:    amount,
		Error:     operationError,
	})
	return recorded, operationError
}

// EmergencyWithdraw drains up to amount of holdings to the recipient while suspended.
func (service *Service) EmergencyWithdraw(ctx context.Context, caller Identity, recipient Identity, amount Amount) (Transaction, error) {
	var recorded Transaction
	var transferred Amount
	operationError := service.execute(ctx, func(ctx context.Context, txStore Store) error {
		if err := service.gate.Require(ctx, caller, CapabilityTreasurer); err != nil {
			return err
		}
		if recipient.IsZero() {
			return fmt.Errorf("%w: empty recipient", ErrInvalidIdentity)
		}
		state, err := txStore.LoadState(ctx)
		if err != nil {
			return err
		}
		if err := requireRunState(state, RunStateSuspended); err != nil {
			return err
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
		}
		if state.Holdings.IsZero() {
			return fmt.Errorf("%w: no holdings to drain", ErrInsufficientLiquidity)
		}
		transferred = MinAmount(amount, state.Holdings)
		remainingHoldings, err := state.Holdings.Sub(transferred)
		if err != nil {
			return err
		}
		state.Holdings = remainingHoldings
		if err := txStore.SaveState(ctx, state); err != nil {
			return err
		}
		metadata := metadataFromValues(map[string]string{metadataKeyRequested: amount.String()})
		recorded, err = service.appendTransaction(ctx, txStore, recipient, TransactionEmergencyWithdrawal, transferred, metadata, service.nowFn())
		if err != nil {
			return err
		}
		return service.transfer(ctx, recipient, transferred, recorded)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationEmergencyWithdraw,
		Caller:    caller,
		Identity:  recipient,
		Amount:    transferred,
		Metadata:  recorded.Metadata(),
		Error:     operationError,
	})
	return recorded, operationError
}

func (service *Service) loadAccount(ctx context.Context, txStore Store, identity Identity) (Account, error) {
	account, err := txStore.GetAccount(ctx, identity)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, ErrAccountNotFound) {
		return service.blankAccount(identity), nil
	}
	return Account{}, err
}

func (service *Service) blankAccount(identity Identity) Account {
	return Account{Identity: identity, CreditScore: service.config.defaultCreditScore}
}

func (service *Service) appendTransaction(ctx context.Context, txStore Store, identity Identity, kind TransactionKind, amount Amount, metadata MetadataJSON, nowUnixUTC int64) (Transaction, error) {
	input, err := NewTransactionInput(identity, kind, amount, metadata, nowUnixUTC)
	if err != nil {
		return Transaction{}, err
	}
	return txStore.AppendTransaction(ctx, input)
}

// transfer is always the final step of an operation; a rejected payout aborts the transaction.
func (service *Service) transfer(ctx context.Context, recipient Identity, amount Amount, recorded Transaction) error {
	payout := Payout{
		Recipient:        recipient,
		Amount:           amount,
		Kind:             recorded.Kind(),
		TransactionIndex: recorded.Index(),
	}
	if err := service.sink.Transfer(ctx, payout); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
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
	service.logger.LogOperation(ctx, entry)
}

func formatInt64(value int64) string {
	return strconv.FormatInt(value, 10)
}
