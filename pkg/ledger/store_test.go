package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type dailyKey struct {
	identity string
	day      DayBucket
}

type memoryData struct {
	state        SystemState
	accounts     map[string]Account
	daily        map[dailyKey]Amount
	transactions map[string][]Transaction
}

func (data *memoryData) clone() *memoryData {
	copied := &memoryData{
		state:        data.state,
		accounts:     make(map[string]Account, len(data.accounts)),
		daily:        make(map[dailyKey]Amount, len(data.daily)),
		transactions: make(map[string][]Transaction, len(data.transactions)),
	}
	for key, account := range data.accounts {
		copied.accounts[key] = account
	}
	for key, total := range data.daily {
		copied.daily[key] = total
	}
	for key, log := range data.transactions {
		copied.transactions[key] = append([]Transaction(nil), log...)
	}
	return copied
}

type memoryStore struct {
	mutex sync.Mutex
	data  *memoryData
}

func newMemoryStore(test *testing.T) *memoryStore {
	test.Helper()
	return &memoryStore{data: &memoryData{
		state:        SystemState{RunState: RunStateRunning},
		accounts:     map[string]Account{},
		daily:        map[dailyKey]Amount{},
		transactions: map[string][]Transaction{},
	}}
}

func (store *memoryStore) snapshot() *memoryData {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.data.clone()
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	working := store.data.clone()
	store.mutex.Unlock()
	txStore := &memoryStore{data: working}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	store.mutex.Lock()
	store.data = txStore.data
	store.mutex.Unlock()
	return nil
}

func (store *memoryStore) LoadState(context.Context) (SystemState, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.data.state, nil
}

func (store *memoryStore) SaveState(_ context.Context, state SystemState) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.data.state = state
	return nil
}

func (store *memoryStore) GetAccount(_ context.Context, identity Identity) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.data.accounts[identity.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *memoryStore) SaveAccount(_ context.Context, account Account) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.data.accounts[account.Identity.String()] = account
	return nil
}

func (store *memoryStore) GetDailyWithdrawn(_ context.Context, identity Identity, day DayBucket) (Amount, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.data.daily[dailyKey{identity: identity.String(), day: day}], nil
}

func (store *memoryStore) SaveDailyWithdrawn(_ context.Context, identity Identity, day DayBucket, total Amount) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.data.daily[dailyKey{identity: identity.String(), day: day}] = total
	return nil
}

func (store *memoryStore) AppendTransaction(_ context.Context, input TransactionInput) (Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	key := input.Identity().String()
	transaction, err := NewTransaction(input, int64(len(store.data.transactions[key])), true)
	if err != nil {
		return Transaction{}, err
	}
	store.data.transactions[key] = append(store.data.transactions[key], transaction)
	return transaction, nil
}

func (store *memoryStore) CountTransactions(_ context.Context, identity Identity) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return int64(len(store.data.transactions[identity.String()])), nil
}

func (store *memoryStore) GetTransaction(_ context.Context, identity Identity, index int64) (Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	log := store.data.transactions[identity.String()]
	if index < 0 || index >= int64(len(log)) {
		return Transaction{}, ErrUnknownTransaction
	}
	return log[index], nil
}

func (store *memoryStore) ListTransactions(_ context.Context, identity Identity, offset int64, limit int) ([]Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	log := store.data.transactions[identity.String()]
	if offset >= int64(len(log)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(log)) {
		end = int64(len(log))
	}
	return append([]Transaction(nil), log[offset:end]...), nil
}

type failingStore struct {
	*memoryStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{memoryStore: newMemoryStore(test), err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.memoryStore.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return fn(ctx, &failingStore{memoryStore: txStore.(*memoryStore), err: store.err})
	})
}

func (store *failingStore) SaveState(context.Context, SystemState) error {
	return store.err
}

type recordingSink struct {
	mutex   sync.Mutex
	payouts []Payout
	err     error
	onPay   func(ctx context.Context, payout Payout)
	decide  func(ctx context.Context, payout Payout) error
}

func (sink *recordingSink) Transfer(ctx context.Context, payout Payout) error {
	if sink.onPay != nil {
		sink.onPay(ctx, payout)
	}
	if sink.decide != nil {
		if err := sink.decide(ctx, payout); err != nil {
			return err
		}
	}
	if sink.err != nil {
		return sink.err
	}
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	sink.payouts = append(sink.payouts, payout)
	return nil
}

func (sink *recordingSink) recorded() []Payout {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	return append([]Payout(nil), sink.payouts...)
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

var errStoreDown = errors.New("store down")

type serviceFixture struct {
	store   *memoryStore
	sink    *recordingSink
	logger  *recorderLogger
	clock   *int64
	service *Service
}

const (
	fixtureAdmin     = "admin-1"
	fixturePauser    = "pauser-1"
	fixtureTreasurer = "treasurer-1"
	fixtureStartUnix = int64(1_700_000_000)
)

func newServiceFixture(test *testing.T, options ...BankConfigOption) *serviceFixture {
	test.Helper()
	store := newMemoryStore(test)
	sink := &recordingSink{}
	logger := &recorderLogger{}
	clock := fixtureStartUnix
	gate := mustGate(test, map[Capability][]Identity{
		CapabilityAdministrator: {mustIdentity(test, fixtureAdmin)},
		CapabilityPauser:        {mustIdentity(test, fixturePauser)},
		CapabilityTreasurer:     {mustIdentity(test, fixtureTreasurer)},
	})
	config, err := NewBankConfig(mustNative(test, "1000"), options...)
	if err != nil {
		test.Fatalf("bank config: %v", err)
	}
	service, err := NewService(store, gate, sink, config, func() int64 { return clock }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return &serviceFixture{store: store, sink: sink, logger: logger, clock: &clock, service: service}
}

func (fixture *serviceFixture) advance(seconds int64) {
	*fixture.clock += seconds
}

func mustGate(test *testing.T, grants map[Capability][]Identity) *Gate {
	test.Helper()
	gate, err := NewGate(NewCapabilitySet(grants))
	if err != nil {
		test.Fatalf("gate: %v", err)
	}
	return gate
}

func mustIdentity(test *testing.T, raw string) Identity {
	test.Helper()
	identity, err := NewIdentity(raw)
	if err != nil {
		test.Fatalf("identity %q: %v", raw, err)
	}
	return identity
}

func mustNative(test *testing.T, raw string) Amount {
	test.Helper()
	amount, err := ParseNativeAmount(raw)
	if err != nil {
		test.Fatalf("native amount %q: %v", raw, err)
	}
	return amount
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	amount, err := ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount %q: %v", raw, err)
	}
	return amount
}
