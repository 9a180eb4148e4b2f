package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Identity identifies an account holder or an operator.
type Identity struct {
	value string
}

// NewIdentity validates and normalizes an identity.
func NewIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("%w: empty value", ErrInvalidIdentity)
	}
	return Identity{value: trimmed}, nil
}

// String returns the normalized identifier.
func (identity Identity) String() string {
	return identity.value
}

// IsZero reports whether the identity was never set.
func (identity Identity) IsZero() bool {
	return identity.value == ""
}

// Amount is a non-negative integer quantity of the native asset's smallest unit.
type Amount struct {
	value decimal.Decimal
}

// NewAmount validates that raw is a non-negative integer.
func NewAmount(raw decimal.Decimal) (Amount, error) {
	if raw.IsNegative() {
		return Amount{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	if !raw.IsInteger() {
		return Amount{}, fmt.Errorf("%w: must be a whole number of base units", ErrInvalidAmount)
	}
	return Amount{value: raw}, nil
}

// ParseAmount parses a base-unit amount such as "1000000000000000".
func ParseAmount(raw string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(parsed)
}

// ParseNativeAmount parses a whole-asset amount such as "0.001" into base units.
func ParseNativeAmount(raw string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(parsed.Shift(NativeDecimals))
}

// AmountFromInt64 builds an amount from a base-unit integer.
func AmountFromInt64(raw int64) (Amount, error) {
	return NewAmount(decimal.NewFromInt(raw))
}

// Decimal exposes the underlying value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// String renders the amount in base units.
func (amount Amount) String() string {
	return amount.value.String()
}

// IsZero reports whether the amount is zero.
func (amount Amount) IsZero() bool {
	return amount.value.IsZero()
}

// Cmp compares two amounts.
func (amount Amount) Cmp(other Amount) int {
	return amount.value.Cmp(other.value)
}

// GreaterThan reports amount > other.
func (amount Amount) GreaterThan(other Amount) bool {
	return amount.value.GreaterThan(other.value)
}

// Add returns amount + other.
func (amount Amount) Add(other Amount) Amount {
	return Amount{value: amount.value.Add(other.value)}
}

// Sub returns amount - other, rejecting negative results.
func (amount Amount) Sub(other Amount) (Amount, error) {
	return NewAmount(amount.value.Sub(other.value))
}

// MinAmount returns the smaller of two amounts.
func MinAmount(first Amount, second Amount) Amount {
	if first.Cmp(second) <= 0 {
		return first
	}
	return second
}

// MetadataJSON stores arbitrary transaction metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

func metadataFromValues(values map[string]string) MetadataJSON {
	encoded, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}
	}
	return MetadataJSON{value: string(encoded)}
}

// TransactionKind enumerates transaction log record kinds.
type TransactionKind string

const (
	TransactionDeposit             TransactionKind = "deposit"
	TransactionWithdrawal          TransactionKind = "withdrawal"
	TransactionEmergencyWithdrawal TransactionKind = "emergency_withdrawal"
	TransactionInterestPayment     TransactionKind = "interest_payment"
)

// ParseTransactionKind validates a stored kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(strings.TrimSpace(raw)) {
	case TransactionDeposit:
		return TransactionDeposit, nil
	case TransactionWithdrawal:
		return TransactionWithdrawal, nil
	case TransactionEmergencyWithdrawal:
		return TransactionEmergencyWithdrawal, nil
	case TransactionInterestPayment:
		return TransactionInterestPayment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
	}
}

// String returns the stored representation.
func (kind TransactionKind) String() string {
	return string(kind)
}

// RunState is the system-wide operating mode.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSuspended RunState = "suspended"
)

// ParseRunState validates a stored run state; empty input means running.
func ParseRunState(raw string) (RunState, error) {
	switch RunState(strings.TrimSpace(raw)) {
	case RunStateRunning, "":
		return RunStateRunning, nil
	case RunStateSuspended:
		return RunStateSuspended, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRunState, raw)
	}
}

// String returns the stored representation.
func (state RunState) String() string {
	return string(state)
}

// DayBucket indexes calendar days since the Unix epoch.
type DayBucket int64

// DayBucketAt returns floor(unixUTC / SecondsPerDay).
func DayBucketAt(unixUTC int64) DayBucket {
	bucket := unixUTC / SecondsPerDay
	if unixUTC < 0 && unixUTC%SecondsPerDay != 0 {
		bucket--
	}
	return DayBucket(bucket)
}

// Int64 returns the raw bucket index.
func (bucket DayBucket) Int64() int64 {
	return int64(bucket)
}

// Account is the per-identity ledger record.
type Account struct {
	Identity         Identity
	Balance          Amount
	TotalDeposited   Amount
	TotalWithdrawn   Amount
	LastDepositAt    int64
	LastWithdrawalAt int64
	CreditScore      int64
	Active           bool
}

// SystemState aggregates the process-wide counters and run state.
type SystemState struct {
	RunState        RunState
	Holdings        Amount
	DepositCount    int64
	WithdrawalCount int64
}

// TransactionInput describes a transaction before the store assigns its index.
type TransactionInput struct {
	identity       Identity
	kind           TransactionKind
	amount         Amount
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewTransactionInput validates a transaction about to be appended.
func NewTransactionInput(identity Identity, kind TransactionKind, amount Amount, metadata MetadataJSON, createdUnixUTC int64) (TransactionInput, error) {
	if identity.IsZero() {
		return TransactionInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdentity)
	}
	if _, err := ParseTransactionKind(kind.String()); err != nil {
		return TransactionInput{}, err
	}
	return TransactionInput{
		identity:       identity,
		kind:           kind,
		amount:         amount,
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// Identity returns the owning identity.
func (input TransactionInput) Identity() Identity { return input.identity }

// Kind returns the transaction kind.
func (input TransactionInput) Kind() TransactionKind { return input.kind }

// Amount returns the moved amount.
func (input TransactionInput) Amount() Amount { return input.amount }

// Metadata returns the attached metadata.
func (input TransactionInput) Metadata() MetadataJSON { return input.metadata }

// CreatedUnixUTC returns the record timestamp.
func (input TransactionInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Transaction is a single immutable line in the per-identity log.
type Transaction struct {
	TransactionInput
	index     int64
	processed bool
}

// NewTransaction assembles a stored transaction.
func NewTransaction(input TransactionInput, index int64, processed bool) (Transaction, error) {
	if index < 0 {
		return Transaction{}, fmt.Errorf("%w: %d", ErrInvalidTransactionIndex, index)
	}
	return Transaction{TransactionInput: input, index: index, processed: processed}, nil
}

// Index returns the position in the identity's log.
func (transaction Transaction) Index() int64 { return transaction.index }

// Processed reports whether the transaction completed.
func (transaction Transaction) Processed() bool { return transaction.processed }

// Payout instructs the transfer sink to move value out of custody.
type Payout struct {
	Recipient        Identity
	Amount           Amount
	Kind             TransactionKind
	TransactionIndex int64
}

// TransferSink delivers value to a recipient and acknowledges the outcome.
// Transfer runs before the store transaction commits; if that commit then
// fails, the delivered payout has no ledger record.
type TransferSink interface {
	Transfer(ctx context.Context, payout Payout) error
}

// PriceConverter turns native amounts into reference-currency fixed point.
type PriceConverter interface {
	ToReferenceCurrency(ctx context.Context, nativeAmount Amount, symbol string) (decimal.Decimal, error)
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LoadState(ctx context.Context) (SystemState, error)
	SaveState(ctx context.Context, state SystemState) error
	GetAccount(ctx context.Context, identity Identity) (Account, error)
	SaveAccount(ctx context.Context, account Account) error
	GetDailyWithdrawn(ctx context.Context, identity Identity, day DayBucket) (Amount, error)
	SaveDailyWithdrawn(ctx context.Context, identity Identity, day DayBucket, total Amount) error
	AppendTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	CountTransactions(ctx context.Context, identity Identity) (int64, error)
	GetTransaction(ctx context.Context, identity Identity, index int64) (Transaction, error)
	ListTransactions(ctx context.Context, identity Identity, offset int64, limit int) ([]Transaction, error)
}
