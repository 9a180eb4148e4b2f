package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionIdentitySeq = "uniq_transaction_identity_seq"
	defaultMetadataJSON              = "{}"
	pgUniqueViolationCode            = "23505"
	sqliteConstraintCode             = 19
	errorOperationStore              = "store"
	errorSubjectAccount              = "account"
	errorSubjectDaily                = "daily_withdrawal"
	errorSubjectState                = "state"
	errorSubjectTransaction          = "transaction"
	errorCodeCount                   = "count"
	errorCodeDuplicate               = "duplicate"
	errorCodeGet                     = "get"
	errorCodeInsert                  = "insert"
	errorCodeInvalid                 = "invalid"
	errorCodeList                    = "list"
	errorCodeSave                    = "save"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, inTx: true})
	})
}

func (store *Store) LoadState(ctx context.Context) (ledger.SystemState, error) {
	query := store.db.WithContext(ctx)
	if store.inTx {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row SystemStateRow
	err := query.Where("id = ?", systemStateRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.SystemState{RunState: ledger.RunStateRunning}, nil
	}
	if err != nil {
		return ledger.SystemState{}, wrapStoreError(errorSubjectState, errorCodeGet, err)
	}
	runState, err := ledger.ParseRunState(row.RunState)
	if err != nil {
		return ledger.SystemState{}, wrapStoreError(errorSubjectState, errorCodeInvalid, err)
	}
	holdings, err := ledger.ParseAmount(row.Holdings)
	if err != nil {
		return ledger.SystemState{}, wrapStoreError(errorSubjectState, errorCodeInvalid, err)
	}
	return ledger.SystemState{
		RunState:        runState,
		Holdings:        holdings,
		DepositCount:    row.DepositCount,
		WithdrawalCount: row.WithdrawalCount,
	}, nil
}

func (store *Store) SaveState(ctx context.Context, state ledger.SystemState) error {
	row := SystemStateRow{
		ID:              systemStateRowID,
		RunState:        state.RunState.String(),
		Holdings:        state.Holdings.String(),
		DepositCount:    state.DepositCount,
		WithdrawalCount: state.WithdrawalCount,
		UpdatedAt:       time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectState, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, identity ledger.Identity) (ledger.Account, error) {
	var row AccountRow
	err := store.db.WithContext(ctx).Where("account_identity = ?", identity.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(row)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) SaveAccount(ctx context.Context, account ledger.Account) error {
	row := AccountRow{
		Identity:         account.Identity.String(),
		Balance:          account.Balance.String(),
		TotalDeposited:   account.TotalDeposited.String(),
		TotalWithdrawn:   account.TotalWithdrawn.String(),
		LastDepositAt:    account.LastDepositAt,
		LastWithdrawalAt: account.LastWithdrawalAt,
		CreditScore:      account.CreditScore,
		Active:           account.Active,
		UpdatedAt:        time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetDailyWithdrawn(ctx context.Context, identity ledger.Identity, day ledger.DayBucket) (ledger.Amount, error) {
	var row DailyWithdrawalRow
	err := store.db.WithContext(ctx).
		Where("account_identity = ? AND day_bucket = ?", identity.String(), day.Int64()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Amount{}, nil
	}
	if err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectDaily, errorCodeGet, err)
	}
	total, err := ledger.ParseAmount(row.Total)
	if err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectDaily, errorCodeInvalid, err)
	}
	return total, nil
}

func (store *Store) SaveDailyWithdrawn(ctx context.Context, identity ledger.Identity, day ledger.DayBucket, total ledger.Amount) error {
	row := DailyWithdrawalRow{Identity: identity.String(), DayBucket: day.Int64(), Total: total.String()}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectDaily, errorCodeSave, err)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	count, err := store.CountTransactions(ctx, input.Identity())
	if err != nil {
		return ledger.Transaction{}, err
	}
	row := TransactionRow{
		Identity:  input.Identity().String(),
		Seq:       count,
		Kind:      input.Kind().String(),
		Amount:    input.Amount().String(),
		Processed: true,
		Metadata:  datatypesJSON(input.Metadata().String()),
		CreatedAt: time.Unix(input.CreatedUnixUTC(), 0).UTC(),
	}
	err = store.db.WithContext(ctx).Create(&row).Error
	if isSequenceConflict(err) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, err)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := ledger.NewTransaction(input, count, row.Processed)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) CountTransactions(ctx context.Context, identity ledger.Identity) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&TransactionRow{}).
		Where("account_identity = ?", identity.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) GetTransaction(ctx context.Context, identity ledger.Identity, index int64) (ledger.Transaction, error) {
	var row TransactionRow
	err := store.db.WithContext(ctx).
		Where("account_identity = ? AND seq = ?", identity.String(), index).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
		}
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) ListTransactions(ctx context.Context, identity ledger.Identity, offset int64, limit int) ([]ledger.Transaction, error) {
	var rows []TransactionRow
	err := store.db.WithContext(ctx).
		Where("account_identity = ? AND seq >= ?", identity.String(), offset).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(row AccountRow) (ledger.Account, error) {
	identity, err := ledger.NewIdentity(row.Identity)
	if err != nil {
		return ledger.Account{}, err
	}
	balance, err := ledger.ParseAmount(row.Balance)
	if err != nil {
		return ledger.Account{}, err
	}
	totalDeposited, err := ledger.ParseAmount(row.TotalDeposited)
	if err != nil {
		return ledger.Account{}, err
	}
	totalWithdrawn, err := ledger.ParseAmount(row.TotalWithdrawn)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		Identity:         identity,
		Balance:          balance,
		TotalDeposited:   totalDeposited,
		TotalWithdrawn:   totalWithdrawn,
		LastDepositAt:    row.LastDepositAt,
		LastWithdrawalAt: row.LastWithdrawalAt,
		CreditScore:      row.CreditScore,
		Active:           row.Active,
	}, nil
}

func mapTransaction(row TransactionRow) (ledger.Transaction, error) {
	identity, err := ledger.NewIdentity(row.Identity)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := ledger.ParseAmount(row.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	input, err := ledger.NewTransactionInput(identity, kind, amount, metadata, row.CreatedAt.Unix())
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.NewTransaction(input, row.Seq, row.Processed)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isSequenceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionIdentitySeq
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
