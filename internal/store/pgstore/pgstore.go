package pgstore

import (
	"context"
	_ "embed"
	"errors"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintTransactionIdentitySeq = "uniq_transaction_identity_seq"
	pgUniqueViolationCode            = "23505"
	systemStateRowID                 = 1
	errorOperationStore              = "store"
	errorSubjectAccount              = "account"
	errorSubjectDaily                = "daily_withdrawal"
	errorSubjectSchema               = "schema"
	errorSubjectState                = "state"
	errorSubjectTransaction          = "transaction"
	errorCodeApply                   = "apply"
	errorCodeBegin                   = "begin"
	errorCodeCommit                  = "commit"
	errorCodeCount                   = "count"
	errorCodeDuplicate               = "duplicate"
	errorCodeGet                     = "get"
	errorCodeInsert                  = "insert"
	errorCodeInvalid                 = "invalid"
	errorCodeList                    = "list"
	errorCodeSave                    = "save"

	sqlSelectState = `
		select run_state, holdings::text, deposit_count, withdrawal_count
		from system_state
		where id = $1
	`

	sqlSelectStateForUpdate = sqlSelectState + ` for update`

	sqlUpsertState = `
		insert into system_state(id, run_state, holdings, deposit_count, withdrawal_count, updated_at)
		values ($1, $2, $3::numeric, $4, $5, now())
		on conflict (id) do update set
			run_state = excluded.run_state,
			holdings = excluded.holdings,
			deposit_count = excluded.deposit_count,
			withdrawal_count = excluded.withdrawal_count,
			updated_at = excluded.updated_at
	`

	sqlSelectAccount = `
		select account_identity, balance::text, total_deposited::text, total_withdrawn::text,
			last_deposit_at, last_withdrawal_at, credit_score, active
		from accounts
		where account_identity = $1
	`

	sqlUpsertAccount = `
		insert into accounts(
			account_identity, balance, total_deposited, total_withdrawn,
			last_deposit_at, last_withdrawal_at, credit_score, active, updated_at
		)
		values ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7, $8, now())
		on conflict (account_identity) do update set
			balance = excluded.balance,
			total_deposited = excluded.total_deposited,
			total_withdrawn = excluded.total_withdrawn,
			last_deposit_at = excluded.last_deposit_at,
			last_withdrawal_at = excluded.last_withdrawal_at,
			credit_score = excluded.credit_score,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	sqlSelectDaily = `
		select total::text from daily_withdrawals
		where account_identity = $1 and day_bucket = $2
	`

	sqlUpsertDaily = `
		insert into daily_withdrawals(account_identity, day_bucket, total)
		values ($1, $2, $3::numeric)
		on conflict (account_identity, day_bucket) do update set total = excluded.total
	`

	sqlCountTransactions = `
		select count(*) from ledger_transactions where account_identity = $1
	`

	sqlInsertTransaction = `
		insert into ledger_transactions(account_identity, seq, kind, amount, processed, metadata, created_at)
		values ($1, $2, $3, $4::numeric, true, coalesce(nullif($5,''),'{}')::jsonb, to_timestamp($6))
	`

	sqlTransactionColumns = `
		select
			account_identity,
			seq,
			kind,
			amount::text,
			processed,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from ledger_transactions
	`

	sqlSelectTransaction = sqlTransactionColumns + `
		where account_identity = $1 and seq = $2
	`

	sqlListTransactions = sqlTransactionColumns + `
		where account_identity = $1 and seq >= $2
		order by seq asc
		limit $3
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// EnsureSchema creates the ledger tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx, locking: true}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx runs fn under a savepoint of the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	savepoint, err := store.tx.Begin(ctx)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	nestedStore := &TxStore{queries: queries{db: savepoint, locking: true}, tx: savepoint}
	if err := fn(ctx, nestedStore); err != nil {
		_ = savepoint.Rollback(ctx)
		return err
	}
	if err := savepoint.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

type queries struct {
	db      querier
	locking bool
}

func (q queries) LoadState(ctx context.Context) (ledger.SystemState, error) {
	statement := sqlSelectState
	if q.locking {
		statement = sqlSelectStateForUpdate
	}
	var (
		runStateValue   string
		holdingsValue   string
		depositCount    int64
		withdrawalCount int64
	)
	err := q.db.QueryRow(ctx, statement, systemStateRowID).Scan(&runStateValue, &holdingsValue, &depositCount, &withdrawalCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.SystemState{RunState: ledger.RunStateRunning}, nil
	}
	if err != nil {
		return ledger.SystemState{}, wrapStoreError(errorSubjectState, errorCodeGet, err)
	}
	runState, err := ledger.ParseRunState(runStateValue)
	if err != nil {
		return ledger.SystemState{}, wrapStoreError(errorSubjectState, errorCodeInvalid, err)
	}
	holdings, err := ledger.ParseAmount(holdingsValue)
	if err != nil {
		return ledger.SystemState{}, wrapStoreError(errorSubjectState, errorCodeInvalid, err)
	}
	return ledger.SystemState{
		RunState:        runState,
		Holdings:        holdings,
		DepositCount:    depositCount,
		WithdrawalCount: withdrawalCount,
	}, nil
}

func (q queries) SaveState(ctx context.Context, state ledger.SystemState) error {
	_, err := q.db.Exec(ctx, sqlUpsertState,
		systemStateRowID,
		state.RunState.String(),
		state.Holdings.String(),
		state.DepositCount,
		state.WithdrawalCount,
	)
	if err != nil {
		return wrapStoreError(errorSubjectState, errorCodeSave, err)
	}
	return nil
}

func (q queries) GetAccount(ctx context.Context, identity ledger.Identity) (ledger.Account, error) {
	var (
		identityValue       string
		balanceValue        string
		totalDepositedValue string
		totalWithdrawnValue string
		account             ledger.Account
	)
	err := q.db.QueryRow(ctx, sqlSelectAccount, identity.String()).Scan(
		&identityValue,
		&balanceValue,
		&totalDepositedValue,
		&totalWithdrawnValue,
		&account.LastDepositAt,
		&account.LastWithdrawalAt,
		&account.CreditScore,
		&account.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	if account.Identity, err = ledger.NewIdentity(identityValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if account.Balance, err = ledger.ParseAmount(balanceValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if account.TotalDeposited, err = ledger.ParseAmount(totalDepositedValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if account.TotalWithdrawn, err = ledger.ParseAmount(totalWithdrawnValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (q queries) SaveAccount(ctx context.Context, account ledger.Account) error {
	_, err := q.db.Exec(ctx, sqlUpsertAccount,
		account.Identity.String(),
		account.Balance.String(),
		account.TotalDeposited.String(),
		account.TotalWithdrawn.String(),
		account.LastDepositAt,
		account.LastWithdrawalAt,
		account.CreditScore,
		account.Active,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	return nil
}

func (q queries) GetDailyWithdrawn(ctx context.Context, identity ledger.Identity, day ledger.DayBucket) (ledger.Amount, error) {
	var totalValue string
	err := q.db.QueryRow(ctx, sqlSelectDaily, identity.String(), day.Int64()).Scan(&totalValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Amount{}, nil
	}
	if err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectDaily, errorCodeGet, err)
	}
	total, err := ledger.ParseAmount(totalValue)
	if err != nil {
		return ledger.Amount{}, wrapStoreError(errorSubjectDaily, errorCodeInvalid, err)
	}
	return total, nil
}

func (q queries) SaveDailyWithdrawn(ctx context.Context, identity ledger.Identity, day ledger.DayBucket, total ledger.Amount) error {
	if _, err := q.db.Exec(ctx, sqlUpsertDaily, identity.String(), day.Int64(), total.String()); err != nil {
		return wrapStoreError(errorSubjectDaily, errorCodeSave, err)
	}
	return nil
}

func (q queries) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	count, err := q.CountTransactions(ctx, input.Identity())
	if err != nil {
		return ledger.Transaction{}, err
	}
	_, err = q.db.Exec(ctx, sqlInsertTransaction,
		input.Identity().String(),
		count,
		input.Kind().String(),
		input.Amount().String(),
		input.Metadata().String(),
		input.CreatedUnixUTC(),
	)
	if isSequenceConflict(err) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, err)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := ledger.NewTransaction(input, count, true)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (q queries) CountTransactions(ctx context.Context, identity ledger.Identity) (int64, error) {
	var count int64
	if err := q.db.QueryRow(ctx, sqlCountTransactions, identity.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

func (q queries) GetTransaction(ctx context.Context, identity ledger.Identity, index int64) (ledger.Transaction, error) {
	rows, err := q.db.Query(ctx, sqlSelectTransaction, identity.String(), index)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	if len(transactions) == 0 {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
	}
	return transactions[0], nil
}

func (q queries) ListTransactions(ctx context.Context, identity ledger.Identity, offset int64, limit int) ([]ledger.Transaction, error) {
	rows, err := q.db.Query(ctx, sqlListTransactions, identity.String(), offset, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactions, nil
}

func scanTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	transactions := make([]ledger.Transaction, 0, 32)
	for rows.Next() {
		var (
			identityValue    string
			seq              int64
			kindValue        string
			amountValue      string
			processed        bool
			metadataValue    string
			createdAtUnixUTC int64
		)
		if err := rows.Scan(
			&identityValue,
			&seq,
			&kindValue,
			&amountValue,
			&processed,
			&metadataValue,
			&createdAtUnixUTC,
		); err != nil {
			return nil, err
		}
		identity, err := ledger.NewIdentity(identityValue)
		if err != nil {
			return nil, err
		}
		kind, err := ledger.ParseTransactionKind(kindValue)
		if err != nil {
			return nil, err
		}
		amount, err := ledger.ParseAmount(amountValue)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		input, err := ledger.NewTransactionInput(identity, kind, amount, metadata, createdAtUnixUTC)
		if err != nil {
			return nil, err
		}
		transaction, err := ledger.NewTransaction(input, seq, processed)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isSequenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionIdentitySeq
	}
	return false
}
