package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Amounts are stored as base-10 text; they exceed int64 and sqlite would coerce wide numerics to REAL.

const systemStateRowID = 1

// SystemStateRow mirrors the single-row system_state table.
type SystemStateRow struct {
	ID              int       `gorm:"primaryKey;autoIncrement:false"`
	RunState        string    `gorm:"not null"`
	Holdings        string    `gorm:"type:text;not null"`
	DepositCount    int64     `gorm:"not null"`
	WithdrawalCount int64     `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (SystemStateRow) TableName() string { return "system_state" }

// AccountRow mirrors the accounts table.
type AccountRow struct {
	Identity         string    `gorm:"column:account_identity;primaryKey"`
	Balance          string    `gorm:"type:text;not null"`
	TotalDeposited   string    `gorm:"type:text;not null"`
	TotalWithdrawn   string    `gorm:"type:text;not null"`
	LastDepositAt    int64     `gorm:"not null"`
	LastWithdrawalAt int64     `gorm:"not null"`
	CreditScore      int64     `gorm:"not null"`
	Active           bool      `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (AccountRow) TableName() string { return "accounts" }

// DailyWithdrawalRow mirrors the daily_withdrawals table.
type DailyWithdrawalRow struct {
	Identity  string `gorm:"column:account_identity;primaryKey"`
	DayBucket int64  `gorm:"primaryKey;autoIncrement:false"`
	Total     string `gorm:"type:text;not null"`
}

func (DailyWithdrawalRow) TableName() string { return "daily_withdrawals" }

// TransactionRow mirrors the ledger_transactions table.
type TransactionRow struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	Identity      string         `gorm:"column:account_identity;not null;index:uniq_transaction_identity_seq,unique,priority:1"`
	Seq           int64          `gorm:"not null;index:uniq_transaction_identity_seq,unique,priority:2"`
	Kind          string         `gorm:"not null"`
	Amount        string         `gorm:"type:text;not null"`
	Processed     bool           `gorm:"not null"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

func (TransactionRow) TableName() string { return "ledger_transactions" }

func (row *TransactionRow) BeforeCreate(tx *gorm.DB) error {
	if row.TransactionID == "" {
		row.TransactionID = uuid.NewString()
	}
	return nil
}

// FeedConfigRow mirrors the feed_configs table.
type FeedConfigRow struct {
	Symbol       string `gorm:"primaryKey"`
	SourceRef    string `gorm:"not null"`
	Description  string `gorm:"not null"`
	Active       bool   `gorm:"not null"`
	Decimals     int32  `gorm:"not null"`
	MinPrice     string `gorm:"type:text;not null"`
	MaxPrice     string `gorm:"type:text;not null"`
	ConfiguredAt int64  `gorm:"not null"`
}

func (FeedConfigRow) TableName() string { return "feed_configs" }

// CachedPriceRow mirrors the cached_prices table.
type CachedPriceRow struct {
	Symbol   string `gorm:"primaryKey"`
	Price    string `gorm:"type:text;not null"`
	Decimals int32  `gorm:"not null"`
	CachedAt int64  `gorm:"not null"`
	Valid    bool   `gorm:"not null"`
}

func (CachedPriceRow) TableName() string { return "cached_prices" }

// OracleCounterRow mirrors the single-row oracle_counters table.
type OracleCounterRow struct {
	ID          int   `gorm:"primaryKey;autoIncrement:false"`
	UpdateCount int64 `gorm:"not null"`
}

func (OracleCounterRow) TableName() string { return "oracle_counters" }

// AutoMigrate creates or updates every table used by the stores.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&SystemStateRow{},
		&AccountRow{},
		&DailyWithdrawalRow{},
		&TransactionRow{},
	); err != nil {
		return err
	}
	return AutoMigrateOracle(db)
}

// AutoMigrateOracle creates or updates only the oracle tables, for deployments
// whose ledger tables are owned by another store.
func AutoMigrateOracle(db *gorm.DB) error {
	return db.AutoMigrate(
		&FeedConfigRow{},
		&CachedPriceRow{},
		&OracleCounterRow{},
	)
}
