package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	oracleCounterRowID = 1

	errorSubjectFeedConfig  = "feed_config"
	errorSubjectCachedPrice = "cached_price"
	errorSubjectCounter     = "oracle_counter"
	errorCodeIncrement      = "increment"
)

// OracleStore implements oracle.Store using GORM.
type OracleStore struct {
	db *gorm.DB
}

// NewOracleStore returns an OracleStore backed by gorm.DB.
func NewOracleStore(db *gorm.DB) *OracleStore {
	return &OracleStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *OracleStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore oracle.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &OracleStore{db: transaction})
	})
}

func (store *OracleStore) SaveFeedConfig(ctx context.Context, config oracle.FeedConfig) error {
	row := FeedConfigRow{
		Symbol:       config.Symbol.String(),
		SourceRef:    config.SourceRef,
		Description:  config.Description,
		Active:       config.Active,
		Decimals:     config.Decimals,
		MinPrice:     config.MinPrice.String(),
		MaxPrice:     config.MaxPrice.String(),
		ConfiguredAt: config.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectFeedConfig, errorCodeSave, err)
	}
	return nil
}

func (store *OracleStore) GetFeedConfig(ctx context.Context, symbol oracle.Symbol) (oracle.FeedConfig, error) {
	var row FeedConfigRow
	err := store.db.WithContext(ctx).Where("symbol = ?", symbol.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return oracle.FeedConfig{}, wrapStoreError(errorSubjectFeedConfig, errorCodeGet, oracle.ErrFeedNotConfigured)
		}
		return oracle.FeedConfig{}, wrapStoreError(errorSubjectFeedConfig, errorCodeGet, err)
	}
	config, err := mapFeedConfig(row)
	if err != nil {
		return oracle.FeedConfig{}, wrapStoreError(errorSubjectFeedConfig, errorCodeInvalid, err)
	}
	return config, nil
}

func (store *OracleStore) ListFeedConfigs(ctx context.Context) ([]oracle.FeedConfig, error) {
	var rows []FeedConfigRow
	if err := store.db.WithContext(ctx).Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectFeedConfig, errorCodeList, err)
	}
	configs := make([]oracle.FeedConfig, 0, len(rows))
	for _, row := range rows {
		config, err := mapFeedConfig(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectFeedConfig, errorCodeInvalid, err)
		}
		configs = append(configs, config)
	}
	return configs, nil
}

func (store *OracleStore) SaveCachedPrice(ctx context.Context, price oracle.CachedPrice) error {
	row := CachedPriceRow{
		Symbol:   price.Symbol.String(),
		Price:    price.Price.String(),
		Decimals: price.Decimals,
		CachedAt: price.CachedAt,
		Valid:    price.Valid,
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectCachedPrice, errorCodeSave, err)
	}
	return nil
}

func (store *OracleStore) GetCachedPrice(ctx context.Context, symbol oracle.Symbol) (oracle.CachedPrice, error) {
	var row CachedPriceRow
	err := store.db.WithContext(ctx).Where("symbol = ?", symbol.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return oracle.CachedPrice{}, wrapStoreError(errorSubjectCachedPrice, errorCodeGet, oracle.ErrNoValidCachedData)
		}
		return oracle.CachedPrice{}, wrapStoreError(errorSubjectCachedPrice, errorCodeGet, err)
	}
	price, err := decimal.NewFromString(row.Price)
	if err != nil {
		return oracle.CachedPrice{}, wrapStoreError(errorSubjectCachedPrice, errorCodeInvalid, err)
	}
	parsedSymbol, err := oracle.NewSymbol(row.Symbol)
	if err != nil {
		return oracle.CachedPrice{}, wrapStoreError(errorSubjectCachedPrice, errorCodeInvalid, err)
	}
	return oracle.CachedPrice{
		Symbol:   parsedSymbol,
		Price:    price,
		Decimals: row.Decimals,
		CachedAt: row.CachedAt,
		Valid:    row.Valid,
	}, nil
}

func (store *OracleStore) IncrementUpdateCount(ctx context.Context) (int64, error) {
	row := OracleCounterRow{ID: oracleCounterRowID, UpdateCount: 1}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"update_count": gorm.Expr("oracle_counters.update_count + 1")}),
		}).
		Create(&row).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCounter, errorCodeIncrement, err)
	}
	return store.UpdateCount(ctx)
}

func (store *OracleStore) UpdateCount(ctx context.Context) (int64, error) {
	var row OracleCounterRow
	err := store.db.WithContext(ctx).Where("id = ?", oracleCounterRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectCounter, errorCodeGet, err)
	}
	return row.UpdateCount, nil
}

func mapFeedConfig(row FeedConfigRow) (oracle.FeedConfig, error) {
	symbol, err := oracle.NewSymbol(row.Symbol)
	if err != nil {
		return oracle.FeedConfig{}, err
	}
	minPrice, err := decimal.NewFromString(row.MinPrice)
	if err != nil {
		return oracle.FeedConfig{}, err
	}
	maxPrice, err := decimal.NewFromString(row.MaxPrice)
	if err != nil {
		return oracle.FeedConfig{}, err
	}
	return oracle.FeedConfig{
		Symbol:      symbol,
		SourceRef:   row.SourceRef,
		Description: row.Description,
		Active:      row.Active,
		Decimals:    row.Decimals,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		UpdatedAt:   row.ConfiguredAt,
	}, nil
}
