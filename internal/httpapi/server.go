// Package httpapi serves the read-only custody query API over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 3 * time.Second
	defaultListLimit      = 50
	maxListLimit          = 200
	shutdownTimeout       = 5 * time.Second

	queryOffset = "offset"
	queryLimit  = "limit"
	querySymbol = "symbol"
	queryAmount = "amount"
	queryRound  = "round"
	queryCached = "cached"
)

var ErrInvalidServerConfig = errors.New("invalid http server config")

// Config holds the HTTP listener settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server is the HTTP query facade over the ledger and the oracle.
type Server struct {
	logger        *zap.Logger
	ledgerService *ledger.Service
	oracleService *oracle.Service
	converter     *oracle.Converter
	cfg           Config
}

// NewServer wires the handlers. oracleService may be nil; price routes then answer 501.
func NewServer(cfg Config, logger *zap.Logger, ledgerService *ledger.Service, oracleService *oracle.Service) (*Server, error) {
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger service is nil", ErrInvalidServerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	server := &Server{logger: logger, ledgerService: ledgerService, oracleService: oracleService, cfg: cfg}
	if oracleService != nil {
		converter, err := oracle.NewConverter(oracleService)
		if err != nil {
			return nil, err
		}
		server.converter = converter
	}
	return server, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/state", server.handleState)

	accounts := api.Group("/accounts/:identity")
	accounts.GET("", server.handleAccount)
	accounts.GET("/transactions", server.handleTransactions)
	accounts.GET("/transactions/:index", server.handleTransaction)
	accounts.GET("/withdrawals/:day", server.handleDailyWithdrawn)
	accounts.GET("/interest", server.handleInterest)
	accounts.GET("/value", server.handleAccountValue)

	prices := api.Group("/prices")
	prices.GET("/latest", server.handleLatestPrice)
	prices.GET("/cached", server.handleCachedPrice)
	prices.GET("/health", server.handleFeedHealth)
	prices.GET("/history", server.handleHistoricalPrice)
	api.GET("/feeds", server.handleFeeds)

	conversions := api.Group("/conversions")
	conversions.GET("/to-reference", server.handleToReference)
	conversions.GET("/from-reference", server.handleFromReference)

	return router
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
}

func (server *Server) handleState(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	state, err := server.ledgerService.State(requestCtx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newStatePayload(state))
}

func (server *Server) handleAccount(ctx *gin.Context) {
	identity, ok := server.identityParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	account, err := server.ledgerService.Account(requestCtx, identity)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newAccountPayload(account))
}

func (server *Server) handleTransactions(ctx *gin.Context) {
	identity, ok := server.identityParam(ctx)
	if !ok {
		return
	}
	offset, err := optionalInt64Query(ctx, queryOffset)
	if err != nil || offset < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_offset", "offset must be a non-negative integer"))
		return
	}
	limit, err := optionalInt64Query(ctx, queryLimit)
	if err != nil || limit < 0 || limit > maxListLimit {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", fmt.Sprintf("limit must be between 0 and %d", maxListLimit)))
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	count, err := server.ledgerService.TransactionCount(requestCtx, identity)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	transactions, err := server.ledgerService.ListTransactions(requestCtx, identity, offset, int(limit))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"count": count, "transactions": payloads})
}

func (server *Server) handleTransaction(ctx *gin.Context) {
	identity, ok := server.identityParam(ctx)
	if !ok {
		return
	}
	index, err := strconv.ParseInt(ctx.Param("index"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_transaction_index", "index must be an integer"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	transaction, err := server.ledgerService.Transaction(requestCtx, identity, index)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newTransactionPayload(transaction))
}

func (server *Server) handleDailyWithdrawn(ctx *gin.Context) {
	identity, ok := server.identityParam(ctx)
	if !ok {
		return
	}
	day, err := strconv.ParseInt(ctx.Param("day"), 10, 64)
	if err != nil || day < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_day", "day must be a non-negative day number"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	withdrawn, err := server.ledgerService.DailyWithdrawn(requestCtx, identity, ledger.DayBucket(day))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"identity": identity.String(), "day": day, "withdrawn": withdrawn.String()})
}

func (server *Server) handleInterest(ctx *gin.Context) {
	identity, ok := server.identityParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	interest, err := server.ledgerService.CalculateInterest(requestCtx, identity)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"identity": identity.String(), "accrued": interest.String()})
}

func (server *Server) handleAccountValue(ctx *gin.Context) {
	identity, ok := server.identityParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	symbol := ctx.Query(querySymbol)
	value, err := server.ledgerService.AccountValue(requestCtx, identity, symbol)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"identity": identity.String(), "symbol": strings.ToUpper(strings.TrimSpace(symbol)), "value": value.String()})
}

func (server *Server) handleLatestPrice(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	price, err := server.oracleService.LatestPrice(requestCtx, ctx.Query(querySymbol))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newPricePayload(price))
}

func (server *Server) handleCachedPrice(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	cached, err := server.oracleService.CachedPrice(requestCtx, ctx.Query(querySymbol))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cachedPricePayload{
		Symbol:   cached.Symbol.String(),
		Price:    cached.Price.String(),
		Decimals: cached.Decimals,
		CachedAt: cached.CachedAt,
		Valid:    cached.Valid,
	})
}

func (server *Server) handleFeedHealth(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	health := server.oracleService.MonitorHealth(requestCtx, ctx.Query(querySymbol))
	ctx.JSON(http.StatusOK, gin.H{
		"healthy":     health.Healthy,
		"last_update": health.LastUpdate,
		"price":       health.Price.String(),
	})
}

func (server *Server) handleHistoricalPrice(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	roundID, err := oracle.ParseRoundID(ctx.Query(queryRound))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	price, err := server.oracleService.HistoricalPrice(requestCtx, ctx.Query(querySymbol), roundID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newPricePayload(price))
}

func (server *Server) handleFeeds(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	configs, err := server.oracleService.Feeds(requestCtx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	updates, err := server.oracleService.UpdateCount(requestCtx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]feedPayload, 0, len(configs))
	for _, config := range configs {
		payloads = append(payloads, feedPayload{
			Symbol:      config.Symbol.String(),
			SourceRef:   config.SourceRef,
			Description: config.Description,
			Active:      config.Active,
			Decimals:    config.Decimals,
			MinPrice:    config.MinPrice.String(),
			MaxPrice:    config.MaxPrice.String(),
			UpdatedAt:   config.UpdatedAt,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"feeds":           payloads,
		"update_count":    updates,
		"stale_threshold": int64(server.oracleService.StaleThreshold() / time.Second),
	})
}

func (server *Server) handleToReference(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	amount, err := ledger.ParseAmount(ctx.Query(queryAmount))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	symbol := ctx.Query(querySymbol)
	var converted decimal.Decimal
	if ctx.Query(queryCached) == "true" {
		converted, err = server.converter.ToReferenceCurrencyCached(requestCtx, amount, symbol)
	} else {
		converted, err = server.converter.ToReferenceCurrency(requestCtx, amount, symbol)
	}
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"native_amount": amount.String(), "reference_amount": converted.String()})
}

func (server *Server) handleFromReference(ctx *gin.Context) {
	if !server.requireOracle(ctx) {
		return
	}
	referenceAmount, err := decimal.NewFromString(strings.TrimSpace(ctx.Query(queryAmount)))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be an integer"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	symbol := ctx.Query(querySymbol)
	var converted ledger.Amount
	if ctx.Query(queryCached) == "true" {
		converted, err = server.converter.FromReferenceCurrencyCached(requestCtx, referenceAmount, symbol)
	} else {
		converted, err = server.converter.FromReferenceCurrency(requestCtx, referenceAmount, symbol)
	}
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reference_amount": referenceAmount.String(), "native_amount": converted.String()})
}

func (server *Server) identityParam(ctx *gin.Context) (ledger.Identity, bool) {
	identity, err := ledger.NewIdentity(ctx.Param("identity"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_identity", "identity is required"))
		return ledger.Identity{}, false
	}
	return identity, true
}

func (server *Server) requireOracle(ctx *gin.Context) bool {
	if server.oracleService == nil {
		ctx.JSON(http.StatusNotImplemented, errorResponse("service_not_configured", "price oracle is not configured"))
		return false
	}
	return true
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.source) {
			ctx.JSON(mapping.status, errorResponse(mapping.code, err.Error()))
			return
		}
	}
	server.logger.Error("query failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "query failed"))
}

func optionalInt64Query(ctx *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type errorMapping struct {
	source error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{source: oracle.ErrFeedUnavailable, status: http.StatusBadGateway, code: "feed_unavailable"},
	{source: ledger.ErrInvalidIdentity, status: http.StatusBadRequest, code: "invalid_identity"},
	{source: ledger.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{source: ledger.ErrInvalidTransactionIndex, status: http.StatusBadRequest, code: "invalid_transaction_index"},
	{source: oracle.ErrInvalidSymbol, status: http.StatusBadRequest, code: "invalid_symbol"},
	{source: oracle.ErrInvalidRoundID, status: http.StatusBadRequest, code: "invalid_round_id"},
	{source: ledger.ErrUnknownTransaction, status: http.StatusNotFound, code: "unknown_transaction"},
	{source: ledger.ErrAccountNotFound, status: http.StatusNotFound, code: "account_not_found"},
	{source: oracle.ErrFeedNotConfigured, status: http.StatusNotFound, code: "feed_not_configured"},
	{source: oracle.ErrInvalidFeedData, status: http.StatusUnprocessableEntity, code: "invalid_feed_data"},
	{source: oracle.ErrNoValidCachedData, status: http.StatusConflict, code: "no_valid_cached_data"},
	{source: ledger.ErrInvalidServiceConfig, status: http.StatusNotImplemented, code: "service_not_configured"},
}

type statePayload struct {
	RunState        string `json:"run_state"`
	Holdings        string `json:"holdings"`
	DepositCount    int64  `json:"deposit_count"`
	WithdrawalCount int64  `json:"withdrawal_count"`
}

func newStatePayload(state ledger.SystemState) statePayload {
	return statePayload{
		RunState:        state.RunState.String(),
		Holdings:        state.Holdings.String(),
		DepositCount:    state.DepositCount,
		WithdrawalCount: state.WithdrawalCount,
	}
}

type accountPayload struct {
	Identity         string `json:"identity"`
	Balance          string `json:"balance"`
	TotalDeposited   string `json:"total_deposited"`
	TotalWithdrawn   string `json:"total_withdrawn"`
	LastDepositAt    int64  `json:"last_deposit_at"`
	LastWithdrawalAt int64  `json:"last_withdrawal_at"`
	CreditScore      int64  `json:"credit_score"`
	Active           bool   `json:"active"`
}

func newAccountPayload(account ledger.Account) accountPayload {
	return accountPayload{
		Identity:         account.Identity.String(),
		Balance:          account.Balance.String(),
		TotalDeposited:   account.TotalDeposited.String(),
		TotalWithdrawn:   account.TotalWithdrawn.String(),
		LastDepositAt:    account.LastDepositAt,
		LastWithdrawalAt: account.LastWithdrawalAt,
		CreditScore:      account.CreditScore,
		Active:           account.Active,
	}
}

type transactionPayload struct {
	Index          int64  `json:"index"`
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	Processed      bool   `json:"processed"`
	Metadata       string `json:"metadata_json"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		Index:          transaction.Index(),
		Kind:           transaction.Kind().String(),
		Amount:         transaction.Amount().String(),
		Processed:      transaction.Processed(),
		Metadata:       transaction.Metadata().String(),
		CreatedUnixUTC: transaction.CreatedUnixUTC(),
	}
}

type pricePayload struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Decimals  int32  `json:"decimals"`
	RoundID   string `json:"round_id"`
	UpdatedAt int64  `json:"updated_at"`
}

func newPricePayload(price oracle.PriceData) pricePayload {
	return pricePayload{
		Symbol:    price.Symbol.String(),
		Price:     price.Price.String(),
		Decimals:  price.Decimals,
		RoundID:   price.RoundID.String(),
		UpdatedAt: price.UpdatedAt,
	}
}

type cachedPricePayload struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Decimals int32  `json:"decimals"`
	CachedAt int64  `json:"cached_at"`
	Valid    bool   `json:"valid"`
}

type feedPayload struct {
	Symbol      string `json:"symbol"`
	SourceRef   string `json:"source_ref"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	Decimals    int32  `json:"decimals"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	UpdatedAt   int64  `json:"updated_at"`
}
