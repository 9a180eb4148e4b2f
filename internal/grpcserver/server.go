package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/custody/internal/auth"
	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorUnauthenticated       = "unauthenticated"
	errorUnauthorized          = "unauthorized"
	errorInvalidIdentity       = "invalid_identity"
	errorInvalidAmount         = "invalid_amount"
	errorInvalidIndex          = "invalid_transaction_index"
	errorInvalidMetadata       = "invalid_metadata_json"
	errorInvalidSymbol         = "invalid_symbol"
	errorInvalidRoundID        = "invalid_round_id"
	errorInvalidFeedConfig     = "invalid_feed_config"
	errorInvalidArgument       = "invalid_argument"
	errorBelowMinimumDeposit   = "below_minimum_deposit"
	errorCreditScoreOutOfRange = "credit_score_out_of_range"
	errorCapacityExceeded      = "capacity_exceeded"
	errorExceedsBalance        = "exceeds_balance"
	errorExceedsPerWithdrawal  = "exceeds_per_withdrawal_cap"
	errorDailyLimitExceeded    = "daily_limit_exceeded"
	errorInsufficientLiquidity = "insufficient_liquidity"
	errorSystemSuspended       = "system_suspended"
	errorSystemNotSuspended    = "system_not_suspended"
	errorInvalidFeedData       = "invalid_feed_data"
	errorNoValidCachedData     = "no_valid_cached_data"
	errorUnknownTransaction    = "unknown_transaction"
	errorAccountNotFound       = "account_not_found"
	errorFeedNotConfigured     = "feed_not_configured"
	errorTransferFailed        = "transfer_failed"
	errorFeedUnavailable       = "feed_unavailable"
	errorServiceNotConfigured  = "service_not_configured"

	fieldIdentity    = "identity"
	fieldRecipient   = "recipient"
	fieldAmount      = "amount"
	fieldScore       = "score"
	fieldIndex       = "index"
	fieldOffset      = "offset"
	fieldLimit       = "limit"
	fieldSymbol      = "symbol"
	fieldSourceRef   = "source_ref"
	fieldDescription = "description"
	fieldDisabled    = "disabled"
	fieldMinPrice    = "min_price"
	fieldMaxPrice    = "max_price"

	authorizationHeader = "authorization"
	defaultListLimit    = 50
	maxListLimit        = 200
)

// CustodyServiceServer exposes the custody ledger and price oracle over gRPC.
type CustodyServiceServer struct {
	ledgerService *ledger.Service
	oracleService *oracle.Service
}

// NewCustodyServiceServer constructs the gRPC facade. oracleService may be nil when no feeds are wired.
func NewCustodyServiceServer(ledgerService *ledger.Service, oracleService *oracle.Service) *CustodyServiceServer {
	return &CustodyServiceServer{ledgerService: ledgerService, oracleService: oracleService}
}

func (server *CustodyServiceServer) Deposit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := amountField(request, fieldAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, operationError := server.ledgerService.Deposit(ctx, caller, amount)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return transactionStruct(transaction), nil
}

func (server *CustodyServiceServer) Withdraw(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := amountField(request, fieldAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, operationError := server.ledgerService.Withdraw(ctx, caller, amount)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return transactionStruct(transaction), nil
}

func (server *CustodyServiceServer) PayInterest(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	identity := caller
	if raw := stringField(request, fieldIdentity); raw != "" {
		if identity, err = ledger.NewIdentity(raw); err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	paid, operationError := server.ledgerService.PayInterest(ctx, identity)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldIdentity: structpb.NewStringValue(identity.String()),
		"paid":        structpb.NewStringValue(paid.String()),
	}}, nil
}

func (server *CustodyServiceServer) EmergencyWithdraw(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	recipient, err := ledger.NewIdentity(stringField(request, fieldRecipient))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := amountField(request, fieldAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, operationError := server.ledgerService.EmergencyWithdraw(ctx, caller, recipient, amount)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return transactionStruct(transaction), nil
}

func (server *CustodyServiceServer) FundReserve(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := amountField(request, fieldAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	state, operationError := server.ledgerService.FundReserve(ctx, caller, amount)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return stateStruct(state), nil
}

func (server *CustodyServiceServer) UpdateCreditScore(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	identity, err := ledger.NewIdentity(stringField(request, fieldIdentity))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	score, err := int64Field(request, fieldScore)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidArgument)
	}
	account, operationError := server.ledgerService.UpdateCreditScore(ctx, caller, identity, score)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return accountStruct(account), nil
}

func (server *CustodyServiceServer) Suspend(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if operationError := server.ledgerService.Suspend(ctx, caller); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return runStateStruct(ledger.RunStateSuspended), nil
}

func (server *CustodyServiceServer) Resume(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if operationError := server.ledgerService.Resume(ctx, caller); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return runStateStruct(ledger.RunStateRunning), nil
}

func (server *CustodyServiceServer) ConfigureFeed(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if server.oracleService == nil {
		return nil, status.Error(codes.Unimplemented, errorServiceNotConfigured)
	}
	input := oracle.FeedConfigInput{
		Symbol:      stringField(request, fieldSymbol),
		SourceRef:   stringField(request, fieldSourceRef),
		Description: stringField(request, fieldDescription),
		Disabled:    request.GetFields()[fieldDisabled].GetBoolValue(),
	}
	if input.MinPrice, err = optionalDecimalField(request, fieldMinPrice); err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidFeedConfig)
	}
	if input.MaxPrice, err = optionalDecimalField(request, fieldMaxPrice); err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidFeedConfig)
	}
	config, operationError := server.oracleService.ConfigureFeed(ctx, caller, input)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return feedConfigStruct(config), nil
}

func (server *CustodyServiceServer) UpdateCachedPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if server.oracleService == nil {
		return nil, status.Error(codes.Unimplemented, errorServiceNotConfigured)
	}
	cached, operationError := server.oracleService.UpdateCachedPrice(ctx, caller, stringField(request, fieldSymbol))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return cachedPriceStruct(cached), nil
}

func (server *CustodyServiceServer) InvalidateCachedPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if server.oracleService == nil {
		return nil, status.Error(codes.Unimplemented, errorServiceNotConfigured)
	}
	symbol := stringField(request, fieldSymbol)
	if operationError := server.oracleService.InvalidateCachedPrice(ctx, caller, symbol); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSymbol: structpb.NewStringValue(strings.ToUpper(strings.TrimSpace(symbol))),
		"valid":     structpb.NewBoolValue(false),
	}}, nil
}

func (server *CustodyServiceServer) GetAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	identity, err := ledger.NewIdentity(stringField(request, fieldIdentity))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := server.ledgerService.Account(ctx, identity)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return accountStruct(account), nil
}

func (server *CustodyServiceServer) GetState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state, operationError := server.ledgerService.State(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return stateStruct(state), nil
}

func (server *CustodyServiceServer) GetTransaction(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	identity, err := ledger.NewIdentity(stringField(request, fieldIdentity))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	index, err := int64Field(request, fieldIndex)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidIndex)
	}
	transaction, operationError := server.ledgerService.Transaction(ctx, identity, index)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return transactionStruct(transaction), nil
}

func (server *CustodyServiceServer) ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	identity, err := ledger.NewIdentity(stringField(request, fieldIdentity))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	offset, err := optionalInt64Field(request, fieldOffset)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidIndex)
	}
	rawLimit, err := optionalInt64Field(request, fieldLimit)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidArgument)
	}
	limit, err := normalizeListLimit(rawLimit)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidArgument)
	}
	transactions, operationError := server.ledgerService.ListTransactions(ctx, identity, offset, limit)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	values := make([]*structpb.Value, 0, len(transactions))
	for _, transaction := range transactions {
		values = append(values, structpb.NewStructValue(transactionStruct(transaction)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"transactions": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

func (server *CustodyServiceServer) GetLatestPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if server.oracleService == nil {
		return nil, status.Error(codes.Unimplemented, errorServiceNotConfigured)
	}
	price, operationError := server.oracleService.LatestPrice(ctx, stringField(request, fieldSymbol))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return priceStruct(price), nil
}

func (server *CustodyServiceServer) GetCachedPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if server.oracleService == nil {
		return nil, status.Error(codes.Unimplemented, errorServiceNotConfigured)
	}
	cached, operationError := server.oracleService.CachedPrice(ctx, stringField(request, fieldSymbol))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return cachedPriceStruct(cached), nil
}

// publicMethods may be called without a bearer token.
var publicMethods = map[string]bool{
	FullMethod(methodGetAccount):       true,
	FullMethod(methodGetState):         true,
	FullMethod(methodGetTransaction):   true,
	FullMethod(methodListTransactions): true,
	FullMethod(methodGetLatestPrice):   true,
	FullMethod(methodGetCachedPrice):   true,
}

// AuthInterceptor resolves the caller identity from the authorization metadata.
func AuthInterceptor(verifier *auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+serviceName+"/") {
			return handler(ctx, request)
		}
		header := ""
		if incoming, ok := metadata.FromIncomingContext(ctx); ok {
			if values := incoming.Get(authorizationHeader); len(values) > 0 {
				header = values[0]
			}
		}
		if header == "" && publicMethods[info.FullMethod] {
			return handler(ctx, request)
		}
		identity, err := verifier.IdentityFromHeader(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		return handler(auth.WithIdentity(ctx, identity), request)
	}
}

func callerFromContext(ctx context.Context) (ledger.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return ledger.Identity{}, status.Error(codes.Unauthenticated, errorUnauthenticated)
	}
	return identity, nil
}

// int64Bound is 2^63, the first float64 that no longer fits in an int64.
const int64Bound = float64(1 << 63)

func stringField(request *structpb.Struct, name string) string {
	return strings.TrimSpace(request.GetFields()[name].GetStringValue())
}

func amountField(request *structpb.Struct, name string) (ledger.Amount, error) {
	value := request.GetFields()[name]
	switch kind := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		return ledger.ParseAmount(kind.StringValue)
	case *structpb.Value_NumberValue:
		if kind.NumberValue < 0 || kind.NumberValue >= int64Bound || kind.NumberValue != math.Trunc(kind.NumberValue) {
			return ledger.Amount{}, fmt.Errorf("%w: %v is not an exact integer", ledger.ErrInvalidAmount, kind.NumberValue)
		}
		return ledger.AmountFromInt64(int64(kind.NumberValue))
	default:
		return ledger.Amount{}, fmt.Errorf("%w: %s is required", ledger.ErrInvalidAmount, name)
	}
}

func int64Field(request *structpb.Struct, name string) (int64, error) {
	value, ok := request.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if kind.NumberValue != math.Trunc(kind.NumberValue) || math.Abs(kind.NumberValue) >= int64Bound {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return int64(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		return strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
	default:
		return 0, fmt.Errorf("%s must be an integer", name)
	}
}

func optionalInt64Field(request *structpb.Struct, name string) (int64, error) {
	if _, ok := request.GetFields()[name]; !ok {
		return 0, nil
	}
	return int64Field(request, name)
}

func optionalDecimalField(request *structpb.Struct, name string) (decimal.NullDecimal, error) {
	value, ok := request.GetFields()[name]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NullValue:
		return decimal.NullDecimal{}, nil
	case *structpb.Value_NumberValue:
		return decimal.NewNullDecimal(decimal.NewFromFloat(kind.NumberValue)), nil
	case *structpb.Value_StringValue:
		parsed, err := decimal.NewFromString(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(parsed), nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("%s must be a decimal", name)
	}
}

func normalizeListLimit(limit int64) (int, error) {
	if limit <= 0 {
		return defaultListLimit, nil
	}
	if limit > maxListLimit {
		return 0, fmt.Errorf("limit exceeds maximum: %d > %d", limit, maxListLimit)
	}
	return int(limit), nil
}

func transactionStruct(transaction ledger.Transaction) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldIdentity:      structpb.NewStringValue(transaction.Identity().String()),
		fieldIndex:         structpb.NewNumberValue(float64(transaction.Index())),
		"kind":             structpb.NewStringValue(transaction.Kind().String()),
		fieldAmount:        structpb.NewStringValue(transaction.Amount().String()),
		"processed":        structpb.NewBoolValue(transaction.Processed()),
		"metadata_json":    structpb.NewStringValue(transaction.Metadata().String()),
		"created_unix_utc": structpb.NewNumberValue(float64(transaction.CreatedUnixUTC())),
	}}
}

func accountStruct(account ledger.Account) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldIdentity:        structpb.NewStringValue(account.Identity.String()),
		"balance":            structpb.NewStringValue(account.Balance.String()),
		"total_deposited":    structpb.NewStringValue(account.TotalDeposited.String()),
		"total_withdrawn":    structpb.NewStringValue(account.TotalWithdrawn.String()),
		"last_deposit_at":    structpb.NewNumberValue(float64(account.LastDepositAt)),
		"last_withdrawal_at": structpb.NewNumberValue(float64(account.LastWithdrawalAt)),
		fieldScore:           structpb.NewNumberValue(float64(account.CreditScore)),
		"active":             structpb.NewBoolValue(account.Active),
	}}
}

func stateStruct(state ledger.SystemState) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_state":        structpb.NewStringValue(state.RunState.String()),
		"holdings":         structpb.NewStringValue(state.Holdings.String()),
		"deposit_count":    structpb.NewNumberValue(float64(state.DepositCount)),
		"withdrawal_count": structpb.NewNumberValue(float64(state.WithdrawalCount)),
	}}
}

func runStateStruct(runState ledger.RunState) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_state": structpb.NewStringValue(runState.String()),
	}}
}

func feedConfigStruct(config oracle.FeedConfig) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSymbol:      structpb.NewStringValue(config.Symbol.String()),
		fieldSourceRef:   structpb.NewStringValue(config.SourceRef),
		fieldDescription: structpb.NewStringValue(config.Description),
		"active":         structpb.NewBoolValue(config.Active),
		"decimals":       structpb.NewNumberValue(float64(config.Decimals)),
		fieldMinPrice:    structpb.NewStringValue(config.MinPrice.String()),
		fieldMaxPrice:    structpb.NewStringValue(config.MaxPrice.String()),
		"updated_at":     structpb.NewNumberValue(float64(config.UpdatedAt)),
	}}
}

func priceStruct(price oracle.PriceData) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSymbol:  structpb.NewStringValue(price.Symbol.String()),
		"price":      structpb.NewStringValue(price.Price.String()),
		"decimals":   structpb.NewNumberValue(float64(price.Decimals)),
		"round_id":   structpb.NewStringValue(price.RoundID.String()),
		"updated_at": structpb.NewNumberValue(float64(price.UpdatedAt)),
	}}
}

func cachedPriceStruct(cached oracle.CachedPrice) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSymbol: structpb.NewStringValue(cached.Symbol.String()),
		"price":     structpb.NewStringValue(cached.Price.String()),
		"decimals":  structpb.NewNumberValue(float64(cached.Decimals)),
		"cached_at": structpb.NewNumberValue(float64(cached.CachedAt)),
		"valid":     structpb.NewBoolValue(cached.Valid),
	}}
}

type errorMapping struct {
	source error
	code   codes.Code
	reason string
}

// Ordered: transfer failures wrap arbitrary sink errors and must win.
var errorMappings = []errorMapping{
	{source: ledger.ErrTransferFailed, code: codes.Unavailable, reason: errorTransferFailed},
	{source: oracle.ErrFeedUnavailable, code: codes.Unavailable, reason: errorFeedUnavailable},
	{source: auth.ErrMissingToken, code: codes.Unauthenticated, reason: errorUnauthenticated},
	{source: auth.ErrInvalidToken, code: codes.Unauthenticated, reason: errorUnauthenticated},
	{source: ledger.ErrUnauthorized, code: codes.PermissionDenied, reason: errorUnauthorized},
	{source: ledger.ErrInvalidIdentity, code: codes.InvalidArgument, reason: errorInvalidIdentity},
	{source: ledger.ErrInvalidAmount, code: codes.InvalidArgument, reason: errorInvalidAmount},
	{source: ledger.ErrInvalidTransactionIndex, code: codes.InvalidArgument, reason: errorInvalidIndex},
	{source: ledger.ErrInvalidMetadataJSON, code: codes.InvalidArgument, reason: errorInvalidMetadata},
	{source: ledger.ErrBelowMinimumDeposit, code: codes.InvalidArgument, reason: errorBelowMinimumDeposit},
	{source: ledger.ErrCreditScoreOutOfRange, code: codes.InvalidArgument, reason: errorCreditScoreOutOfRange},
	{source: oracle.ErrInvalidSymbol, code: codes.InvalidArgument, reason: errorInvalidSymbol},
	{source: oracle.ErrInvalidRoundID, code: codes.InvalidArgument, reason: errorInvalidRoundID},
	{source: oracle.ErrInvalidFeedConfig, code: codes.InvalidArgument, reason: errorInvalidFeedConfig},
	{source: ledger.ErrCapacityExceeded, code: codes.FailedPrecondition, reason: errorCapacityExceeded},
	{source: ledger.ErrExceedsBalance, code: codes.FailedPrecondition, reason: errorExceedsBalance},
	{source: ledger.ErrExceedsPerWithdrawalCap, code: codes.FailedPrecondition, reason: errorExceedsPerWithdrawal},
	{source: ledger.ErrDailyLimitExceeded, code: codes.FailedPrecondition, reason: errorDailyLimitExceeded},
	{source: ledger.ErrInsufficientLiquidity, code: codes.FailedPrecondition, reason: errorInsufficientLiquidity},
	{source: ledger.ErrSystemSuspended, code: codes.FailedPrecondition, reason: errorSystemSuspended},
	{source: ledger.ErrSystemNotSuspended, code: codes.FailedPrecondition, reason: errorSystemNotSuspended},
	{source: oracle.ErrInvalidFeedData, code: codes.FailedPrecondition, reason: errorInvalidFeedData},
	{source: oracle.ErrNoValidCachedData, code: codes.FailedPrecondition, reason: errorNoValidCachedData},
	{source: ledger.ErrUnknownTransaction, code: codes.NotFound, reason: errorUnknownTransaction},
	{source: ledger.ErrAccountNotFound, code: codes.NotFound, reason: errorAccountNotFound},
	{source: oracle.ErrFeedNotConfigured, code: codes.NotFound, reason: errorFeedNotConfigured},
	{source: ledger.ErrInvalidServiceConfig, code: codes.Unimplemented, reason: errorServiceNotConfigured},
}

func mapToGRPCError(source error) error {
	for _, mapping := range errorMappings {
		if errors.Is(source, mapping.source) {
			return status.Error(mapping.code, mapping.reason)
		}
	}
	return status.Error(codes.Internal, source.Error())
}
