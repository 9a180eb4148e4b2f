package oracle

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/shopspring/decimal"
)

const (
	operationConfigureFeed         = "configure_feed"
	operationUpdateCachedPrice     = "update_cached_price"
	operationInvalidateCachedPrice = "invalidate_cached_price"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultStaleThreshold = 2 * time.Hour
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records oracle state changes.
type OperationLogger interface {
	LogOracleOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing oracle operation.
type OperationLog struct {
	Operation string
	Caller    ledger.Identity
	Symbol    string
	Price     decimal.Decimal
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithStaleThreshold overrides the maximum accepted reading age.
func WithStaleThreshold(threshold time.Duration) ServiceOption {
	return func(service *Service) {
		service.staleThreshold = threshold
	}
}
