// Package oplog records ledger and oracle operation callbacks to zap and to a Kafka audit topic.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"go.uber.org/zap"
)

const (
	sourceLedger = "ledger"
	sourceOracle = "oracle"
)

// Recorder receives callbacks from both services.
type Recorder interface {
	ledger.OperationLogger
	oracle.OperationLogger
}

// ZapRecorder writes one structured line per operation.
type ZapRecorder struct {
	logger *zap.Logger
}

// NewZapRecorder returns a recorder writing to logger; nil falls back to a no-op logger.
func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapRecorder{logger: logger}
}

func (recorder *ZapRecorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("source", sourceLedger),
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("caller", entry.Caller.String()),
		zap.String("identity", entry.Identity.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("metadata", entry.Metadata.String()),
	}
	if entry.Error != nil {
		recorder.logger.Warn("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	recorder.logger.Info("ledger operation", fields...)
}

func (recorder *ZapRecorder) LogOracleOperation(_ context.Context, entry oracle.OperationLog) {
	fields := []zap.Field{
		zap.String("source", sourceOracle),
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("caller", entry.Caller.String()),
		zap.String("symbol", entry.Symbol),
		zap.String("price", entry.Price.String()),
	}
	if entry.Error != nil {
		recorder.logger.Warn("oracle operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	recorder.logger.Info("oracle operation", fields...)
}

// Fanout forwards every callback to each recorder in order.
type Fanout []Recorder

func (fanout Fanout) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, recorder := range fanout {
		if recorder != nil {
			recorder.LogOperation(ctx, entry)
		}
	}
}

func (fanout Fanout) LogOracleOperation(ctx context.Context, entry oracle.OperationLog) {
	for _, recorder := range fanout {
		if recorder != nil {
			recorder.LogOracleOperation(ctx, entry)
		}
	}
}
