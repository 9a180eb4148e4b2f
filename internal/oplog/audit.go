package oplog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer used by AuditPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
}

type auditEvent struct {
	Source     string `json:"source"`
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	Caller     string `json:"caller,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	Price      string `json:"price,omitempty"`
	Error      string `json:"error,omitempty"`
	RecordedAt int64  `json:"recorded_at"`
}

// AuditPublisher publishes operation events to Kafka. Publishing is best effort:
// the operation already committed, so failures are logged and dropped.
type AuditPublisher struct {
	writer MessageWriter
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewAuditPublisher wraps writer. A nil logger discards publish failures.
func NewAuditPublisher(writer MessageWriter, logger *zap.Logger, now func() time.Time) *AuditPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &AuditPublisher{writer: writer, logger: logger, nowFn: now}
}

func (publisher *AuditPublisher) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	event := auditEvent{
		Source:    sourceLedger,
		Operation: entry.Operation,
		Status:    entry.Status,
		Caller:    entry.Caller.String(),
		Identity:  entry.Identity.String(),
		Amount:    entry.Amount.String(),
		Metadata:  entry.Metadata.String(),
		Error:     errorText(entry.Error),
	}
	publisher.publish(ctx, entry.Identity.String(), event)
}

func (publisher *AuditPublisher) LogOracleOperation(ctx context.Context, entry oracle.OperationLog) {
	event := auditEvent{
		Source:    sourceOracle,
		Operation: entry.Operation,
		Status:    entry.Status,
		Caller:    entry.Caller.String(),
		Symbol:    entry.Symbol,
		Price:     entry.Price.String(),
		Error:     errorText(entry.Error),
	}
	publisher.publish(ctx, entry.Symbol, event)
}

func (publisher *AuditPublisher) publish(ctx context.Context, key string, event auditEvent) {
	if publisher.writer == nil {
		return
	}
	now := publisher.nowFn().UTC()
	event.RecordedAt = now.Unix()
	value, err := json.Marshal(event)
	if err != nil {
		publisher.logger.Error("encode audit event", zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()
	err = publisher.writer.WriteMessages(publishCtx, kafka.Message{Key: []byte(key), Value: value, Time: now})
	if err != nil {
		publisher.logger.Warn("publish audit event",
			zap.String("source", event.Source),
			zap.String("operation", event.Operation),
			zap.Error(err),
		)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
