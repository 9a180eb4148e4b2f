// Package kafkasink publishes ledger payouts as transfer instructions on a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 10 * time.Second

var ErrInvalidSinkConfig = errors.New("invalid payout sink config")

// MessageWriter is the subset of *kafka.Writer used by Sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// Sink implements ledger.TransferSink. A payout counts as transferred once the
// broker acknowledged the instruction on every in-sync replica.
type Sink struct {
	writer MessageWriter
	nowFn  func() time.Time
}

type payoutMessage struct {
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
	Kind             string `json:"kind"`
	TransactionIndex int64  `json:"transaction_index"`
	IssuedAt         int64  `json:"issued_at"`
}

// NewWriter builds a synchronous writer for topic.
func NewWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers are required", ErrInvalidSinkConfig)
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidSinkConfig)
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: defaultWriteTimeout,
	}, nil
}

// New wraps writer as a transfer sink.
func New(writer MessageWriter, now func() time.Time) (*Sink, error) {
	if writer == nil {
		return nil, fmt.Errorf("%w: writer is nil", ErrInvalidSinkConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &Sink{writer: writer, nowFn: now}, nil
}

func (sink *Sink) Transfer(ctx context.Context, payout ledger.Payout) error {
	if payout.Recipient.IsZero() {
		return fmt.Errorf("%w: recipient is required", ledger.ErrInvalidIdentity)
	}
	value, err := json.Marshal(payoutMessage{
		Recipient:        payout.Recipient.String(),
		Amount:           payout.Amount.String(),
		Kind:             payout.Kind.String(),
		TransactionIndex: payout.TransactionIndex,
		IssuedAt:         sink.nowFn().UTC().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode payout: %w", err)
	}
	// Keyed by recipient so a recipient's payouts stay ordered on one partition.
	message := kafka.Message{
		Key:   []byte(payout.Recipient.String()),
		Value: value,
		Time:  sink.nowFn().UTC(),
	}
	if err := sink.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publish payout: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (sink *Sink) Close() error {
	return sink.writer.Close()
}
