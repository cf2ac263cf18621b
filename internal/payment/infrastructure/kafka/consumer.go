// Package kafka consumes order events and opens payments for them. It is
// the asynchronous intake next to the HTTP API: order-producing services
// emit an event instead of calling us.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/pkg/idempotency"
	"github.com/nelani/payment-gateway/pkg/tracing"
)

// Initializer is the slice of the payment service the consumer drives.
type Initializer interface {
	Initialize(ctx context.Context, orderID, amount string, providerID domain.Provider) (*application.PaymentView, error)
}

// orderCreated is the contract with upstream order services.
type orderCreated struct {
	OrderID  string          `json:"order_id"`
	Amount   string          `json:"amount"`
	Provider domain.Provider `json:"provider"`
}

type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    Initializer
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc Initializer, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-intake"),
	}
}

// Run fetches until the context is cancelled. Every message is committed:
// business-level rejections (already paid, bad amount) are final for this
// delivery, and Initialize is idempotent per order, so redeliveries after
// a crash cannot double-open sessions.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderCreated")

		var event orderCreated
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Error("order event unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if _, err := c.svc.Initialize(msgCtx, event.OrderID, event.Amount, event.Provider); err != nil {
			c.log.Error("payment initialization from order event failed", "order_id", event.OrderID, "err", err)
		} else {
			c.log.Info("payment initialized from order event", "order_id", event.OrderID)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}
