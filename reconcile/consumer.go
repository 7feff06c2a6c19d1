package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
)

// Consumer feeds AMQP deliveries of sync changes into a Reconciler.
//
//	applied                         ack
//	hard conflict, invalid change   nack, dropped
//	anything else (store failure)   nack, requeued
type Consumer struct {
	reconciler *Reconciler
	log        *slog.Logger
}

func NewConsumer(r *Reconciler, log *slog.Logger) *Consumer {
	return &Consumer{reconciler: r, log: log}
}

// Run handles deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := logging.For(ctx, c.log).With("routing_key", d.RoutingKey, "message_id", d.MessageId)

	var change Change
	if err := json.Unmarshal(d.Body, &change); err != nil {
		log.WarnContext(ctx, "malformed sync change dropped", "error", err)
		_ = d.Nack(false, false)
		return
	}
	if change.DeviceID == "" {
		change.DeviceID = d.AppId
	}

	_, err := c.reconciler.Apply(logging.WithLogger(ctx, log), change)
	switch generic.GroupOf(err) {
	case "":
		_ = d.Ack(false)
	case generic.GroupInternal:
		_ = d.Nack(false, true)
	default:
		_ = d.Nack(false, false)
	}
}
