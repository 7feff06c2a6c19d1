package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/schedule-engine/schedule"
)

// =============================================================================
// AMQP PUBLISHER
// =============================================================================

// AMQPPublisher publishes events onto a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, ev.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Priority:     amqpPriority(ev.Priority),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	return closeAll(p.ch, p.conn)
}

// amqpPriority maps the sync hint onto the 0-9 message priority range.
func amqpPriority(p schedule.SyncPriority) uint8 {
	switch p {
	case schedule.PriorityHigh:
		return 9
	case schedule.PriorityLow:
		return 1
	default:
		return 5
	}
}

// =============================================================================
// AMQP CONSUMER
// =============================================================================

// AMQPConsumer reads from a durable queue bound to the exchange.
type AMQPConsumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPConsumer(url, exchange, queue string, keys []string) (*AMQPConsumer, error) {
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{"x-max-priority": int32(9)})
	if err != nil {
		_ = closeAll(ch, conn)
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = closeAll(ch, conn)
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = closeAll(ch, conn)
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPConsumer{conn: conn, ch: ch, queue: q.Name}, nil
}

// Deliveries starts consuming with manual acknowledgement.
func (c *AMQPConsumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *AMQPConsumer) Close() error {
	return closeAll(c.ch, c.conn)
}

func dialExchange(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = closeAll(ch, conn)
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

func closeAll(ch *amqp.Channel, conn *amqp.Connection) error {
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
