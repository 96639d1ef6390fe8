// Package amqpsub consumes keybox device events from a RabbitMQ queue.
package amqpsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

const (
	DefaultQueue = "keybox.events"
	minBackoff   = time.Second
	maxBackoff   = 30 * time.Second
)

// ErrUndecodable marks a delivery whose body is not an event.  Such
// deliveries are rejected without requeue.
var ErrUndecodable = errors.New("undecodable delivery")

// Handler is satisfied by service.Ingestor.
type Handler interface {
	Handle(ctx context.Context, raw types.RawEvent) (types.Ack, error)
}

type Config struct {
	URL   string
	Queue string
}

// Consumer reads one delivery at a time (prefetch 1) so events are applied
// in queue order.
type Consumer struct {
	cfg     Config
	handler Handler
	logger  logrus.FieldLogger
	sleep   func(ctx context.Context, d time.Duration) bool
}

func New(cfg Config, h Handler, logger logrus.FieldLogger) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{
		cfg:     cfg,
		handler: h,
		logger:  logger.WithField("component", "amqp"),
		sleep:   sleepCtx,
	}
}

// Run dials, consumes and reconnects with exponential backoff until ctx is
// cancelled.
func (c *Consumer) Run(ctx context.Context) {
	backoff := minBackoff
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("amqp dial failed")
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		if err := c.consume(ctx, conn); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Warn("amqp consume loop ended, reconnecting")
			if !c.sleep(ctx, 2*time.Second) {
				return
			}
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logger.WithField("queue", c.cfg.Queue).Info("amqp consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			ack, err := c.HandleDelivery(ctx, d.Body)
			if errors.Is(err, ErrUndecodable) {
				_ = d.Nack(false, false)
			} else {
				_ = d.Ack(false)
			}
			if d.ReplyTo != "" {
				c.reply(ctx, ch, d, ack)
			}
		}
	}
}

// HandleDelivery decodes one body and hands it to the handler.  Handler
// errors are logged and returned with the error ack for the reply queue,
// but the delivery is still acknowledged; redelivering a rejected event
// would only be rejected again.
func (c *Consumer) HandleDelivery(ctx context.Context, body []byte) (types.Ack, error) {
	var raw types.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		c.logger.WithError(err).Warn("rejecting undecodable amqp delivery")
		err = &service.ValidationError{Field: "body", Message: "not a JSON event", Err: fmt.Errorf("%w: %v", ErrUndecodable, err)}
		return service.ErrorAck(raw, err), err
	}
	ack, err := c.handler.Handle(ctx, raw)
	if err != nil {
		c.logger.WithError(err).WithField("device", raw.Device.String()).Error("amqp event rejected")
		return service.ErrorAck(raw, err), err
	}
	return ack, nil
}

func (c *Consumer) reply(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, ack types.Ack) {
	body, err := json.Marshal(ack)
	if err != nil {
		return
	}
	pub := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	if err := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, pub); err != nil {
		c.logger.WithError(err).WithField("reply_to", d.ReplyTo).Warn("amqp reply failed")
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
