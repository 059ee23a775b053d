package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// PokeMessage is the JSON body published for every channel.
type PokeMessage struct {
	Channel string    `json:"channel"`
	PokedAt time.Time `json:"poked_at"`
}

// publishChannel is the part of *amqp091.Channel the poker uses.
type publishChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) (*amqp091.DeferredConfirmation, error)
	Close() error
}

// AMQPPoker publishes one message per channel to a topic exchange. The
// routing key is the channel name, so consumers bind with patterns like
// "user.*" after mapping or subscribe to exact channels.
type AMQPPoker struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
	now      func() time.Time

	mu sync.Mutex // serializes publishes and confirm waits on ch
	ch publishChannel
}

// DialAMQP connects to url, declares a durable topic exchange and puts the
// publishing channel into confirm mode.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPoker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	p := newAMQPPoker(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newAMQPPoker(ch publishChannel, exchange string, logger *slog.Logger) *AMQPPoker {
	return &AMQPPoker{
		ch:       ch,
		exchange: exchange,
		log:      logger,
		now:      time.Now,
	}
}

// Poke publishes every distinct channel and waits for the broker to confirm
// each one. A failure on one channel does not stop the others; all failures
// are returned joined.
func (p *AMQPPoker) Poke(ctx context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, channel := range Unique(channels) {
		if err := p.publish(ctx, channel); err != nil {
			p.log.Warn("poke failed", slog.String("channel", channel), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("poke %s: %w", channel, err))
			continue
		}
		p.log.Debug("poked", slog.String("channel", channel), slog.String("exchange", p.exchange))
	}
	return errors.Join(errs...)
}

func (p *AMQPPoker) publish(ctx context.Context, channel string) error {
	now := p.now().UTC()
	body, err := json.Marshal(PokeMessage{Channel: channel, PokedAt: now})
	if err != nil {
		return err
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, channel, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			MessageId:    uuid.NewString(),
			Timestamp:    now,
			Body:         body,
		},
	)
	if err != nil {
		return err
	}
	// nil when the channel is not in confirm mode
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker nacked poke")
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPoker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
