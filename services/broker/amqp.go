// Package brokersvc publishes notifications to RabbitMQ for out-of-process
// consumers (mailers, push services).
package brokersvc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/notification"
)

type amqpBroker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

var _ notification.Broker = (*amqpBroker)(nil)

// NewAMQPBroker connects to the broker and declares a durable topic exchange.
// Notifications are published with the notification kind as routing key so
// consumers can bind selectively (eg. "OUTBID", "AUCTION_*").
func NewAMQPBroker(conf *core.Config) (*amqpBroker, error) {
	conn, err := amqp.Dial(conf.Broker.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to broker")
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening broker channel")
	}

	err = channel.ExchangeDeclare(
		conf.Broker.Exchange, // name
		"topic",              // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring broker exchange")
	}

	return &amqpBroker{
		conn:     conn,
		channel:  channel,
		exchange: conf.Broker.Exchange,
	}, nil
}

func (b *amqpBroker) Publish(ctx context.Context, n notification.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshalling notification")
	}

	err = b.channel.PublishWithContext(ctx,
		b.exchange,      // exchange
		string(n.Kind),  // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	return errors.Wrap(err, "publishing notification")
}

func (b *amqpBroker) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
