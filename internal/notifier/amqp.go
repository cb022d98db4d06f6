package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Routing keys used on the notification exchange
const (
	RoutingKeySuccess     = "inquiry.success"
	RoutingKeyApproval    = "inquiry.approval"
	routingKeyErrorPrefix = "inquiry.error."
)

// Publisher publishes a message to an exchange
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message any) error
}

// AMQPTransport publishes notifications to a topic exchange
type AMQPTransport struct {
	publisher Publisher
	exchange  string
}

// NewAMQPTransport creates an AMQP transport
func NewAMQPTransport(publisher Publisher, exchange string) *AMQPTransport {
	return &AMQPTransport{publisher: publisher, exchange: exchange}
}

// Send publishes the notification under its routing key
func (t *AMQPTransport) Send(ctx context.Context, n Notification) error {
	return t.publisher.Publish(ctx, t.exchange, RoutingKey(n), n)
}

// RoutingKey returns the routing key for a notification
func RoutingKey(n Notification) string {
	switch n.Type {
	case TypeError:
		return routingKeyErrorPrefix + string(n.Kind)
	case TypeApproval:
		return RoutingKeyApproval
	default:
		return RoutingKeySuccess
	}
}

// AMQPClient manages the RabbitMQ connection and channel
type AMQPClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex
}

// DialAMQP connects to RabbitMQ and declares the notification exchange
func DialAMQP(url, exchange string) (*AMQPClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	c := &AMQPClient{conn: conn, channel: ch}
	go c.handleConnectionClose()

	log.WithField("exchange", exchange).Info("AMQP notifier connected")
	return c, nil
}

func (c *AMQPClient) handleConnectionClose() {
	closeErr := make(chan *amqp.Error, 1)
	c.conn.NotifyClose(closeErr)

	if err := <-closeErr; err != nil {
		log.Errorf("AMQP connection closed: %v", err)
	}
}

// Publish publishes a JSON message to an exchange with a routing key
func (c *AMQPClient) Publish(ctx context.Context, exchange, routingKey string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	err = ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to exchange '%s' with routing key '%s': %w", exchange, routingKey, err)
	}

	log.WithFields(log.Fields{
		"exchange":   exchange,
		"routingKey": routingKey,
	}).Debug("Message published successfully")
	return nil
}

// Close closes the channel and connection
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
