package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// DefaultPublishTimeout bounds the wait for a broker confirmation
const DefaultPublishTimeout = 5 * time.Second

var (
	ErrPublishNacked    = errors.New("order request was nacked by broker")
	ErrConfirmTimeout   = errors.New("broker confirmation timed out")
	ErrChannelClosed    = errors.New("amqp channel closed")
	ErrUnroutable       = errors.New("order request was returned unroutable")
	ErrConfirmSequence  = errors.New("broker confirmed an unexpected delivery tag")
	externalIDNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:clinic:fulfillment-order"))
)

// ExternalID names the order request for one order kind of one line item. A
// retried dispatch of the same item publishes under the same id, so consumers
// can drop the copy.
func ExternalID(budgetID, lineItemID uuid.UUID, kind fulfillment.OrderKind) string {
	return uuid.NewSHA1(externalIDNamespace, []byte(fulfillment.ClaimKey(budgetID, lineItemID, kind))).String()
}

// Channel is the subset of *amqp.Channel the dispatcher needs
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(returns chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPConfig holds the routing for order requests
type AMQPConfig struct {
	Exchange        string
	LabRoutingKey   string
	OrthoRoutingKey string
	PublishTimeout  time.Duration
}

// OrderMessage is the body published for every order request
type OrderMessage struct {
	ExternalID string                `json:"external_id"`
	Kind       fulfillment.OrderKind `json:"kind"`
	Payload    any                   `json:"payload"`
	IssuedAt   time.Time             `json:"issued_at"`
}

// AMQPOrderDispatcher publishes order requests to a topic exchange as
// mandatory messages and waits for the broker to confirm each one. A request
// counts as created only when its own delivery tag is acked and the broker did
// not return it as unroutable.
type AMQPOrderDispatcher struct {
	ch       Channel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
	cfg      AMQPConfig
	logger   *zap.Logger

	mu   sync.Mutex
	sent uint64 // delivery tag of the last successful publish
}

// NewAMQPOrderDispatcher puts ch into confirm mode and returns a dispatcher over it
func NewAMQPOrderDispatcher(ch Channel, cfg AMQPConfig, logger *zap.Logger) (*AMQPOrderDispatcher, error) {
	if ch == nil {
		return nil, errors.New("amqp channel is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return &AMQPOrderDispatcher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 16)),
		returns:  ch.NotifyReturn(make(chan amqp.Return, 16)),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// CreateLabOrder publishes a lab order request
func (d *AMQPOrderDispatcher) CreateLabOrder(ctx context.Context, spec fulfillment.LabOrderSpec) (string, error) {
	id := ExternalID(spec.BudgetID, spec.LineItemID, fulfillment.OrderKindLabOrder)
	if err := d.publish(ctx, d.cfg.LabRoutingKey, fulfillment.OrderKindLabOrder, id, spec); err != nil {
		return "", err
	}
	return id, nil
}

// CreateOrthoCase publishes an orthodontic case request
func (d *AMQPOrderDispatcher) CreateOrthoCase(ctx context.Context, spec fulfillment.OrthoCaseSpec) (string, error) {
	id := ExternalID(spec.BudgetID, spec.LineItemID, fulfillment.OrderKindOrthoCase)
	if err := d.publish(ctx, d.cfg.OrthoRoutingKey, fulfillment.OrderKindOrthoCase, id, spec); err != nil {
		return "", err
	}
	return id, nil
}

// Close closes the underlying channel
func (d *AMQPOrderDispatcher) Close() error {
	return d.ch.Close()
}

func (d *AMQPOrderDispatcher) publish(ctx context.Context, routingKey string, kind fulfillment.OrderKind, externalID string, payload any) error {
	body, err := json.Marshal(OrderMessage{
		ExternalID: externalID,
		Kind:       kind,
		Payload:    payload,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", kind, err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    externalID,
		Type:         kind.String(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}

	// one publish in flight at a time; confirms and returns are matched to it
	d.mu.Lock()
	defer d.mu.Unlock()

	d.discardLate()
	if err := d.ch.PublishWithContext(ctx, d.cfg.Exchange, routingKey, true, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s request: %w", kind, err)
	}
	d.sent++

	if err := d.awaitConfirm(ctx, d.sent, externalID); err != nil {
		return fmt.Errorf("%s request %s: %w", kind, externalID, err)
	}

	d.logger.Info("Order request published",
		zap.String("kind", kind.String()),
		zap.String("external_id", externalID),
		zap.String("routing_key", routingKey),
		zap.Uint64("delivery_tag", d.sent),
	)
	return nil
}

// discardLate drops confirms and returns left over from earlier publishes
// that gave up waiting.
func (d *AMQPOrderDispatcher) discardLate() {
	for {
		select {
		case c, ok := <-d.confirms:
			if !ok {
				return
			}
			d.logger.Debug("Discarded late broker confirmation",
				zap.Uint64("delivery_tag", c.DeliveryTag), zap.Bool("ack", c.Ack))
		case r, ok := <-d.returns:
			if !ok {
				return
			}
			d.logger.Warn("Discarded late broker return",
				zap.String("external_id", r.MessageId), zap.String("reply", r.ReplyText))
		default:
			return
		}
	}
}

func (d *AMQPOrderDispatcher) awaitConfirm(ctx context.Context, tag uint64, messageID string) error {
	timer := time.NewTimer(d.cfg.PublishTimeout)
	defer timer.Stop()

	returned := false
	for {
		select {
		case r, ok := <-d.returns:
			if !ok {
				return ErrChannelClosed
			}
			returned = returned || r.MessageId == messageID
		case c, ok := <-d.confirms:
			if !ok {
				return ErrChannelClosed
			}
			switch {
			case c.DeliveryTag < tag:
				continue
			case c.DeliveryTag > tag:
				d.sent = c.DeliveryTag
				return fmt.Errorf("%w: got %d, want %d", ErrConfirmSequence, c.DeliveryTag, tag)
			case !c.Ack:
				return ErrPublishNacked
			}
			// the broker sends basic.return before the ack of the same message
			if returned || d.returnedBefore(messageID) {
				return ErrUnroutable
			}
			return nil
		case <-timer.C:
			return ErrConfirmTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *AMQPOrderDispatcher) returnedBefore(messageID string) bool {
	for {
		select {
		case r, ok := <-d.returns:
			if !ok {
				return false
			}
			if r.MessageId == messageID {
				return true
			}
		default:
			return false
		}
	}
}

// headerCarrier adapts amqp headers to the OpenTelemetry propagation carrier
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Connection owns the broker connection backing an AMQPOrderDispatcher
type Connection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker and declares the durable topic exchange
func Dial(url, exchange string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	return &Connection{conn: conn, ch: ch}, nil
}

// Channel returns the channel to publish on
func (c *Connection) Channel() *amqp.Channel {
	return c.ch
}

// Close closes the channel and the connection
func (c *Connection) Close() error {
	chErr := c.ch.Close()
	connErr := c.conn.Close()
	if errors.Is(chErr, amqp.ErrClosed) {
		chErr = nil
	}
	return errors.Join(chErr, connErr)
}
