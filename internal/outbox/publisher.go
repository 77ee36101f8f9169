package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen means the broker is considered down and nothing was sent.
var ErrBreakerOpen = errors.New("outbox publisher circuit open")

// Metadata keys set on every relayed message.
const (
	MetadataAggregateType = "aggregate_type"
	MetadataAggregateID   = "aggregate_id"
	MetadataEventType     = "event_type"
)

// Publisher sends one outbox event to the broker and returns once it is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, ev domain.OutboxEvent) error
}

type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	return c
}

// BrokerPublisher puts a circuit breaker in front of a watermill publisher.
type BrokerPublisher struct {
	pub message.Publisher
	cb  *gobreaker.CircuitBreaker[any]
}

var _ Publisher = (*BrokerPublisher)(nil)

func NewBrokerPublisher(pub message.Publisher, cfg BreakerConfig) *BrokerPublisher {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}
	return &BrokerPublisher{
		pub: pub,
		cb:  gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Publish uses the event id as message UUID and as Nats-Msg-Id, so JetStream
// drops a republish of the same event inside its duplicate window.
func (p *BrokerPublisher) Publish(ctx context.Context, ev domain.OutboxEvent) error {
	msg := message.NewMessage(ev.ID.String(), ev.Payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.ID.String())
	msg.Metadata.Set(MetadataAggregateType, ev.AggregateType)
	msg.Metadata.Set(MetadataAggregateID, ev.AggregateID)
	msg.Metadata.Set(MetadataEventType, ev.EventType)
	msg.SetContext(ctx)

	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.pub.Publish(ev.EventType, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return err
}

// State reports the breaker state for health output.
func (p *BrokerPublisher) State() string {
	return p.cb.State().String()
}
