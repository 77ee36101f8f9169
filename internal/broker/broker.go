// Package broker opens the message transport shared by the outbox relay,
// the event consumers and the job queue.
package broker

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

type Config struct {
	Driver           string
	URL              string
	StreamName       string
	Subjects         []string
	DuplicateWindow  time.Duration
	MaxAge           time.Duration
	SubscribersCount int
	AckWait          time.Duration
	MaxDeliver       int
	MaxReconnects    int
	ReconnectWait    time.Duration
	CloseTimeout     time.Duration
}

// Broker hands out one shared publisher and a subscriber per consumer group.
// Every group receives every message of the topics it subscribes to; members
// of one group share the load.
type Broker interface {
	Publisher() message.Publisher
	Subscriber(group string) (message.Subscriber, error)
	Close() error
}

func New(cfg Config, logger watermill.LoggerAdapter) (Broker, error) {
	switch cfg.Driver {
	case DriverNATS:
		return newNATS(cfg, logger)
	case DriverMemory, "":
		return NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
