package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type natsBroker struct {
	cfg    Config
	logger watermill.LoggerAdapter
	pub    message.Publisher

	mu   sync.Mutex
	subs []message.Subscriber
}

func newNATS(cfg Config, logger watermill.LoggerAdapter) (*natsBroker, error) {
	if cfg.StreamName == "" {
		cfg.StreamName = "VIDEOHUB"
	}
	if len(cfg.Subjects) == 0 {
		cfg.Subjects = []string{"user.>", "video.>", "comment.>", "jobs.>", "dead_letter.>"}
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 2 * time.Minute
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	if err := ensureStream(cfg); err != nil {
		return nil, err
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: connOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return &natsBroker{cfg: cfg, logger: logger, pub: pub}, nil
}

func connOptions(cfg Config, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// ensureStream creates or updates the stream every topic lives on. Stream
// names may not contain dots, so subscribers bind to it instead of letting
// watermill provision one stream per topic.
func ensureStream(cfg Config) error {
	nc, err := natsgo.Connect(cfg.URL, natsgo.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   cfg.Subjects,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.Stream(ctx, cfg.StreamName)
	switch {
	case err == nil:
		_, err = js.UpdateStream(ctx, streamCfg)
	case errors.Is(err, jetstream.ErrStreamNotFound):
		_, err = js.CreateStream(ctx, streamCfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

func (b *natsBroker) Publisher() message.Publisher {
	return b.pub
}

// Subscriber returns a durable queue subscriber; the group names both the
// durable consumer and the queue, so replicas of a group share deliveries.
func (b *natsBroker) Subscriber(group string) (message.Subscriber, error) {
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              b.cfg.URL,
		QueueGroupPrefix: group,
		SubscribersCount: b.cfg.SubscribersCount,
		AckWaitTimeout:   b.cfg.AckWait,
		CloseTimeout:     b.cfg.CloseTimeout,
		NatsOptions:      connOptions(b.cfg, b.logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			AckAsync:      false,
			DurablePrefix: group,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(b.cfg.StreamName),
				natsgo.MaxDeliver(b.cfg.MaxDeliver),
				natsgo.AckWait(b.cfg.AckWait),
				natsgo.DeliverAll(),
			},
		},
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("create nats subscriber for %s: %w", group, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

func (b *natsBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	errs := make([]error, 0, len(b.subs)+1)
	for _, s := range b.subs {
		errs = append(errs, s.Close())
	}
	errs = append(errs, b.pub.Close())
	return errors.Join(errs...)
}
