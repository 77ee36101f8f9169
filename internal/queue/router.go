package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Name string
	// MaxRetries counts retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// HandlerTimeout bounds one attempt.
	HandlerTimeout time.Duration
	CloseTimeout   time.Duration
	// PoisonTopic receives messages that failed permanently or ran out of retries.
	PoisonTopic string
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Name:            "jobs",
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     300 * time.Second,
		Multiplier:      2,
		HandlerTimeout:  10 * time.Minute,
		CloseTimeout:    30 * time.Second,
		PoisonTopic:     DeadLetterTopic,
	}
}

type route struct {
	name    string
	topic   string
	sub     message.Subscriber
	handler message.NoPublishHandlerFunc
}

// Router is a supervised watermill router. Each Serve builds a fresh
// message.Router, so the supervisor can restart it after a failure.
type Router struct {
	cfg       RouterConfig
	poisonPub message.Publisher
	logger    watermill.LoggerAdapter

	mu     sync.Mutex
	routes []route

	runningOnce sync.Once
	running     chan struct{}
}

func NewRouter(cfg RouterConfig, poisonPub message.Publisher, logger watermill.LoggerAdapter) *Router {
	def := DefaultRouterConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.PoisonTopic == "" {
		cfg.PoisonTopic = def.PoisonTopic
	}
	return &Router{
		cfg:       cfg,
		poisonPub: poisonPub,
		logger:    logger,
		running:   make(chan struct{}),
	}
}

// Handle registers h for topic. Call before Serve.
func (r *Router) Handle(name, topic string, sub message.Subscriber, h message.NoPublishHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{name: name, topic: topic, sub: sub, handler: h})
}

// HandleJob registers h for every message of the given job kind.
func (r *Router) HandleJob(kind domain.JobKind, sub message.Subscriber, h message.NoPublishHandlerFunc) {
	r.Handle(kind.String(), Topic(kind), sub, h)
}

// Serve implements suture.Service.
func (r *Router) Serve(ctx context.Context) error {
	router, err := r.build()
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-router.Running():
			r.runningOnce.Do(func() { close(r.running) })
		case <-ctx.Done():
		}
	}()

	err = router.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("router stopped")
	}
	return fmt.Errorf("%s router: %w", r.cfg.Name, err)
}

func (r *Router) String() string {
	return r.cfg.Name + "-router"
}

// Running is closed once the first router instance is consuming.
func (r *Router) Running() <-chan struct{} {
	return r.running
}

func (r *Router) build() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: r.cfg.CloseTimeout}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	// outermost first
	poison, err := middleware.PoisonQueueWithFilter(r.poisonPub, r.cfg.PoisonTopic, shouldPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:          r.cfg.MaxRetries,
		InitialInterval:     r.cfg.InitialInterval,
		MaxInterval:         r.cfg.MaxInterval,
		Multiplier:          r.cfg.Multiplier,
		ShouldRetry:         func(p middleware.RetryParams) bool { return !errors.Is(p.Err, domain.ErrPermanent) },
		ResetContextOnRetry: true,
		Logger:              r.logger,
	}
	router.AddMiddleware(
		poison,
		classifyExhausted,
		retry.Middleware,
		countAttempts,
		middleware.Timeout(r.cfg.HandlerTimeout),
		middleware.Recoverer,
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.routes {
		router.AddConsumerHandler(rt.name, rt.topic, rt.sub, rt.handler)
	}
	return router, nil
}

// shouldPoison leaves shutdown cancellations unacked so the broker redelivers.
func shouldPoison(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// classifyExhausted sits right outside Retry: whatever still fails there has
// either failed permanently or used up its retries.
func classifyExhausted(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil || errors.Is(err, context.Canceled) {
			return out, err
		}

		log := logrus.WithFields(logrus.Fields{
			"message_id": msg.UUID,
			"topic":      message.SubscribeTopicFromCtx(msg.Context()),
			"attempts":   msg.Metadata.Get(MetadataAttempt),
		}).WithError(err)
		if errors.Is(err, domain.ErrPermanent) {
			log.Error("message failed permanently, dead-lettering")
			return out, err
		}
		log.Error("message exhausted its retries, dead-lettering")
		return out, fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, err)
	}
}

// countAttempts runs inside Retry, so it sees every attempt of a delivery.
func countAttempts(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		n, _ := strconv.Atoi(msg.Metadata.Get(MetadataAttempt))
		msg.Metadata.Set(MetadataAttempt, strconv.Itoa(n+1))
		return h(msg)
	}
}
