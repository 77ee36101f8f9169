package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/bloom"
	"github.com/Guyuepp/videohub/internal/broker"
	"github.com/Guyuepp/videohub/internal/config"
	"github.com/Guyuepp/videohub/internal/consumer"
	"github.com/Guyuepp/videohub/internal/logging"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/Guyuepp/videohub/internal/outbox"
	"github.com/Guyuepp/videohub/internal/queue"
	mysqlRepo "github.com/Guyuepp/videohub/internal/repository/mysql"
	redisRepo "github.com/Guyuepp/videohub/internal/repository/redis"
	"github.com/Guyuepp/videohub/internal/rest"
	"github.com/Guyuepp/videohub/internal/rest/middleware"
	"github.com/Guyuepp/videohub/internal/transcoder"
	"github.com/Guyuepp/videohub/internal/usecase/comment"
	"github.com/Guyuepp/videohub/internal/usecase/membership"
	"github.com/Guyuepp/videohub/internal/usecase/user"
	"github.com/Guyuepp/videohub/internal/usecase/video"
	"github.com/Guyuepp/videohub/internal/workers"
)

// jobsGroup is the consumer group every worker replica joins.
const jobsGroup = "workers"

func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// prepare database
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB from gorm.DB: %w", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logrus.WithError(err).Error("got error when closing the DB connection")
		}
	}()
	if cfg.Database.AutoMigrate {
		if err := mysqlRepo.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// prepare bloom filter storage
	var filter domain.BloomRepository = bloom.NewMemory()
	if cfg.Membership.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := client.Close(); err != nil {
				logrus.WithError(err).Error("got error when closing the redis connection")
			}
		}()
		if err := client.Ping(ctx).Err(); err != nil {
			// the gate falls back to MySQL while Redis is away
			logrus.WithError(err).Warn("redis unreachable at startup")
		}
		filter = redisRepo.NewRedisBloomRepo(client)
	}

	recorder := metrics.NewRecorder(nil)
	wmLogger := logging.NewWatermillLogger(logrus.WithField("component", "watermill"))

	// Prepare Repository
	tx := mysqlRepo.NewTransactor(db)
	userRepo := mysqlRepo.NewUserRepository(db)
	videoRepo := mysqlRepo.NewVideoRepository(db)
	statusLogRepo := mysqlRepo.NewVideoStatusLogRepository(db)
	commentRepo := mysqlRepo.NewCommentRepository(db)
	likeRepo := mysqlRepo.NewLikeRepository(db)
	outboxRepo := mysqlRepo.NewOutboxRepository(db)
	processedRepo := mysqlRepo.NewProcessedMessageRepository(db)
	cacheStateRepo := mysqlRepo.NewCacheStateRepository(db)

	memberSvc, err := membership.NewService(cacheStateRepo, filter, membership.Config{
		BatchSize:   cfg.Membership.BatchSize,
		StateTTL:    cfg.Membership.StateTTL,
		Lease:       cfg.Membership.Lease,
		RetireGrace: cfg.Membership.RetireGrace,
	}, recorder,
		membership.Instance{
			Name:      domain.MembershipUserEmails,
			Capacity:  cfg.Membership.UserEmails.Capacity,
			ErrorRate: cfg.Membership.UserEmails.ErrorRate,
			Source:    membership.UserEmailSource(userRepo),
		},
		membership.Instance{
			Name:      domain.MembershipVideoIDs,
			Capacity:  cfg.Membership.VideoIDs.Capacity,
			ErrorRate: cfg.Membership.VideoIDs.ErrorRate,
			Source:    membership.VideoIDSource(videoRepo),
		},
	)
	if err != nil {
		return err
	}

	// Build service Layer
	writer := outbox.NewWriter(outboxRepo)
	userSvc := user.NewService(tx, userRepo, memberSvc, writer)
	videoSvc := video.NewService(tx, videoRepo, statusLogRepo, memberSvc, writer)
	commentSvc := comment.NewService(tx, commentRepo, likeRepo, videoRepo, memberSvc, writer, recorder)

	// prepare broker
	b, err := broker.New(broker.Config{
		Driver:           cfg.Broker.Driver,
		URL:              cfg.Broker.URL,
		StreamName:       cfg.Broker.Stream,
		DuplicateWindow:  cfg.Broker.DuplicateWindow,
		MaxAge:           cfg.Broker.MaxAge,
		SubscribersCount: cfg.Broker.SubscribersCount,
		AckWait:          cfg.Broker.AckWait,
		MaxDeliver:       cfg.Broker.MaxDeliver,
		CloseTimeout:     cfg.Broker.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logrus.WithError(err).Error("got error when closing the broker")
		}
	}()
	jobs := queue.NewClient(b.Publisher())

	relay := outbox.NewRelay(outboxRepo, outbox.NewBrokerPublisher(b.Publisher(), outbox.BreakerConfig{
		FailureThreshold: cfg.Outbox.BreakerFailures,
		Timeout:          cfg.Outbox.BreakerOpenFor,
	}), outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		Lease:        cfg.Outbox.Lease,
	}, recorder)

	// job workers
	jobRouter := queue.NewRouter(routerConfig(cfg, "jobs", queue.DeadLetterTopic), b.Publisher(), wmLogger)
	jobSub, err := b.Subscriber(jobsGroup)
	if err != nil {
		return err
	}
	hooks := workers.Hooks{Recorder: recorder}
	workers.Register(jobRouter, jobSub, &workers.PopulateCacheHandler{Hooks: hooks, Membership: memberSvc})
	workers.Register(jobRouter, jobSub, &workers.ReconcileLikesHandler{Hooks: hooks, Comments: commentSvc})
	workers.Register(jobRouter, jobSub, &workers.TranscodeVideoHandler{
		Hooks:     hooks,
		Videos:    videoRepo,
		Usecase:   videoSvc,
		Requester: transcoder.New(transcoder.Config{BaseURL: cfg.Transcoder.URL, Timeout: cfg.Transcoder.Timeout}),
	})

	// event consumers
	eventRouter := queue.NewRouter(routerConfig(cfg, "events", consumer.DeadLetterTopic), b.Publisher(), wmLogger)
	handlers := consumer.NewHandlers(tx, processedRepo, videoSvc, memberSvc, jobs, recorder)
	if err := handlers.Register(eventRouter, b); err != nil {
		return err
	}

	// prepare gin
	route := gin.Default()
	route.Use(middleware.CORS())
	route.Use(middleware.SetRequestContextWithTimeout(cfg.HTTP.RequestTimeout))
	rest.Routes{
		Users:    rest.NewUserHandler(userSvc),
		Videos:   rest.NewVideoHandler(videoSvc),
		Comments: rest.NewCommentHandler(commentSvc),
		Admin:    rest.NewAdminHandler(memberSvc, jobs, relay),
		Metrics:  recorder.Handler(),
		Health: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return sqlDB.PingContext(pingCtx)
		},
	}.Register(route)

	if cfg.Jobs.PopulateOnStart {
		enqueuePopulation(ctx, memberSvc, jobs)
	}

	sup := suture.New("videohub", suture.Spec{
		EventHook: supervisorEvents,
		Timeout:   cfg.HTTP.ShutdownGrace + cfg.Queue.CloseTimeout,
	})
	sup.Add(relay)
	sup.Add(jobRouter)
	sup.Add(eventRouter)
	sup.Add(workers.NewReconcileScheduler(likeRepo, jobs, cfg.Jobs.ReconcileInterval))
	sup.Add(&httpService{
		srv:   &http.Server{Addr: cfg.HTTP.Address, Handler: route},
		grace: cfg.HTTP.ShutdownGrace,
	})

	err = sup.Serve(ctx)
	logrus.Info("Server exiting")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openDB(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logging.NewGormLogger(cfg.Logging.SlowQuery),
	}

	for i := range cfg.Database.MaxRetry {
		db, err = gorm.Open(gormmysql.Open(cfg.Database.DSN()), gormCfg)
		if err == nil {
			if err = ping(ctx, db); err == nil {
				break
			}
		}
		logrus.Warnf("failed to connect to database (attempt %d/%d): %v", i+1, cfg.Database.MaxRetry, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Database.RetryInterval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to database after retries: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func routerConfig(cfg *config.Config, name, poisonTopic string) queue.RouterConfig {
	return queue.RouterConfig{
		Name:            name,
		MaxRetries:      cfg.Queue.MaxRetries,
		InitialInterval: cfg.Queue.InitialInterval,
		MaxInterval:     cfg.Queue.MaxInterval,
		Multiplier:      2,
		HandlerTimeout:  cfg.Queue.HandlerTimeout,
		CloseTimeout:    cfg.Queue.CloseTimeout,
		PoisonTopic:     poisonTopic,
	}
}

// enqueuePopulation queues a first population for every instance not yet READY.
// Several replicas may do this at once; the population lease lets one of them scan.
func enqueuePopulation(ctx context.Context, m domain.MembershipUsecase, jobs domain.JobEnqueuer) {
	for _, name := range m.Instances() {
		st, err := m.State(ctx, name)
		if err != nil {
			logrus.WithError(err).WithField("instance", name).Warn("read membership state failed")
			continue
		}
		if st.Ready() {
			continue
		}
		id, err := jobs.Enqueue(ctx, domain.PopulateCacheJob{Instance: name})
		if err != nil {
			logrus.WithError(err).WithField("instance", name).Error("enqueue membership population failed")
			continue
		}
		logrus.WithFields(logrus.Fields{"instance": name, "job_id": id, "status": st.Status}).Info("membership population queued")
	}
}

func init() {
	gin.SetMode(envOr("GIN_MODE", gin.ReleaseMode))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
