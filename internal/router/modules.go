package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sraws/backend/internal/delivery"
	"github.com/sraws/backend/internal/digest"
	"github.com/sraws/backend/internal/handlers"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/outbox"
	"github.com/sraws/backend/internal/ratelimit"
	"github.com/sraws/backend/internal/repositories"
	"github.com/sraws/backend/internal/services"
	"github.com/sraws/backend/internal/websocket"
	"github.com/sraws/backend/pkg/config"
	"github.com/sraws/backend/pkg/firebase"
	"github.com/sraws/backend/pkg/logger"
	"github.com/sraws/backend/pkg/validators"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InfraModules provides configuration, logging and the external connections.
var InfraModules = fx.Module("infra",
	fx.Provide(config.Load),
	fx.Provide(newLogger),
	fx.Provide(config.InitDB),
	fx.Provide(newFirebase),
	fx.Provide(func(db *config.DB) *mongo.Database { return db.MongoDB }),
	fx.Provide(func(db *config.DB) *gorm.DB { return db.Postgres }),
	fx.Provide(func(db *config.DB) redis.UniversalClient { return db.Redis }),
)

// RepositoryModules provides the document stores and the Postgres ledger.
var RepositoryModules = fx.Module("repositories",
	fx.Provide(func(db *config.DB, cfg *config.Config) repositories.TxRunner {
		return repositories.NewMongoTxRunner(db.Mongo, cfg.MongoTransactions)
	}),
	fx.Provide(fx.Annotate(repositories.NewMongoUserRepository, fx.As(new(repositories.UserRepository)))),
	fx.Provide(fx.Annotate(repositories.NewMongoNotificationRepository, fx.As(new(repositories.NotificationRepository)))),
	fx.Provide(fx.Annotate(repositories.NewMongoPostRepository, fx.As(new(repositories.PostRepository)))),
	fx.Provide(fx.Annotate(repositories.NewMongoCommentRepository, fx.As(new(repositories.CommentRepository)))),
	fx.Provide(fx.Annotate(repositories.NewMongoMessageRepository, fx.As(new(repositories.MessageRepository)))),
	fx.Provide(fx.Annotate(repositories.NewMongoOutboxRepository, fx.As(new(repositories.OutboxRepository)))),
	fx.Provide(repositories.NewGormDeliveryRepository),
	fx.Provide(func(r *repositories.GormDeliveryRepository) repositories.DeliveryRepository { return r }),
	fx.Invoke(prepareStores),
)

// DeliveryModules provides the socket hub, the delivery fan-out and the outbox pipeline.
var DeliveryModules = fx.Module("delivery",
	fx.Provide(websocket.NewHub),
	fx.Provide(newFanout),
	fx.Provide(func(f *delivery.Fanout) services.Dispatcher { return f }),
	fx.Provide(services.NewNotificationService),
	fx.Provide(func(s *services.NotificationService) outbox.Notifier { return s }),
	fx.Provide(newProcessor),
	fx.Provide(newPublisher),
	fx.Provide(newRelay),
	fx.Provide(ratelimit.NewCooldown),
	fx.Provide(ratelimit.NewQuota),
	fx.Provide(newActionService),
	fx.Provide(newDigestScheduler),
	fx.Invoke(runBackground),
)

// EchoModules provides the HTTP server, its handlers and routes.
var EchoModules = fx.Module("echo",
	fx.Provide(NewEchoServer),
	fx.Provide(newAuthenticator),
	fx.Provide(fx.Annotate(
		func(cfg *config.Config) string { return cfg.InternalAPIKey },
		fx.ResultTags(`name:"internalKey"`),
	)),
	fx.Provide(func(a *middleware.Authenticator) handlers.TokenIssuer { return a }),
	fx.Provide(handlers.NewAuthHandler),
	fx.Provide(handlers.NewNotificationHandler),
	fx.Provide(handlers.NewPostHandler),
	fx.Provide(handlers.NewLikeHandler),
	fx.Provide(handlers.NewCommentHandler),
	fx.Provide(handlers.NewMessageHandler),
	fx.Invoke(SetupRoutes),
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.IsDevelopment())
}

func newFirebase(cfg *config.Config, log *zap.Logger) (*firebase.App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, log)
}

func prepareStores(
	lc fx.Lifecycle,
	users repositories.UserRepository,
	notifications repositories.NotificationRepository,
	effects repositories.OutboxRepository,
	ledger *repositories.GormDeliveryRepository,
	log *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := users.EnsureIndexes(ctx); err != nil {
				return err
			}
			if err := notifications.EnsureIndexes(ctx); err != nil {
				return err
			}
			if err := effects.EnsureIndexes(ctx); err != nil {
				return err
			}
			if err := ledger.AutoMigrate(); err != nil {
				return err
			}
			log.Info("indexes ensured and ledger migrated")
			return nil
		},
	})
}

func newFanout(
	cfg *config.Config,
	app *firebase.App,
	hub *websocket.Hub,
	users repositories.UserRepository,
	notifications repositories.NotificationRepository,
	ledger repositories.DeliveryRepository,
	log *zap.Logger,
) *delivery.Fanout {
	var fcm delivery.MulticastSender
	if app != nil {
		fcm = app.MessagingClient
	}
	if cfg.VAPIDPrivateKey == "" {
		log.Warn("VAPID keys not set, web push delivery is disabled")
	}
	vapid := delivery.VAPID{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}
	return delivery.NewFanout(users, notifications, ledger, log.Named("fanout"),
		delivery.NewFCMChannel(fcm),
		delivery.NewWebPushChannel(vapid, &http.Client{Timeout: 10 * time.Second}),
		delivery.NewSocketChannel(hub),
	)
}

func newProcessor(
	cfg *config.Config,
	tx repositories.TxRunner,
	effects repositories.OutboxRepository,
	users repositories.UserRepository,
	notifier outbox.Notifier,
	log *zap.Logger,
) *outbox.Processor {
	return outbox.NewProcessor(tx, effects, users, notifier, cfg.OutboxMaxAttempts, log.Named("outbox"))
}

// newPublisher routes claimed effects through RabbitMQ when AMQP_URL is set and processes them
// in-process otherwise. The bus is nil in the second case.
func newPublisher(cfg *config.Config, processor *outbox.Processor, log *zap.Logger) (outbox.Publisher, *outbox.AMQPBus, error) {
	if cfg.AMQPURL == "" {
		log.Info("AMQP_URL not set, outbox effects are processed in-process")
		return outbox.NewDirectPublisher(processor), nil, nil
	}
	bus, err := outbox.DialAMQP(cfg.AMQPURL, log.Named("amqp"))
	if err != nil {
		return nil, nil, err
	}
	return bus, bus, nil
}

func newRelay(cfg *config.Config, effects repositories.OutboxRepository, publisher outbox.Publisher, processor *outbox.Processor, log *zap.Logger) *outbox.Relay {
	return outbox.NewRelay(effects, publisher, processor, cfg.OutboxPollInterval, log.Named("relay"))
}

type actionDeps struct {
	fx.In

	Tx       repositories.TxRunner
	Users    repositories.UserRepository
	Posts    repositories.PostRepository
	Comments repositories.CommentRepository
	Messages repositories.MessageRepository
	Outbox   repositories.OutboxRepository
	Cooldown *ratelimit.Cooldown
	Hub      *websocket.Hub
	Relay    *outbox.Relay
	Config   *config.Config
	Log      *zap.Logger
}

func newActionService(d actionDeps) *services.ActionService {
	return services.NewActionService(
		services.ActionRepos{
			Tx:       d.Tx,
			Users:    d.Users,
			Posts:    d.Posts,
			Comments: d.Comments,
			Messages: d.Messages,
			Outbox:   d.Outbox,
		},
		d.Cooldown,
		d.Hub,
		d.Relay,
		services.ActionConfig{PostCooldown: d.Config.PostCooldown, CommentCooldown: d.Config.CommentCooldown},
		d.Log,
	)
}

func newDigestScheduler(
	cfg *config.Config,
	users repositories.UserRepository,
	notifications repositories.NotificationRepository,
	ledger repositories.DeliveryRepository,
	quota *ratelimit.Quota,
	log *zap.Logger,
) *digest.Scheduler {
	pool := digest.NewSenderPool(cfg.SMTPSenders, quota, cfg.SMTPDailyQuota)
	return digest.NewScheduler(users, notifications, ledger, pool, digest.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort),
		digest.Options{Schedule: cfg.DigestSchedule, Window: cfg.DigestWindow, AppURL: cfg.AppURL},
		log.Named("digest"),
	)
}

type backgroundDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Hub       *websocket.Hub
	Relay     *outbox.Relay
	Processor *outbox.Processor
	Bus       *outbox.AMQPBus `optional:"true"`
	Digest    *digest.Scheduler
	Config    *config.Config
	Log       *zap.Logger
}

// runBackground ties the long-running loops to the app lifecycle. They run on their own context
// because the OnStart context expires once startup completes.
func runBackground(d backgroundDeps) {
	var cancel context.CancelFunc
	d.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			go d.Hub.Run(ctx)
			go d.Relay.Run(ctx)
			if d.Bus != nil {
				if err := d.Bus.Consume(ctx, d.Processor.ProcessID); err != nil {
					return err
				}
			}
			if len(d.Config.SMTPSenders) == 0 {
				d.Log.Warn("SMTP_SENDERS not set, email digests are disabled")
				return nil
			}
			return d.Digest.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			d.Digest.Stop(ctx)
			if d.Bus != nil {
				return d.Bus.Close()
			}
			return nil
		},
	})
}

func newAuthenticator(cfg *config.Config, users repositories.UserRepository, app *firebase.App, log *zap.Logger) *middleware.Authenticator {
	var verifier middleware.IDTokenVerifier
	if app != nil {
		verifier = app.AuthClient
	}
	return middleware.NewAuthenticator(cfg.JWTSecret, users, verifier, log.Named("auth"))
}

// NewEchoServer builds the echo instance and binds its listener to the app lifecycle.
func NewEchoServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validators.NewValidator()
	e.HTTPErrorHandler = handlers.ErrorHandler(log)
	config.SetupMiddleware(e, cfg, log)

	addr := ":" + cfg.Port
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("server listening", zap.String("addr", addr))
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down the server")
			return e.Shutdown(ctx)
		},
	})
	return e
}
