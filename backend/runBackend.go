package backend

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jghoshh/fitquest/backend/config"
	"github.com/jghoshh/fitquest/backend/logger"
	"github.com/jghoshh/fitquest/backend/quest"
	"github.com/jghoshh/fitquest/backend/queue"
	"github.com/jghoshh/fitquest/backend/server"
	"github.com/jghoshh/fitquest/backend/server/auth"
	"github.com/jghoshh/fitquest/backend/server/notifications/email"
	cache "github.com/jghoshh/fitquest/backend/storage/cache"
	persistent "github.com/jghoshh/fitquest/backend/storage/persistent"
	"github.com/jghoshh/fitquest/backend/verification"
)

// TokenTTL is the lifetime of issued bearer tokens.
const TokenTTL = 24 * time.Hour

// DotenvFile is the optional dotenv file read before the environment.
const DotenvFile = "backend/.env"

// waiter is implemented by the in-process background runners.
type waiter interface{ Wait() }

// RunBackend is the main function that sets up and runs the backend server.
// It blocks until SIGINT or SIGTERM, then drains background work and closes
// every connection it opened.
func RunBackend(cfg *config.Config) error {
	logg := logger.New(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize the user store and the cache backing locks and email de-duplication.
	store, err := persistent.NewStorage(cfg.StoreBackend, cfg.DBName, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer closeWith(logg, "storage", store.Disconnect)

	locks, err := cache.NewCache(cfg.CacheBackend, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeWith(logg, "cache", locks.Disconnect)

	generator := buildGenerator(cfg, logg)
	replenisher := quest.NewReplenisher(store, generator, quest.ReplenisherConfig{
		Locks:     locks,
		LockTTL:   cfg.ReplenishLockTTL,
		MaxActive: cfg.TargetActiveQuests,
		Logger:    logg.WithPrefix("replenish"),
	})

	var sender email.Sender = &email.LogSender{Logger: logg.WithPrefix("email")}
	if cfg.SMTPUser != "" {
		smtp := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom)
		if err := smtp.Ping(); err != nil {
			logg.Warn("SMTP server not reachable at startup", "host", cfg.SMTPHost, "err", err)
		}
		sender = smtp
	}
	emailHandler := &queue.EmailHandler{Sender: sender, Cache: locks, Logger: logg.WithPrefix("email")}

	var (
		scheduler quest.Scheduler
		mailer    verification.Mailer
		consumers []*sync.WaitGroup
		queues    []*queue.Queue
		waiters   []waiter
	)

	switch cfg.QueueBackend {
	case "amqp":
		replenishQueue, rq, err := queue.BuildReplenishQueue(cfg.RabbitMQURL, cfg.ReplenishConsumers, replenisher, logg.WithPrefix("queue"))
		if err != nil {
			return err
		}
		emailQueue, eq, err := queue.BuildEmailQueue(cfg.RabbitMQURL, cfg.EmailConsumers, sender, locks, logg.WithPrefix("queue"))
		if err != nil {
			closeWith(logg, rq.Name, rq.Close)
			return err
		}
		queues = append(queues, rq, eq)
		for _, q := range queues {
			consumers = append(consumers, q.StartConsumers(ctx))
		}
		scheduler, mailer = replenishQueue, emailQueue
	default:
		async := quest.NewAsyncScheduler(replenisher)
		inProcess := queue.NewInProcessEmailQueue(emailHandler)
		scheduler, mailer = async, inProcess
		waiters = append(waiters, async, inProcess)
	}

	engine := quest.NewEngine(store, scheduler, quest.EngineConfig{
		TargetActive: cfg.TargetActiveQuests,
		Logger:       logg.WithPrefix("engine"),
	})
	verifier := verification.NewService(store, mailer, verification.Config{
		TTL:            cfg.VerificationTTL,
		MaxAttempts:    cfg.VerificationMaxAttempts,
		ResendCooldown: cfg.VerificationResendCooldown,
		Logger:         logg.WithPrefix("verification"),
	})
	tokens := auth.NewTokens(cfg.JWTSigningKey, TokenTTL)

	srv := server.New(engine, verifier, tokens, server.Options{
		RequireVerified: cfg.RequireVerified,
		Logger:          logg.WithPrefix("http"),
	})

	logg.Info("starting fitquest backend",
		"store", cfg.StoreBackend, "cache", cfg.CacheBackend,
		"queue", cfg.QueueBackend, "generator", cfg.Generator)

	serveErr := srv.Start(ctx, cfg.ServerURL)
	stop()

	// Drain background work before the connections close.
	for _, wg := range consumers {
		wg.Wait()
	}
	for _, w := range waiters {
		w.Wait()
	}
	for _, q := range queues {
		closeWith(logg, q.Name, q.Close)
	}

	if serveErr != nil {
		return fmt.Errorf("server stopped: %w", serveErr)
	}
	logg.Info("shutdown complete")
	return nil
}

func buildGenerator(cfg *config.Config, logg *log.Logger) quest.QuestGenerator {
	if cfg.Generator == "model" {
		provider := quest.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		return quest.NewModelBackedGenerator(provider, cfg.GenerationAttempts, nil, logg.WithPrefix("generator"))
	}
	return quest.NewTemplateGenerator(nil, nil)
}

func closeWith(logg *log.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error("error closing", "resource", name, "err", err)
	}
}

// MintToken signs a bearer token for userID with the configured key.
// Signup lives outside this service; the token command uses this for local runs.
func MintToken(cfg *config.Config, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	return auth.NewTokens(cfg.JWTSigningKey, TokenTTL).CreateAuthToken(userID)
}
