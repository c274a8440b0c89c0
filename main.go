// Package main provides the entry point for the Facebook Messenger automation backend
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/classifier"
	"github.com/ReZill392/Thesit-sub000/app/handlers"
	"github.com/ReZill392/Thesit-sub000/app/ingestor"
	"github.com/ReZill392/Thesit-sub000/app/logger"
	"github.com/ReZill392/Thesit-sub000/app/router"
	"github.com/ReZill392/Thesit-sub000/app/scheduler"
	"github.com/ReZill392/Thesit-sub000/app/services"
	businessflow "github.com/ReZill392/Thesit-sub000/business_flow"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
	log       *logrus.Logger
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get("main")
	log.Info("starting messenger automation backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize application")
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutting down gracefully")

	// Stop background workers in reverse start order
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("error during shutdown")
	}

	log.Info("server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("database connection established")

	return db, nil
}

// initializeCache connects the token store redis and verifies connectivity
func initializeCache(cfg config.CacheConfig, log *logrus.Logger) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.WithFields(logrus.Fields{"addr": cfg.Addr(), "db": cfg.RedisDB}).Info("redis connection established")
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned func stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, log *logrus.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.WithError(err).Warn("redis healthcheck failed")
				}
				c()
			}
		}
	}()
	return cancel
}

// startChangeBusConsumer drains the change bus into the log until stopped
func startChangeBusConsumer(bus *services.ChangeBus, log *logrus.Logger) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case ev := <-bus.Events():
				log.WithFields(logrus.Fields{
					"event_id":    ev.ID,
					"kind":        ev.Kind,
					"page_id":     ev.PageID,
					"customer_id": ev.CustomerID,
					"group_kind":  ev.GroupKind,
					"status":      ev.Status,
				}).Debug("customer change")
			}
		}
	}()
	return func() {
		bus.Close()
		close(stop)
		<-done
	}
}

// startMiningCompaction prunes superseded mining status rows on a cron schedule
func startMiningCompaction(spec string, mining businessflow.MiningFlow, log *logrus.Logger) (func(), error) {
	if spec == "" {
		return func() {}, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		removed, err := mining.Compact(ctx)
		if err != nil {
			log.WithError(err).Error("mining status compaction failed")
			return
		}
		log.WithField("removed", removed).Info("mining status compaction finished")
	}); err != nil {
		return nil, fmt.Errorf("invalid mining compaction schedule %q: %w", spec, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// initializeApplication initializes the main application components
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig) (*Application, error) {
	log := logger.Get("main")
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logger.Get("database"))
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, log)
	if err != nil {
		return nil, err
	}
	// Stop funcs run in reverse, so the client closes after every worker
	stopFuncs = append(stopFuncs, func() {
		if err := rc.Close(); err != nil {
			log.WithError(err).Warn("failed to close redis client")
		}
	})
	stopFuncs = append(stopFuncs, startCacheHealthMonitor(ctx, rc, 30*time.Second, log))

	// Initialize repositories
	pageRepo := repository.NewPageRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	messageRepo := repository.NewCustomerMessageRepository(db)
	classificationRepo := repository.NewClassificationRepository(db)
	knowledgeRepo := repository.NewKnowledgeTypeRepository(db)
	bindingRepo := repository.NewPageKnowledgeBindingRepository(db)
	groupRepo := repository.NewCustomGroupRepository(db)
	tierRepo := repository.NewRetargetTierRepository(db)
	statusRepo := repository.NewMiningStatusRepository(db)
	stepRepo := repository.NewCustomerTypeMessageRepository(db)
	scheduleRepo := repository.NewMessageScheduleRepository(db)

	// Initialize services
	graph := services.NewGraphClient(cfg.Facebook)
	tokens := services.NewRedisTokenStore(rc, cfg.Cache.RedisPrefix, cfg.Cache.TokenTTL)
	retry := services.DefaultRetryPolicy()
	renderer := services.NewMessageRenderer()
	lock := services.NewLeaderLock(rc, cfg.Cache.RedisPrefix+"scheduler:leader", cfg.Scheduler.LeaderLockTTL)

	llm, err := services.NewLLMClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	assets, err := services.NewAssetStore(ctx, cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize asset store: %w", err)
	}

	bus := services.NewChangeBus(cfg.Ingestor.QueueSize, logger.Get("change_bus"))
	stopFuncs = append(stopFuncs, startChangeBusConsumer(bus, logger.Get("change_bus")))

	// Initialize flows
	miningFlow := businessflow.NewMiningFlow(pageRepo, customerRepo, statusRepo, bus, logger.Get("mining"))

	catalogFlow := businessflow.NewKnowledgeCatalogFlow(knowledgeRepo, db, logger.Get("catalog"))
	if path := cfg.Mining.KnowledgeCatalogFile; path != "" {
		if _, err := catalogFlow.SeedFile(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to seed knowledge catalog: %w", err)
		}
	}

	// Background workers
	writer := ingestor.NewBatchWriter(customerRepo, cfg.Ingestor.QueueSize, cfg.Ingestor.FlushInterval, logger.Get("ingestor"))
	stopFuncs = append(stopFuncs, writer.Start(ctx))

	ingest := ingestor.New(
		cfg.Ingestor,
		graph,
		tokens,
		pageRepo,
		customerRepo,
		messageRepo,
		miningFlow,
		bus,
		writer,
		retry,
		logger.Get("ingestor"),
	)
	stopFuncs = append(stopFuncs, ingest.Start(ctx))

	classify, err := classifier.New(
		cfg.Classifier,
		pageRepo,
		customerRepo,
		messageRepo,
		classificationRepo,
		bindingRepo,
		groupRepo,
		tierRepo,
		llm,
		classifier.NewHTTPImageFetcher(cfg.LLM.Timeout, cfg.Classifier.MaxImage),
		bus,
		retry,
		logger.Get("classifier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}
	stopClassifier, err := classify.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start classifier: %w", err)
	}
	stopFuncs = append(stopFuncs, stopClassifier)

	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Graph:           graph,
		Tokens:          tokens,
		Pages:           pageRepo,
		Customers:       customerRepo,
		Classifications: classificationRepo,
		Bindings:        bindingRepo,
		Assets:          assets,
		Renderer:        renderer,
		Bus:             bus,
		Lock:            lock,
	}, retry, logger.Get("scheduler"))
	stopFuncs = append(stopFuncs, sched.Start(ctx))

	stopCompaction, err := startMiningCompaction(cfg.Mining.CompactionCron, miningFlow, logger.Get("mining"))
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, stopCompaction)

	scheduleFlow := businessflow.NewScheduleFlow(
		sched,
		pageRepo,
		bindingRepo,
		stepRepo,
		scheduleRepo,
		cfg.Scheduler.Timezone,
		logger.Get("scheduler"),
	)
	syncFlow := businessflow.NewSyncFlow(ingest, logger.Get("ingestor"))

	// Initialize handlers
	httpLog := logger.Get("http")
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	appRouter := router.NewFiberRouter(cfg, router.Handlers{
		Schedule: handlers.NewScheduleHandler(scheduleFlow, httpLog),
		Mining:   handlers.NewMiningHandler(miningFlow, httpLog),
		Sync:     handlers.NewSyncHandler(syncFlow, httpLog),
		Health: handlers.NewHealthHandler(
			sqlDB.PingContext,
			func(ctx context.Context) error { return rc.Ping(ctx).Err() },
			httpLog,
		),
	}, httpLog)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
		log:       log,
	}, nil
}
