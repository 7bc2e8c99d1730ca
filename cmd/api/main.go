package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/cache"
	"github.com/azizikri/coupon-budget-ledger/internal/compensation"
	"github.com/azizikri/coupon-budget-ledger/internal/config"
	httphandler "github.com/azizikri/coupon-budget-ledger/internal/delivery/http"
	"github.com/azizikri/coupon-budget-ledger/internal/delivery/kafka"
	"github.com/azizikri/coupon-budget-ledger/internal/eligibility"
	"github.com/azizikri/coupon-budget-ledger/internal/fastpath"
	"github.com/azizikri/coupon-budget-ledger/internal/ledger"
	"github.com/azizikri/coupon-budget-ledger/internal/lock"
	"github.com/azizikri/coupon-budget-ledger/internal/logger"
	"github.com/azizikri/coupon-budget-ledger/internal/observability"
	"github.com/azizikri/coupon-budget-ledger/internal/repository"
	"github.com/azizikri/coupon-budget-ledger/internal/reservation"
	"github.com/azizikri/coupon-budget-ledger/internal/ruleoracle"
	"github.com/azizikri/coupon-budget-ledger/internal/usecase"
	"github.com/azizikri/coupon-budget-ledger/internal/workerpool"
	"github.com/go-zookeeper/zk"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	pool, err := initDB(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	mutex, closeMutex, err := newMutex(cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up budget lock")
	}
	defer closeMutex()

	oracle, err := newOracle(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up rule oracle")
	}

	store := repository.New(pool)
	budgetLedger := ledger.NewService(store)
	fast := fastpath.NewLedger(rdb, fastpath.Options{
		BudgetTTL:   cfg.BudgetCacheTTL,
		RegisterTTL: cfg.RegisterTTL,
	})
	cas := fastpath.NewCASLedger(rdb, fastpath.NewRedisSwapper(rdb, cfg.BudgetCacheTTL), fastpath.CASOptions{
		MaxAttempts: cfg.CASMaxAttempts,
		Backoff:     cfg.CASBackoff,
		RegisterTTL: cfg.RegisterTTL,
	})

	var wg sync.WaitGroup
	var clients []*kgo.Client
	var eventLog compensation.Log
	var memLog *compensation.MemoryLog
	var producer *kgo.Client

	if cfg.EventDrivenEnabled {
		producer, err = kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers()...),
			kgo.ClientID(cfg.KafkaClientID),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		clients = append(clients, producer)

		if err := kafka.EnsureTopics(ctx, producer, cfg); err != nil {
			log.Warn().Err(err).Msg("failed to ensure topics")
		}
		eventLog = kafka.NewLog(producer)
	} else {
		memLog = compensation.NewMemoryLog(cfg.KafkaRetryDelay)
		eventLog = memLog
	}
	publisher := compensation.NewPublisher(eventLog)

	coordinator, err := reservation.NewCoordinator(budgetLedger, fast, cas, mutex, publisher, reservation.Options{
		Strategy:    cfg.Strategy,
		LockTimeout: cfg.LockWaitTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build reservation coordinator")
	}

	handlers := map[string]compensation.Handler{
		kafka.TopicRegisterRequest: kafka.RegisterHandler(coordinator, eventLog),
		kafka.TopicConfirmRequest:  compensation.ConfirmHandler(budgetLedger),
		kafka.TopicRollbackRequest: compensation.RollbackHandler(coordinator),
	}

	var gateway usecase.BudgetGateway
	if cfg.EventDrivenEnabled {
		consumerClient, err := newConsumerClient(cfg.Brokers(), cfg.KafkaClientID+"-consumer", cfg.KafkaGroupID, kafka.RequestTopics...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		retryClient, err := newConsumerClient(cfg.Brokers(), cfg.KafkaClientID+"-retry", cfg.KafkaRetryGroupID, kafka.RetryTopics()...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka retry consumer")
		}
		replyClient, err := newReplyClient(cfg.Brokers(), cfg.KafkaClientID+"-reply", kafka.ReplyTopic(cfg.KafkaInstanceID))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka reply consumer")
		}
		clients = append(clients, consumerClient, retryClient, replyClient)

		consumer := kafka.NewConsumer(consumerClient, handlers, cfg.KafkaRetryDelay)
		retryConsumer := kafka.NewConsumer(retryClient, nil, cfg.KafkaRetryDelay)
		kgateway := kafka.NewGateway(producer, cfg.KafkaInstanceID)
		gateway = kgateway

		goRun(&wg, func() { consumer.Start(ctx) })
		goRun(&wg, func() { retryConsumer.StartRetry(ctx) })
		goRun(&wg, func() { kgateway.StartReplies(ctx, replyClient) })
		<-consumer.Ready()
	} else {
		gateway = kafka.NewDirectGateway(coordinator)
		for _, topic := range []string{kafka.TopicConfirmRequest, kafka.TopicRollbackRequest} {
			handler := handlers[topic]
			goRun(&wg, func() { _ = memLog.Run(ctx, topic, handler) })
		}
	}

	couponCache := cache.NewCouponCache(rdb, cfg.CouponCacheTTL)
	evalPool := workerpool.New(cfg.EvalPoolSize)
	selector := eligibility.NewSelector(couponCache, store, oracle, evalPool, cfg.RuleOracleTimeout)
	coupons := usecase.NewCouponService(store, couponCache, selector, gateway, publisher, usecase.Options{
		BudgetTimeout: kafka.RequestTimeout,
	})
	budgets := usecase.NewBudgetService(budgetLedger, coordinator)

	router := httphandler.NewRouter(httphandler.NewHandler(coupons, budgets), httphandler.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateRPS:        cfg.RateRPS,
		RateBurst:      cfg.RateBurst,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	goRun(&wg, func() {
		log.Info().
			Str("port", cfg.AppPort).
			Str("strategy", string(cfg.Strategy)).
			Bool("event_driven", cfg.EventDrivenEnabled).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	})

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	for _, client := range clients {
		client.Close()
	}
	wg.Wait()
	evalPool.Wait()

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown error")
	}
	log.Info().Msg("shutdown complete")
}

func goRun(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func newMutex(cfg *config.Config, rdb *redis.Client) (lock.Mutex, func(), error) {
	if cfg.LockBackend != config.LockBackendZookeeper {
		return lock.NewRedisMutex(rdb, cfg.LockTTL), func() {}, nil
	}
	conn, _, err := zk.Connect(cfg.ZKServers, 10*time.Second)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewZKMutex(conn), conn.Close, nil
}

func newOracle(cfg *config.Config) (ruleoracle.Oracle, error) {
	if cfg.RuleOracleMode == config.OracleModeCEL {
		rules, err := ruleoracle.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		oracle, err := ruleoracle.NewCELOracle(rules)
		if err != nil {
			return nil, err
		}
		return oracle, nil
	}
	return ruleoracle.NewHTTPOracle(cfg.RuleOracleURL, cfg.RuleOracleTimeout, nil), nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
}
