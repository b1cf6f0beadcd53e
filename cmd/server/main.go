package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"live_commerce/internal/catalog"
	"live_commerce/internal/config"
	"live_commerce/internal/ingest"
	"live_commerce/internal/live"
	"live_commerce/internal/logger"
	"live_commerce/internal/metrics"
	"live_commerce/internal/queue"
	"live_commerce/internal/router"
	"live_commerce/internal/store"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	// 1. 数据库与商品目录
	db, err := store.OpenWithLogger(cfg.Database,
		logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level), 200*time.Millisecond))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(db) }()

	if cfg.Catalog.SeedFile != "" {
		items, err := catalog.LoadSeedFile(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, db, items); err != nil {
			return err
		}
		log.Info("catalog seeded", zap.Int("items", len(items)))
	}
	cache := catalog.NewCache(catalog.NewGormSource(db), cfg.Catalog.RefreshInterval, log.Named("catalog"))
	if err := cache.Refresh(ctx); err != nil {
		return err
	}
	background(cache.Run)

	collector := metrics.New()

	// 2. 可选 Redis：outbox、Stream 评论接入、限流
	var rdb *rd.Client
	var events live.OrderEventSink = live.NopEventSink
	if cfg.Redis.Enabled {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		outbox := queue.NewOutbox(rdb, cfg.Outbox.Stream, cfg.Outbox.MaxLen, cfg.Outbox.Buffer, log.Named("outbox"))
		collector.GaugeFunc("outbox_dropped_total", "Order events dropped because the outbox buffer was full.",
			func() float64 { return float64(outbox.Dropped()) })
		events = outbox
		background(outbox.Run)
	}

	// 3. 可选 Kafka：转发 outbox、消费支付更新
	if cfg.Kafka.Enabled {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic)
		defer func() { _ = producer.Close() }()
		if rdb != nil {
			relay := queue.NewRelay(rdb, producer, cfg.Outbox.Stream, cfg.Outbox.Group, cfg.Outbox.Consumer, log.Named("relay"))
			background(relay.Run)
		} else {
			log.Warn("kafka enabled without redis, order events are not relayed")
		}
	}

	var sources live.SourceFactory
	switch cfg.Ingest.Driver {
	case "redis":
		sources = ingest.RedisFactory{Client: rdb, Block: cfg.Ingest.RedisBlock}
	case "kafka":
		sources = ingest.KafkaFactory{
			Brokers:     cfg.Kafka.Brokers,
			TopicPrefix: cfg.Kafka.CommentTopicPrefix,
			GroupPrefix: cfg.Kafka.CommentGroupPrefix,
		}
	default:
		sources = ingest.PushFactory{Size: cfg.Ingest.PushBuffer, Batch: cfg.Ingest.PushBatch}
	}

	// 4. 直播会话管理器
	manager := live.NewManager(live.Options{
		Store:    store.New(db),
		Catalog:  cache,
		Sources:  sources,
		Events:   events,
		Observer: collector,
		Logger:   log.Named("live"),
		Config: live.Config{
			Platforms: cfg.Pipeline.Platforms,
			Ingest: ingest.Config{
				Buffer: cfg.Ingest.Buffer,
				Rate:   cfg.Ingest.Rate,
				Burst:  cfg.Ingest.Burst,
				Backoff: ingest.Backoff{
					Base:        cfg.Ingest.BackoffBase,
					Max:         cfg.Ingest.BackoffMax,
					MaxAttempts: cfg.Ingest.BackoffAttempts,
				},
			},
			ReorderWindow:    cfg.Pipeline.ReorderWindow,
			PipelineBuffer:   cfg.Pipeline.Buffer,
			CommentHistory:   cfg.Pipeline.CommentHistory,
			SubscriberBuffer: cfg.Pipeline.SubscriberBuffer,
		},
	})
	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}

	if cfg.Kafka.Enabled {
		consumer := queue.NewPaymentConsumer(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic,
			cfg.Kafka.PaymentGroupID, manager, log.Named("payments"))
		defer func() { _ = consumer.Close() }()
		background(consumer.Run)
	}

	// 5. HTTP 服务
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logger.RequestID(), logger.GinMiddleware(log.Named("http")), logger.Recovery(log))
	router.Setup(r, router.Deps{
		Manager: manager,
		Redis:   rdb,
		Metrics: collector.Handler(),
		Config:  cfg,
		Logger:  log,
	})

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("ingest", cfg.Ingest.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	// 先结束所有直播（排空流水线、发出最后的订单事件），再停后台 worker
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("ending sessions", zap.Error(err))
	}
	stop()
	wg.Wait()
	log.Info("server exited")
	return nil
}
