package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/cache/rediscache"
	"github.com/BearBump/DispatchBox/internal/integrations/gateway"
	"github.com/BearBump/DispatchBox/internal/integrations/gateway/fake"
	"github.com/BearBump/DispatchBox/internal/integrations/gateway/shipoxhttp"
	"github.com/BearBump/DispatchBox/internal/services/dispatch"
	"github.com/BearBump/DispatchBox/internal/storage/pgdispatch"
)

type dispatchAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     dispatchAPIOpts
	svc      *dispatch.Service
	consumer *kafka.Consumer
	cache    *rediscache.RedisCache
	rl       *rediscache.RateLimiter
	closeDB  func()
}

func mustBootstrapDispatchAPI() *dispatchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.DispatchBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.DispatchBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "dispatch-api"
	}
	importTopic := cfg.Kafka.TrackingImportedTopicName
	if importTopic == "" {
		importTopic = "tracking.imported"
	}
	dispatchedTopic := cfg.Kafka.OrderDispatchedTopicName
	if dispatchedTopic == "" {
		dispatchedTopic = "order.dispatched"
	}
	poolTTL := time.Duration(cfg.DispatchBox.PoolCountTTLSeconds) * time.Second
	if poolTTL <= 0 {
		poolTTL = time.Minute
	}
	gwRate := int64(cfg.DispatchBox.GatewayRateLimitPerMinute)
	if gwRate <= 0 {
		gwRate = 120
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, importTopic, consumerGroup)

	svc := dispatch.New(dispatch.NewPGStore(st), rc, poolTTL).
		WithGateway(newGatewayClient(cfg)).
		WithProducer(producer, dispatchedTopic).
		WithRateLimiter(rl, gwRate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &dispatchAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: dispatchAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			importTopic:   importTopic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		cache:    rc,
		rl:       rl,
		closeDB:  st.Close,
	}
}

func newGatewayClient(cfg *config.Config) gateway.Client {
	// По умолчанию fake: без base_url живой шлюз всё равно недостижим.
	if cfg.DispatchBox.GatewayMode == "shipox" && cfg.DispatchBox.GatewayBaseURL != "" {
		return shipoxhttp.New(cfg.DispatchBox.GatewayBaseURL, cfg.DispatchBox.GatewayAPIKey)
	}
	return fake.New()
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdispatch.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdispatch.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *dispatchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.rl != nil {
		_ = a.rl.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *dispatchAPIApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.svc, a.consumer)
}
