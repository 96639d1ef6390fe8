package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/amqpsub"
	"github.com/BrandonDHaskell/keybox/internal/broadcast"
	"github.com/BrandonDHaskell/keybox/internal/config"
	"github.com/BrandonDHaskell/keybox/internal/db"
	"github.com/BrandonDHaskell/keybox/internal/grpcapi"
	"github.com/BrandonDHaskell/keybox/internal/httpapi"
	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store/sqlite"
	"github.com/BrandonDHaskell/keybox/internal/mqttsub"
)

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer sqlDB.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{File: cfg.SeedFile}); err != nil {
			log.WithError(err).Fatal("seed dev data")
		}
	}

	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	keyStore := sqlite.NewKeyStore(sqlDB, writer)
	deviceStore := sqlite.NewDeviceStore(sqlDB, writer)

	// Broadcast sinks
	hub := broadcast.NewHub(logger.WithField("component", "stream"))
	defer hub.Close()
	sinks := broadcast.Fanout{hub}
	if cfg.RedisAddr != "" {
		client, err := broadcast.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, publishing disabled")
		} else {
			defer client.Close()
			sinks = append(sinks, broadcast.NewRedisPublisher(client, cfg.RedisChannel))
		}
	}

	// Services
	engine := service.NewEngine(service.Stores{
		Principals: sqlite.NewPrincipalStore(sqlDB, writer),
		Keys:       keyStore,
		Ledger:     sqlite.NewLedgerStore(sqlDB, writer),
		Devices:    deviceStore,
	}, service.Options{
		DefaultDevice: cfg.DefaultDevice,
		Broadcaster:   sinks,
		Logger:        logger,
	})

	for _, id := range cfg.KnownDevices {
		if err := engine.Devices.NoteSeen(ctx, id); err != nil {
			log.WithError(err).WithField("device", id).Warn("register known device")
		}
	}

	if summary, err := engine.Ledger.Summary(ctx); err == nil {
		_ = hub.Broadcast(ctx, summary)
	}

	watchdog := service.NewDeviceWatchdog(deviceStore, engine.Alerts, service.WatchdogConfig{
		OfflineMinutes:  cfg.DeviceOfflineMinutes,
		IntervalSeconds: int(cfg.WatchdogInterval / time.Second),
	}, logger)
	watchdog.Start(ctx)
	defer watchdog.Stop()

	// gRPC health
	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(cfg.GRPCAddr, logger)
		go func() {
			if err := health.Start(); err != nil {
				log.WithError(err).Error("grpc server error")
				stop()
			}
		}()
	}

	// Brokers
	if cfg.MQTTBroker != "" {
		sub := mqttsub.New(mqttsub.Config{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, engine.Ingestor, logger)
		if health != nil {
			health.SetIngestReady(false)
			sub.OnStatus(health.SetIngestReady)
		}
		sub.Start(ctx)
		defer sub.Stop()
	}

	if cfg.AMQPURL != "" {
		consumer := amqpsub.New(amqpsub.Config{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue}, engine.Ingestor, logger)
		// Joined before writer.Close: an in-flight delivery still needs the writer.
		defer background(ctx, consumer.Run)()
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger: logger,
		Addr:   cfg.HTTPAddr,
		Engine: engine,
		Stream: hub,
	})

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if health != nil {
		health.Stop(shutdownCtx)
	}
}

// background runs fn on its own goroutine and returns a func that blocks
// until fn has returned.
func background(ctx context.Context, fn func(context.Context)) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() { <-done }
}
