package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/safar/order-settlement/internal/config"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/httpapi"
	"github.com/safar/order-settlement/internal/memstore"
	"github.com/safar/order-settlement/internal/notify"
	"github.com/safar/order-settlement/internal/orders"
	"github.com/safar/order-settlement/internal/redisx"
	"github.com/safar/order-settlement/internal/store"
	"github.com/safar/order-settlement/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, closeNotifier, err := openNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	svc := orders.NewService(st, gateway.NewMoMo(cfg.Gateway), notifier, orders.Config{
		GracePeriod: cfg.Orders.GracePeriod,
		SweepBatch:  cfg.Sweeper.BatchSize,
		Logger:      logger,
	})

	var locker sweeper.Locker = sweeper.NoopLocker{}
	if cfg.Redis.Addr != "" {
		rdb := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		locker = redisx.NewLock(rdb, redisx.SweeperLockKey(), cfg.Sweeper.LockTTL)
		logger.Info("sweeper lock backed by redis", slog.String("addr", cfg.Redis.Addr))
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.New(svc, locker, cfg.Sweeper.Interval, logger).Run(ctx)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(httpapi.NewHandler(svc, logger), cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-sweeperDone
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	<-sweeperDone
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (orders.Store, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", slog.Any("error", err))
		}
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	logger.Info("connected to database", slog.Int("max_open_conns", cfg.Database.MaxOpenConns))
	return store.New(db), closeDB, nil
}

func openNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	switch cfg.Notifier.Driver {
	case config.NotifierKafka:
		k := notify.NewKafkaNotifier(cfg.Notifier.KafkaBrokers, cfg.Notifier.KafkaTopic, cfg.Notifier.KafkaBuffer, logger)
		k.Start()
		return k, k.Close, nil
	case config.NotifierRabbitMQ:
		r, err := notify.NewRabbitNotifier(cfg.Notifier.AMQPURL, cfg.Notifier.AMQPExchange, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		return r, r.Close, nil
	default:
		return notify.NewLogNotifier(logger), func() {}, nil
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
