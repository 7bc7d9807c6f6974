// Job - обработка покупок
// Опрос Kafka -> история покупок, начисление баллов, пересчет уровня
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	kafka "github.com/glkeru/loyalty/rewards/internal/external/kafka"
	notify "github.com/glkeru/loyalty/rewards/internal/external/notify"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// config
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// kafka
	reader, err := kafka.GetNewReader(cfg.Kafka.Broker(), cfg.Kafka.Topic, cfg.Kafka.GroupID)
	if err != nil {
		logger.Fatal("kafka", zap.Error(err))
	}
	defer reader.CloseReader()

	// database
	storage, closeStorage, err := db.NewStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer closeStorage()

	// cache
	cache, locker, closeCache, err := db.NewCache(cfg.Cache, logger)
	if err != nil {
		logger.Error("cache is disabled", zap.Error(err))
		cache, locker, closeCache = nil, nil, func() {}
	}
	defer closeCache()

	// push
	var notifier interf.Notifier
	if cfg.Polling.BaseURL != "" {
		n, err := notify.NewPollingNotifier(cfg.Polling.BaseURL, cfg.Polling.Authentication, cfg.Polling.Rate)
		if err != nil {
			logger.Error("notifications are disabled", zap.Error(err))
		} else {
			notifier = n
		}
	}

	// services
	serv := services.NewRewardService(logger, storage, cache, locker, notifier, services.Options{
		GrantPointBonus: cfg.Engine.GrantPointBonus,
		Workers:         cfg.Engine.Workers,
		NotifyTimeout:   cfg.Engine.NotifyTimeout,
		SearchLimit:     cfg.Engine.SearchLimit,
	})

	// start
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	semcount := max(cfg.Kafka.Workers, 1)
	wg := &sync.WaitGroup{}
	semaphore := make(chan struct{}, semcount)

	for {
		purchase, err := reader.GetNewMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("read purchase", zap.Error(err))
			}
			break
		}

		semaphore <- struct{}{}
		wg.Add(1)
		go func(purchase string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			if err := serv.PurchaseProcess(ctx, purchase); err != nil {
				logger.Error("purchase process", zap.Error(err))
			}
		}(purchase)
	}
	wg.Wait()
}
