// Job - обработка использований наград
// RabbitMQ reward_uses -> использование награды -> подтверждение в reward_uses_confirms
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
	notify "github.com/glkeru/loyalty/rewards/internal/external/notify"
	rabbit "github.com/glkeru/loyalty/rewards/internal/external/rabbitmq"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	amqp "github.com/rabbitmq/amqp091-go"
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

	// rabbitmq
	reader, err := rabbit.NewRabbitConsumer(cfg.Rabbit.URL())
	if err != nil {
		logger.Fatal("rabbitmq", zap.Error(err))
	}
	defer reader.Close()

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

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	// workers
	semcount := max(cfg.Rabbit.Workers, 1)
	wg := &sync.WaitGroup{}
	wg.Add(semcount)
	for i := 0; i < semcount; i++ {
		go worker(ctx, serv, wg, logger, reader)
	}
	wg.Wait()
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.RewardService, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.RabbitConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-reader.Msg:
			if !ok {
				return
			}
			handle(ctx, serv, logger, reader, msg)
		}
	}
}

func handle(ctx context.Context, serv *services.RewardService, logger *zap.Logger, reader *rabbit.RabbitConsumer, msg amqp.Delivery) {
	requestId, err := serv.UseProcess(ctx, string(msg.Body))
	if err != nil {
		logger.Error("use process", zap.String("request", requestId), zap.Error(err))
		// сбой хранилища - сообщение вернется в очередь
		if errors.Is(err, models.ErrStorage) || errors.Is(err, context.Canceled) {
			_ = msg.Nack(false, true)
			return
		}
		// без id запроса подтверждать некому
		if requestId == "" {
			_ = msg.Nack(false, false)
			return
		}
	}
	if perr := reader.Processed(ctx, requestId, err); perr != nil {
		logger.Error("use confirm", zap.String("request", requestId), zap.Error(perr))
		// повторная доставка с тем же requestId подтвердит уже записанное использование
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
