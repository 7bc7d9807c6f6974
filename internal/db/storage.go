package rewards

import (
	"context"
	"fmt"

	config "github.com/glkeru/loyalty/rewards/internal/config"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	"go.uber.org/zap"
)

// Хранилище по конфигурации. Возвращает функцию закрытия.
func NewStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interf.Storage, func(), error) {
	switch cfg.Storage {
	case config.StorageMongo:
		mdb, err := NewRewardsDB(cfg.Mongo.Addr, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		return mdb, func() {
			if err := mdb.Close(context.Background()); err != nil {
				logger.Error("close mongo", zap.Error(err))
			}
		}, nil
	case config.StoragePostgres:
		pg, err := NewRewardsPG(ctx, cfg.Postgres.DSN(), logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.StorageMemory:
		logger.Warn("in-memory storage, data will be lost on restart")
		return NewMemoryDB(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Кэш уровней и распределенная блокировка на Redis. Без адреса - оба nil.
func NewCache(cfg config.CacheConfig, logger *zap.Logger) (interf.LevelCache, interf.Locker, func(), error) {
	if cfg.Addr == "" {
		return nil, nil, func() {}, nil
	}
	client, err := NewRedisClient(cfg.Addr, cfg.User, cfg.Password)
	if err != nil {
		return nil, nil, nil, err
	}
	closer := func() {
		if err := client.Close(); err != nil {
			logger.Error("close redis", zap.Error(err))
		}
	}
	return NewCacheService(client, cfg.TTL), NewRedisLocker(client, cfg.LockTTL, logger), closer, nil
}
