package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	redis "github.com/redis/go-redis/v9"
)

func NewRedisClient(addr, user, pwd string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("env REWARDS_CACHE_URL is not set")
	}
	db := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    pwd,
		Username:    user,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	err := db.Ping(context.Background()).Err()
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Кэш уровней бизнеса
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CacheService{client, ttl}
}

func levelsKey(businessID string) string {
	return "levels:" + businessID
}

func (c *CacheService) GetLevels(ctx context.Context, businessID string) ([]models.Level, error) {
	val, err := c.client.Get(ctx, levelsKey(businessID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("levels %w", models.ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	var levels []models.Level
	if err := json.Unmarshal(val, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

func (c *CacheService) SetLevels(ctx context.Context, businessID string, levels []models.Level) error {
	j, err := json.Marshal(levels)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, levelsKey(businessID), j, c.ttl).Err()
}

func (c *CacheService) InvalidateLevels(ctx context.Context, businessID string) error {
	return c.client.Del(ctx, levelsKey(businessID)).Err()
}
