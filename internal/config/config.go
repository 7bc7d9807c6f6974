package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Port       string `env:"REWARDS_PORT,default=8080"`
	HealthPort string `env:"REWARDS_HEALTH_PORT,default=9090"`
	// mongo | postgres | memory
	Storage string `env:"REWARDS_STORAGE,default=mongo"`
	// пустой адрес - трассировка выключена
	OtelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Engine   EngineConfig   `env:",prefix=REWARDS_ENGINE_"`
	Mongo    MongoConfig    `env:",prefix=REWARDS_MONGO_"`
	Postgres PostgresConfig `env:",prefix=REWARDS_DB_"`
	Cache    CacheConfig    `env:",prefix=REWARDS_CACHE_"`
	Kafka    KafkaConfig    `env:",prefix=KAFKA_PURCHASES_"`
	Rabbit   RabbitConfig   `env:",prefix=RABBIT_"`
	Polling  PollingConfig  `env:",prefix=POLLING_"`
}

type EngineConfig struct {
	GrantPointBonus bool          `env:"GRANT_POINT_BONUS,default=false"`
	Workers         int           `env:"WORKERS,default=5"`
	SearchLimit     int           `env:"SEARCH_LIMIT,default=500"`
	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT,default=5s"`
}

type MongoConfig struct {
	Addr     string `env:"ADDR,default=localhost:27017"`
	Database string `env:"DATABASE,default=rewardsDB"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD"`
	Name     string `env:"BASE,default=rewards"`
}

type CacheConfig struct {
	// пустой адрес - кэш и распределенная блокировка выключены
	Addr     string        `env:"URL"`
	User     string        `env:"USER"`
	Password string        `env:"PWD"`
	TTL      time.Duration `env:"TTL,default=5m"`
	LockTTL  time.Duration `env:"LOCK_TTL,default=10s"`
}

type KafkaConfig struct {
	Addr    string `env:"URL,default=localhost"`
	Port    string `env:"PORT,default=9092"`
	Topic   string `env:"TOPIC,default=purchases"`
	GroupID string `env:"GROUP,default=purchases_rewards"`
	Workers int    `env:"COUNT,default=5"`
}

type RabbitConfig struct {
	Addr     string `env:"URL,default=localhost"`
	Port     string `env:"PORT,default=5672"`
	User     string `env:"USER,default=guest"`
	Password string `env:"PASSWORD,default=guest"`
	VHost    string `env:"VHOST,default=rewards"`
	Workers  int    `env:"USES_COUNT,default=5"`
}

type PollingConfig struct {
	// пустой адрес - уведомления выключены
	BaseURL        string  `env:"BASE_URL"`
	Authentication string  `env:"AUTHENTICATION"`
	Rate           float64 `env:"RATE,default=50"`
}

func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	switch cfg.Storage {
	case StorageMongo, StoragePostgres, StorageMemory:
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
	if cfg.Storage == StoragePostgres && cfg.Postgres.Password == "" {
		return nil, fmt.Errorf("env REWARDS_DB_PASSWORD is not set")
	}
	return &cfg, nil
}

func (c *PostgresConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Name
}

func (c *RabbitConfig) URL() string {
	return "amqp://" + c.User + ":" + c.Password + "@" + c.Addr + ":" + c.Port + "/" + c.VHost
}

func (c *KafkaConfig) Broker() string {
	return c.Addr + ":" + c.Port
}
