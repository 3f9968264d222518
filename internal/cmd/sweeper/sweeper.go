// Package sweeper parses sweeper command flags and launches the sweep runtime.
package sweeper

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/giftwell/giftwell/internal/platform/cmd"
	sweeperapp "github.com/giftwell/giftwell/internal/services/sweeper/app"
)

// Config holds sweeper command configuration.
type Config struct {
	Port          int           `env:"GIFTWELL_SWEEPER_PORT" envDefault:"8094"`
	DBPath        string        `env:"GIFTWELL_SWEEPER_DB_PATH" envDefault:"data/giftpool.db"`
	KafkaBrokers  string        `env:"GIFTWELL_KAFKA_BROKERS"`
	RedisAddr     string        `env:"GIFTWELL_SWEEPER_REDIS_ADDR"`
	SweepInterval time.Duration `env:"GIFTWELL_SWEEPER_INTERVAL" envDefault:"30s"`
	LockTTL       time.Duration `env:"GIFTWELL_SWEEPER_LOCK_TTL" envDefault:"2m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The sweeper health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The giftpool SQLite database path")
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Comma-separated Kafka broker addresses")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the cross-replica sweep lock")
	fs.DurationVar(&cfg.SweepInterval, "interval", cfg.SweepInterval, "Expiry sweep interval")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", cfg.LockTTL, "Sweep lock time-to-live")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the sweeper runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSweeper, func(context.Context) error {
		return sweeperapp.Run(ctx, sweeperapp.RuntimeConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			KafkaBrokers:  splitBrokers(cfg.KafkaBrokers),
			RedisAddr:     cfg.RedisAddr,
			SweepInterval: cfg.SweepInterval,
			LockTTL:       cfg.LockTTL,
		})
	})
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}
