// Package server parses giftpool server flags and launches the service.
package server

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/giftwell/giftwell/internal/platform/cmd"
	giftpoolserver "github.com/giftwell/giftwell/internal/services/giftpool/app"
)

// Config holds giftpool server command configuration.
type Config struct {
	HTTPPort          int           `env:"GIFTWELL_SERVER_HTTP_PORT" envDefault:"8080"`
	GRPCPort          int           `env:"GIFTWELL_SERVER_GRPC_PORT" envDefault:"8081"`
	DBPath            string        `env:"GIFTWELL_SERVER_DB_PATH" envDefault:"data/giftpool.db"`
	KafkaBrokers      string        `env:"GIFTWELL_KAFKA_BROKERS"`
	KafkaGroupID      string        `env:"GIFTWELL_SERVER_KAFKA_GROUP" envDefault:"giftpool-server"`
	SweepInterval     time.Duration `env:"GIFTWELL_SERVER_SWEEP_INTERVAL"`
	ReadHeaderTimeout time.Duration `env:"GIFTWELL_SERVER_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"GIFTWELL_SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The giftpool HTTP API port")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The giftpool health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The giftpool SQLite database path")
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Comma-separated Kafka broker addresses")
	fs.StringVar(&cfg.KafkaGroupID, "kafka-group", cfg.KafkaGroupID, "Kafka consumer group for payment and order events")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "In-process expiry sweep interval (0 disables)")
	fs.DurationVar(&cfg.ReadHeaderTimeout, "read-header-timeout", cfg.ReadHeaderTimeout, "HTTP read header timeout")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the giftpool API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(context.Context) error {
		return giftpoolserver.Run(ctx, giftpoolserver.RuntimeConfig{
			HTTPPort:          cfg.HTTPPort,
			GRPCPort:          cfg.GRPCPort,
			DBPath:            cfg.DBPath,
			KafkaBrokers:      splitBrokers(cfg.KafkaBrokers),
			KafkaGroupID:      cfg.KafkaGroupID,
			SweepInterval:     cfg.SweepInterval,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ShutdownTimeout:   cfg.ShutdownTimeout,
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
