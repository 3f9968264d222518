// Package app runs the giftpool sweeper: the background process that expires
// past-deadline campaigns, enqueues contributor refunds, and closes settled
// campaigns.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/giftwell/giftwell/internal/platform/lock"
	"github.com/giftwell/giftwell/internal/platform/mq"
	"github.com/giftwell/giftwell/internal/services/giftpool/domain"
	"github.com/giftwell/giftwell/internal/services/giftpool/events"
	giftpoolsqlite "github.com/giftwell/giftwell/internal/services/giftpool/storage/sqlite"
)

// RuntimeConfig controls sweeper startup and loop behavior.
type RuntimeConfig struct {
	Port   int
	DBPath string
	// KafkaBrokers enables refund hand-offs to the payment system. Without
	// brokers the sweeper still expires campaigns; refunds wait.
	KafkaBrokers []string
	// RedisAddr enables the cross-replica sweep lock. The sweep itself is
	// idempotent; without redis, replicas just do redundant work.
	RedisAddr     string
	SweepInterval time.Duration
	LockTTL       time.Duration
}

const (
	defaultSweeperPort  = 8094
	defaultSweeperDB    = "data/giftpool.db"
	defaultSweepPeriod  = 30 * time.Second
	defaultSweepLockTTL = 2 * time.Minute

	sweepLockName = "giftpool:sweep"
)

// Run starts sweeper dependencies and the sweep loop until cancellation.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultSweeperPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultSweeperDB
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepPeriod
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultSweepLockTTL
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sweeper storage dir: %w", err)
		}
	}
	store, err := giftpoolsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open giftpool sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close giftpool sqlite store: %v", closeErr)
		}
	}()

	var refunds domain.RefundEnqueuer
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := mq.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Printf("close sweeper publisher: %v", closeErr)
			}
		}()
		refunds = events.NewRefundPublisher(publisher)
	}

	var sweepLock lock.Lock
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Printf("close redis client: %v", closeErr)
			}
		}()
		sweepLock = lock.NewRedisLock(redisClient)
	}

	sweeper := domain.NewSweeper(store, nil, refunds, nil)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on sweeper port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("giftpool sweeper running, interval %s, health at %v", cfg.SweepInterval, listener.Addr())

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runSweep(ctx, sweeper, sweepLock, cfg.LockTTL)
		}
	}
}

func runSweep(ctx context.Context, sweeper *domain.Sweeper, sweepLock lock.Lock, ttl time.Duration) {
	if sweepLock != nil {
		acquired, err := sweepLock.Acquire(ctx, sweepLockName, ttl)
		if err != nil {
			log.Printf("sweeper: acquire sweep lock: %v", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := sweepLock.Release(ctx, sweepLockName); err != nil {
				log.Printf("sweeper: release sweep lock: %v", err)
			}
		}()
	}

	report, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Printf("sweeper: sweep: %v", err)
		return
	}
	if report.Expired > 0 || report.RefundsEnqueued > 0 || report.Closed > 0 {
		log.Printf("sweeper: expired=%d refunds=%d closed=%d",
			report.Expired, report.RefundsEnqueued, report.Closed)
	}
}
