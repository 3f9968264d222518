// Package server wires the giftpool runtime: SQLite storage, the domain
// service, the JSON/SSE/WebSocket API, broker consumers, and the gRPC
// health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/giftwell/giftwell/internal/platform/mq"
	"github.com/giftwell/giftwell/internal/services/giftpool/api/httpapi"
	"github.com/giftwell/giftwell/internal/services/giftpool/domain"
	"github.com/giftwell/giftwell/internal/services/giftpool/events"
	giftpoolsqlite "github.com/giftwell/giftwell/internal/services/giftpool/storage/sqlite"
)

// RuntimeConfig defines the inputs for the giftpool server runtime.
type RuntimeConfig struct {
	HTTPPort int
	GRPCPort int
	DBPath   string
	// KafkaBrokers enables broker integration when non-empty. Without
	// brokers the engine still serves the API; capture and fulfillment
	// signals then arrive only through the HTTP confirm/void endpoints.
	KafkaBrokers []string
	KafkaGroupID string
	// SweepInterval enables the in-process expiry sweep when positive.
	// Deployments running the dedicated sweeper command leave it zero.
	SweepInterval     time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the giftpool HTTP and health processes.
type Server struct {
	config       RuntimeConfig
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *giftpoolsqlite.Store
	service      *domain.Service
	sweeper      *domain.Sweeper
	publisher    mq.Publisher
	consumer     mq.Consumer
}

// New creates a configured giftpool server.
func New(cfg RuntimeConfig) (*Server, error) {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		return nil, fmt.Errorf("listen on http port %d: %w", cfg.HTTPPort, err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = httpListener.Close()
		return nil, fmt.Errorf("listen on grpc port %d: %w", cfg.GRPCPort, err)
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = httpListener.Close()
		_ = grpcListener.Close()
		return nil, err
	}

	server := &Server{
		config:       cfg,
		httpListener: httpListener,
		grpcListener: grpcListener,
		store:        store,
	}

	var orders domain.OrderPlacer
	var refunds domain.RefundEnqueuer
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := mq.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			server.Close()
			return nil, err
		}
		server.publisher = publisher
		orders = events.NewOrderPublisher(publisher)
		refunds = events.NewRefundPublisher(publisher)

		groupID := cfg.KafkaGroupID
		if groupID == "" {
			groupID = "giftpool-server"
		}
		consumer, err := mq.NewKafkaConsumer(cfg.KafkaBrokers, groupID)
		if err != nil {
			server.Close()
			return nil, err
		}
		server.consumer = consumer
	}

	broadcaster := domain.NewBroadcaster()
	server.service = domain.NewService(store, nil, nil, orders, broadcaster)
	if cfg.SweepInterval > 0 {
		server.sweeper = domain.NewSweeper(store, nil, refunds, broadcaster)
	}

	server.httpServer = &http.Server{
		Handler:           httpapi.NewHandler(server.service),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	server.grpcServer = grpcServer
	server.health = healthServer

	return server, nil
}

// HTTPAddr returns the bound HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Service exposes the domain service for tests and embedded use.
func (s *Server) Service() *domain.Service {
	if s == nil {
		return nil
	}
	return s.service
}

// Run creates and serves a giftpool server until context cancellation.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP API, health endpoint, broker consumers, and the
// optional in-process sweep until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("giftpool server listening at %v (health at %v)", s.httpListener.Addr(), s.grpcListener.Addr())

	serveErr := make(chan error, 2)
	go func() {
		err := s.httpServer.Serve(s.httpListener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()
	go func() {
		err := s.grpcServer.Serve(s.grpcListener)
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		serveErr <- err
	}()

	var background sync.WaitGroup
	s.startConsumers(runCtx, &background)
	s.startSweep(runCtx, &background)

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	cancel()
	if s.health != nil {
		s.health.Shutdown()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = fmt.Errorf("shutdown http server: %w", shutdownErr)
	}
	s.grpcServer.GracefulStop()
	background.Wait()
	return err
}

func (s *Server) startConsumers(ctx context.Context, background *sync.WaitGroup) {
	if s.consumer == nil {
		return
	}
	handlers := map[string]mq.Handler{
		events.TopicCaptureResult:     events.CaptureResultHandler(s.service),
		events.TopicRefundCompleted:   events.RefundCompletedHandler(s.service),
		events.TopicFulfillmentResult: events.FulfillmentResultHandler(s.service),
	}
	for topic, handler := range handlers {
		background.Add(1)
		go func(topic string, handler mq.Handler) {
			defer background.Done()
			if err := s.consumer.Consume(ctx, topic, handler); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("giftpool server: consume %s: %v", topic, err)
			}
		}(topic, handler)
	}
}

func (s *Server) startSweep(ctx context.Context, background *sync.WaitGroup) {
	if s.sweeper == nil {
		return
	}
	background.Add(1)
	go func() {
		defer background.Done()
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.sweeper.Sweep(ctx)
				if err != nil {
					log.Printf("giftpool server: sweep: %v", err)
					continue
				}
				if report.Expired > 0 || report.RefundsEnqueued > 0 || report.Closed > 0 {
					log.Printf("giftpool server: sweep expired=%d refunds=%d closed=%d",
						report.Expired, report.RefundsEnqueued, report.Closed)
				}
			}
		}
	}()
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Printf("close giftpool publisher: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close giftpool store: %v", err)
		}
	}
}

func openStore(path string) (*giftpoolsqlite.Store, error) {
	if path == "" {
		path = filepath.Join("data", "giftpool.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := giftpoolsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open giftpool sqlite store: %w", err)
	}
	return store, nil
}
