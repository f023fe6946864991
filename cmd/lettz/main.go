package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"lettz/internal/app/bootstrap"
	"lettz/internal/app/listings"
	"lettz/internal/infra/broker/kafka"
	"lettz/internal/infra/config"
	ginserver "lettz/internal/infra/http/gin"
	"lettz/internal/infra/obs"
	"lettz/internal/infra/outbox"
	"lettz/internal/infra/storage/memory"
	"lettz/internal/infra/storage/s3"
	"lettz/internal/infra/stores"
)

const devJWTSecret = "lettz-dev-secret"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger(os.Getenv("APP_ENV")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
		cfg.JWTSecret = devJWTSecret
	}

	infra, err := stores.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("infrastructure init failed", "error", err, "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	if err := memory.LoadFixtures(ctx, infra.Seeder, cfg.FixturesPath, logger); err != nil {
		logger.Warn("fixtures load failed", "error", err, "path", cfg.FixturesPath)
	}

	app := bootstrap.Build(bootstrap.Deps{
		Store:       infra.Store,
		Outbox:      infra.Outbox,
		Idempotency: infra.Idempotency,
		Logger:      logger,
	})
	logger.Info("command bus ready", "commands", app.CommandKeys)

	cleanup := &listings.Cleanup{Photos: newPhotoRemover(cfg, logger), Inbox: infra.Inbox, Logger: logger}
	listingEvents := &kafka.ListingEventsHandler{Cleanup: cleanup, Logger: logger}

	var (
		producer outbox.Producer = kafka.Loopback{Handler: listingEvents}
		closers  []func() error
	)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.DefaultClientID)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err, "brokers", cfg.KafkaBrokers)
			os.Exit(1)
		}
		producer = kp
		closers = append(closers, kp.Close)

		topics := []string{outbox.TopicFor(cfg.KafkaTopicPrefix, "listing.removed")}
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, kafka.DefaultClientID, topics, listingEvents, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err, "group", cfg.KafkaGroupID)
			os.Exit(1)
		}
		closers = append(closers, consumer.Close)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
	} else {
		logger.Info("KAFKA_BROKERS not set, relaying events in-process")
	}

	worker := &outbox.Worker{
		Store:       infra.Relay,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
	}
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox worker stopped", "error", err)
		}
	}()

	grpcServer, healthServer := grpc.NewServer(), health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reporter := &obs.HealthReporter{Server: healthServer, Service: "lettz", Ready: infra.Store.Ping, Logger: logger}
	go reporter.Run(ctx)
	go serveGRPC(grpcServer, cfg.GRPCAddr, logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: infra.Store.Ping}, ginserver.Handlers{
		Listing:        ginserver.ListingHandler{Commands: app.Commands, Logger: logger},
		Conversation:   ginserver.ConversationHandler{Commands: app.Commands, Queries: app.Queries, Logger: logger},
		Notification:   ginserver.NotificationHandler{Commands: app.Commands, Queries: app.Queries, Hub: app.Hub, Logger: logger},
		Live:           ginserver.LiveHandler{Store: infra.Store, Tracker: app.Tracker, Logger: logger},
		AuthMiddleware: ginserver.JWTAuth{Secret: []byte(cfg.JWTSecret), Logger: logger}.Handle,
	})

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		app.Hub.Close()
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
		if err := infra.Close(shutdownCtx); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "driver", cfg.StoreDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	logger.Info("HTTP server stopped")
}

func serveGRPC(srv *grpc.Server, addr string, logger *slog.Logger) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("grpc listen failed", "addr", addr, "error", err)
		return
	}
	logger.Info("gRPC health server starting", "addr", addr)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error("grpc server failed", "error", err)
	}
}

func newPhotoRemover(cfg config.Config, logger *slog.Logger) listings.PhotoRemover {
	if cfg.S3Endpoint == "" {
		return s3.NoopPhotoStore{Logger: logger}
	}
	store, err := s3.NewPhotoStore(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
	if err != nil {
		logger.Warn("photo storage unavailable, photos will be kept", "error", err)
		return s3.NoopPhotoStore{Logger: logger}
	}
	return store
}
