package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"messaging-core/auth"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/infrastructure/grpc/server"
	ginserver "messaging-core/infrastructure/http/gin"
	"messaging-core/infrastructure/notify"
	"messaging-core/infrastructure/profile"
	"messaging-core/infrastructure/search"
	"messaging-core/infrastructure/storage"
	"messaging-core/infrastructure/ws"
	"messaging-core/internal"
	"messaging-core/moderation"
	"messaging-core/observability"
	"messaging-core/runtime"
	"messaging-core/runtime/workers"
	"messaging-core/services"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Messaging terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// store is what the process needs from either backend.
type store interface {
	contract.MessageStore
	Ping(ctx context.Context) error
	Close() error
}

// run wires every component, serves until a signal or a fatal error, then
// shuts down in reverse order. Deferred closes run before main exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	logger := internal.NewLogger(config.LogLevel, config.LogFormat)

	charReplacement, err := internal.CharacterRune(config.ModerationReplacement)
	if err != nil {
		return exitConfig, err
	}
	words, err := moderation.LoadWords(config.ModerationWordsFile)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Message store
	messages, cacheDB, closeCache, err := openStore(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		logger.Info("Closing message store...")
		closeCache()
		_ = messages.Close()
	}()

	// 3. Search index, optional
	var index contract.SearchIndex
	var blugeIndex *search.BlugeIndex
	if config.BlugeFilepath != "" {
		blugeIndex, err = search.OpenBlugeIndex(config.BlugeFilepath, logger)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to open bluge index: %w", err)
		}
		index = blugeIndex
		defer func() {
			logger.Info("Closing Bluge...")
			_ = blugeIndex.Close()
		}()
	}

	// 4. Profiles
	var sources []contract.ProfileDirectory
	var mongoDB *mongo.Database
	if config.MongoURI != "" {
		mongoDB, err = profile.Connect(ctx, config.MongoURI, config.MongoDatabase)
		if err != nil {
			return exitRuntime, err
		}
		defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
		sources = append(sources, profile.NewMongoDirectory(mongoDB, profile.DefaultCollection, logger))
	}
	profiles := profile.NewChain(profile.NewCache(cacheDB, config.ProfileCacheTTL, logger), logger, sources...)

	// 5. Core services
	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry(logger)
	moderator, err := moderation.NewModerator(words, charReplacement, logger)
	if err != nil {
		return exitConfig, err
	}
	committed := make(chan domain.MessageCommitted, config.NotificationBufferSize)
	dispatcher := services.NewDispatcher(logger, messages, registry, committed, moderator, metrics, nil, config.MaxContentLength)
	receipts := services.NewReceiptTracker(logger, messages, registry, metrics, nil)
	typing := services.NewTypingManager(logger, registry, metrics, nil, config.TypingExpiry)
	backfill := services.NewBackfill(logger, messages, metrics, config.BackfillPageSize)
	conversations := services.NewConversationService(logger, messages, profiles, index, backfill, nil)

	// 6. Notifications
	notifiers := notify.Multi{notify.NewLiveNotifier(registry, logger)}
	if brokers := internal.SplitList(config.KafkaBrokers); len(brokers) > 0 {
		kafka, err := notify.DialKafkaNotifier(brokers, config.KafkaNotificationTopic, config.KafkaClientID, logger)
		if err != nil {
			return exitRuntime, err
		}
		defer func() { _ = kafka.Close() }()
		notifiers = append(notifiers, kafka)
	} else {
		notifiers = append(notifiers, notify.NewLogNotifier(logger))
	}
	sinks := []contract.MessageSink{
		services.NewNotificationSink(logger, notifiers, profiles, metrics, config.NotificationTimeout, config.NotificationPreviewLength),
	}
	if index != nil {
		sinks = append(sinks, services.NewSearchSink(index))
	}

	// 7. Supervision
	health := server.NewHealthServer(logger)
	probes := []workers.Probe{{Name: "store", Check: messages.Ping}}
	if mongoDB != nil {
		probes = append(probes, workers.Probe{Name: "profiles", Check: func(ctx context.Context) error {
			return mongoDB.Client().Ping(ctx, nil)
		}})
	}
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewEventFanout(logger, committed, config.NotificationTimeout, sinks...),
		workers.NewTypingSweeper(logger, typing, nil, config.TypingSweepInterval),
		workers.NewChannelCapacityWorker(logger, metrics, config.MetricInterval,
			workers.NamedChannel{Name: "committed", Channel: committed}),
		workers.NewHealthMonitoringWorker(logger, metrics, registry, config.MetricInterval),
		workers.NewHeartbeatWorker(logger, health, config.HealthInterval, probes...),
	)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// 8. Debug inspector
	if badgerStore, ok := messages.(*storage.BadgerStore); ok && logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug store inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		debug := internal.StartDebugServer(badgerStore, config.DebugPort, endpoint, func() map[string]any {
			stats := registry.Stats()
			return map[string]any{"rooms": stats.Rooms, "memberships": stats.Memberships, "connections": stats.Connections}
		}, logger)
		defer func() { _ = debug.Close() }()
	}

	errChan := make(chan error, 2)

	// 9. HTTP & WebSocket
	tokens := auth.NewTokens(config.JWTSecret)
	origins := internal.SplitList(config.AllowedOrigins)
	wsHandler := ginserver.NewWSHandler(ctx, ws.Services{
		Registry:      registry,
		Dispatcher:    dispatcher,
		Receipts:      receipts,
		Typing:        typing,
		Backfill:      backfill,
		Conversations: conversations,
		Metrics:       metrics,
		Validate:      validator.New(),
	}, ws.Options{
		BufferSize:          config.ConnectionBufferSize,
		BackpressureTimeout: config.BackpressureTimeout,
		InboundRate:         config.InboundRate,
		InboundBurst:        config.InboundBurst,
	}, origins, logger)
	httpServer := ginserver.NewServer(ginserver.Config{Addr: config.HTTPAddr, Mode: config.GinMode, AllowedOrigins: origins}, logger, ginserver.Handlers{
		Conversations:  ginserver.ConversationHandler{Conversations: conversations, Dispatcher: dispatcher, Receipts: receipts, Logger: logger},
		WS:             wsHandler,
		Health:         ginserver.HealthHandlers{Ready: health.Ready},
		Metrics:        promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		AuthMiddleware: ginserver.AuthMiddleware{Tokens: tokens, Names: profiles, Logger: logger}.Handle,
	})
	go func() {
		logger.Info("Starting HTTP server", "address", config.HTTPAddr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 10. gRPC health
	listener, err := net.Listen("tcp", config.GRPCHealthAddr)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.GRPCHealthAddr, err)
	}
	grpcServer := server.NewServer(logger, health, tokens)
	go func() {
		logger.Info("Starting gRPC health server", "address", config.GRPCHealthAddr)
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 11. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 12. Graceful shutdown: stop accepting, let actors close on ctx, drain workers.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	grpcServer.GracefulStop()
	sup.Stop()
	select {
	case <-supDone:
	case <-shutdownCtx.Done():
		logger.Warn("Workers did not stop in time")
	}
	logger.Info("Program stopped cleanly")
	return code, runErr
}

// openStore returns the message store and the badger database that backs the
// profile cache: the store's own in badger mode, an in-memory one otherwise.
func openStore(ctx context.Context, config internal.Config, logger *slog.Logger) (store, *badger.DB, func(), error) {
	switch config.StoreDriver {
	case internal.StoreScylla:
		session, err := storage.NewScyllaSession(ctx, storage.ScyllaConfig{
			Hosts:             internal.SplitList(config.ScyllaHosts),
			Keyspace:          config.ScyllaKeyspace,
			Username:          config.ScyllaUsername,
			Password:          config.ScyllaPassword,
			Consistency:       config.ScyllaConsistency,
			Timeout:           config.ScyllaTimeout,
			ReplicationFactor: config.ScyllaReplication,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("scylla session failed: %w", err)
		}
		cache, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING))
		if err != nil {
			session.Close()
			return nil, nil, nil, fmt.Errorf("profile cache opening failed: %w", err)
		}
		return storage.NewScyllaStore(session, logger), cache, func() { _ = cache.Close() }, nil
	default:
		badgerStore, err := storage.OpenBadgerStore(config.BadgerFilepath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		// Profiles share the store's database and close with it.
		return badgerStore, badgerStore.DB(), func() {}, nil
	}
}
