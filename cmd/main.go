package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/code-room/config"
	"github.com/cwrk-planet/code-room/internal/assist"
	"github.com/cwrk-planet/code-room/internal/executor"
	"github.com/cwrk-planet/code-room/internal/postgres"
	"github.com/cwrk-planet/code-room/internal/ratelimit"
	"github.com/cwrk-planet/code-room/internal/service"
	grpcx "github.com/cwrk-planet/code-room/internal/transport/grpc"
	httpx "github.com/cwrk-planet/code-room/internal/transport/http"
	"github.com/cwrk-planet/code-room/internal/transport/ws"
	"github.com/cwrk-planet/code-room/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	defer func() { _ = logger.Sync() }()
	slog.Info("starting code-room",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// spans are not exported; they give every request a trace id for the logs
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpx.Check{}

	// --- run audit log (optional) ---
	var store service.RunStore
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres.ToPGConfig())
		if err != nil {
			slog.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		repo := postgres.NewRunRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("postgres schema failed", "err", err)
			os.Exit(1)
		}
		store = repo
		checks["postgres"] = func(ctx context.Context) error { return postgres.Ping(ctx, pool) }
		slog.Info("run audit log enabled")
	} else {
		slog.Info("run audit log disabled")
	}

	// --- run limiter ---
	var limiter ratelimit.Limiter
	switch {
	case cfg.Limits.RunsPerWindow == 0:
		slog.Info("run limiter disabled")
	case cfg.Redis.Addr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		limiter = ratelimit.NewRedis(rdb, cfg.Redis.Prefix, cfg.Limits.RunsPerWindow, cfg.Limits.RunWindow)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		slog.Info("run limiter", "backend", "redis", "addr", cfg.Redis.Addr)
	default:
		limiter = ratelimit.NewLocal(cfg.Limits.RunsPerWindow, cfg.Limits.RunWindow)
		slog.Info("run limiter", "backend", "local")
	}

	// --- executor ---
	execOpts := cfg.Executor.ToOptions()
	execOpts.Logger = slog.Default()
	exec, err := executor.New(execOpts)
	if err != nil {
		slog.Error("executor init failed", "err", err)
		os.Exit(1)
	}
	for lang, ok := range exec.Available() {
		if !ok {
			slog.Warn("toolchain missing", "language", string(lang))
		}
	}

	// --- services ---
	roomSvc := service.NewRoomService(cfg.Rooms.ToOptions())
	chatSvc := service.NewChatService()
	runSvc := service.NewRunService(exec, limiter, store)

	// --- websocket ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, roomSvc, chatSvc, runSvc, ws.Options{
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		MessagesPerSecond: cfg.Limits.MessagesPerSecond,
		MessageBurst:      cfg.Limits.MessageBurst,
	})

	// --- http ---
	aiClient, err := assist.New(ctx, cfg.Assist.ToConfig(), nil)
	if err != nil {
		slog.Error("assist client", "err", err)
		os.Exit(1)
	}
	if !aiClient.Enabled() {
		slog.Warn("GEMINI_API_KEY not set, /ai/fix-code will answer 503")
	}

	handler := httpx.NewHandler(httpx.Deps{
		Rooms:      roomSvc,
		Chat:       chatSvc,
		Runs:       runSvc,
		Sessions:   wsServer,
		Toolchains: exec,
		Assist:     aiClient,
		Checks:     checks,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, httpx.NewRouter(handler, wsServer.HandleWS, cfg.HTTP.AllowedOrigins))
	httpSrv.OnShutdown(wsServer.CloseAll)

	// --- run everything ---
	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives the listeners so disconnects during shutdown
	// are still processed.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = wsServer.Run(dispatchCtx)
	}()

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		return httpSrv.Run(gctx)
	})

	if cfg.GRPC.Addr != "" {
		grpcSrv := grpcx.NewServer(exec, grpcx.Options{DefaultTimeout: cfg.GRPC.DefaultTimeout})
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			slog.Error("grpc listen failed", "addr", cfg.GRPC.Addr, "err", err)
			os.Exit(1)
		}

		g.Go(func() error {
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			grpcSrv.Watch(gctx, cfg.GRPC.HealthRefresh)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			grpcSrv.Stop(shCtx)
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server stopped with error", "err", err)
	}

	// cancels in-flight runs and waits for their goroutines
	stopDispatch()
	<-dispatchDone

	slog.Info("code-room stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		_ = logger.Sync()
		os.Exit(1)
	}
}
