package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/archive"
	"github.com/xela07ax/agentorg/internal/coordinator"
	"github.com/xela07ax/agentorg/internal/eventbus"
	"github.com/xela07ax/agentorg/internal/infra"
	"github.com/xela07ax/agentorg/internal/infra/auth"
	"github.com/xela07ax/agentorg/internal/ledger"
	"github.com/xela07ax/agentorg/internal/metrics"
	"github.com/xela07ax/agentorg/internal/network"
	"github.com/xela07ax/agentorg/internal/persona"
	"github.com/xela07ax/agentorg/internal/repository/postgres"
	"github.com/xela07ax/agentorg/internal/server"
	"github.com/xela07ax/agentorg/internal/server/handler"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Хранилища: Postgres для прода, память для dev-режима
	var approvalStore ledger.Store = ledger.NewMemoryStore()
	var eventArchive *archive.Archive
	var archiveReader handler.EventArchive

	if cfg.Database.URL != "" {
		db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer db.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			logger.Fatal("database unreachable", zap.Error(err))
		}
		pingCancel()

		approvalStore = postgres.NewApprovalRepo(db)

		// Архив событий пишет в БД пачками
		eventRepo := postgres.NewEventRepo(db)
		eventArchive = archive.New(eventRepo, archive.Options{
			BufferSize:    cfg.Approvals.ArchiveSize,
			FlushInterval: cfg.Approvals.ArchiveFreq,
		}, logger)
		eventArchive.Start()
		defer eventArchive.Stop()
		archiveReader = eventRepo

		logger.Info("postgres storage enabled")
	} else {
		logger.Warn("running on in-memory storage, data will not survive restart")
	}

	// 3. Шина событий диалога
	var archiver eventbus.Archiver
	if eventArchive != nil {
		archiver = eventArchive
	}
	bus := eventbus.New(logger, eventbus.Options{
		SubscriberBuffer:  cfg.Stream.SubscriberBuffer,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
	}, archiver)

	// 4. Леджер + межинстансные сигналы решений (Redis, опционально)
	var signaler ledger.DecisionSignaler
	var signals *ledger.RedisSignals
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		signals = ledger.NewRedisSignals(rdb, logger)
		signaler = signals
	}

	led := ledger.New(approvalStore, bus, signaler, logger)

	if signals != nil {
		// Пробуждение ходов, ожидающих решение, принятое другим инстансом
		go signals.Listen(appCtx, led.NotifyDecision)
	}

	// 5. Оргструктура агентов и внешняя сеть
	registry := persona.NewRegistry()

	var invoker network.Invoker
	if cfg.Network.Mock {
		invoker = network.NewMock()
		logger.Warn("agent network is mocked")
	} else {
		invoker = network.NewHTTPClient(cfg.Network.BaseURL, cfg.Network.Timeout)
	}
	// Оборачиваем в Reliability (Rate Limiter, Circuit Breaker, Retries)
	safeInvoker := network.NewReliabilityWrapper(invoker, network.ReliabilityConfig{
		Attempts:            cfg.Network.RetryAttempts,
		RateLimit:           cfg.Network.RateLimit,
		RateBurst:           cfg.Network.RateBurst,
		CBMaxRequests:       cfg.Network.CBMaxRequests,
		CBInterval:          cfg.Network.CBInterval,
		CBTimeout:           cfg.Network.CBTimeout,
		ConsecutiveFailures: cfg.Network.CBConsecutiveFailures,
		CallTimeout:         cfg.Network.Timeout,
	})

	// 6. Координатор сессий
	coord := coordinator.New(registry, safeInvoker, led, bus, coordinator.Config{
		ApprovalWait: cfg.Approvals.WaitTimeout,
	}, logger)

	// 7. Аутентификация операторов (RS256)
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key is required", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key is required", zap.Error(err))
	}
	authService := auth.NewAuthService(cfg.Auth, privateKey, publicKey)

	// 8. Метрики
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 9. HTTP Server
	srv := server.NewServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewChatHandler(coord, m),
		handler.NewStreamHandler(bus, m, logger),
		handler.NewApprovalHandler(led, m),
		handler.NewAgentHandler(registry),
		handler.NewEventHandler(bus, archiveReader),
	)

	httpSrv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     srv,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout не ставим: SSE-соединения живут часами
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("agentorg started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("agentorg stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel() // Останавливаем фоновых слушателей
	logger.Info("agentorg exited properly")
}
