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
	"golang.org/x/time/rate"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/generate"
	"github.com/xela07ax/trustgate/internal/identity"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/registry"
	"github.com/xela07ax/trustgate/internal/repository/postgres"
	"github.com/xela07ax/trustgate/internal/server"
	"github.com/xela07ax/trustgate/internal/server/handler"
	"github.com/xela07ax/trustgate/internal/server/service"
	"github.com/xela07ax/trustgate/internal/session"
)

func main() {
	// 1. Config and logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Infrastructure: Postgres, Redis
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (or DATABASE_URL) is required")
	}
	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres open", zap.Error(err))
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := postgres.Ping(pingCtx, db); err != nil {
		logger.Fatal("postgres ping", zap.Error(err))
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Storage and audit trail
	repo := postgres.NewAgentRepo(db)
	messages := postgres.NewMessageRepo(db)
	trustLogRepo := postgres.NewTrustLogRepo(db)

	archiver := audit.NewArchiver(trustLogRepo, logger,
		cfg.Gateway.AuditBufferSize, cfg.Gateway.AuditBatchSize, cfg.Gateway.AuditFlushInterval)
	archiver.Start()

	maxCtx, maxCancel := context.WithTimeout(appCtx, 5*time.Second)
	lastLogID, err := trustLogRepo.MaxID(maxCtx)
	maxCancel()
	if err != nil {
		logger.Fatal("trust log high-water mark", zap.Error(err))
	}
	trustLog := audit.NewLogAt(archiver, lastLogID)

	// 4. Control plane: suspension watcher
	watcher := registry.NewSuspendWatcher(rdb, repo, logger)
	if err := watcher.Init(appCtx); err != nil {
		logger.Fatal("suspend watcher init", zap.Error(err))
	}
	go watcher.Run(appCtx)

	// 5. Auth: RS256 keys
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)
	issuer := auth.NewIssuer(privKey, cfg.Auth.TokenTTL)

	// 6. Reply generation: OpenAI when a key is present, canned otherwise,
	// wrapped in retries and a circuit breaker either way.
	var gen generate.Generator
	if os.Getenv("OPENAI_API_KEY") != "" {
		gen = generate.NewOpenAI(func(o *generate.Options) {
			if cfg.Gateway.ReplyModel != "" {
				o.Model = cfg.Gateway.ReplyModel
			}
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, using canned replies")
		gen = generate.Canned{}
	}
	safeGen := generate.NewReliabilityWrapper(gen, generate.ReliabilityConfig{
		Attempts:    cfg.Gateway.ReplyAttempts,
		CallTimeout: cfg.Gateway.ReplyTimeout,
		RateLimit:   rate.Limit(50),
		CBMaxReqs:   cfg.Gateway.CBMaxRequests,
		CBInterval:  cfg.Gateway.CBInterval,
		CBTimeout:   cfg.Gateway.CBTimeout,
	})

	// 7. Core: sessions + gateway
	manager := session.NewManager(session.Config{
		SendBuffer:     cfg.Session.SendBuffer,
		PingPeriod:     cfg.Session.PingPeriod,
		PongWait:       cfg.Session.PongWait,
		WriteWait:      cfg.Session.WriteWait,
		MaxMessageSize: cfg.Session.MaxMessageSize,
	}, logger)

	reg := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(reg)
	gw := gateway.New(repo, trustLog, messages, manager, safeGen, metrics, logger,
		gateway.Config{ReplyTimeout: cfg.Gateway.ReplyTimeout})

	// Metrics on a dedicated listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics listener", zap.Error(err))
		}
	}()

	// 8. Services and HTTP surface
	verifier := identity.Verifier(identity.Static{})
	if url := os.Getenv("IDENTITY_REGISTRY_URL"); url != "" {
		verifier = identity.NewRegistryClient(url, 10*time.Second, logger)
	}

	agentSvc := service.NewAgentService(repo, verifier, rdb, cfg.Auth.BcryptCost, logger)
	authSvc := service.NewAuthService(repo, validator, issuer, cfg.Auth.TokenTTL)

	api := server.New(
		cfg,
		logger,
		authSvc,
		watcher,
		handler.NewAuthHandler(authSvc),
		handler.NewAgentHandler(agentSvc, logger),
		handler.NewMessageHandler(gw),
		handler.NewTrustHandler(gw, trustLog),
		handler.NewSessionHandler(manager, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("trustgate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("trustgate stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	manager.CloseAll()
	cancel()
	// Drain buffered audit entries into Postgres before exit.
	archiver.Stop()
	logger.Info("trustgate exited")
}
