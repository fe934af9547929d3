package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tenantchat/internal/app"
	"tenantchat/internal/config"
	"tenantchat/internal/loginguard"
	"tenantchat/internal/quota"
	"tenantchat/internal/ratelimit"
	"tenantchat/internal/server"
	"tenantchat/internal/servicetoken"
	"tenantchat/internal/session"
	"tenantchat/internal/stream"
	"tenantchat/internal/tags"
	"tenantchat/internal/util"
	"tenantchat/pkg/ai"
	"tenantchat/pkg/audit"
	"tenantchat/pkg/queue"
	"tenantchat/pkg/storage"
	"tenantchat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	var events audit.Publisher = audit.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher, err := audit.NewAMQPPublisher(cfg.AMQPURL, cfg.AuditExchange)
		if err != nil {
			log.Fatalf("failed to init audit publisher: %v", err)
		}
		defer publisher.Close()
		events = publisher
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	var tagQueue *queue.RedisJobQueue
	if cfg.RedisAddr != "" {
		window := time.Duration(cfg.LoginRateWindowSecs) * time.Second
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "tenantchat:login", cfg.LoginRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
		tagQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   "tenantchat:tag-jobs",
			Group:    "tag-workers",
		})
		if err != nil {
			log.Fatalf("failed to init tag queue: %v", err)
		}
	}

	var trustedProxies *util.TrustedProxies
	if cfg.TrustedProxyCIDRs != "" {
		trustedProxies, err = util.NewTrustedProxies(strings.Split(cfg.TrustedProxyCIDRs, ","))
		if err != nil {
			log.Fatalf("failed to parse trusted proxies: %v", err)
		}
	}

	var maintenance *servicetoken.Manager
	if cfg.MaintenanceKey != "" {
		maintenance, err = servicetoken.NewManager(servicetoken.Options{
			Key:      cfg.MaintenanceKey,
			Issuer:   "tenantchat",
			Audience: "maintenance",
		})
		if err != nil {
			log.Fatalf("failed to init maintenance tokens: %v", err)
		}
	}

	generator := ai.NewOpenAICompatGenerator(cfg.InferenceBaseURL, cfg.InferenceAPIKey, cfg.InferenceModel)

	var streamOpts []stream.CoordinatorOption
	if cfg.StreamIdleSeconds > 0 {
		streamOpts = append(streamOpts, stream.WithIdleTimeout(time.Duration(cfg.StreamIdleSeconds)*time.Second))
	}
	// The coordinator notifies the app after each persisted response; the app
	// is built after the coordinator, so bind through a closure.
	var appCore *app.App
	streamOpts = append(streamOpts, stream.WithPersistListener(func(conversationID, identityID string) {
		appCore.OnAssistantPersisted(conversationID, identityID)
	}))
	coordinator := stream.NewCoordinator(st, generator, logger, streamOpts...)

	var quotaOpts []quota.EnforcerOption
	if cfg.QuotaCeilingBytes > 0 {
		quotaOpts = append(quotaOpts, quota.WithCeiling(cfg.QuotaCeilingBytes))
	}
	quotaOpts = append(quotaOpts, quota.WithStreamingCheck(coordinator.IsStreaming))
	enforcer := quota.NewEnforcer(st, objects, events, logger, quotaOpts...)

	guard := loginguard.NewGuard(st, logger)
	sessions := session.NewRegistry(logger)

	deps := app.Deps{
		Store:    st,
		Sessions: sessions,
		Guard:    guard,
		Streams:  coordinator,
		Quota:    enforcer,
		Tags:     tags.NewEngine(st, logger),
		Objects:  objects,
		Audit:    events,
		Logger:   logger,
	}
	if tagQueue != nil {
		deps.TagQueue = tagQueue
	}
	appCore = app.New(deps)

	enforcer.Start(ctx)
	guard.StartRetentionSweep(ctx)
	sessions.StartSweep(ctx)
	if tagQueue != nil {
		tagQueue.Start(ctx, cfg.TagWorkerCount, appCore.ProcessTagSuggestion)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		LoginLimiter:   loginLimiter,
		Maintenance:    maintenance,
		TrustedProxies: trustedProxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Streamed responses can outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
