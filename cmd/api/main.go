package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/phoneauth/server/internal/admin"
	"github.com/phoneauth/server/internal/auth"
	"github.com/phoneauth/server/internal/config"
	"github.com/phoneauth/server/internal/db"
	httphandler "github.com/phoneauth/server/internal/http"
	"github.com/phoneauth/server/internal/http/handlers"
	"github.com/phoneauth/server/internal/kv"
	"github.com/phoneauth/server/internal/logger"
	"github.com/phoneauth/server/internal/middleware"
	"github.com/phoneauth/server/internal/repo"
	"github.com/phoneauth/server/internal/telegram"
)

func main() {
	// Environment variables win over .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "json", os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql, queries over the pgx pool
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	_ = sqlDB.Close()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()

	redisClient, err := kv.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	store := kv.NewRedisStore(redisClient)

	// Core services
	userRepo := repo.NewUserRepo(pool)
	hasher := auth.NewHasher(auth.DefaultHasherParams)
	jwtService, err := auth.NewJWTService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token issuer")
	}
	otpManager := auth.NewOTPManager(store)
	authService := auth.NewAuthService(
		userRepo,
		hasher,
		jwtService,
		otpManager,
		auth.NewBlacklist(store),
		auth.Options{RotateRefreshTokens: cfg.RefreshTokenRotation},
		log,
	)
	adminService := admin.NewService(userRepo, hasher, log)

	if cfg.AdminPhone != "" {
		created, err := adminService.Bootstrap(ctx, admin.CreateUserInput{
			PhoneNumber: cfg.AdminPhone,
			Password:    cfg.AdminPassword,
			FirstName:   cfg.AdminFirstName,
			LastName:    cfg.AdminLastName,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap admin")
		}
		if created {
			log.Info().Str("phone", logger.MaskPhone(cfg.AdminPhone)).Msg("bootstrap admin ready")
		}
	}

	deps := httphandler.Deps{
		Auth:  handlers.NewAuthHandler(authService, cfg.CookieSecure),
		Admin: handlers.NewAdminHandler(adminService),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"postgres": pool,
			"redis":    store,
		}),
		Users:     authService,
		AuthLimit: middleware.NewRateLimiter(store, "auth", cfg.AuthRateLimitWindow, cfg.AuthRateLimit),
		Log:       log,
	}

	// Telegram delivery is optional; without a token OTPs cannot be issued
	var dispatcher *telegram.Dispatcher
	if cfg.TelegramEnabled() {
		clientCfg := telegram.DefaultClientConfig(cfg.TelegramBotToken)
		clientCfg.BaseURL = cfg.TelegramAPIURL
		client := telegram.NewClient(clientCfg, log)

		bot := telegram.NewBot(client, otpManager, store, log)
		dispatcher = telegram.NewDispatcher(bot, cfg.TelegramWorkers, cfg.TelegramQueueSize, log)
		dispatcher.Start(context.WithoutCancel(ctx))
		deps.Telegram = handlers.NewTelegramHandler(dispatcher, cfg.TelegramWebhookSecret)

		if cfg.WebhookHostURL != "" {
			hookURL := strings.TrimRight(cfg.WebhookHostURL, "/") + "/telegram/webhook"
			if err := client.SetWebhook(ctx, hookURL, cfg.TelegramWebhookSecret); err != nil {
				log.Error().Err(err).Str("url", hookURL).Msg("failed to register telegram webhook")
			} else {
				log.Info().Str("url", hookURL).Msg("telegram webhook registered")
			}
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, telegram webhook disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httphandler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if dispatcher != nil {
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telegram updates dropped on shutdown")
		}
	}

	log.Info().Msg("server exited")
}
