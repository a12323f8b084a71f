package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral_rewards_bot/internal/config"
	"referral_rewards_bot/internal/dispatcher"
	"referral_rewards_bot/internal/domain"
	"referral_rewards_bot/internal/feature/user"
	"referral_rewards_bot/internal/jobs"
	"referral_rewards_bot/internal/logging"
	"referral_rewards_bot/internal/reward"
	"referral_rewards_bot/internal/server"
	"referral_rewards_bot/internal/store"
	"referral_rewards_bot/internal/telegram"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	webhookSetupTimeout    = 10 * time.Second
	httpShutdownTimeout    = 10 * time.Second
)

var processStart = time.Now()

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
		"timezone": cfg.Timezone,
	}).Info("configuration loaded")

	engine, err := reward.NewEngine(engineConfig(cfg))
	if err != nil {
		logger.WithError(err).Error("reward engine setup error")
		fmt.Fprintf(os.Stderr, "reward engine setup error: %v\n", err)
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	userRegistrar := user.NewRegistrar(mongoManager.Users(), logger)
	userRepository := domain.NewUserRepository(mongoManager.Users())
	activityLog := domain.NewActivityLog(mongoManager.Activity())
	statsProvider := store.NewStatsProvider(mongoManager.Users(), mongoManager.Activity())

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	commands, err := dispatcher.New(engine, userRepository, userRegistrar,
		dispatcher.WithActivityLog(activityLog),
		dispatcher.WithNotifier(tgClient),
		dispatcher.WithBotUsername(cfg.BotUsername),
		dispatcher.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Error("dispatcher setup error")
		fmt.Fprintf(os.Stderr, "dispatcher setup error: %v\n", err)
		os.Exit(1)
	}

	webhook, err := telegram.NewWebhookHandler(commands,
		telegram.WithSecretToken(cfg.WebhookSecret),
		telegram.WithCallbackAnswerer(tgClient),
		telegram.WithRateLimiter(telegram.NewUserLimiter(cfg.Tuning.RateLimitPerMinute, cfg.Tuning.RateLimitBurst)),
		telegram.WithHandlerTimeout(cfg.Tuning.HandlerTimeout),
		telegram.WithWebhookLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Error("webhook setup error")
		fmt.Fprintf(os.Stderr, "webhook setup error: %v\n", err)
		os.Exit(1)
	}

	if cfg.WebhookURL != "" {
		webhookCtx, cancelWebhook := context.WithTimeout(context.Background(), webhookSetupTimeout)
		err := tgClient.RegisterWebhook(webhookCtx, cfg.WebhookURL, cfg.WebhookSecret)
		cancelWebhook()
		if err != nil {
			logger.WithError(err).Error("webhook registration error")
			fmt.Fprintf(os.Stderr, "webhook registration error: %v\n", err)
			os.Exit(1)
		}
	} else {
		logger.WithField("event", "webhook_unregistered").Warn("WEBHOOK_URL is empty, skipping webhook registration")
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := jobs.NewScheduler(cfg.Tuning.ReminderCron, cfg.Location, cfg.Tuning.ReminderMinStreak,
		engine, userRepository, tgClient, logger)
	if err != nil {
		logger.WithError(err).Error("scheduler setup error")
		fmt.Fprintf(os.Stderr, "scheduler setup error: %v\n", err)
		os.Exit(1)
	}
	if err := scheduler.Start(signalCtx); err != nil {
		logger.WithError(err).Error("scheduler start error")
		fmt.Fprintf(os.Stderr, "scheduler start error: %v\n", err)
		os.Exit(1)
	}

	httpServer := server.NewServer(cfg.HTTPPort, logger,
		server.WithMongoChecker(mongoManager),
		server.WithStatsProvider(statsProvider),
		server.WithProcessStart(processStart),
		server.WithWebhook(cfg.WebhookPath, webhook),
	)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping http server")
	case err := <-httpErr:
		if err != nil {
			logger.WithField("event", "http_stopped_early").WithError(err).Error("http server stopped before shutdown signal")
		}
	}

	shutdownHTTPCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := httpServer.Shutdown(shutdownHTTPCtx); err != nil {
		logger.WithError(err).Error("http shutdown error")
	}
	cancelHTTP()

	scheduler.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func engineConfig(cfg config.Config) reward.Config {
	tuning := cfg.Tuning

	rc := reward.DefaultConfig()
	rc.DailyBase = tuning.DailyBase
	rc.DailyThreeDayBonus = tuning.DailyThreeDayBonus
	rc.DailySevenDayBonus = tuning.DailySevenDayBonus
	rc.StreakProtectionMin = tuning.StreakProtectionAt
	rc.RandomMin = tuning.RandomMin
	rc.RandomMax = tuning.RandomMax
	rc.RandomCooldown = tuning.RandomCooldown
	rc.JackpotChance = tuning.JackpotChance
	rc.JackpotMultiplier = tuning.JackpotMultiplier
	rc.Location = cfg.Location

	return rc
}
