package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imagebot/internal/bot"
	"imagebot/internal/clock"
	"imagebot/internal/config"
	"imagebot/internal/database"
	"imagebot/internal/dispatch"
	"imagebot/internal/history"
	"imagebot/internal/imagegen"
	"imagebot/internal/logging"
	"imagebot/internal/quota"
	"imagebot/internal/server"
	"imagebot/internal/services"
	"imagebot/internal/session"
	"imagebot/internal/texts"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "imagebot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// конфигурация
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, logFile, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// бд
	db, err := database.Open(cfg.DatabasePath, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Error("Ошибка инициализации БД")
		return err
	}

	store := history.NewStore(db, loc)
	quotas := quota.NewManager(store, clock.System(loc), loc)

	states, redisClient, err := initSessionStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Ошибка инициализации хранилища диалогов")
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	catalog, err := texts.Load()
	if err != nil {
		return err
	}

	// бот
	tgBot, err := telebot.NewBot(bot.NewSettings(cfg.TelegramToken, log))
	if err != nil {
		log.WithError(err).Error("Ошибка создания Telegram бота")
		return err
	}
	botApp := bot.New(tgBot, log)

	machine := session.New(session.Deps{
		Quota:             quotas,
		History:           store,
		States:            states,
		Transport:         botApp,
		Images:            initImageClient(cfg),
		Translator:        initTranslator(cfg, log),
		Texts:             catalog,
		Log:               log,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	dispatcher := dispatch.New(machine, log, dispatch.DefaultIdleTimeout)
	botApp.SetDispatcher(dispatcher)
	botApp.RegisterHandlers()

	// health сервер
	health := server.New(cfg.Port, healthChecks(db, redisClient), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return botApp.Run(gctx) })
	g.Go(func() error { return health.Run(gctx) })

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+10*time.Second)
	defer cancel()
	if cerr := dispatcher.Close(closeCtx); cerr != nil {
		log.WithError(cerr).Warn("Не все сообщения обработаны до остановки")
	}
	if sqlDB, derr := db.DB(); derr == nil {
		sqlDB.Close()
	}

	log.Info("Бот остановлен")
	return err
}

func initSessionStore(ctx context.Context, cfg *config.Config) (session.StateStore, *redis.Client, error) {
	if cfg.SessionBackend != config.SessionRedis {
		return session.NewMemoryStore(), nil, nil
	}
	client, err := session.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisStore(client), client, nil
}

func initImageClient(cfg *config.Config) *imagegen.Client {
	params := imagegen.Params{
		Steps:    cfg.ImageSteps,
		Width:    cfg.ImageWidth,
		Height:   cfg.ImageHeight,
		Seed:     cfg.ImageSeed,
		CFGScale: cfg.ImageCFGScale,
		Samples:  cfg.ImageSamples,
	}
	return imagegen.NewClient(cfg.StabilityAIURL, cfg.StabilityAIToken, params, cfg.GenerationRPS,
		&http.Client{Timeout: cfg.GenerationTimeout})
}

func initTranslator(cfg *config.Config, log logrus.FieldLogger) session.Translator {
	if cfg.OpenAIAPIKey == "" {
		log.Info("OPENAI_API_KEY не задан, описания не переводятся")
		return services.NoopTranslator{}
	}

	// OpenAI клиент
	openaiConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		openaiConfig.BaseURL = cfg.OpenAIBaseURL
	}
	return services.NewTranslatorService(openai.NewClientWithConfig(openaiConfig), cfg.OpenAIModel)
}

func healthChecks(db *gorm.DB, rdb *redis.Client) map[string]server.Check {
	checks := map[string]server.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return checks
}
