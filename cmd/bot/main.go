package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eloysh/Gurenko-ai/internal/admin"
	"github.com/eloysh/Gurenko-ai/internal/config"
	"github.com/eloysh/Gurenko-ai/internal/database"
	"github.com/eloysh/Gurenko-ai/internal/kie"
	"github.com/eloysh/Gurenko-ai/internal/miniapp"
	"github.com/eloysh/Gurenko-ai/internal/repository"
	"github.com/eloysh/Gurenko-ai/internal/service"
	"github.com/eloysh/Gurenko-ai/internal/storage"
	"github.com/eloysh/Gurenko-ai/internal/subscription"
	"github.com/eloysh/Gurenko-ai/internal/telegram"
	"github.com/eloysh/Gurenko-ai/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	kieClient := kie.NewClient(cfg, logr)

	userRepo := repository.NewUserRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	promptRepo := repository.NewPromptRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	var mirror service.ImageMirror
	if cfg.S3Bucket != "" {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		mirror = uploader
	}

	userService := service.NewUserService(cfg, userRepo)
	generationService := service.NewGenerationService(logr, userRepo, generationRepo, kieClient, mirror)
	promptService := service.NewPromptService(promptRepo)
	paymentService := service.NewPaymentService(cfg, logr, paymentRepo, userRepo, botAPI)

	if err := promptService.EnsureDefaults(ctx); err != nil {
		log.Fatalf("seed prompt suggestions: %v", err)
	}

	gate := subscription.NewChecker(cfg, botAPI, logr)
	verifier := miniapp.NewInitDataVerifier(cfg.BotToken, cfg.InitDataMaxAge)

	apiServer := miniapp.NewServer(cfg.WebAppListenAddr, logr, verifier, gate, userService, generationService, promptService, paymentService)
	go func() {
		if err := apiServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("webapp server stopped", "err", err)
		}
	}()

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, promptService, paymentService, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	bot := telegram.NewBot(cfg, botAPI, logr, userService, paymentService, gate)
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
