package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/batchscribe/batchscribe/internal/cleanup"
	"github.com/batchscribe/batchscribe/internal/config"
	"github.com/batchscribe/batchscribe/internal/export"
	"github.com/batchscribe/batchscribe/internal/handlers"
	"github.com/batchscribe/batchscribe/internal/history"
	"github.com/batchscribe/batchscribe/internal/pipeline"
	"github.com/batchscribe/batchscribe/internal/session"
	"github.com/batchscribe/batchscribe/internal/transcribe"
	"github.com/batchscribe/batchscribe/internal/types"
	"github.com/batchscribe/batchscribe/internal/uploads"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to YAML config")
	envPath := flag.String("env", ".env", "path to settings .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	log := newLogger(cfg)
	log.Info().Str("config", *configPath).Msg("starting batchscribe server")

	registry, err := uploads.NewRegistry(cfg.Storage.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("upload directory unavailable")
	}

	hist, err := history.Open(cfg.Storage.HistoryDB)
	if err != nil {
		log.Fatal().Err(err).Msg("history database unavailable")
	}
	defer hist.Close()

	envStore := config.NewEnvStore(*envPath)

	manager := session.NewManager(
		registry,
		hist,
		envStore.Load,
		func(apiKey string) pipeline.Transcriber {
			return transcribe.NewDeepgram(apiKey, log.With().Str("component", "deepgram").Logger())
		},
		newExporterFactory,
		session.Config{
			QueueSize:    cfg.Pipeline.QueueSize,
			PingInterval: cfg.PingInterval(),
			Grace:        cfg.SessionGrace(),
			MaxAge:       cfg.SessionMaxAge(),
		},
		log.With().Str("component", "session").Logger(),
	)
	manager.StartReaper()
	defer manager.Stop()

	scheduler := cleanup.NewScheduler(
		cfg.Storage.UploadDir,
		cfg.CleanupInterval(),
		cfg.CleanupMaxAge(),
		log.With().Str("component", "cleanup").Logger(),
	)
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB << 20,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadHandler := handlers.NewUploadHandler(registry, cfg.Limits.MaxFileSizeMB, log.With().Str("component", "upload").Logger())
	configHandler := handlers.NewConfigHandler(envStore)
	transcriptionHandler := handlers.NewTranscriptionHandler(manager, log.With().Str("component", "stream").Logger())
	wsHandler := handlers.NewWSHandler(manager, log.With().Str("component", "ws").Logger())
	sessionHandler := handlers.NewSessionHandler(manager, hist)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/files/upload", uploadHandler.Handle)
	api.Get("/config", configHandler.Get)
	api.Put("/config", configHandler.Put)
	api.Post("/transcription/start", transcriptionHandler.Start)
	api.Get("/transcription/progress/:id", transcriptionHandler.Progress)
	api.Get("/sessions/:id", sessionHandler.Get)
	api.Get("/history", sessionHandler.History)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/progress/:id", websocket.New(wsHandler.Handle))

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Info().Msg("shutting down")
		app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("listening")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// newExporterFactory resolves the exporter for the session's output
// mode; the factory runs inside the orchestrator so credential
// problems abort the session instead of the request.
func newExporterFactory(set config.Settings) func(ctx context.Context) (pipeline.Exporter, error) {
	return func(ctx context.Context) (pipeline.Exporter, error) {
		switch set.OutputMode() {
		case types.OutputGoogleDocs:
			g, err := export.NewGoogleDocs(ctx, set.GoogleServiceAccountJSON, set.DriveFolderID)
			if err != nil {
				return nil, err
			}
			return g, nil
		case types.OutputMarkdown:
			m, err := export.NewMarkdown(set.MarkdownOutputDir)
			if err != nil {
				return nil, err
			}
			return m, nil
		default:
			return nil, nil
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
