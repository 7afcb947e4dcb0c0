package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/raidledger/guildops/guildops"
	"github.com/raidledger/guildops/guildops/database"
	"github.com/raidledger/guildops/guildops/database/repositories"
	"github.com/raidledger/guildops/guildops/economy/auction"
	"github.com/raidledger/guildops/guildops/economy/dkp"
	"github.com/raidledger/guildops/guildops/logger"
	"github.com/raidledger/guildops/web"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// A missing .env is fine; the config file is the source of truth.
	_ = godotenv.Load()

	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := guildops.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	customHandler := logger.NewHandler("GuildOps", cfg.Log.Level)
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting GuildOps API",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("type", "sys"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.LogSystem("Connecting to database...")
	db, err := database.New(ctx, database.DBConfig(cfg.DB))
	if err != nil {
		logger.LogError("Failed to connect to database", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		logger.LogError("Failed to initialize schema", err)
		os.Exit(1)
	}
	logger.LogSystem("Database ready")

	userRepo := repositories.NewUserRepository(db.BunDB())
	dropRepo := repositories.NewDropRepository(db.BunDB())
	auctionRepo := repositories.NewAuctionRepository(db.BunDB())
	lotRepo := repositories.NewLotRepository(db.BunDB())
	ledgerRepo := repositories.NewLedgerRepository(db.BunDB(), db)
	auditRepo := repositories.NewAuditRepository(db.BunDB())

	rewards := dkp.NewService(ledgerRepo, userRepo)

	engine := auction.NewEngine(auctionRepo, lotRepo, userRepo, dropRepo, auction.Config{
		DefaultTimerSeconds: cfg.Auction.DefaultTimerSeconds,
		MinTimerSeconds:     cfg.Auction.MinTimerSeconds,
		MaxTimerSeconds:     cfg.Auction.MaxTimerSeconds,
		MinIncrement:        cfg.Auction.MinIncrement,
	})

	supervisor := auction.NewSupervisor(engine, time.Duration(cfg.Auction.PollIntervalSeconds)*time.Second)
	supervisor.Start()
	defer supervisor.Stop()

	reconciler := dkp.NewReconciler(ledgerRepo, cfg.Ledger.ReconcileCron)
	if err := reconciler.Start(); err != nil {
		slog.Error("Failed to start reconciler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer reconciler.Stop()

	app := fiber.New(fiber.Config{
		AppName:      "GuildOps API",
		ServerHeader: "GuildOps",
		ErrorHandler: web.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(web.SecurityHeaders())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	if cfg.Web.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.Web.CORSOrigins,
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
		}))
	}
	app.Use(web.LoggingMiddleware())

	searcher := web.NewDropSearcher(dropRepo)
	handlers := web.NewHandlers(engine, rewards, userRepo, dropRepo, auditRepo, searcher, db)
	web.SetupRoutes(app, handlers)

	address := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	slog.Info("Starting server", slog.String("address", address))

	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return app.Listen(address)
	})

	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-gctx.Done():
			return gctx.Err()
		case s := <-sig:
			slog.Info("Shutting down", slog.String("signal", s.String()))
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.LogError("Server stopped", err)
		os.Exit(1)
	}
	logger.LogSystem("Shutdown complete")
}
