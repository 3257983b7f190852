package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"green-reward/internal/api"
	"green-reward/internal/config"
	"green-reward/internal/db"
	"green-reward/internal/logger"
	"green-reward/internal/middleware"
	"green-reward/internal/notify"
	"green-reward/internal/service"
	"green-reward/pkg"

	"github.com/labstack/echo/v4"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	port := pflag.StringP("port", "p", "", "HTTP port, overrides SERVER_PORT")
	store := pflag.String("store", "", "ledger store: memory or postgres")
	notifier := pflag.String("notifier", "", "signal transport: memory, redis or kafka")
	watch := pflag.Bool("watch", false, "keep a live resident view per resident and log its updates")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.ServerPort = *port
	}
	if *store != "" {
		cfg.Store = *store
	}
	if *notifier != "" {
		cfg.Notifier = *notifier
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger, *watch); err != nil {
		zapLogger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg pkg.Logger, watch bool) error {
	ledgerDB, closeStore, err := openStore(cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	sig, err := openSignal(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sig.Close(); err != nil {
			lg.Warn("failed to close ledger signal", zap.Error(err))
		}
	}()

	users := service.NewDirectory(service.DefaultUsers()...)
	ledger := service.NewLedgerService(ledgerDB, sig, lg)
	backend := service.NewLocalBackend(ledger, users, cfg.MockLatency, lg)
	authService := service.NewAuthService(users, cfg.DemoPassword, lg, cfg.JWTSecret)
	sessions := service.NewCollectorSessions(backend, ledger, cfg.ScanDelay, lg)

	hub := api.NewHub(lg)
	go hub.Run(ctx)
	go func() {
		if err := sig.Observe(ctx, hub.Publish); err != nil {
			lg.Error("ledger signal observation stopped", zap.Error(err))
		}
	}()

	if watch {
		for _, u := range users.Residents() {
			resident := service.NewResident(u.Username, backend, sig, cfg.PollInterval, lg)
			go func() { _ = resident.Run(ctx) }()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(logger.EchoLogger(lg))
	e.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret, lg))

	handlers := &api.Handlers{
		AuthService: authService,
		Backend:     backend,
		Sessions:    sessions,
		Hub:         hub,
		Logger:      lg,
	}
	api.RegisterHandlers(e, handlers)

	errCh := make(chan error, 1)
	go func() {
		lg.Info("Starting server",
			zap.String("port", cfg.ServerPort),
			zap.String("store", cfg.Store),
			zap.String("notifier", cfg.Notifier))
		if err := e.Start(fmt.Sprintf(":%s", cfg.ServerPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	lg.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config, lg pkg.Logger) (db.LedgerDB, func(), error) {
	if cfg.Store != config.StorePostgres {
		return db.NewMemoryLedgerDB(), func() {}, nil
	}

	dbConn, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	lg.Info("Connected to postgres", zap.String("host", cfg.DatabaseHost), zap.String("database", cfg.DatabaseName))
	return db.NewLedgerDB(dbConn), func() { _ = dbConn.Close() }, nil
}

func openSignal(ctx context.Context, cfg *config.Config, lg pkg.Logger) (notify.Signal, error) {
	switch cfg.Notifier {
	case config.NotifierRedis:
		client, err := notify.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return notify.NewRedisSignal(client, lg), nil
	case config.NotifierKafka:
		return notify.NewKafkaSignal(cfg.KafkaBrokers, lg), nil
	default:
		return notify.NewMemorySignal(), nil
	}
}
