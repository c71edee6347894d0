package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/p2p-lending/internal/config"
	"github.com/Dan9191/p2p-lending/internal/contract"
	"github.com/Dan9191/p2p-lending/internal/handler"
	"github.com/Dan9191/p2p-lending/internal/integrations/ratefeed"
	"github.com/Dan9191/p2p-lending/internal/middleware"
	"github.com/Dan9191/p2p-lending/internal/repository"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/Dan9191/p2p-lending/internal/service"
	"github.com/Dan9191/p2p-lending/internal/utils/email"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// An empty POLICY_FILE selects the built-in policy
	policy, err := scoring.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Fatalf("Failed to load scoring policy: %v", err)
	}
	engine, err := scoring.NewEngine(policy, logger)
	if err != nil {
		logger.Fatalf("Invalid scoring policy: %v", err)
	}
	logger.Infof("Scoring policy %s loaded", policy.ModelVersion)

	units, err := contract.NewUnits(cfg.FiatPerNative, cfg.NativeDecimals)
	if err != nil {
		logger.Fatalf("Invalid native unit settings: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	notifier := email.NewSender(cfg, logger)
	svc := service.NewService(repo, engine, contract.NewConverter(units), notifier, logger, cfg)
	h := handler.NewHandler(svc, logger)

	// Exchange rate refresh
	scheduler := cron.New()
	if cfg.RateFeedURL != "" {
		feed := ratefeed.NewClient(cfg.RateFeedURL, cfg.RateFeedPath, logger)
		refresh := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = svc.RefreshExchangeRate(ctx, feed)
		}
		if _, err := scheduler.AddFunc(cfg.RateRefreshSchedule, refresh); err != nil {
			logger.Fatalf("Invalid RATE_REFRESH_SCHEDULE: %v", err)
		}
		refresh()
		scheduler.Start()
		logger.Infof("Exchange rate refresh scheduled: %s", cfg.RateRefreshSchedule)
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	h.Routes(r, middleware.AuthMiddleware(cfg.JWTSecret))

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
}
