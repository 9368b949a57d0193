package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shuttle/internal/clock"
	intconfig "shuttle/internal/config"
	"shuttle/internal/events"
	router "shuttle/internal/http"
	"shuttle/internal/http/handlers"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
	"shuttle/internal/services"
	"shuttle/internal/utils"
)

func main() {
	env := intconfig.LoadEnv()
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}

	logger, err := utils.NewLogger(env.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, env, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer intconfig.CloseDB()

	pubsub := events.NewGoChannel(logger)
	defer func() { _ = pubsub.Close() }()
	if err := events.RunAudit(ctx, pubsub, logger.Named("audit")); err != nil {
		logger.Fatal("start audit subscriber", zap.Error(err))
	}

	deps := services.Deps{
		Clock:  clock.Real(),
		Events: events.NewBus(pubsub, logger),
		Log:    logger,
	}
	led := ledger.New(repositories.CapacitySource{Store: store}, logger.Named("ledger"))
	cascade := services.CascadeService{Store: store, Ledger: led, Deps: deps}
	auth := services.AuthService{
		Store:    store,
		Secret:   []byte(env.JWTSecret),
		TokenTTL: time.Duration(env.JWTExpiryHours) * time.Hour,
		Deps:     deps,
	}
	if err := auth.EnsureAdmin(ctx, env.SeedAdminEmail, env.SeedAdminPassword); err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}

	hd := &handlers.Handler{
		Auth:     auth,
		Bookings: services.BookingService{Store: store, Ledger: led, Deps: deps},
		Journeys: services.JourneyService{Store: store, Ledger: led, Cascade: cascade, Deps: deps},
		Users:    services.UserService{Store: store, Cascade: cascade},
		Docs:     services.DocsService{Store: store, Deps: deps},
		Reports:  services.ReportsService{Store: store, Ledger: led, Deps: deps},
		Log:      logger,
	}
	r := router.NewRouter(env, hd, logger)

	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", env.AppAddr), zap.String("store", env.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, env intconfig.Env, logger *zap.Logger) (repositories.Store, error) {
	if env.Store == intconfig.StoreMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return repositories.NewMemoryStore(), nil
	}
	conn, err := intconfig.ConnectDB(env.DBDSN)
	if err != nil {
		return nil, err
	}
	store := repositories.NewSQLStore(conn, logger.Named("store"))
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
