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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"zeitgeist/internal/config"
	cronrunner "zeitgeist/internal/cron"
	"zeitgeist/internal/db"
	"zeitgeist/internal/events"
	"zeitgeist/internal/handler"
	"zeitgeist/internal/ledger"
	"zeitgeist/internal/listener"
	"zeitgeist/internal/logger"
	"zeitgeist/internal/notify"
	"zeitgeist/internal/oracle"
	"zeitgeist/internal/projector"
	gormrepository "zeitgeist/internal/repository/gorm"
	"zeitgeist/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("ZG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("ZG_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	store := gormrepository.New(dbConn.Gorm)

	programID, err := ledger.PublicKeyFromBase58(cfg.Ledger.ProgramID)
	if err != nil {
		logger.Fatal("invalid program id", zap.Error(err))
	}
	signer, err := ledger.SignerFromBase58(cfg.Ledger.FeePayerKey)
	if err != nil {
		logger.Fatal("invalid fee payer key", zap.Error(err))
	}
	var platformWallet ledger.PublicKey
	if raw := strings.TrimSpace(os.Getenv("ZG_LEDGER_PLATFORM_WALLET")); raw != "" {
		platformWallet, err = ledger.PublicKeyFromBase58(raw)
		if err != nil {
			logger.Fatal("invalid platform wallet", zap.Error(err))
		}
	} else {
		platformWallet = signer.PublicKey()
	}

	rpcClient := ledger.NewRPCClient(cfg.Ledger.RPCURL, cfg.Ledger.RequestTimeout)
	ledgerClient, err := ledger.NewClient(ledger.ClientOptions{
		RPC:                 rpcClient,
		ProgramID:           programID,
		PlatformWallet:      platformWallet,
		Signer:              signer,
		Commitment:          cfg.Ledger.Commitment,
		ConfirmTimeout:      cfg.Ledger.ConfirmTimeout,
		ConfirmPollInterval: cfg.Ledger.ConfirmPollInterval,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("ledger client init failed", zap.Error(err))
	}
	addrs := ledger.Addresses{ProgramID: programID}

	hub := notify.NewHub(logger)
	proj := projector.New(store, addrs, hub, logger)
	decoder := events.NewDecoder(logger)
	indexer := listener.New(listener.Options{
		RPC:        rpcClient,
		WSURL:      cfg.Ledger.WSURL,
		ProgramID:  cfg.Ledger.ProgramID,
		Commitment: cfg.Ledger.Commitment,
		Decoder:    decoder,
		Projector:  proj,
		Logger:     logger,
	})

	priceCache := oracle.NewCache()
	priceClient := oracle.NewClient(cfg.Oracle.HermesURL, cfg.Oracle.Timeout, logger)
	feeds := make([]oracle.Feed, 0, len(cfg.Oracle.Feeds))
	for _, feed := range cfg.Oracle.Feeds {
		feeds = append(feeds, oracle.Feed{Symbol: feed.Symbol, FeedID: feed.FeedID})
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Indexer: indexer}
	healthHandler.Register(engine)
	roundHandler := &handler.RoundHandler{Repo: store}
	roundHandler.Register(engine)
	userHandler := &handler.UserHandler{Repo: store}
	userHandler.Register(engine)
	eventHandler := &handler.EventHandler{Repo: store}
	eventHandler.Register(engine)
	priceHandler := &handler.PriceHandler{Cache: priceCache}
	priceHandler.Register(engine)
	wsServer := notify.NewWSServer(hub, logger)
	engine.GET("/ws", wsServer.Handle)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indexer.Start(ctx)
	defer indexer.Stop()

	if cfg.Notify.NATS.Enabled {
		publisher, err := notify.NewNATSPublisher(cfg.Notify.NATS.URL, cfg.Notify.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("nats publisher disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			sub := hub.Subscribe([]string{notify.ChannelGlobal}, 256)
			go publisher.Run(ctx, sub)
			logger.Info("nats publisher started", zap.String("prefix", cfg.Notify.NATS.SubjectPrefix))
		}
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Options{
			Config: cfg.Scheduler,
			Repo:   store,
			Ledger: ledgerClient,
			Addrs:  addrs,
			Prices: priceClient,
			Feeds:  feeds,
			Cache:  priceCache,
			Notify: hub,
			Logger: logger,
		})
		if err := sched.Register(cronRunner); err != nil {
			logger.Fatal("scheduler registration failed", zap.Error(err))
		}
		// Warm the price cache so the first round uses a live target.
		sched.RunPriceMonitor(ctx)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
