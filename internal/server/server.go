// Package server assembles the relay engine and its HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/approvals"
	"github.com/cyphera/wallet-relayer/internal/chain"
	"github.com/cyphera/wallet-relayer/internal/config"
	"github.com/cyphera/wallet-relayer/internal/events"
	"github.com/cyphera/wallet-relayer/internal/guard"
	"github.com/cyphera/wallet-relayer/internal/handlers"
	"github.com/cyphera/wallet-relayer/internal/limits"
	"github.com/cyphera/wallet-relayer/internal/logger"
	"github.com/cyphera/wallet-relayer/internal/middleware"
	"github.com/cyphera/wallet-relayer/internal/module"
	"github.com/cyphera/wallet-relayer/internal/oracle"
	"github.com/cyphera/wallet-relayer/internal/relay"
	"github.com/cyphera/wallet-relayer/internal/storage"
	"github.com/cyphera/wallet-relayer/internal/transfers"
)

// Well-known module addresses inside the engine. These are synthetic
// identities, not deployed contracts.
var (
	TransferManagerAddress  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	ApprovedTransferAddress = common.HexToAddress("0x0000000000000000000000000000000000001002")
)

// Server owns the engine wiring and the HTTP listener.
type Server struct {
	cfg      config.Config
	store    storage.Store
	sim      *chain.Simulator
	events   *events.Log
	executor *relay.Executor
	transfer *transfers.Manager
	router   *gin.Engine
	http     *http.Server
}

// New builds the full engine from configuration: store, simulated
// chain, modules, executor, and the gin router.
func New(cfg config.Config) (*Server, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	sim := chain.NewSimulator(1, time.Now())
	eventLog := events.NewLog(logger.Log)

	priceOracle := buildOracle(cfg, sim)
	tracker := limits.NewTracker(store, sim, eventLog, cfg.SecurityPeriod, logger.Log)
	guardians := guard.NewRegistry(store)

	transfer := transfers.NewManager(TransferManagerAddress, store, tracker, sim, eventLog,
		priceOracle, cfg.SecurityPeriod, cfg.SecurityWindow, logger.Log)
	approved := approvals.New(ApprovedTransferAddress, guardians, sim, eventLog, logger.Log)

	registry := module.NewRegistry()
	registry.Register(transfer)
	registry.Register(approved)

	engineAddr := common.HexToAddress(cfg.RelayerAddress)
	replayGuard := relay.NewReplayGuard(store, cfg.BlockBound)
	refund := relay.NewRefundAccountant(engineAddr, tracker, priceOracle, sim, eventLog)
	executor := relay.NewExecutor(engineAddr, store, registry,
		replayGuard, guardians, refund, sim, eventLog, cfg.GasBudget, logger.Log)

	s := &Server{
		cfg:      cfg,
		store:    store,
		sim:      sim,
		events:   eventLog,
		executor: executor,
		transfer: transfer,
	}
	s.router = s.buildRouter(tracker, guardians)
	s.http = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.router,
	}
	return s, nil
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Simulator exposes the chain simulator, used by tests and tooling.
func (s *Server) Simulator() *chain.Simulator { return s.sim }

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return s.store.Close()
}

func (s *Server) buildRouter(tracker *limits.Tracker, guardians *guard.Registry) *gin.Engine {
	if s.cfg.Stage == config.StageProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(configureCORS())
	router.Use(middleware.CorrelationID())
	rateLimiter := middleware.NewRateLimiter(s.cfg.RateLimitPerSecond, s.cfg.RateLimitBurst)
	router.Use(rateLimiter.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	relayHandler := handlers.NewRelayHandler(s.executor)
	stateHandler := handlers.NewWalletStateHandler(s.store, tracker, s.transfer)
	eventHandler := handlers.NewEventHandler(s.events)

	var adminSim *chain.Simulator
	if s.cfg.Stage != config.StageProd {
		adminSim = s.sim
	}
	adminHandler := handlers.NewAdminHandler(s.store, guardians, adminSim,
		[]common.Address{TransferManagerAddress, ApprovedTransferAddress},
		s.cfg.DefaultLimit(), logger.Log)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/relay", relayHandler.Relay)
		v1.GET("/events", eventHandler.Recent)

		wallets := v1.Group("/wallets")
		{
			wallets.GET("/:address/nonce", stateHandler.GetNonce)
			wallets.GET("/:address/limit", stateHandler.GetLimit)
			wallets.GET("/:address/transfers/pending", stateHandler.GetPendingTransfers)
			wallets.GET("/:address/whitelist/:target", stateHandler.GetWhitelistStatus)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(s.cfg.AdminJWTSecret))
		{
			admin.POST("/wallets", adminHandler.RegisterWallet)
			admin.POST("/chain/advance", adminHandler.AdvanceChain)
		}
	}
	return router
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Store {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "pebble":
		return storage.NewPebbleStore(cfg.PebblePath)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		return storage.NewPostgresStore(context.Background(), cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

func buildOracle(cfg config.Config, ledger chain.Ledger) oracle.PriceOracle {
	if cfg.CMCAPIKey != "" {
		return oracle.NewCoinMarketCap(cfg.CMCAPIKey, cfg.TokenSymbols(), ledger, logger.Log)
	}
	return oracle.NewStatic(nil)
}

// configureCORS returns a configured CORS middleware
func configureCORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS")
	if originsEnv == "" {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	} else {
		origins := strings.Split(originsEnv, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		corsConfig.AllowOrigins = origins
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.CorrelationIDHeader}
	corsConfig.AllowCredentials = os.Getenv("CORS_ALLOW_CREDENTIALS") == "true"

	return cors.New(corsConfig)
}
