package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	genesisconfig "peerlend/config"
	"peerlend/core/state"
	"peerlend/native/lending"
	"peerlend/observability"
	"peerlend/observability/logging"
	telemetry "peerlend/observability/otel"
	"peerlend/services/lending/engine"
	"peerlend/services/lending/engine/rpcclient"
	"peerlend/services/lending/pool/rpcpool"
	"peerlend/services/lending/pool/simulated"
	lendingserver "peerlend/services/lending/server"
	"peerlend/services/lendingd/config"
	"peerlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PEERLEND_ENV"))
	logger := logging.Setup("lendingd", env)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("lendingd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	genesis, err := genesisconfig.Load(cfg.Genesis)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}

	db, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	pool, custody, err := buildPool(cfg, genesis, logger)
	if err != nil {
		log.Fatalf("configure pool: %v", err)
	}

	core := lending.NewEngine(pool, custody, genesis.Engine)
	core.SetState(state.NewLendingStore(db))
	core.SetEmitter(observability.NewMetricsEmitter(observability.NewLogEmitter(logger)))
	core.SetLogger(logger.With("component", "lending"))
	if genesis.Engine.Treasury != (common.Address{}) {
		core.SetTreasury(genesis.Engine.Treasury)
	}
	local := engine.NewLocal(core,
		engine.WithMetrics(observability.Lending()),
		engine.WithQuota(cfg.Quota),
		engine.WithLogger(logger),
		engine.WithModulePaused(cfg.StartPaused),
	)
	if err := createGenesisMarkets(local, genesis, logger); err != nil {
		log.Fatalf("genesis markets: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := lendingserver.TLSConfig(lendingserver.TLSOptions{
		CertFile:         cfg.TLS.CertPath,
		KeyFile:          cfg.TLS.KeyPath,
		ClientCAFile:     cfg.TLS.ClientCAPath,
		AllowInsecure:    cfg.TLS.AllowInsecure,
		AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
	})
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	api := lendingserver.New(local, lendingserver.Options{
		Auth: lendingserver.AuthConfig{
			APITokens:        cfg.Auth.APITokens,
			AdminTokens:      cfg.Auth.AdminTokens,
			AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
		},
		RateLimit: lendingserver.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	mux := http.NewServeMux()
	mux.Handle("/", otelhttp.NewHandler(api.Handler(), "lendingd"))
	if cfg.MetricsListen == "" {
		mux.Handle("/metrics", promhttp.Handler())
	}
	server := &http.Server{
		Handler:           mux,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("lendingd listening on %s", cfg.ListenAddress)
		if tlsCfg != nil {
			serverErr <- server.ServeTLS(listener, "", "")
			return
		}
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Println("forcing server stop")
			_ = server.Close()
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.StorageLevelDB:
		return storage.NewLevelDB(cfg.Path)
	case config.StorageBolt:
		return storage.NewBoltDB(cfg.Path)
	default:
		return storage.NewMemDB(), nil
	}
}

func buildPool(cfg config.Config, genesis *genesisconfig.Genesis, logger *slog.Logger) (lending.Pool, lending.Custody, error) {
	if cfg.Pool.Mode == config.PoolRPC {
		client, err := rpcclient.NewClient(cfg.Pool.RPC)
		if err != nil {
			return nil, nil, err
		}
		pool := rpcpool.New(client)
		return pool, pool, nil
	}

	if err := genesis.RequirePoolMarkets(); err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend != config.StorageMemory {
		logger.Warn("simulated pool balances are not persisted; restarting against existing storage will diverge",
			"storage", cfg.Storage.Backend)
	}
	pool := simulated.New(time.Now)
	for _, market := range genesis.Pool {
		if err := pool.AddMarket(market); err != nil {
			return nil, nil, fmt.Errorf("pool market %s: %w", market.Symbol, err)
		}
	}
	for _, wallet := range genesis.Wallets {
		amount, err := uint256.FromDecimal(wallet.Amount)
		if err != nil {
			return nil, nil, fmt.Errorf("wallet %s: %w", wallet.Account, err)
		}
		if err := pool.Mint(wallet.Symbol, common.HexToAddress(wallet.Account), amount); err != nil {
			return nil, nil, fmt.Errorf("wallet %s: %w", wallet.Account, err)
		}
	}
	return pool, pool, nil
}

// createGenesisMarkets opens every genesis market that the store does not
// already hold.
func createGenesisMarkets(local *engine.Local, genesis *genesisconfig.Genesis, logger *slog.Logger) error {
	ctx := context.Background()
	for _, m := range genesis.Markets {
		_, err := local.CreateMarket(ctx, engine.MarketParams{
			Symbol:         m.Symbol,
			ReserveFactor:  m.ReserveFactor,
			P2PIndexCursor: m.P2PIndexCursor,
			P2PDisabled:    m.P2PDisabled,
		})
		if errors.Is(err, engine.ErrConflict) {
			logger.Info("genesis market already present", "market", m.Symbol)
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", m.Symbol, err)
		}
	}
	return nil
}
