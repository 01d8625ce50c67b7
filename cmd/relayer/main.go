// Command relayer runs the Relayer Processor (§4.4): one Chain Watcher
// per configured source chain, each driving a relayer.Processor that
// signs and submits withdraw() calls on the deposit's target chain, plus
// a background reconciliation sweep (§7) for rows stuck in relaying.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lockmint/bridge/internal/chain"
	"github.com/lockmint/bridge/internal/config"
	"github.com/lockmint/bridge/internal/contract"
	"github.com/lockmint/bridge/internal/logging"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/noncemgr"
	"github.com/lockmint/bridge/internal/reconciler"
	"github.com/lockmint/bridge/internal/relayer"
	"github.com/lockmint/bridge/internal/signer"
	"github.com/lockmint/bridge/internal/store"
	"github.com/lockmint/bridge/internal/watcher"
)

const serviceName = "relayer"

func main() {
	configPath := flag.String("config", "config/relayer.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadRelayerConfig(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logging.Init(&logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, ServiceName: serviceName}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logging.Sync()
	log := logging.L()

	if err := run(cfg, log); err != nil {
		log.Fatal("relayer exited with error", zap.Error(err))
	}
	log.Info("relayer stopped")
}

func run(cfg *config.RelayerConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := store.InstrumentMetrics(db); err != nil {
		return fmt.Errorf("instrument database metrics: %w", err)
	}

	rdb := openRedis(cfg.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	sgn, err := signer.NewFromHex(cfg.ValidatorPrivateKey)
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}
	log.Info("validator signer ready", zap.String("address", sgn.Address().Hex()))

	txs := store.NewTransactionRepository(db)
	sigs := store.NewSignatureRepository(db)
	cursors := store.NewCursorRepository(db)

	clients := make(map[int64]*chain.Client, len(cfg.Chains))
	bridges := make(map[int64]*contract.Bridge, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		c, err := chain.New(ctx, chain.Config{
			ChainID:       cc.ChainID,
			Name:          cc.Name,
			PrivateKeyHex: cfg.ValidatorPrivateKey,
			RPCURLs:       append([]string{cc.RPCURL}, cc.BackupRPCURLs...),
		})
		if err != nil {
			return fmt.Errorf("connect chain %d (%s): %w", cc.ChainID, cc.Name, err)
		}
		defer c.Close()
		clients[cc.ChainID] = c

		bridge, err := contract.NewBridge(common.HexToAddress(cc.BridgeAddress), c)
		if err != nil {
			return fmt.Errorf("bind bridge on chain %d: %w", cc.ChainID, err)
		}
		bridges[cc.ChainID] = bridge
	}

	targets := make(map[int64]*relayer.Target, len(cfg.Chains))
	checkers := make(map[int64]reconciler.Checker, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		c := clients[cc.ChainID]
		bridgeAddr := common.HexToAddress(cc.BridgeAddress)
		gasEstimator := contract.NewGasEstimator(chain.NewGasSource(c), cfg.MaxGasPriceGwei, cfg.GasLimitMultiplier)
		nonces := noncemgr.New(c, rdb, noncemgr.Config{Wallet: c.Address(), ChainID: cc.ChainID})

		targets[cc.ChainID] = &relayer.Target{
			Client:        c,
			BridgeAddress: bridgeAddr,
			Bridge:        bridges[cc.ChainID],
			Gas:           gasEstimator,
			Nonces:        nonces,
			NewERC20: func(token common.Address) (*contract.ERC20, error) {
				return contract.NewERC20(token, c)
			},
		}
		checkers[cc.ChainID] = bridges[cc.ChainID]
	}

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	var watchers []*watcher.Watcher
	for _, cc := range cfg.Chains {
		sourceChain := clients[cc.ChainID]
		sourceBridge := bridges[cc.ChainID]

		proc := relayer.New(cc.ChainID, sourceChain, sourceBridge, targets, txs, sigs, sgn, relayer.Config{
			MinConfirmations: int64(cfg.MinConfirmations),
			SignatureMode:    cfg.SignatureMode,
		})

		w := watcher.New(sourceChain, cursors, proc.Handle, watcher.Config{
			BridgeAddress:     common.HexToAddress(cc.BridgeAddress),
			EventTopics:       []common.Hash{sourceBridge.DepositEventTopic()},
			BatchSize:         int64(cfg.BatchSize),
			PollInterval:      pollInterval,
			MinConfirmations:  int64(cfg.MinConfirmations),
		})
		watchers = append(watchers, w)
	}
	supervisor := watcher.NewSupervisor(watchers...)

	rec := reconciler.New(txs, checkers, pollInterval*10)

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	metricsSrv := metrics.NewHTTPServer(cfg.Metrics.Addr)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
		log.Info("grpc health server listening", zap.Int("port", cfg.GRPCPort))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
		return metricsSrv.ListenAndServe()
	})
	g.Go(func() error {
		return supervisor.Run(gCtx)
	})
	g.Go(func() error {
		return rec.Run(gCtx)
	})

	<-gCtx.Done()
	log.Info("shutdown signal received, draining")

	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		return err
	}
	return nil
}

func openPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	return db, nil
}

func openRedis(cfg config.RedisConfig) *redis.Client {
	addr := "localhost:6379"
	if len(cfg.Addresses) > 0 {
		addr = cfg.Addresses[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
