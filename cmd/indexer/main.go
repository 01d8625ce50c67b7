// Command indexer runs the Indexer Processor (§4.5): one Chain Watcher
// per configured chain, scanning both the Deposit and Withdraw topics
// against a single cursor and correlating them into Transfer rows. The
// Indexer never signs or submits transactions, so it carries no signer,
// nonce manager, or reconciliation sweep.
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
	"github.com/lockmint/bridge/internal/indexer"
	"github.com/lockmint/bridge/internal/logging"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/query"
	"github.com/lockmint/bridge/internal/store"
	"github.com/lockmint/bridge/internal/watcher"
)

const serviceName = "indexer"

func main() {
	configPath := flag.String("config", "config/indexer.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadIndexerConfig(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logging.Init(&logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, ServiceName: serviceName}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logging.Sync()
	log := logging.L()

	if err := run(cfg, log); err != nil {
		log.Fatal("indexer exited with error", zap.Error(err))
	}
	log.Info("indexer stopped")
}

func run(cfg *config.IndexerConfig, log *zap.Logger) error {
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

	base := store.NewBase(db)
	events := store.NewEventRepository(db)
	transfers := store.NewTransferRepository(db)
	cursors := store.NewCursorRepository(db)
	sigs := store.NewSignatureRepository(db)

	// Constructed for future embedding behind a read API; §6.4 leaves the
	// wire format out of scope for this pass.
	_ = query.New(events, transfers, cursors, sigs)

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	var watchers []*watcher.Watcher
	for _, cc := range cfg.Chains {
		c, err := chain.New(ctx, chain.Config{
			ChainID: cc.ChainID,
			Name:    cc.Name,
			RPCURLs: append([]string{cc.RPCURL}, cc.BackupRPCURLs...),
		})
		if err != nil {
			return fmt.Errorf("connect chain %d (%s): %w", cc.ChainID, cc.Name, err)
		}
		defer c.Close()

		bridgeAddr := common.HexToAddress(cc.BridgeAddress)
		bridge, err := contract.NewBridge(bridgeAddr, c)
		if err != nil {
			return fmt.Errorf("bind bridge on chain %d: %w", cc.ChainID, err)
		}

		proc := indexer.New(cc.ChainID, bridge, c, base, events, transfers)

		w := watcher.New(c, cursors, proc.Handle, watcher.Config{
			BridgeAddress:    bridgeAddr,
			EventTopics:      []common.Hash{bridge.DepositEventTopic(), bridge.WithdrawEventTopic()},
			BatchSize:        int64(cfg.BatchSize),
			PollInterval:     pollInterval,
			MinConfirmations: int64(cfg.MinConfirmations),
		})
		watchers = append(watchers, w)
	}
	supervisor := watcher.NewSupervisor(watchers...)

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
