// Package watcher is the Chain Watcher (§4.2): a single-threaded,
// per-chain cooperative loop that scans a bounded log window each tick
// and dispatches decoded events to a processor in ascending
// (blockNumber, logIndex) order, advancing a durable cursor only after
// the whole window has been processed.
package watcher

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lockmint/bridge/internal/apperrors"
	"github.com/lockmint/bridge/internal/logging"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/store"
)

// ChainSource is the subset of chain.Client a Watcher needs.
type ChainSource interface {
	ChainID() int64
	Name() string
	Head(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	Block(ctx context.Context, number *big.Int) (*types.Block, error)
}

// Handler is invoked once per decoded log, in ascending
// (blockNumber, logIndex) order within a window. A retryable error
// aborts the whole window (cursor does not advance); a terminal error is
// logged and the log is skipped.
type Handler func(ctx context.Context, log types.Log) error

// Config configures one chain's Watcher.
type Config struct {
	BridgeAddress common.Address
	EventTopics   []common.Hash
	BatchSize     int64
	PollInterval  time.Duration
	MinConfirmations int64
}

// Watcher scans one chain's bridge contract logs and durably advances a
// cursor as it goes.
type Watcher struct {
	chain   ChainSource
	cursors store.CursorRepository
	handler Handler
	cfg     Config
}

// New builds a Watcher for one chain.
func New(chain ChainSource, cursors store.CursorRepository, handler Handler, cfg Config) *Watcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	return &Watcher{chain: chain, cursors: cursors, handler: handler, cfg: cfg}
}

// Run drives the watch loop until ctx is cancelled (§5: finishes the
// current window's in-flight event, then exits without advancing the
// cursor if the window was not fully persisted).
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.WithContext(ctx).With(zap.Int64("chain_id", w.chain.ChainID()), zap.String("chain_name", w.chain.Name()))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := w.tick(ctx, log); err != nil {
			if apperrors.Is(err, apperrors.KindShutdownCancelled) {
				return nil
			}
			log.Warn("watcher tick failed, will retry next loop", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Watcher) tick(ctx context.Context, log *zap.Logger) error {
	chainLabel := strconv.FormatInt(w.chain.ChainID(), 10)
	tickStart := time.Now()

	cursor, err := w.cursors.GetByChainID(ctx, w.chain.ChainID())
	if err != nil && err != store.ErrCursorNotFound {
		return err
	}
	var last int64
	if cursor != nil {
		last = cursor.LastBlockNumber
	}

	head, err := w.chain.Head(ctx)
	if err != nil {
		return err
	}
	metrics.WatcherLagBlocks.WithLabelValues(chainLabel).Set(float64(int64(head) - last))
	safeHead := int64(head) - w.cfg.MinConfirmations
	if safeHead < 0 || safeHead <= last {
		return nil // nothing new past the confirmation gate
	}

	from := last + 1
	to := from + w.cfg.BatchSize - 1
	if to > safeHead {
		to = safeHead
	}

	logs, err := w.scanWindow(ctx, from, to, log)
	if err != nil {
		return err
	}
	defer func() {
		metrics.WatcherTickDuration.WithLabelValues(chainLabel).Observe(time.Since(tickStart).Seconds())
		metrics.BlocksScannedTotal.WithLabelValues(chainLabel).Add(float64(to - from + 1))
	}()

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for _, l := range logs {
		if err := w.handler(ctx, l); err != nil {
			if apperrors.IsRetryable(err) {
				return err // abort window, cursor does not advance
			}
			log.Warn("event dispatch failed terminally, skipping", zap.String("tx_hash", l.TxHash.Hex()), zap.Error(err))
		}
	}

	block, err := w.chain.Block(ctx, big.NewInt(to))
	if err != nil {
		return err
	}

	if cursor == nil {
		return w.cursors.Upsert(ctx, &model.ChainCursor{
			ChainID:         w.chain.ChainID(),
			ChainName:       w.chain.Name(),
			LastBlockNumber: to,
			LastBlockHash:   block.Hash().Hex(),
			TotalEvents:     int64(len(logs)),
		})
	}
	return w.cursors.Advance(ctx, w.chain.ChainID(), to, block.Hash().Hex(), int64(len(logs)))
}

// scanWindow queries logs, retrying with exponential backoff (base 1s,
// capped at 2×pollInterval) on retryable failure, per §4.2 step 3.
func (w *Watcher) scanWindow(ctx context.Context, from, to int64, log *zap.Logger) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: []common.Address{w.cfg.BridgeAddress},
		Topics:    [][]common.Hash{w.cfg.EventTopics},
	}

	backoff := time.Second
	backoffCap := 2 * w.cfg.PollInterval
	if backoff > backoffCap {
		backoff = backoffCap
	}
	for {
		logs, err := w.chain.Logs(ctx, query)
		if err == nil {
			return logs, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, err
		}
		log.Warn("log window scan failed, backing off", zap.Int64("from", from), zap.Int64("to", to), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.KindShutdownCancelled, ctx.Err(), "window scan cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// Supervisor runs one Watcher per configured chain concurrently,
// cancelling all of them if any returns a non-nil error (§5: "across
// chains, work is independent and runs in parallel").
type Supervisor struct {
	watchers []*Watcher
}

// NewSupervisor wraps a set of per-chain watchers.
func NewSupervisor(watchers ...*Watcher) *Supervisor {
	return &Supervisor{watchers: watchers}
}

// Run blocks until ctx is cancelled or one watcher's loop returns an
// error.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, w := range s.watchers {
		w := w
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}
	return g.Wait()
}
