// Package noncemgr is a Redis-backed distributed nonce allocator for one
// (chain, validator address) pair. It exists because two Relayer
// processes (or one process racing itself across concurrent transfers on
// the same target chain) must never submit two transactions with the
// same nonce.
package noncemgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/lockmint/bridge/internal/apperrors"
)

// ChainNonceSource is the subset of chain.Client the manager needs to
// resync from the chain.
type ChainNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Manager allocates nonces for one signing address on one chain, backed
// by a Redis counter and a SET NX lock so concurrent allocators never
// hand out the same value.
type Manager struct {
	chain   ChainNonceSource
	redis   *redis.Client
	wallet  common.Address
	chainID int64

	lockTimeout  time.Duration
	syncInterval time.Duration

	mu           sync.RWMutex
	lastSyncTime time.Time

	pendingMu  sync.RWMutex
	pendingTxs map[uint64]string
}

// Config configures a Manager.
type Config struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	SyncInterval time.Duration
}

// New builds a Manager.
func New(chain ChainNonceSource, rdb *redis.Client, cfg Config) *Manager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}
	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}
	return &Manager{
		chain:        chain,
		redis:        rdb,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  lockTimeout,
		syncInterval: syncInterval,
		pendingTxs:   make(map[uint64]string),
	}
}

func (m *Manager) nonceKey() string {
	return fmt.Sprintf("bridge:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *Manager) lockKey() string {
	return fmt.Sprintf("bridge:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

// Acquire reserves the next nonce for a withdraw() submission. The
// caller must eventually call Confirm or Release.
func (m *Manager) Acquire(ctx context.Context) (uint64, error) {
	acquired, err := m.acquireLock(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindRetryableRPC, err, "nonce lock unavailable")
	}
	if !acquired {
		return 0, apperrors.New(apperrors.KindRetryableRPC, "nonce lock held by another relaying process")
	}
	defer m.releaseLock(ctx)

	if m.needsSync() {
		if err := m.syncFromChain(ctx); err != nil {
			return 0, err
		}
	}

	nonce, err := m.currentNonce(ctx)
	if err != nil {
		return 0, err
	}

	if err := m.setCurrentNonce(ctx, nonce+1); err != nil {
		return 0, err
	}

	m.pendingMu.Lock()
	m.pendingTxs[nonce] = ""
	m.pendingMu.Unlock()

	return nonce, nil
}

// Confirm associates a broadcast tx hash with an acquired nonce.
func (m *Manager) Confirm(nonce uint64, txHash string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if _, ok := m.pendingTxs[nonce]; ok {
		m.pendingTxs[nonce] = txHash
	}
}

// Release drops an acquired nonce from the pending set — it does not
// roll back the counter, since a higher nonce may already have been
// allocated to a different in-flight transfer. The relayer calls this
// when sending the transaction that used the nonce fails.
func (m *Manager) Release(nonce uint64) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	delete(m.pendingTxs, nonce)
}

// PendingCount reports how many acquired nonces have not been released;
// Confirm does not remove an entry.
func (m *Manager) PendingCount() int {
	m.pendingMu.RLock()
	defer m.pendingMu.RUnlock()
	return len(m.pendingTxs)
}

// SyncFromChain forces a resync of the local counter to the chain's
// pending nonce — the recovery path for a "nonce too low" send error.
func (m *Manager) SyncFromChain(ctx context.Context) error {
	acquired, err := m.acquireLock(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRetryableRPC, err, "nonce lock unavailable")
	}
	if !acquired {
		return apperrors.New(apperrors.KindRetryableRPC, "nonce lock held by another relaying process")
	}
	defer m.releaseLock(ctx)
	return m.syncFromChain(ctx)
}

func (m *Manager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.chain.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRetryableRPC, err, "failed to fetch pending nonce")
	}
	if err := m.setCurrentNonce(ctx, chainNonce); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *Manager) acquireLock(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(m.lockTimeout)
	for {
		ok, err := m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
		if err != nil || ok || time.Now().After(deadline) {
			return ok, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Manager) releaseLock(ctx context.Context) error {
	return m.redis.Del(ctx, m.lockKey()).Err()
}

func (m *Manager) currentNonce(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if err == redis.Nil {
		chainNonce, err := m.chain.PendingNonceAt(ctx, m.wallet)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.KindRetryableRPC, err, "failed to fetch pending nonce")
		}
		return chainNonce, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindRetryableRPC, err, "nonce store unavailable")
	}
	return val, nil
}

func (m *Manager) setCurrentNonce(ctx context.Context, nonce uint64) error {
	if err := m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err(); err != nil {
		return apperrors.Wrap(apperrors.KindRetryableRPC, err, "failed to persist nonce")
	}
	return nil
}

func (m *Manager) needsSync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}
