package noncemgr

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu    sync.Mutex
	nonce uint64
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func setupManager(t *testing.T, initialNonce uint64) (*Manager, *fakeChain) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	chain := &fakeChain{nonce: initialNonce}
	wallet := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	m := New(chain, rdb, Config{Wallet: wallet, ChainID: 1})
	return m, chain
}

func TestManager_Acquire_FirstCallSyncsFromChain(t *testing.T) {
	m, _ := setupManager(t, 5)
	nonce, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nonce)
}

func TestManager_Acquire_Sequential(t *testing.T) {
	m, _ := setupManager(t, 0)

	n1, err := m.Acquire(context.Background())
	require.NoError(t, err)
	n2, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(0), n1)
	assert.Equal(t, uint64(1), n2)
}

func TestManager_ConfirmAndRelease(t *testing.T) {
	m, _ := setupManager(t, 0)
	nonce, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, m.PendingCount())
	m.Confirm(nonce, "0xabc")
	m.Release(nonce)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_SyncFromChain(t *testing.T) {
	m, chain := setupManager(t, 0)
	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	chain.nonce = 42
	require.NoError(t, m.SyncFromChain(context.Background()))

	nonce, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestManager_ConcurrentAcquire_NoDuplicates(t *testing.T) {
	m, _ := setupManager(t, 0)

	const n = 20
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := m.Acquire(context.Background())
			require.NoError(t, err)
			results <- nonce
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for nonce := range results {
		assert.False(t, seen[nonce], "duplicate nonce allocated: %d", nonce)
		seen[nonce] = true
	}
	assert.Len(t, seen, n)
}
