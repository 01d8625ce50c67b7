package indexer

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockmint/bridge/internal/apperrors"
	"github.com/lockmint/bridge/internal/contract"
	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/store"
)

// memTransactor runs fn directly against the same in-memory fakes — no
// isolation, no rollback, matching what the tests need since the fakes
// never fail mid-transaction.
type memTransactor struct{}

func (memTransactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memEventRepo struct {
	byKey  map[string]*model.BridgeEvent
	events []*model.BridgeEvent
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{byKey: make(map[string]*model.BridgeEvent)}
}

func eventKey(txHash string, logIndex int) string {
	return fmt.Sprintf("%s#%d", txHash, logIndex)
}

func (r *memEventRepo) Create(ctx context.Context, event *model.BridgeEvent) error {
	k := eventKey(event.TxHash, event.LogIndex)
	if _, ok := r.byKey[k]; ok {
		return nil
	}
	r.byKey[k] = event
	r.events = append(r.events, event)
	return nil
}

func (r *memEventRepo) GetByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (*model.BridgeEvent, error) {
	e, ok := r.byKey[eventKey(txHash, int(logIndex))]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	return e, nil
}

func (r *memEventRepo) ExistsByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	_, ok := r.byKey[eventKey(txHash, int(logIndex))]
	return ok, nil
}

func (r *memEventRepo) ListByChain(ctx context.Context, chainID int64, p store.Pagination) ([]*model.BridgeEvent, error) {
	return r.events, nil
}

func (r *memEventRepo) ListByAddress(ctx context.Context, address string, p store.Pagination) ([]*model.BridgeEvent, error) {
	return r.events, nil
}

func (r *memEventRepo) ListRecent(ctx context.Context, p store.Pagination) ([]*model.BridgeEvent, error) {
	return r.events, nil
}

func (r *memEventRepo) FindWithdrawEvent(ctx context.Context, chainID, sourceChainID, nonce int64) (*model.BridgeEvent, error) {
	for _, e := range r.events {
		if e.EventType == model.BridgeEventTypeWithdraw && e.ChainID == chainID && e.SourceChainID == sourceChainID && e.Nonce == nonce {
			return e, nil
		}
	}
	return nil, store.ErrEventNotFound
}

type memTransferRepo struct {
	byDepositTx map[string]*model.Transfer
}

func newMemTransferRepo() *memTransferRepo {
	return &memTransferRepo{byDepositTx: make(map[string]*model.Transfer)}
}

func (r *memTransferRepo) Create(ctx context.Context, t *model.Transfer) error {
	if _, ok := r.byDepositTx[t.DepositTxHash]; ok {
		return nil
	}
	r.byDepositTx[t.DepositTxHash] = t
	return nil
}

func (r *memTransferRepo) GetByDepositTxHash(ctx context.Context, depositTxHash string) (*model.Transfer, error) {
	t, ok := r.byDepositTx[depositTxHash]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	return t, nil
}

func (r *memTransferRepo) FindByCorrelation(ctx context.Context, sourceChainID, targetChainID, nonce int64) (*model.Transfer, error) {
	for _, t := range r.byDepositTx {
		if t.SourceChainID == sourceChainID && t.TargetChainID == targetChainID && t.Nonce == nonce {
			return t, nil
		}
	}
	return nil, store.ErrTransferNotFound
}

func (r *memTransferRepo) AttachWithdraw(ctx context.Context, id string, withdrawTxHash string, withdrawBlock int64, withdrawTime int64) error {
	for _, t := range r.byDepositTx {
		if t.ID == id {
			t.WithdrawTxHash = withdrawTxHash
			t.WithdrawBlock = withdrawBlock
			t.WithdrawTime = withdrawTime
			t.Status = model.TransferStatusCompleted
			return nil
		}
	}
	return store.ErrTransferNotFound
}

func (r *memTransferRepo) ListByStatus(ctx context.Context, status model.TransferStatus, p store.Pagination) ([]*model.Transfer, error) {
	var out []*model.Transfer
	for _, t := range r.byDepositTx {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTransferRepo) ListPending(ctx context.Context, p store.Pagination) ([]*model.Transfer, error) {
	return r.ListByStatus(ctx, model.TransferStatusPending, p)
}

func (r *memTransferRepo) ListAll(ctx context.Context, p store.Pagination) ([]*model.Transfer, error) {
	var out []*model.Transfer
	for _, t := range r.byDepositTx {
		out = append(out, t)
	}
	return out, nil
}

func (r *memTransferRepo) ListByAddress(ctx context.Context, address string, p store.Pagination) ([]*model.Transfer, error) {
	var out []*model.Transfer
	for _, t := range r.byDepositTx {
		out = append(out, t)
	}
	return out, nil
}

type fakeBlockTime struct{ t int64 }

func (f fakeBlockTime) BlockTime(ctx context.Context, blockNumber uint64) (int64, error) {
	return f.t, nil
}

func newTestBridge(t *testing.T) *contract.Bridge {
	t.Helper()
	b, err := contract.NewBridge(common.HexToAddress("0xB1"), nil)
	require.NoError(t, err)
	return b
}

func hashTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func leftPad32(n int64) []byte {
	out := make([]byte, 32)
	b := big.NewInt(n).Bytes()
	copy(out[32-len(b):], b)
	return out
}

func depositLog(txHash string, logIndex uint, blockNumber uint64, nonce, targetChainID int64) types.Log {
	data := append(append(leftPad32(1000), leftPad32(nonce)...), leftPad32(targetChainID)...)
	return types.Log{
		Address: common.HexToAddress("0xB1"),
		Topics: []common.Hash{
			common.Hash{}, // topic0, unused by ParseDeposit
			hashTopic(common.HexToAddress("0xTOKEN")),
			hashTopic(common.HexToAddress("0xSENDER")),
			hashTopic(common.HexToAddress("0xRECIP")),
		},
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash(txHash),
		Index:       logIndex,
		BlockHash:   common.HexToHash("0xblock"),
	}
}

func withdrawLog(txHash string, logIndex uint, blockNumber uint64, nonce, sourceChainID int64) types.Log {
	data := append(append(leftPad32(1000), leftPad32(nonce)...), leftPad32(sourceChainID)...)
	return types.Log{
		Address: common.HexToAddress("0xB1"),
		Topics: []common.Hash{
			common.Hash{},
			hashTopic(common.HexToAddress("0xTOKEN")),
			hashTopic(common.HexToAddress("0xRECIP")),
		},
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash(txHash),
		Index:       logIndex,
		BlockHash:   common.HexToHash("0xblock"),
	}
}

func newTestProcessor(t *testing.T, chainID int64) (*Processor, *memEventRepo, *memTransferRepo) {
	t.Helper()
	events := newMemEventRepo()
	transfers := newMemTransferRepo()
	p := New(chainID, newTestBridge(t), fakeBlockTime{t: 1_700_000_000}, memTransactor{}, events, transfers)
	return p, events, transfers
}

func TestHandleDeposit_ThenWithdraw_CompletesTransfer(t *testing.T) {
	// A single store backs one Processor per chain in the real deployment
	// (§4.5) — share the repos across the source- and target-chain
	// processors here to match that.
	events := newMemEventRepo()
	transfers := newMemTransferRepo()
	source := New(1, newTestBridge(t), fakeBlockTime{t: 1_700_000_000}, memTransactor{}, events, transfers)
	target := New(137, newTestBridge(t), fakeBlockTime{t: 1_700_000_050}, memTransactor{}, events, transfers)

	depLog := depositLog("0xde01", 0, 100, 7, 137)
	require.NoError(t, source.HandleDeposit(context.Background(), depLog))

	transfer, err := transfers.GetByDepositTxHash(context.Background(), depLog.TxHash.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusPending, transfer.Status)

	wdLog := withdrawLog("0xad01", 0, 200, 7, 1)
	require.NoError(t, target.HandleWithdraw(context.Background(), wdLog))

	transfer, err = transfers.GetByDepositTxHash(context.Background(), depLog.TxHash.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, wdLog.TxHash.Hex(), transfer.WithdrawTxHash)
}

func TestHandleWithdraw_BeforeDeposit_LeavesUncorrelatedThenCompletesOnDepositArrival(t *testing.T) {
	events := newMemEventRepo()
	transfers := newMemTransferRepo()

	// Single shared store backing two chain-scoped processors, matching
	// how the Indexer actually runs (one store, one Processor per chain).
	target := New(137, newTestBridge(t), fakeBlockTime{t: 1_700_000_100}, memTransactor{}, events, transfers)
	source := New(1, newTestBridge(t), fakeBlockTime{t: 1_700_000_000}, memTransactor{}, events, transfers)

	wdLog := withdrawLog("0xad02", 0, 200, 9, 1)
	require.NoError(t, target.HandleWithdraw(context.Background(), wdLog))

	depLog := depositLog("0xde02", 0, 100, 9, 137)

	// No Transfer exists yet — the Withdraw event is recorded but
	// uncorrelated.
	_, err := transfers.GetByDepositTxHash(context.Background(), depLog.TxHash.Hex())
	assert.ErrorIs(t, err, store.ErrTransferNotFound)

	require.NoError(t, source.HandleDeposit(context.Background(), depLog))

	transfer, err := transfers.GetByDepositTxHash(context.Background(), depLog.TxHash.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, wdLog.TxHash.Hex(), transfer.WithdrawTxHash)
	assert.Equal(t, int64(200), transfer.WithdrawBlock)
	assert.Equal(t, int64(1_700_000_100), transfer.WithdrawTime)
}

func TestHandleDeposit_DedupsRedeliveredLog(t *testing.T) {
	p, events, transfers := newTestProcessor(t, 1)

	depLog := depositLog("0xd0", 0, 100, 3, 137)
	require.NoError(t, p.HandleDeposit(context.Background(), depLog))
	require.NoError(t, p.HandleDeposit(context.Background(), depLog))

	assert.Len(t, events.events, 1)
	_, err := transfers.GetByDepositTxHash(context.Background(), depLog.TxHash.Hex())
	require.NoError(t, err)
}

func TestHandleDeposit_MalformedLogRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, 1)

	bad := types.Log{
		Address:     common.HexToAddress("0xB1"),
		Topics:      []common.Hash{{}}, // too few topics for Deposit
		Data:        nil,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xbad"),
		Index:       0,
	}
	err := p.HandleDeposit(context.Background(), bad)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidEvent, kind)
}

func TestHandleWithdraw_MalformedLogRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, 137)

	bad := types.Log{
		Address:     common.HexToAddress("0xB1"),
		Topics:      []common.Hash{{}},
		Data:        nil,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xbad"),
		Index:       0,
	}
	err := p.HandleWithdraw(context.Background(), bad)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidEvent, kind)
}

func TestHandle_DispatchesOnTopic0(t *testing.T) {
	source, events, transfers := newTestProcessor(t, 1)
	target := New(137, newTestBridge(t), fakeBlockTime{t: 1_700_000_050}, memTransactor{}, events, transfers)

	depLog := depositLog("0xde03", 0, 100, 11, 137)
	depLog.Topics[0] = source.bridge.DepositEventTopic()
	require.NoError(t, source.Handle(context.Background(), depLog))

	wdLog := withdrawLog("0xad03", 0, 200, 11, 1)
	wdLog.Topics[0] = target.bridge.WithdrawEventTopic()
	require.NoError(t, target.Handle(context.Background(), wdLog))

	transfer, err := transfers.GetByDepositTxHash(context.Background(), depLog.TxHash.Hex())
	require.NoError(t, err)
	assert.Equal(t, wdLog.TxHash.Hex(), transfer.WithdrawTxHash)
}

func TestHandle_RejectsUnknownTopic(t *testing.T) {
	p, _, _ := newTestProcessor(t, 1)
	unknown := types.Log{
		Address:     common.HexToAddress("0xB1"),
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xunknown"),
	}
	err := p.Handle(context.Background(), unknown)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidEvent, kind)
}
