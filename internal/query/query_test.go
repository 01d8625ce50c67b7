package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/store"
)

type memEvents struct{ events []*model.BridgeEvent }

func (m *memEvents) Create(ctx context.Context, e *model.BridgeEvent) error { return nil }
func (m *memEvents) GetByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (*model.BridgeEvent, error) {
	return nil, store.ErrEventNotFound
}
func (m *memEvents) ExistsByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	return false, nil
}
func (m *memEvents) ListByChain(ctx context.Context, chainID int64, p store.Pagination) ([]*model.BridgeEvent, error) {
	var out []*model.BridgeEvent
	for _, e := range m.events {
		if e.ChainID == chainID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memEvents) ListByAddress(ctx context.Context, address string, p store.Pagination) ([]*model.BridgeEvent, error) {
	var out []*model.BridgeEvent
	for _, e := range m.events {
		if e.Sender == address || e.Recipient == address {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memEvents) ListRecent(ctx context.Context, p store.Pagination) ([]*model.BridgeEvent, error) {
	p = normalizeForTest(p)
	if p.Limit > len(m.events) {
		return m.events, nil
	}
	return m.events[:p.Limit], nil
}
func (m *memEvents) FindWithdrawEvent(ctx context.Context, chainID, sourceChainID, nonce int64) (*model.BridgeEvent, error) {
	return nil, store.ErrEventNotFound
}

func normalizeForTest(p store.Pagination) store.Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

type memTransfers struct{ transfers []*model.Transfer }

func (m *memTransfers) Create(ctx context.Context, t *model.Transfer) error { return nil }
func (m *memTransfers) GetByDepositTxHash(ctx context.Context, depositTxHash string) (*model.Transfer, error) {
	for _, t := range m.transfers {
		if t.DepositTxHash == depositTxHash {
			return t, nil
		}
	}
	return nil, store.ErrTransferNotFound
}
func (m *memTransfers) FindByCorrelation(ctx context.Context, sourceChainID, targetChainID, nonce int64) (*model.Transfer, error) {
	return nil, store.ErrTransferNotFound
}
func (m *memTransfers) AttachWithdraw(ctx context.Context, id string, withdrawTxHash string, withdrawBlock int64, withdrawTime int64) error {
	return nil
}
func (m *memTransfers) ListByStatus(ctx context.Context, status model.TransferStatus, p store.Pagination) ([]*model.Transfer, error) {
	var out []*model.Transfer
	for _, t := range m.transfers {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}
func (m *memTransfers) ListPending(ctx context.Context, p store.Pagination) ([]*model.Transfer, error) {
	return m.ListByStatus(ctx, model.TransferStatusPending, p)
}
func (m *memTransfers) ListAll(ctx context.Context, p store.Pagination) ([]*model.Transfer, error) {
	return m.transfers, nil
}
func (m *memTransfers) ListByAddress(ctx context.Context, address string, p store.Pagination) ([]*model.Transfer, error) {
	var out []*model.Transfer
	for _, t := range m.transfers {
		if t.Sender == address || t.Recipient == address {
			out = append(out, t)
		}
	}
	return out, nil
}

type memCursors struct{ cursors map[int64]*model.ChainCursor }

func (m *memCursors) GetByChainID(ctx context.Context, chainID int64) (*model.ChainCursor, error) {
	c, ok := m.cursors[chainID]
	if !ok {
		return nil, store.ErrCursorNotFound
	}
	return c, nil
}
func (m *memCursors) Upsert(ctx context.Context, cursor *model.ChainCursor) error { return nil }
func (m *memCursors) Advance(ctx context.Context, chainID int64, blockNumber int64, blockHash string, eventsAdded int64) error {
	return nil
}
func (m *memCursors) Rewind(ctx context.Context, chainID int64, blockNumber int64) error { return nil }

type memSigs struct{ sigs []*model.ValidatorSignature }

func (m *memSigs) Create(ctx context.Context, sig *model.ValidatorSignature) error { return nil }
func (m *memSigs) ListBySourceTxHash(ctx context.Context, sourceTxHash string) ([]*model.ValidatorSignature, error) {
	var out []*model.ValidatorSignature
	for _, s := range m.sigs {
		if s.SourceTxHash == sourceTxHash {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestService_RecentEvents_DefaultsAndCaps(t *testing.T) {
	events := &memEvents{}
	for i := 0; i < 120; i++ {
		events.events = append(events.events, &model.BridgeEvent{ID: "e"})
	}
	svc := New(events, &memTransfers{}, &memCursors{}, &memSigs{})

	out, err := svc.RecentEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, out, 50)

	out, err = svc.RecentEvents(context.Background(), 500)
	require.NoError(t, err)
	assert.Len(t, out, 100)
}

func TestService_EventsByChain(t *testing.T) {
	events := &memEvents{events: []*model.BridgeEvent{
		{ID: "a", ChainID: 1}, {ID: "b", ChainID: 2},
	}}
	svc := New(events, &memTransfers{}, &memCursors{}, &memSigs{})

	out, err := svc.EventsByChain(context.Background(), 1, 0, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestService_TransfersByStatusOrAll(t *testing.T) {
	transfers := &memTransfers{transfers: []*model.Transfer{
		{ID: "1", Status: model.TransferStatusPending},
		{ID: "2", Status: model.TransferStatusCompleted},
	}}
	svc := New(&memEvents{}, transfers, &memCursors{}, &memSigs{})

	out, err := svc.Transfers(context.Background(), nil, 0, 50)
	require.NoError(t, err)
	require.Len(t, out, 2)

	completed := model.TransferStatusCompleted
	out, err = svc.Transfers(context.Background(), &completed, 0, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].ID)
}

func TestService_TransferByDepositTxHash(t *testing.T) {
	transfers := &memTransfers{transfers: []*model.Transfer{
		{ID: "1", DepositTxHash: "0xdep"},
	}}
	svc := New(&memEvents{}, transfers, &memCursors{}, &memSigs{})

	tr, err := svc.TransferByDepositTxHash(context.Background(), "0xdep")
	require.NoError(t, err)
	assert.Equal(t, "1", tr.ID)

	_, err = svc.TransferByDepositTxHash(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, store.ErrTransferNotFound)
}

func TestService_SyncStatus(t *testing.T) {
	cursors := &memCursors{cursors: map[int64]*model.ChainCursor{
		1: {ChainID: 1, LastBlockNumber: 500},
	}}
	svc := New(&memEvents{}, &memTransfers{}, cursors, &memSigs{})

	c, err := svc.SyncStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), c.LastBlockNumber)

	_, err = svc.SyncStatus(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrCursorNotFound)
}

func TestService_SignaturesForTransaction(t *testing.T) {
	sigs := &memSigs{sigs: []*model.ValidatorSignature{
		{ID: "1", SourceTxHash: "0xabc", Validator: "0xval1"},
		{ID: "2", SourceTxHash: "0xdef", Validator: "0xval2"},
	}}
	svc := New(&memEvents{}, &memTransfers{}, &memCursors{}, sigs)

	out, err := svc.SignaturesForTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0xval1", out[0].Validator)
}
