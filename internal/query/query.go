// Package query is the read-only Query Surface (§6.4): a thin façade over
// the Store repositories for whatever presentation layer sits in front of
// it. It defines stable Go semantics only — the wire format is out of
// scope here.
package query

import (
	"context"

	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/store"
)

// Service answers read-only questions about bridge state.
type Service struct {
	events    store.EventRepository
	transfers store.TransferRepository
	cursors   store.CursorRepository
	sigs      store.SignatureRepository
}

// New builds a Service over the given repositories.
func New(events store.EventRepository, transfers store.TransferRepository, cursors store.CursorRepository, sigs store.SignatureRepository) *Service {
	return &Service{events: events, transfers: transfers, cursors: cursors, sigs: sigs}
}

// RecentEvents lists the most recent bridge events across all chains,
// newest first by block number, bounded to §6.4's 100-row ceiling.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*model.BridgeEvent, error) {
	return s.events.ListRecent(ctx, store.Pagination{Limit: limit})
}

// EventsByChain lists events observed on one chain.
func (s *Service) EventsByChain(ctx context.Context, chainID int64, offset, limit int) ([]*model.BridgeEvent, error) {
	return s.events.ListByChain(ctx, chainID, store.Pagination{Offset: offset, Limit: limit})
}

// EventsByAddress lists events where address appears as sender or
// recipient, case-insensitively.
func (s *Service) EventsByAddress(ctx context.Context, address string, offset, limit int) ([]*model.BridgeEvent, error) {
	return s.events.ListByAddress(ctx, address, store.Pagination{Offset: offset, Limit: limit})
}

// Transfers lists transfers in the given status, or every status if
// status is nil.
func (s *Service) Transfers(ctx context.Context, status *model.TransferStatus, offset, limit int) ([]*model.Transfer, error) {
	if status == nil {
		return s.transfers.ListAll(ctx, store.Pagination{Offset: offset, Limit: limit})
	}
	return s.transfers.ListByStatus(ctx, *status, store.Pagination{Offset: offset, Limit: limit})
}

// PendingTransfers lists transfers still awaiting their withdraw leg.
func (s *Service) PendingTransfers(ctx context.Context, offset, limit int) ([]*model.Transfer, error) {
	return s.transfers.ListPending(ctx, store.Pagination{Offset: offset, Limit: limit})
}

// TransfersByAddress lists transfers where address is sender or
// recipient.
func (s *Service) TransfersByAddress(ctx context.Context, address string, offset, limit int) ([]*model.Transfer, error) {
	return s.transfers.ListByAddress(ctx, address, store.Pagination{Offset: offset, Limit: limit})
}

// TransferByDepositTxHash looks up the transfer keyed by its deposit
// transaction hash.
func (s *Service) TransferByDepositTxHash(ctx context.Context, depositTxHash string) (*model.Transfer, error) {
	return s.transfers.GetByDepositTxHash(ctx, depositTxHash)
}

// SyncStatus reports the latest cursor for one chain — where the Chain
// Watcher has scanned to and when it last made progress.
func (s *Service) SyncStatus(ctx context.Context, chainID int64) (*model.ChainCursor, error) {
	return s.cursors.GetByChainID(ctx, chainID)
}

// SignaturesForTransaction lists every validator signature recorded
// against one source-chain transaction, for pickup by a
// withdrawal-claiming UI running under SignatureModeStore.
func (s *Service) SignaturesForTransaction(ctx context.Context, sourceTxHash string) ([]*model.ValidatorSignature, error) {
	return s.sigs.ListBySourceTxHash(ctx, sourceTxHash)
}
