// Package relayer is the Relayer Processor (§4.4): the per-deposit
// pipeline a Chain Watcher hands decoded Deposit logs to. It validates,
// upserts a BridgeTransaction, checks idempotency and liquidity on the
// target chain, signs, and either submits withdraw() directly or persists
// a validator signature for out-of-band pickup, depending on
// SignatureMode.
package relayer

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lockmint/bridge/internal/apperrors"
	"github.com/lockmint/bridge/internal/chain"
	"github.com/lockmint/bridge/internal/config"
	"github.com/lockmint/bridge/internal/contract"
	"github.com/lockmint/bridge/internal/logging"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/noncemgr"
	"github.com/lockmint/bridge/internal/signer"
	"github.com/lockmint/bridge/internal/store"
	"github.com/lockmint/bridge/internal/validator"
)

// SourceHead is the subset of chain.Client the confirmation double-check
// needs.
type SourceHead interface {
	Head(ctx context.Context) (uint64, error)
}

// TargetSender is the subset of chain.Client the submission path needs.
type TargetSender interface {
	Address() common.Address
	ChainID() int64
	Balance(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Send(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, txHash common.Hash, minConfirmations int64, pollInterval time.Duration) (*types.Receipt, error)
}

// Target bundles everything the Processor needs to submit a withdrawal
// on one target chain.
type Target struct {
	Client        TargetSender
	BridgeAddress common.Address
	Bridge        *contract.Bridge
	Gas           *contract.GasEstimator
	Nonces        *noncemgr.Manager
	NewERC20      func(token common.Address) (*contract.ERC20, error)
}

// Config configures a Processor's timing and mode.
type Config struct {
	MinConfirmations   int64
	SignatureMode      config.SignatureMode
	SubmitRetries      int
	RetryBaseDelay     time.Duration
	WaitReceiptTimeout time.Duration
}

// Processor implements §4.4's per-deposit pipeline for one source chain.
type Processor struct {
	sourceChainID int64
	sourceChain   SourceHead
	sourceBridge  *contract.Bridge
	targets       map[int64]*Target
	txs           store.TransactionRepository
	sigs          store.SignatureRepository
	signer        *signer.Signer
	cfg           Config
}

// New builds a Processor watching one source chain and able to submit
// withdrawals against any of the configured target chains.
func New(sourceChainID int64, sourceChain SourceHead, sourceBridge *contract.Bridge, targets map[int64]*Target, txs store.TransactionRepository, sigs store.SignatureRepository, sgn *signer.Signer, cfg Config) *Processor {
	if cfg.SubmitRetries <= 0 {
		cfg.SubmitRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.WaitReceiptTimeout <= 0 {
		cfg.WaitReceiptTimeout = 5 * time.Minute
	}
	if cfg.SignatureMode == "" {
		cfg.SignatureMode = config.SignatureModeSubmit
	}
	return &Processor{
		sourceChainID: sourceChainID,
		sourceChain:   sourceChain,
		sourceBridge:  sourceBridge,
		targets:       targets,
		txs:           txs,
		sigs:          sigs,
		signer:        sgn,
		cfg:           cfg,
	}
}

// Handle is a watcher.Handler: it is invoked once per decoded Deposit log
// in ascending order within a window.
func (p *Processor) Handle(ctx context.Context, l types.Log) error {
	log := logging.WithContext(ctx).With(zap.String("tx_hash", l.TxHash.Hex()), zap.Uint("log_index", uint(l.Index)))
	start := time.Now()

	deposit, err := p.sourceBridge.ParseDeposit(l)
	if err != nil {
		log.Warn("could not parse deposit log", zap.Error(err))
		return apperrors.Wrap(apperrors.KindInvalidEvent, err, "malformed deposit log")
	}

	targetChainID := deposit.TargetChainID.Int64()
	result := validator.ValidateDepositParams(validator.TransferParams{
		Token:         deposit.Token.Hex(),
		Sender:        deposit.Sender.Hex(),
		Recipient:     deposit.Recipient.Hex(),
		Amount:        deposit.Amount.String(),
		Nonce:         deposit.Nonce,
		SourceChainID: p.sourceChainID,
		TargetChainID: targetChainID,
	})
	if !result.OK {
		log.Warn("rejecting invalid deposit", zap.Strings("errors", result.Errors))
		return apperrors.New(apperrors.KindInvalidEvent, "deposit failed validation")
	}

	target, ok := p.targets[targetChainID]
	if !ok {
		log.Warn("no configured target chain for deposit", zap.Int64("target_chain_id", targetChainID))
		return apperrors.New(apperrors.KindInvalidEvent, "unconfigured target chain")
	}

	// Defensive double-check (§4.4 step 2): the watcher already refuses to
	// scan blocks newer than head-minConfirmations, so this should never
	// trip in practice.
	head, err := p.sourceChain.Head(ctx)
	if err != nil {
		return err
	}
	if int64(head)-int64(l.BlockNumber) < p.cfg.MinConfirmations {
		log.Warn("deposit surfaced before confirmation gate cleared, skipping")
		return apperrors.New(apperrors.KindInsufficientConfirmations, "insufficient confirmations")
	}

	tx, err := p.upsertPending(ctx, l, deposit, targetChainID)
	if err != nil {
		return err
	}
	if tx.Status.IsTerminal() {
		return nil // already handled in a prior run
	}
	if tx.Status == model.BridgeTransactionStatusRelaying {
		log.Info("transaction already relaying, leaving to reconciler", zap.String("source_tx_hash", tx.SourceTxHash))
		return nil
	}

	idStr := tx.ID
	if err := p.txs.TransitionToRelaying(ctx, idStr); err != nil {
		if err == store.ErrAlreadyExists {
			return nil // a concurrent handler already claimed this row
		}
		return err
	}
	metrics.RecordTransactionStatus("relaying")

	msg := signer.Message{
		Token:         deposit.Token,
		Recipient:     deposit.Recipient,
		Amount:        deposit.Amount,
		Nonce:         deposit.Nonce,
		SourceChainID: big.NewInt(p.sourceChainID),
		TargetChainID: big.NewInt(targetChainID),
	}
	messageHash := signer.InnerHash(msg)

	processed, err := target.Bridge.IsProcessed(ctx, [32]byte(messageHash))
	if err != nil {
		return p.fail(ctx, idStr, targetChainID, start, err)
	}
	if processed {
		return p.complete(ctx, idStr, targetChainID, start, "already-processed:"+idStr)
	}

	if err := p.checkLiquidity(ctx, target, deposit.Token, deposit.Amount); err != nil {
		if kind, ok := apperrors.KindOf(err); ok && kind == apperrors.KindInsufficientLiquidity {
			metrics.RecordLiquidityRejection(chainIDLabel(targetChainID), deposit.Token.Hex())
		}
		return p.fail(ctx, idStr, targetChainID, start, err)
	}

	sig, _, err := p.signer.SignMessage(msg)
	if err != nil {
		return p.fail(ctx, idStr, targetChainID, start, err)
	}
	log.Debug("withdrawal message signed", zap.String("signature", logging.Redacted(sig)))

	if p.cfg.SignatureMode == config.SignatureModeStore {
		return p.storeSignature(ctx, tx.SourceTxHash, sig)
	}

	targetTxHash, err := p.submit(ctx, target, deposit, targetChainID, sig)
	if err != nil {
		return p.fail(ctx, idStr, targetChainID, start, err)
	}
	return p.complete(ctx, idStr, targetChainID, start, targetTxHash)
}

func chainIDLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

func (p *Processor) upsertPending(ctx context.Context, l types.Log, deposit *contract.DepositEvent, targetChainID int64) (*model.BridgeTransaction, error) {
	tx := &model.BridgeTransaction{
		ID:            uuid.New().String(),
		SourceTxHash:  l.TxHash.Hex(),
		SourceChainID: p.sourceChainID,
		TargetChainID: targetChainID,
		Token:         deposit.Token.Hex(),
		Sender:        deposit.Sender.Hex(),
		Recipient:     deposit.Recipient.Hex(),
		Amount:        decimal.NewFromBigInt(deposit.Amount, 0),
		Nonce:         deposit.Nonce.Int64(),
		BlockNumber:   int64(l.BlockNumber),
		Status:        model.BridgeTransactionStatusPending,
	}
	err := p.txs.Create(ctx, tx)
	if err != nil && err != store.ErrAlreadyExists {
		return nil, err
	}
	if err == nil {
		metrics.RecordTransactionStatus("pending")
	}
	existing, err := p.txs.GetBySourceTxHash(ctx, l.TxHash.Hex())
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (p *Processor) checkLiquidity(ctx context.Context, target *Target, token common.Address, amount *big.Int) error {
	var balance *big.Int
	var err error
	if contract.IsNativeToken(token) {
		balance, err = target.Client.Balance(ctx, target.BridgeAddress, nil)
	} else {
		var erc20 *contract.ERC20
		erc20, err = target.NewERC20(token)
		if err == nil {
			balance, err = erc20.BalanceOf(ctx, target.BridgeAddress)
		}
	}
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return apperrors.New(apperrors.KindInsufficientLiquidity, "target chain bridge balance is insufficient")
	}
	return nil
}

func (p *Processor) storeSignature(ctx context.Context, sourceTxHash string, sig []byte) error {
	return p.sigs.Create(ctx, &model.ValidatorSignature{
		ID:           uuid.New().String(),
		SourceTxHash: sourceTxHash,
		Validator:    p.signer.Address().Hex(),
		Signature:    hexutil.Encode(sig),
	})
}

// submit sends withdraw() on the target chain, retrying with exponential
// backoff (§4.4 step 5). Each attempt re-estimates gas and re-reads fee
// data, and resyncs the nonce manager on a nonce-related rejection.
func (p *Processor) submit(ctx context.Context, target *Target, deposit *contract.DepositEvent, targetChainID int64, sig []byte) (string, error) {
	params := &contract.WithdrawParams{
		Token:         deposit.Token,
		Recipient:     deposit.Recipient,
		Amount:        deposit.Amount,
		Nonce:         deposit.Nonce,
		SourceChainID: big.NewInt(p.sourceChainID),
		Signatures:    [][]byte{sig},
	}
	data, err := target.Bridge.PackWithdraw(params)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindTerminalRPC, err, "failed to pack withdraw calldata")
	}

	delay := p.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt < p.cfg.SubmitRetries; attempt++ {
		txHash, err := p.attemptSubmit(ctx, target, data)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			return "", err
		}
		if attempt < p.cfg.SubmitRetries-1 {
			metrics.RecordSubmissionRetry(chainIDLabel(target.Client.ChainID()))
			if chain.IsNonceError(err) {
				if syncErr := target.Nonces.SyncFromChain(ctx); syncErr != nil {
					logging.WithContext(ctx).Warn("nonce resync after stale-nonce send failed", zap.Error(syncErr))
				}
			}
			select {
			case <-ctx.Done():
				return "", apperrors.Wrap(apperrors.KindShutdownCancelled, ctx.Err(), "submission cancelled")
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return "", lastErr
}

func (p *Processor) attemptSubmit(ctx context.Context, target *Target, data []byte) (string, error) {
	callMsg := ethereum.CallMsg{From: p.signer.Address(), To: &target.BridgeAddress, Data: data}
	plan, err := target.Gas.PlanWithdraw(ctx, callMsg)
	if err != nil {
		return "", err
	}
	metrics.UpdateGasPrice(chainIDLabel(target.Client.ChainID()), gweiOf(plan))

	nonce, err := target.Nonces.Acquire(ctx)
	if err != nil {
		return "", err
	}
	metrics.UpdateNonce(chainIDLabel(target.Client.ChainID()), nonce)

	rawTx := buildTx(target.Client.ChainID(), nonce, target.BridgeAddress, data, plan)

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.WaitReceiptTimeout)
	defer cancel()

	if err := target.Client.Send(sendCtx, rawTx); err != nil {
		target.Nonces.Release(nonce)
		return "", err
	}
	target.Nonces.Confirm(nonce, rawTx.Hash().Hex())

	if _, err := target.Client.WaitReceipt(sendCtx, rawTx.Hash(), p.cfg.MinConfirmations, 3*time.Second); err != nil {
		return "", err
	}
	return rawTx.Hash().Hex(), nil
}

var weiPerGwei = big.NewFloat(1e9)

// gweiOf reports plan's effective price in gwei, for the gas price gauge.
func gweiOf(plan *contract.GasPlan) float64 {
	price := plan.GasPrice
	if plan.IsEIP1559 {
		price = plan.GasFeeCap
	}
	if price == nil {
		return 0
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(price), weiPerGwei)
	f, _ := gwei.Float64()
	return f
}

func buildTx(chainID int64, nonce uint64, to common.Address, data []byte, plan *contract.GasPlan) *types.Transaction {
	if plan.IsEIP1559 {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(chainID),
			Nonce:     nonce,
			To:        &to,
			Value:     big.NewInt(0),
			Gas:       plan.GasLimit,
			GasTipCap: plan.GasTipCap,
			GasFeeCap: plan.GasFeeCap,
			Data:      data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      plan.GasLimit,
		GasPrice: plan.GasPrice,
		Data:     data,
	})
}

func (p *Processor) complete(ctx context.Context, id string, targetChainID int64, start time.Time, targetTxHash string) error {
	if err := p.txs.Complete(ctx, id, targetTxHash); err != nil {
		return err
	}
	metrics.RecordTransactionStatus("completed")
	metrics.RecordRelayOutcome(chainIDLabel(targetChainID), time.Since(start).Seconds())
	return nil
}

func (p *Processor) fail(ctx context.Context, id string, targetChainID int64, start time.Time, cause error) error {
	reason := cause.Error()
	if len(reason) > 500 {
		reason = reason[:500]
	}
	if err := p.txs.Fail(ctx, id, reason); err != nil {
		return err
	}
	metrics.RecordTransactionStatus("failed")
	metrics.RecordRelayOutcome(chainIDLabel(targetChainID), time.Since(start).Seconds())
	return cause
}
