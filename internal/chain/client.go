// Package chain is the Chain Client (§4.1): a thin, retrying wrapper around
// go-ethereum's ethclient that fails over across configured RPC endpoints
// and classifies every error as retryable or terminal before handing it
// back to a caller.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/lockmint/bridge/internal/apperrors"
)

// endpoint tracks the health of one configured RPC URL.
type endpoint struct {
	url        string
	healthy    bool
	errorCount int
	lastCheck  time.Time
}

// FeeData is the pair of fee inputs a sender needs to build either a
// legacy or an EIP-1559 transaction.
type FeeData struct {
	GasPrice     *big.Int // legacy, nil when the chain supports EIP-1559
	GasTipCap    *big.Int // EIP-1559 priority fee, nil on legacy chains
	GasFeeCap    *big.Int // EIP-1559 max fee, nil on legacy chains
	IsEIP1559    bool
}

// Client is one configured EVM chain: an ID, an optional signing key
// (Relayer only — the Indexer never sends transactions), and a pool of
// RPC endpoints it fails over across.
type Client struct {
	chainID    int64
	name       string
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu         sync.RWMutex
	endpoints  []*endpoint
	currentIdx int
	rpc        *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// Config configures a Client for one chain (§6.5's per-chain block).
type Config struct {
	ChainID         int64
	Name            string
	PrivateKeyHex   string // empty for the Indexer, which never signs
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
}

// New dials the first reachable endpoint and returns a ready Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, apperrors.New(apperrors.KindTerminalRPC, "at least one rpc url is required")
	}

	var privateKey *ecdsa.PrivateKey
	var address common.Address
	if cfg.PrivateKeyHex != "" {
		var err error
		privateKey, err = crypto.HexToECDSA(cfg.PrivateKeyHex)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindTerminalRPC, err, "invalid validator private key")
		}
		address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	endpoints := make([]*endpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &endpoint{url: url, healthy: true}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = time.Second
	}
	healthCheckFreq := cfg.HealthCheckFreq
	if healthCheckFreq == 0 {
		healthCheckFreq = 30 * time.Second
	}

	c := &Client{
		chainID:         cfg.ChainID,
		name:            cfg.Name,
		privateKey:      privateKey,
		address:         address,
		endpoints:       endpoints,
		maxRetries:      maxRetries,
		retryInterval:   retryInterval,
		healthCheckFreq: healthCheckFreq,
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.healthy && time.Since(ep.lastCheck) < c.healthCheckFreq {
			continue
		}

		rpc, err := ethclient.DialContext(ctx, ep.url)
		if err != nil {
			ep.healthy = false
			ep.errorCount++
			ep.lastCheck = time.Now()
			continue
		}
		if _, err := rpc.ChainID(ctx); err != nil {
			rpc.Close()
			ep.healthy = false
			ep.errorCount++
			ep.lastCheck = time.Now()
			continue
		}

		if c.rpc != nil {
			c.rpc.Close()
		}
		c.rpc = rpc
		c.currentIdx = idx
		ep.healthy = true
		ep.errorCount = 0
		ep.lastCheck = time.Now()
		return nil
	}
	return apperrors.New(apperrors.KindRetryableRPC, fmt.Sprintf("no healthy rpc endpoint for chain %d", c.chainID))
}

func (c *Client) getRPC(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	rpc := c.rpc
	c.mu.RUnlock()
	if rpc != nil {
		return rpc, nil
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpc, nil
}

// withRetry runs fn against a live endpoint, failing over and reconnecting
// between attempts, and classifies the final error before returning.
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		rpc, err := c.getRPC(ctx)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return apperrors.Wrap(apperrors.KindShutdownCancelled, ctx.Err(), "chain call cancelled")
			case <-time.After(c.retryInterval):
			}
			continue
		}

		err = fn(rpc)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return classify(err)
		}

		c.mu.Lock()
		if c.currentIdx < len(c.endpoints) {
			c.endpoints[c.currentIdx].healthy = false
			c.endpoints[c.currentIdx].errorCount++
		}
		c.mu.Unlock()

		if i < c.maxRetries-1 {
			c.connect(ctx)
			select {
			case <-ctx.Done():
				return apperrors.Wrap(apperrors.KindShutdownCancelled, ctx.Err(), "chain call cancelled")
			case <-time.After(c.retryInterval):
			}
		}
	}
	return classify(lastErr)
}

// isRetryable is a best-effort classification used only to decide whether
// withRetry should fail over and retry. classify() makes the final call
// that a caller observes.
func isRetryable(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	if isDeterministic(err) {
		return false
	}
	return true
}

// isDeterministic reports whether err is a malformed request or a
// deterministic contract revert rather than a transient RPC condition —
// resubmitting it will never succeed, so it must fail terminally instead
// of burning retry/gas-reestimation budget. A stale local nonce ("nonce
// too low", "replacement underpriced") is deliberately excluded: it
// clears on resubmission once the sender's nonce is resynced, so it
// classifies retryable (§4.1).
func isDeterministic(err error) bool {
	if IsNonceError(err) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32000, -32015, 3: // server error / execution error / EVM revert
			return true
		}
	}
	switch {
	case errors.Is(err, core.ErrNonceTooHigh),
		errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrIntrinsicGas),
		errors.Is(err, core.ErrGasLimitReached),
		errors.Is(err, core.ErrFeeCapTooLow),
		errors.Is(err, core.ErrTipAboveFeeCap):
		return true
	}
	return strings.Contains(err.Error(), "execution reverted") || strings.Contains(err.Error(), "invalid argument")
}

// IsNonceError reports whether err reflects a stale local nonce ("nonce
// too low" or "replacement underpriced") rather than a permanently
// invalid transaction — the signal a caller uses to trigger
// noncemgr.Manager.SyncFromChain before retrying a submission.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrNonceTooLow) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "replacement underpriced") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

// classify wraps a raw ethclient/RPC error into the §7 taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return apperrors.Wrap(apperrors.KindTerminalRPC, err, "resource not found")
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if isDeterministic(err) {
		return apperrors.Wrap(apperrors.KindTerminalRPC, err, "deterministic revert or malformed request")
	}
	return apperrors.Wrap(apperrors.KindRetryableRPC, err, "rpc call failed")
}

// Address returns the validator's signing address, or the zero address on
// a client that never received a private key (the Indexer's clients).
func (c *Client) Address() common.Address { return c.address }

// ChainID returns the configured chain identifier.
func (c *Client) ChainID() int64 { return c.chainID }

// Name returns the configured human-readable chain name.
func (c *Client) Name() string { return c.name }

// PrivateKey exposes the signing key for callers that build and sign raw
// transactions (the Relayer's transaction sender).
func (c *Client) PrivateKey() *ecdsa.PrivateKey { return c.privateKey }

// Head returns the current chain head block number.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		n, err = rpc.BlockNumber(ctx)
		return err
	})
	return n, err
}

// Block returns the block at the given number.
func (c *Client) Block(ctx context.Context, number *big.Int) (*types.Block, error) {
	var block *types.Block
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		block, err = rpc.BlockByNumber(ctx, number)
		return err
	})
	return block, err
}

// Logs returns event logs matching query, bounded to a [from, to] block
// range by the caller (§4.2's batched window scan).
func (c *Client) Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		logs, err = rpc.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// BlockTime resolves a block number to its on-chain timestamp, satisfying
// the Indexer Processor's BlockTimeSource.
func (c *Client) BlockTime(ctx context.Context, blockNumber uint64) (int64, error) {
	block, err := c.Block(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, err
	}
	return int64(block.Time()), nil
}

// Balance returns the native-token balance of account at the given block
// (nil for latest).
func (c *Client) Balance(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var bal *big.Int
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		bal, err = rpc.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return bal, err
}

// CodeAt returns the contract code at account, for callers that need the
// full bind.ContractCaller interface (e.g. binding the Bridge ABI).
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		code, err = rpc.CodeAt(ctx, account, blockNumber)
		return err
	})
	return code, err
}

// CallContract performs a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		out, err = rpc.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// FeeData returns the current gas price inputs, preferring EIP-1559 fields
// and falling back to a legacy gas price when the chain doesn't support
// them (grounded on the teacher's fetchGasPrice fallback order).
func (c *Client) FeeData(ctx context.Context) (*FeeData, error) {
	rpc, err := c.getRPC(ctx)
	if err != nil {
		return nil, err
	}

	tip, err := rpc.SuggestGasTipCap(ctx)
	if err == nil {
		head, err := rpc.HeaderByNumber(ctx, nil)
		if err == nil && head.BaseFee != nil {
			feeCap := new(big.Int).Add(head.BaseFee, tip)
			feeCap.Mul(feeCap, big.NewInt(2))
			return &FeeData{GasTipCap: tip, GasFeeCap: feeCap, IsEIP1559: true}, nil
		}
	}

	var gasPrice *big.Int
	callErr := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		gasPrice, err = rpc.SuggestGasPrice(ctx)
		return err
	})
	if callErr != nil {
		return nil, callErr
	}
	return &FeeData{GasPrice: gasPrice, IsEIP1559: false}, nil
}

// EstimateGas estimates the gas required for msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		gas, err = rpc.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// PendingNonceAt returns the account's next usable nonce, including
// transactions still in the mempool.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
		var err error
		nonce, err = rpc.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// Send signs and broadcasts tx.
func (c *Client) Send(ctx context.Context, tx *types.Transaction) error {
	if c.privateKey == nil {
		return apperrors.New(apperrors.KindTerminalRPC, "client has no signing key configured")
	}
	signer := types.LatestSignerForChainID(big.NewInt(c.chainID))
	signed, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTerminalRPC, err, "failed to sign transaction")
	}
	return c.withRetry(ctx, func(rpc *ethclient.Client) error {
		return rpc.SendTransaction(ctx, signed)
	})
}

// WaitReceipt polls until txHash is mined and buried under at least
// minConfirmations blocks, or ctx is cancelled. A receipt that appears but
// never reaches depth (e.g. a reorg orphans it) keeps the caller waiting
// rather than reporting success after a single confirmation.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash, minConfirmations int64, pollInterval time.Duration) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	for {
		var receipt *types.Receipt
		err := c.withRetry(ctx, func(rpc *ethclient.Client) error {
			var err error
			receipt, err = rpc.TransactionReceipt(ctx, txHash)
			if errors.Is(err, ethereum.NotFound) {
				receipt = nil
				return nil // not mined yet, or reorged out from under a prior sighting
			}
			return err
		})
		if err != nil {
			return nil, err
		}

		if receipt != nil {
			head, err := c.Head(ctx)
			if err != nil {
				return nil, err
			}
			if head >= receipt.BlockNumber.Uint64() && head-receipt.BlockNumber.Uint64()+1 >= uint64(minConfirmations) {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.KindShutdownCancelled, ctx.Err(), "wait for receipt cancelled")
		case <-time.After(pollInterval):
		}
	}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// HealthCheck reports whether the client can currently reach some
// endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Head(ctx)
	return err
}
