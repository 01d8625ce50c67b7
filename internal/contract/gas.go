package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

// FeeSource is the subset of chain.Client the gas estimator needs. Kept as
// an interface so tests can supply a fake without dialing an RPC.
type FeeSource interface {
	FeeData(ctx context.Context) (GasPriceInfo, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// GasPriceInfo mirrors chain.FeeData without importing the chain package,
// keeping contract free of a dependency on the RPC layer.
type GasPriceInfo struct {
	GasPrice  *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	IsEIP1559 bool
}

// GasPlan is the fee and limit the Relayer's transaction sender should use.
type GasPlan struct {
	GasLimit  uint64
	GasPrice  *big.Int // legacy path
	GasTipCap *big.Int // EIP-1559 path
	GasFeeCap *big.Int
	IsEIP1559 bool
}

// GasEstimator applies §6.5's maxGasPriceGwei ceiling and
// gasLimitMultiplier safety factor to a withdraw() call.
type GasEstimator struct {
	source             FeeSource
	maxGasPriceWei     *big.Int
	gasLimitMultiplier float64
}

// NewGasEstimator builds an estimator for one chain's fee source.
// maxGasPriceGwei and gasLimitMultiplier default to §6.5's 100 / 1.2 when
// zero.
func NewGasEstimator(source FeeSource, maxGasPriceGwei int64, gasLimitMultiplier float64) *GasEstimator {
	if maxGasPriceGwei == 0 {
		maxGasPriceGwei = 100
	}
	if gasLimitMultiplier == 0 {
		gasLimitMultiplier = 1.2
	}
	return &GasEstimator{
		source:             source,
		maxGasPriceWei:     new(big.Int).Mul(big.NewInt(maxGasPriceGwei), big.NewInt(1_000_000_000)),
		gasLimitMultiplier: gasLimitMultiplier,
	}
}

// PlanWithdraw estimates gas for msg and applies the configured ceiling
// and safety multiplier.
func (g *GasEstimator) PlanWithdraw(ctx context.Context, msg ethereum.CallMsg) (*GasPlan, error) {
	fee, err := g.source.FeeData(ctx)
	if err != nil {
		return nil, err
	}

	rawLimit, err := g.source.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	limit := uint64(float64(rawLimit) * g.gasLimitMultiplier)

	plan := &GasPlan{GasLimit: limit, IsEIP1559: fee.IsEIP1559}
	if fee.IsEIP1559 {
		plan.GasTipCap = fee.GasTipCap
		plan.GasFeeCap = minBigInt(fee.GasFeeCap, g.maxGasPriceWei)
		return plan, nil
	}

	plan.GasPrice = minBigInt(fee.GasPrice, g.maxGasPriceWei)
	return plan, nil
}

// minBigInt applies §6.5's ceiling: the configured max is a cap, never a
// floor, so a chain quoting below it passes through unchanged.
func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
