package chain

import (
	"context"

	"github.com/ethereum/go-ethereum"

	"github.com/lockmint/bridge/internal/contract"
)

// GasSource adapts a Client's FeeData/EstimateGas to contract.FeeSource,
// so a GasEstimator can be built directly from a live chain connection
// without the contract package depending on chain.
type GasSource struct {
	client *Client
}

// NewGasSource wraps client as a contract.FeeSource.
func NewGasSource(client *Client) GasSource {
	return GasSource{client: client}
}

// FeeData converts the Client's FeeData into contract.GasPriceInfo.
func (g GasSource) FeeData(ctx context.Context) (contract.GasPriceInfo, error) {
	fee, err := g.client.FeeData(ctx)
	if err != nil {
		return contract.GasPriceInfo{}, err
	}
	return contract.GasPriceInfo{
		GasPrice:  fee.GasPrice,
		GasTipCap: fee.GasTipCap,
		GasFeeCap: fee.GasFeeCap,
		IsEIP1559: fee.IsEIP1559,
	}, nil
}

// EstimateGas delegates to the wrapped Client.
func (g GasSource) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return g.client.EstimateGas(ctx, msg)
}
