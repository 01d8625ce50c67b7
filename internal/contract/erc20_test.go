package contract

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	result []byte
	err    error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.result, f.err
}
func (f *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func TestERC20_BalanceOf(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)
	packed, err := parsed.Methods["balanceOf"].Outputs.Pack(big.NewInt(1_000_000))
	require.NoError(t, err)

	caller := &fakeCaller{result: packed}
	token, err := NewERC20(common.HexToAddress("0x1111111111111111111111111111111111111111"), caller)
	require.NoError(t, err)

	balance, err := token.BalanceOf(context.Background(), common.HexToAddress("0x2222222222222222222222222222222222222222"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000), balance)
}
