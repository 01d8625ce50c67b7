package contract

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20ABI is the minimal read-only ABI the liquidity check needs.
const ERC20ABI = `[
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	}
]`

// ERC20 is a read-only binding used by the Relayer's liquidity check
// (§4.4 step 4d) for fungible tokens. NativeToken bypasses this entirely
// and reads the bridge address's chain balance instead.
type ERC20 struct {
	address common.Address
	abi     abi.ABI
	caller  bind.ContractCaller
}

// NewERC20 parses the shared ERC20ABI and binds it to address.
func NewERC20(address common.Address, caller bind.ContractCaller) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, err
	}
	return &ERC20{address: address, abi: parsed, caller: caller}, nil
}

// BalanceOf calls balanceOf(account) on the bound token.
func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := e.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	result, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &e.address, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := e.abi.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, err
	}
	return balance, nil
}
