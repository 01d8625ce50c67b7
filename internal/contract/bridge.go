// Package contract provides the Bridge smart contract ABI binding: event
// parsing for Deposit/Withdraw and call-data packing for withdraw (§6.1,
// wire-contract bit-exact).
package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidWithdrawParams = errors.New("invalid withdraw params")
	ErrNotEnoughTopics       = errors.New("not enough topics for event")
	ErrShortLogData          = errors.New("log data too short for event")
)

// BridgeABI is the ABI of the on-chain Bridge contract (§6.1):
//
//	event Deposit(address indexed token, address indexed sender, address indexed recipient, uint256 amount, uint256 nonce, uint256 targetChainId);
//	event Withdraw(address indexed token, address indexed recipient, uint256 amount, uint256 nonce, uint256 sourceChainId);
//	function withdraw(address token, address recipient, uint256 amount, uint256 nonce, uint256 sourceChainId, bytes[] signatures) external;
//	function isProcessed(bytes32 messageHash) external view returns (bool);
//	function supportedTokens(address) external view returns (bool);
const BridgeABI = `[
	{
		"type": "function",
		"name": "withdraw",
		"inputs": [
			{"name": "token", "type": "address"},
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "nonce", "type": "uint256"},
			{"name": "sourceChainId", "type": "uint256"},
			{"name": "signatures", "type": "bytes[]"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "isProcessed",
		"inputs": [
			{"name": "messageHash", "type": "bytes32"}
		],
		"outputs": [
			{"name": "processed", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "supportedTokens",
		"inputs": [
			{"name": "", "type": "address"}
		],
		"outputs": [
			{"name": "", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "Deposit",
		"inputs": [
			{"name": "token", "type": "address", "indexed": true},
			{"name": "sender", "type": "address", "indexed": true},
			{"name": "recipient", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "nonce", "type": "uint256", "indexed": false},
			{"name": "targetChainId", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "Withdraw",
		"inputs": [
			{"name": "token", "type": "address", "indexed": true},
			{"name": "recipient", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "nonce", "type": "uint256", "indexed": false},
			{"name": "sourceChainId", "type": "uint256", "indexed": false}
		]
	}
]`

// DepositEvent is the decoded on-chain Deposit event.
type DepositEvent struct {
	Token         common.Address
	Sender        common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	TargetChainID *big.Int
	Raw           types.Log
}

// WithdrawEvent is the decoded on-chain Withdraw event.
type WithdrawEvent struct {
	Token         common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	SourceChainID *big.Int
	Raw           types.Log
}

// WithdrawParams are the arguments to the withdraw() call.
type WithdrawParams struct {
	Token         common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	SourceChainID *big.Int
	Signatures    [][]byte
}

// Bridge wraps the parsed ABI and a read backend for one deployed Bridge
// contract address.
type Bridge struct {
	address common.Address
	abi     abi.ABI
	caller  bind.ContractCaller
}

// NewBridge parses BridgeABI and binds it to address.
func NewBridge(address common.Address, caller bind.ContractCaller) (*Bridge, error) {
	parsed, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		return nil, err
	}
	return &Bridge{address: address, abi: parsed, caller: caller}, nil
}

// Address returns the bound contract address.
func (b *Bridge) Address() common.Address { return b.address }

// DepositEventTopic returns the topic0 for Deposit.
func (b *Bridge) DepositEventTopic() common.Hash { return b.abi.Events["Deposit"].ID }

// WithdrawEventTopic returns the topic0 for Withdraw.
func (b *Bridge) WithdrawEventTopic() common.Hash { return b.abi.Events["Withdraw"].ID }

// PackWithdraw packs a call to withdraw(token, recipient, amount, nonce,
// sourceChainId, signatures).
func (b *Bridge) PackWithdraw(p *WithdrawParams) ([]byte, error) {
	if p == nil || p.Amount == nil || p.Amount.Sign() <= 0 || p.Nonce == nil || p.SourceChainID == nil {
		return nil, ErrInvalidWithdrawParams
	}
	return b.abi.Pack("withdraw", p.Token, p.Recipient, p.Amount, p.Nonce, p.SourceChainID, p.Signatures)
}

// IsProcessed calls isProcessed(messageHash) on the target chain — the
// Relayer's idempotency short-circuit (§7 AlreadyProcessed, §8 property 1).
func (b *Bridge) IsProcessed(ctx context.Context, messageHash [32]byte) (bool, error) {
	data, err := b.abi.Pack("isProcessed", messageHash)
	if err != nil {
		return false, err
	}
	result, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &b.address, Data: data}, nil)
	if err != nil {
		return false, err
	}
	var processed bool
	if err := b.abi.UnpackIntoInterface(&processed, "isProcessed", result); err != nil {
		return false, err
	}
	return processed, nil
}

// SupportedTokens calls supportedTokens(token).
func (b *Bridge) SupportedTokens(ctx context.Context, token common.Address) (bool, error) {
	data, err := b.abi.Pack("supportedTokens", token)
	if err != nil {
		return false, err
	}
	result, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &b.address, Data: data}, nil)
	if err != nil {
		return false, err
	}
	var supported bool
	if err := b.abi.UnpackIntoInterface(&supported, "supportedTokens", result); err != nil {
		return false, err
	}
	return supported, nil
}

// ParseDeposit decodes a raw log as a Deposit event. token/sender/recipient
// are indexed, so they live in Topics[1:4]; amount/nonce/targetChainId are
// packed in Data.
func (b *Bridge) ParseDeposit(log types.Log) (*DepositEvent, error) {
	if len(log.Topics) < 4 {
		return nil, ErrNotEnoughTopics
	}
	if len(log.Data) < 96 {
		return nil, ErrShortLogData
	}
	return &DepositEvent{
		Token:         common.HexToAddress(log.Topics[1].Hex()),
		Sender:        common.HexToAddress(log.Topics[2].Hex()),
		Recipient:     common.HexToAddress(log.Topics[3].Hex()),
		Amount:        new(big.Int).SetBytes(log.Data[0:32]),
		Nonce:         new(big.Int).SetBytes(log.Data[32:64]),
		TargetChainID: new(big.Int).SetBytes(log.Data[64:96]),
		Raw:           log,
	}, nil
}

// ParseWithdraw decodes a raw log as a Withdraw event. token/recipient are
// indexed; amount/nonce/sourceChainId are packed in Data.
func (b *Bridge) ParseWithdraw(log types.Log) (*WithdrawEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrNotEnoughTopics
	}
	if len(log.Data) < 96 {
		return nil, ErrShortLogData
	}
	return &WithdrawEvent{
		Token:         common.HexToAddress(log.Topics[1].Hex()),
		Recipient:     common.HexToAddress(log.Topics[2].Hex()),
		Amount:        new(big.Int).SetBytes(log.Data[0:32]),
		Nonce:         new(big.Int).SetBytes(log.Data[32:64]),
		SourceChainID: new(big.Int).SetBytes(log.Data[64:96]),
		Raw:           log,
	}, nil
}

// NativeToken is the sentinel address denoting the native currency (§6.1).
func NativeToken() common.Address { return common.Address{} }

// IsNativeToken reports whether token is the native-currency sentinel.
func IsNativeToken(token common.Address) bool { return token == NativeToken() }
