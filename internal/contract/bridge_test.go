package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := NewBridge(common.HexToAddress("0x1111111111111111111111111111111111111111"), nil)
	require.NoError(t, err)
	return b
}

func packUint(n int64) []byte {
	b := make([]byte, 32)
	new(big.Int).SetInt64(n).FillBytes(b)
	return b
}

func TestParseDeposit(t *testing.T) {
	b := newTestBridge(t)
	token := common.HexToAddress("0x0000000000000000000000000000000000000000")
	sender := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"[:42])
	recipient := sender

	var data []byte
	data = append(data, packUint(1_000_000_000_000_000_000)...)
	data = append(data, packUint(0)...)
	data = append(data, packUint(137)...)

	log := types.Log{
		Topics: []common.Hash{
			b.DepositEventTopic(),
			common.BytesToHash(token.Bytes()),
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(recipient.Bytes()),
		},
		Data: data,
	}

	ev, err := b.ParseDeposit(log)
	require.NoError(t, err)
	assert.True(t, IsNativeToken(ev.Token))
	assert.Equal(t, sender, ev.Sender)
	assert.Equal(t, recipient, ev.Recipient)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000_000), ev.Amount)
	assert.Equal(t, big.NewInt(0), ev.Nonce)
	assert.Equal(t, big.NewInt(137), ev.TargetChainID)
}

func TestParseDeposit_ShortData(t *testing.T) {
	b := newTestBridge(t)
	log := types.Log{
		Topics: []common.Hash{b.DepositEventTopic(), {}, {}, {}},
		Data:   []byte{1, 2, 3},
	}
	_, err := b.ParseDeposit(log)
	assert.ErrorIs(t, err, ErrShortLogData)
}

func TestParseDeposit_TooFewTopics(t *testing.T) {
	b := newTestBridge(t)
	log := types.Log{Topics: []common.Hash{{}, {}}}
	_, err := b.ParseDeposit(log)
	assert.ErrorIs(t, err, ErrNotEnoughTopics)
}

func TestParseWithdraw(t *testing.T) {
	b := newTestBridge(t)
	token := common.HexToAddress("0x0000000000000000000000000000000000000000")
	recipient := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"[:42])

	var data []byte
	data = append(data, packUint(1_000_000_000_000_000_000)...)
	data = append(data, packUint(7)...)
	data = append(data, packUint(1)...)

	log := types.Log{
		Topics: []common.Hash{
			b.WithdrawEventTopic(),
			common.BytesToHash(token.Bytes()),
			common.BytesToHash(recipient.Bytes()),
		},
		Data: data,
	}

	ev, err := b.ParseWithdraw(log)
	require.NoError(t, err)
	assert.Equal(t, recipient, ev.Recipient)
	assert.Equal(t, big.NewInt(7), ev.Nonce)
	assert.Equal(t, big.NewInt(1), ev.SourceChainID)
}

func TestPackWithdraw(t *testing.T) {
	b := newTestBridge(t)

	t.Run("valid", func(t *testing.T) {
		data, err := b.PackWithdraw(&WithdrawParams{
			Token:         NativeToken(),
			Recipient:     common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"[:42]),
			Amount:        big.NewInt(1),
			Nonce:         big.NewInt(0),
			SourceChainID: big.NewInt(1),
			Signatures:    [][]byte{make([]byte, 65)},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		_, err := b.PackWithdraw(&WithdrawParams{
			Amount:        big.NewInt(0),
			Nonce:         big.NewInt(0),
			SourceChainID: big.NewInt(1),
		})
		assert.ErrorIs(t, err, ErrInvalidWithdrawParams)
	})

	t.Run("nil params rejected", func(t *testing.T) {
		_, err := b.PackWithdraw(nil)
		assert.ErrorIs(t, err, ErrInvalidWithdrawParams)
	})
}

func TestNativeToken(t *testing.T) {
	assert.True(t, IsNativeToken(common.Address{}))
	assert.False(t, IsNativeToken(common.HexToAddress("0x1111111111111111111111111111111111111111")))
}
