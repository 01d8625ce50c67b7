package validator

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("0x0000000000000000000000000000000000000000"))
	assert.True(t, IsAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	assert.False(t, IsAddress("not-an-address"))
	assert.False(t, IsAddress("0x1234"))
}

func TestIsTxHash(t *testing.T) {
	assert.True(t, IsTxHash("0x"+strings.Repeat("a", 64)))
	assert.False(t, IsTxHash("0x"+strings.Repeat("a", 63)))
}

func TestIsSignature(t *testing.T) {
	assert.True(t, IsSignature("0x"+strings.Repeat("a", 130)))
	assert.False(t, IsSignature("0x"+strings.Repeat("a", 128)))
}

func TestIsPositiveAmount(t *testing.T) {
	assert.False(t, IsPositiveAmount("0"))
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.True(t, IsPositiveAmount(maxUint256.String()))
	assert.False(t, IsPositiveAmount("-1"))
	assert.False(t, IsPositiveAmount("not-a-number"))
}

func TestIsValidNonce(t *testing.T) {
	assert.True(t, IsValidNonce(big.NewInt(0)))
	assert.True(t, IsValidNonce(big.NewInt(7)))
	assert.False(t, IsValidNonce(big.NewInt(-1)))
	assert.False(t, IsValidNonce(nil))
}

func validParams() TransferParams {
	return TransferParams{
		Token:         "0x0000000000000000000000000000000000000000",
		Sender:        "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Recipient:     "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Amount:        "1000000000000000000",
		Nonce:         big.NewInt(0),
		SourceChainID: 1,
		TargetChainID: 137,
	}
}

func TestValidateTransferParams_Valid(t *testing.T) {
	r := ValidateTransferParams(validParams())
	assert.True(t, r.OK)
	assert.Empty(t, r.Errors)
}

func TestValidateTransferParams_AccumulatesAllErrors(t *testing.T) {
	p := validParams()
	p.Recipient = "bad"
	p.Amount = "0"
	p.Nonce = big.NewInt(-1)
	p.SourceChainID = 1
	p.TargetChainID = 1

	r := ValidateTransferParams(p)
	assert.False(t, r.OK)
	assert.Len(t, r.Errors, 4)
}

func TestValidateTransferParams_SourceEqualsTargetRejected(t *testing.T) {
	p := validParams()
	p.TargetChainID = p.SourceChainID
	r := ValidateTransferParams(p)
	assert.False(t, r.OK)
}

func TestValidateWithdrawParams_IgnoresSenderAndTargetChain(t *testing.T) {
	p := TransferParams{
		Recipient: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Amount:    "1",
		Nonce:     big.NewInt(0),
	}
	r := ValidateWithdrawParams(p)
	assert.True(t, r.OK)
}
