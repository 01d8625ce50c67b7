// Package signer produces and verifies the 65-byte secp256k1 withdrawal
// signatures the Bridge contract's ecrecover expects (§4.3). This is
// deliberately not EIP-712: the on-chain verifier hashes the packed
// message under the legacy "Ethereum Signed Message" prefix, and the
// encoding here is an invariant with that contract.
package signer

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lockmint/bridge/internal/apperrors"
)

const ethSignedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// Message is the tuple the withdrawal digest is computed over.
type Message struct {
	Token         common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	SourceChainID *big.Int
	TargetChainID *big.Int
}

// InnerHash computes keccak256 of the tightly packed message fields —
// the "inner" hash in §4.3's digest construction.
func InnerHash(m Message) common.Hash {
	packed := make([]byte, 0, 20+20+32+32+32+32)
	packed = append(packed, m.Token.Bytes()...)
	packed = append(packed, m.Recipient.Bytes()...)
	packed = append(packed, leftPad32(m.Amount)...)
	packed = append(packed, leftPad32(m.Nonce)...)
	packed = append(packed, leftPad32(m.SourceChainID)...)
	packed = append(packed, leftPad32(m.TargetChainID)...)
	return crypto.Keccak256Hash(packed)
}

// Digest wraps inner with the Ethereum Signed Message prefix — the value
// actually signed and the value the on-chain ecrecover call reconstructs.
func Digest(inner common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte(ethSignedMessagePrefix), inner.Bytes())
}

// MessageDigest is a convenience wrapper computing InnerHash then Digest.
func MessageDigest(m Message) common.Hash {
	return Digest(InnerHash(m))
}

// Signer holds the validator's private key and signs/verifies withdrawal
// digests with it. Immutable after construction, safe to share (§5).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New wraps an already-parsed private key.
func New(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewFromHex parses a hex-encoded (optionally 0x-prefixed) private key.
func NewFromHex(hexKey string) (*Signer, error) {
	pk, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTerminalRPC, err, "invalid validator private key")
	}
	return New(pk), nil
}

// Address returns the validator address this Signer signs as.
func (s *Signer) Address() common.Address { return s.address }

// Sign produces a 65-byte (r, s, v) signature over digest, with v
// normalized to {27, 28} per §4.3.
func (s *Signer) Sign(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTerminalRPC, err, "signing failed")
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignMessage computes the message digest and signs it in one step.
func (s *Signer) SignMessage(m Message) ([]byte, common.Hash, error) {
	digest := MessageDigest(m)
	sig, err := s.Sign(digest)
	return sig, digest, err
}

// Verify reports whether sig is a valid 65-byte signature over digest
// recovering to expected. Mirrors the contract's ecrecover check and is
// used by tests and cross-service validation (§4.3, §8 property 6).
func Verify(digest common.Hash, sig []byte, expected common.Address) bool {
	recovered, ok := Recover(digest, sig)
	return ok && recovered == expected
}

// Recover recovers the signing address from a 65-byte signature over
// digest. v may be given as {0, 1} or {27, 28}.
func Recover(digest common.Hash, sig []byte) (common.Address, bool) {
	if len(sig) != 65 {
		return common.Address{}, false
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pubKey), true
}

func leftPad32(n *big.Int) []byte {
	out := make([]byte, 32)
	if n == nil {
		return out
	}
	n.FillBytes(out)
	return out
}

func trim0x(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
