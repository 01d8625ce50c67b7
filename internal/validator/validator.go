// Package validator holds the stateless predicates §4.6 requires: no
// I/O, no state, safe to call from any goroutine. The aggregate
// validateXParams functions accumulate every violation instead of
// stopping at the first one, so callers can report a complete picture.
package validator

import (
	"math/big"
	"regexp"
	"strings"
)

var (
	addressRE   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashRE    = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	signatureRE = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
)

// IsAddress reports whether s is a 20-byte hex address, either
// all-lowercase or (permissively) any hex casing — full EIP-55 checksum
// verification is left to go-ethereum's common.Address at the chain
// boundary; this predicate only enforces shape.
func IsAddress(s string) bool {
	return addressRE.MatchString(s)
}

// IsTxHash reports whether s is a 32-byte hex transaction hash.
func IsTxHash(s string) bool {
	return txHashRE.MatchString(s)
}

// IsSignature reports whether s is exactly 132 hex characters after 0x
// (65 bytes: r, s, v).
func IsSignature(s string) bool {
	return signatureRE.MatchString(s)
}

// IsPositiveAmount reports whether s parses as a base-10 integer > 0.
func IsPositiveAmount(s string) bool {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	return ok && n.Sign() > 0
}

// IsValidNonce reports whether n is a non-negative integer.
func IsValidNonce(n *big.Int) bool {
	return n != nil && n.Sign() >= 0
}

// Result is the outcome of an aggregate validation: ok is false if
// Errors is non-empty.
type Result struct {
	OK     bool
	Errors []string
}

func newResult(errs []string) Result {
	return Result{OK: len(errs) == 0, Errors: errs}
}

// TransferParams is the shared shape validated for both deposit-side and
// withdraw-side events (§3's BridgeEvent/Transfer fields).
type TransferParams struct {
	Token         string
	Sender        string
	Recipient     string
	Amount        string
	Nonce         *big.Int
	SourceChainID int64
	TargetChainID int64
}

// ValidateTransferParams accumulates every violation of p rather than
// returning on the first one (§4.6).
func ValidateTransferParams(p TransferParams) Result {
	var errs []string
	if p.Token != "" && !IsAddress(p.Token) {
		errs = append(errs, "token is not a valid address")
	}
	if p.Sender != "" && !IsAddress(p.Sender) {
		errs = append(errs, "sender is not a valid address")
	}
	if !IsAddress(p.Recipient) {
		errs = append(errs, "recipient is not a valid address")
	}
	if !IsPositiveAmount(p.Amount) {
		errs = append(errs, "amount must be a positive integer")
	}
	if !IsValidNonce(p.Nonce) {
		errs = append(errs, "nonce must be a non-negative integer")
	}
	if p.SourceChainID == p.TargetChainID {
		errs = append(errs, "sourceChainId and targetChainId must differ")
	}
	return newResult(errs)
}

// ValidateDepositParams validates a raw Deposit event (§6.1).
func ValidateDepositParams(p TransferParams) Result {
	return ValidateTransferParams(p)
}

// ValidateWithdrawParams validates a raw Withdraw event (§6.1). Withdraw
// events don't carry a sender or a target chain id — target is implicitly
// "here" — so those checks are skipped.
func ValidateWithdrawParams(p TransferParams) Result {
	var errs []string
	if p.Token != "" && !IsAddress(p.Token) {
		errs = append(errs, "token is not a valid address")
	}
	if !IsAddress(p.Recipient) {
		errs = append(errs, "recipient is not a valid address")
	}
	if !IsPositiveAmount(p.Amount) {
		errs = append(errs, "amount must be a positive integer")
	}
	if !IsValidNonce(p.Nonce) {
		errs = append(errs, "nonce must be a non-negative integer")
	}
	return newResult(errs)
}
