// Package wallet recovers the signer of personal-signed messages so a
// session can be bound to a wallet address.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrBadSignature = errors.New("malformed signature")
	ErrBadAddress   = errors.New("malformed address")
)

// RecoverAddress returns the address that personal-signed message.
// Signatures use the eth_sign 65-byte [R || S || V] layout; V of 27/28 is
// accepted alongside 0/1.
func RecoverAddress(message string, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(ensureHexPrefix(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d, want %d", ErrBadSignature, len(sig), crypto.SignatureLength)
	}
	// do not mutate the caller's slice
	cp := make([]byte, len(sig))
	copy(cp, sig)
	if cp[crypto.RecoveryIDOffset] >= 27 {
		cp[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Checksum normalizes a claimed address to its EIP-55 form.
func Checksum(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, address)
	}
	return common.HexToAddress(address), nil
}

func ensureHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
