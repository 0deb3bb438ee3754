package permit

import (
	"fmt"
	"math/big"
)

// NonceWordIndex returns nonce >> 8: which 256-bit word of the owner's
// bitmap records the nonce.
func NonceWordIndex(nonce *big.Int) *big.Int {
	return new(big.Int).Rsh(nonce, 8)
}

// NonceBitPos returns nonce % 256: the nonce's bit within its word.
func NonceBitPos(nonce *big.Int) uint {
	return uint(new(big.Int).And(nonce, big.NewInt(0xff)).Uint64())
}

func validateNonce(nonce *big.Int) error {
	if nonce == nil {
		return fmt.Errorf("nonce is nil")
	}
	if nonce.Sign() < 0 || nonce.BitLen() > 256 {
		return fmt.Errorf("nonce %s out of uint256 range", nonce)
	}
	return nil
}

func validateWordIndex(wordIndex *big.Int) error {
	if wordIndex == nil {
		return fmt.Errorf("word index is nil")
	}
	if wordIndex.Sign() < 0 || wordIndex.BitLen() > 248 {
		return fmt.Errorf("word index %s out of range", wordIndex)
	}
	return nil
}

func validateMask(mask *big.Int) error {
	if mask == nil {
		return fmt.Errorf("mask is nil")
	}
	if mask.Sign() < 0 || mask.BitLen() > 256 {
		return fmt.Errorf("mask %s out of uint256 range", mask)
	}
	return nil
}
