package permit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eip1271Magic is the 4-byte value isValidSignature(bytes32,bytes) must
// return for a contract signature to count as valid.
var eip1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

// VerifySignature checks that signature over digest was produced by
// claimedSigner. Signatures of 65 bytes (r||s||v) or 64 bytes (EIP-2098
// compact r||vs) are treated as ECDSA and verified by public key recovery;
// any other length dispatches to the contract-signature validator, which
// must return the EIP-1271 magic value for the claimed signer.
//
// Every failure (malformed bytes, recovery mismatch, malleable s, missing
// or rejecting validator) surfaces as the single ErrCodeInvalidSigner kind.
func VerifySignature(
	ctx context.Context,
	digest common.Hash,
	claimedSigner common.Address,
	signature []byte,
	validator ContractSignatureValidator,
) error {
	switch len(signature) {
	case 65:
		r := new(big.Int).SetBytes(signature[:32])
		s := new(big.Int).SetBytes(signature[32:64])
		v := signature[64]
		if v == 27 || v == 28 {
			v -= 27
		}
		return verifyECDSA(digest, claimedSigner, r, s, v)

	case 64:
		// EIP-2098: vs packs the recovery bit into the top bit of s.
		r := new(big.Int).SetBytes(signature[:32])
		vs := make([]byte, 32)
		copy(vs, signature[32:])
		v := vs[0] >> 7
		vs[0] &= 0x7f
		s := new(big.Int).SetBytes(vs)
		return verifyECDSA(digest, claimedSigner, r, s, v)

	default:
		if validator == nil {
			return NewError(ErrCodeInvalidSigner, "no contract signature validator configured")
		}
		magic, err := validator.ValidateSignature(ctx, claimedSigner, digest, signature)
		if err != nil || magic != eip1271Magic {
			return NewError(ErrCodeInvalidSigner, "contract signature validation failed")
		}
		return nil
	}
}

func verifyECDSA(digest common.Hash, claimedSigner common.Address, r, s *big.Int, v byte) error {
	// Homestead rules: reject s in the upper half of the curve order so a
	// third party cannot mint a second valid signature for the same digest.
	if v > 1 || !crypto.ValidateSignatureValues(v, r, s, true) {
		return NewError(ErrCodeInvalidSigner, "invalid signature values")
	}

	sig := make([]byte, 65)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = v

	pubKey, err := crypto.Ecrecover(digest.Bytes(), sig)
	if err != nil {
		return NewError(ErrCodeInvalidSigner, "signature recovery failed")
	}

	recovered := common.BytesToAddress(crypto.Keccak256(pubKey[1:])[12:])
	if recovered == (common.Address{}) || recovered != claimedSigner {
		return NewError(ErrCodeInvalidSigner, "recovered signer does not match")
	}
	return nil
}
