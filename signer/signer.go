// Package signer provides client-side ECDSA signing of transfer permits.
// It produces the 65-byte signatures the engine's verification accepts, and
// can re-encode them in the 64-byte compact form.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/thomas-lamb-tech/permit"
)

// Signer signs permits for one owner key within one signing domain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     permit.Domain
}

// NewFromPrivateKey creates a signer from a hex-encoded private key, with or
// without the "0x" prefix.
func NewFromPrivateKey(privateKeyHex string, domain permit.Domain) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return New(privateKey, domain), nil
}

// New creates a signer from an already-parsed key.
func New(privateKey *ecdsa.PrivateKey, domain permit.Domain) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		domain:     domain,
	}
}

// Address returns the owner address this signer signs for.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignPermitTransferFrom signs a single-token permit.
func (s *Signer) SignPermitTransferFrom(p permit.PermitTransferFrom) ([]byte, error) {
	digest, err := s.domain.HashPermitTransferFrom(p, nil)
	if err != nil {
		return nil, err
	}
	return s.signDigest(digest)
}

// SignPermitWitnessTransferFrom signs a single-token permit extended with a
// witness.
func (s *Signer) SignPermitWitnessTransferFrom(p permit.PermitTransferFrom, w permit.Witness) ([]byte, error) {
	digest, err := s.domain.HashPermitTransferFrom(p, &w)
	if err != nil {
		return nil, err
	}
	return s.signDigest(digest)
}

// SignPermitBatchTransferFrom signs a batch permit.
func (s *Signer) SignPermitBatchTransferFrom(p permit.PermitBatchTransferFrom) ([]byte, error) {
	if len(p.SignedAmounts) != len(p.Tokens) {
		return nil, fmt.Errorf("%d signed amounts for %d tokens", len(p.SignedAmounts), len(p.Tokens))
	}
	digest, err := s.domain.HashPermitBatchTransferFrom(p, nil)
	if err != nil {
		return nil, err
	}
	return s.signDigest(digest)
}

// SignPermitBatchWitnessTransferFrom signs a batch permit extended with a
// witness.
func (s *Signer) SignPermitBatchWitnessTransferFrom(p permit.PermitBatchTransferFrom, w permit.Witness) ([]byte, error) {
	if len(p.SignedAmounts) != len(p.Tokens) {
		return nil, fmt.Errorf("%d signed amounts for %d tokens", len(p.SignedAmounts), len(p.Tokens))
	}
	digest, err := s.domain.HashPermitBatchTransferFrom(p, &w)
	if err != nil {
		return nil, err
	}
	return s.signDigest(digest)
}

func (s *Signer) signDigest(digest common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	// Recovery ID 0/1 to Ethereum's 27/28.
	signature[64] += 27
	return signature, nil
}

// ToCompact re-encodes a 65-byte r||s||v signature as the 64-byte EIP-2098
// compact form r||vs.
func ToCompact(signature []byte) ([]byte, error) {
	if len(signature) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	v := signature[64]
	if v == 27 || v == 28 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("invalid recovery id %d", signature[64])
	}

	compact := make([]byte, 64)
	copy(compact, signature[:64])
	compact[32] |= v << 7
	return compact, nil
}
