package permit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenTransferor is the external transfer primitive. Transfer moves exactly
// amount of token from from to to, and signals failure by returning an error
// rather than a silent no-op. Implementations that can distinguish an
// insufficient balance should return an engine error with
// ErrCodeInsufficientBalance so the code survives to the caller.
type TokenTransferor interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// ContractSignatureValidator validates signatures for contract-account
// signers. ValidateSignature calls the signer's validation entry point with
// the digest and signature and returns the 4-byte value it produced;
// verification passes only when that value equals the EIP-1271 magic value.
type ContractSignatureValidator interface {
	ValidateSignature(ctx context.Context, signer common.Address, digest common.Hash, signature []byte) ([4]byte, error)
}

// NonceStore is the per-owner unordered nonce bitmap: a sparse mapping from
// word index to a 256-bit mask of consumed nonces. Bits are set exactly once
// and never cleared.
type NonceStore interface {
	// Word returns the 256-bit mask stored for (owner, wordIndex). Words that
	// were never written read as zero.
	Word(ctx context.Context, owner common.Address, wordIndex *big.Int) (*big.Int, error)

	// Consume atomically tests and sets the nonce's bit. If the bit is
	// already set it returns an ErrCodeInvalidNonce engine error and writes
	// nothing. The test-and-set is indivisible with respect to every other
	// operation on the same (owner, word): concurrent attempts to consume one
	// nonce cannot both succeed.
	Consume(ctx context.Context, owner common.Address, nonce *big.Int) error

	// Invalidate ORs mask into the stored word. Previously set bits stay set.
	Invalidate(ctx context.Context, owner common.Address, wordIndex, mask *big.Int) error
}

// EventPublisher receives the engine's observable events. Publish failures
// never abort the operation that produced the event; the engine logs them
// and continues.
type EventPublisher interface {
	PublishTransfer(ctx context.Context, event TransferEvent) error
	PublishNonceInvalidation(ctx context.Context, event NonceInvalidationEvent) error
}
