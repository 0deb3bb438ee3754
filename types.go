package permit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPermissions is the token and maximum amount an owner signed off on for
// one transfer leg.
type TokenPermissions struct {
	Token  common.Address
	Amount *big.Int
}

// PermitTransferFrom authorizes a single-token transfer of up to
// Permitted.Amount, executable until Deadline and bound to one unordered
// nonce. Spender is the address the owner expects to execute the permit; it
// is part of the signed payload but the engine does not require the executing
// caller to equal it; holding a valid signature is the authorization.
type PermitTransferFrom struct {
	Permitted TokenPermissions
	Spender   common.Address
	Nonce     *big.Int
	Deadline  *big.Int
}

// PermitBatchTransferFrom authorizes several transfer legs under one
// signature and one nonce. Tokens and SignedAmounts are parallel ordered
// sequences; a length mismatch is rejected before any hashing happens.
type PermitBatchTransferFrom struct {
	Tokens        []common.Address
	SignedAmounts []*big.Int
	Spender       common.Address
	Nonce         *big.Int
	Deadline      *big.Int
}

// permissions zips the parallel sequences into per-leg permissions. Lengths
// must already be validated.
func (p PermitBatchTransferFrom) permissions() []TokenPermissions {
	out := make([]TokenPermissions, len(p.Tokens))
	for i := range p.Tokens {
		out[i] = TokenPermissions{Token: p.Tokens[i], Amount: p.SignedAmounts[i]}
	}
	return out
}

// SignatureTransferDetails is the caller-supplied, unsigned instruction for
/// one leg: where the tokens go and how much of the signed ceiling to move.
// A zero To address means "send to the executing caller".
type SignatureTransferDetails struct {
	To              common.Address
	RequestedAmount *big.Int
}

// Witness binds caller-defined data into the signed digest. Hash is the
// caller's opaque witness hash; TypeName and TypeDefinition are the EIP-712
// type name and full type definition fragment that, combined with the permit
// stub, must reproduce the exact type hash the owner signed. Any mismatch in
// any of the three changes the digest and fails verification.
type Witness struct {
	Hash           common.Hash
	TypeName       string
	TypeDefinition string
}
