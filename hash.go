package permit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 type strings. These are byte-exact with the canonical
// SignatureTransfer contract so that, for the same domain, the digests
// produced here match what deployed tooling signs.
const (
	tokenPermissionsTypeString = "TokenPermissions(address token,uint256 amount)"

	permitTransferFromTypeString = "PermitTransferFrom(TokenPermissions permitted,address spender,uint256 nonce,uint256 deadline)" +
		tokenPermissionsTypeString

	permitBatchTransferFromTypeString = "PermitBatchTransferFrom(TokenPermissions[] permitted,address spender,uint256 nonce,uint256 deadline)" +
		tokenPermissionsTypeString

	// Witness variants are completed at call time: stub + type name +
	// " witness)" + full type definition. Any byte of the caller-supplied
	// strings changes the type hash and therefore the digest.
	permitWitnessTransferFromTypeStub = "PermitWitnessTransferFrom(TokenPermissions permitted,address spender,uint256 nonce,uint256 deadline,"

	permitBatchWitnessTransferFromTypeStub = "PermitBatchWitnessTransferFrom(TokenPermissions[] permitted,address spender,uint256 nonce,uint256 deadline,"

	eip712DomainTypeString = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
)

var (
	tokenPermissionsTypeHash        = crypto.Keccak256Hash([]byte(tokenPermissionsTypeString))
	permitTransferFromTypeHash      = crypto.Keccak256Hash([]byte(permitTransferFromTypeString))
	permitBatchTransferFromTypeHash = crypto.Keccak256Hash([]byte(permitBatchTransferFromTypeString))
	eip712DomainTypeHash            = crypto.Keccak256Hash([]byte(eip712DomainTypeString))
)

// Domain is the EIP-712 signing domain. The separator is computed once in
// NewDomain and participates in every digest.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address

	separator common.Hash
}

// NewDomain builds a signing domain and caches its separator.
func NewDomain(name, version string, chainID *big.Int, verifyingContract common.Address) (Domain, error) {
	chainWord, err := uint256Word(chainID)
	if err != nil {
		return Domain{}, fmt.Errorf("domain chain id: %w", err)
	}

	d := Domain{
		Name:              name,
		Version:           version,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: verifyingContract,
	}
	d.separator = crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(name)),
		crypto.Keccak256([]byte(version)),
		chainWord,
		addressWord(verifyingContract),
	)
	return d, nil
}

// Separator returns the cached domain separator.
func (d Domain) Separator() common.Hash {
	return d.separator
}

// HashPermitTransferFrom computes the digest the owner must sign for a
// single-token permit. A nil witness selects the plain PermitTransferFrom
// type; a non-nil witness selects the witness-extended type, whose type hash
// is derived from the caller's type name and definition. The two variants
// are bound to different type hashes and can never collide, and two permits
// that differ only in witness hash produce different digests.
func (d Domain) HashPermitTransferFrom(p PermitTransferFrom, witness *Witness) (common.Hash, error) {
	permittedHash, err := hashTokenPermissions(p.Permitted)
	if err != nil {
		return common.Hash{}, err
	}
	nonceWord, err := uint256Word(p.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("permit nonce: %w", err)
	}
	deadlineWord, err := uint256Word(p.Deadline)
	if err != nil {
		return common.Hash{}, fmt.Errorf("permit deadline: %w", err)
	}

	var structHash common.Hash
	if witness == nil {
		structHash = crypto.Keccak256Hash(
			permitTransferFromTypeHash.Bytes(),
			permittedHash.Bytes(),
			addressWord(p.Spender),
			nonceWord,
			deadlineWord,
		)
	} else {
		structHash = crypto.Keccak256Hash(
			witnessTypeHash(permitWitnessTransferFromTypeStub, *witness).Bytes(),
			permittedHash.Bytes(),
			addressWord(p.Spender),
			nonceWord,
			deadlineWord,
			witness.Hash.Bytes(),
		)
	}
	return d.digest(structHash), nil
}

// HashPermitBatchTransferFrom computes the digest for a batch permit. The
// permitted legs are hashed as an ordered sequence: the keccak of the
// concatenated per-leg TokenPermissions struct hashes.
func (d Domain) HashPermitBatchTransferFrom(p PermitBatchTransferFrom, witness *Witness) (common.Hash, error) {
	if len(p.Tokens) != len(p.SignedAmounts) {
		return common.Hash{}, NewError(ErrCodeSignedDetailsLengthMismatch, "tokens and signed amounts length mismatch")
	}
	permitted := p.permissions()
	legHashes := make([]byte, 0, len(permitted)*common.HashLength)
	for i, leg := range permitted {
		legHash, err := hashTokenPermissions(leg)
		if err != nil {
			return common.Hash{}, fmt.Errorf("leg %d: %w", i, err)
		}
		legHashes = append(legHashes, legHash.Bytes()...)
	}
	permittedHash := crypto.Keccak256Hash(legHashes)

	nonceWord, err := uint256Word(p.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("permit nonce: %w", err)
	}
	deadlineWord, err := uint256Word(p.Deadline)
	if err != nil {
		return common.Hash{}, fmt.Errorf("permit deadline: %w", err)
	}

	var structHash common.Hash
	if witness == nil {
		structHash = crypto.Keccak256Hash(
			permitBatchTransferFromTypeHash.Bytes(),
			permittedHash.Bytes(),
			addressWord(p.Spender),
			nonceWord,
			deadlineWord,
		)
	} else {
		structHash = crypto.Keccak256Hash(
			witnessTypeHash(permitBatchWitnessTransferFromTypeStub, *witness).Bytes(),
			permittedHash.Bytes(),
			addressWord(p.Spender),
			nonceWord,
			deadlineWord,
			witness.Hash.Bytes(),
		)
	}
	return d.digest(structHash), nil
}

// digest applies the two-stage EIP-712 scheme:
// keccak256(0x19 || 0x01 || domainSeparator || structHash).
func (d Domain) digest(structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		d.separator.Bytes(),
		structHash.Bytes(),
	)
}

func hashTokenPermissions(p TokenPermissions) (common.Hash, error) {
	amountWord, err := uint256Word(p.Amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("permitted amount: %w", err)
	}
	return crypto.Keccak256Hash(
		tokenPermissionsTypeHash.Bytes(),
		addressWord(p.Token),
		amountWord,
	), nil
}

// witnessTypeHash completes a witness stub with the caller-supplied type name
// and definition. No input is rejected here; a type string that does not
// match what the owner signed simply produces a digest the owner never
// signed.
func witnessTypeHash(stub string, w Witness) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(stub),
		[]byte(w.TypeName),
		[]byte(" witness)"),
		[]byte(w.TypeDefinition),
	)
}

// uint256Word encodes a non-negative integer of at most 256 bits as a
// 32-byte big-endian word.
func uint256Word(x *big.Int) ([]byte, error) {
	if x == nil {
		return nil, fmt.Errorf("value is nil")
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("value %s is negative", x)
	}
	if x.BitLen() > 256 {
		return nil, fmt.Errorf("value %s overflows uint256", x)
	}
	word := make([]byte, 32)
	x.FillBytes(word)
	return word, nil
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
