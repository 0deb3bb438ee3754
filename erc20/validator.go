// Package erc20 contains the on-chain collaborators of the transfer engine:
// an EIP-1271 contract-signature validator backed by eth_call, and a
// relayer-keyed transferor submitting ERC-20 transferFrom transactions.
package erc20

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	pkgerrors "github.com/pkg/errors"
)

const isValidSignatureABI = `[{
	"name": "isValidSignature",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

// CallValidator validates contract-account signatures by calling the
// signer's isValidSignature(bytes32,bytes) entry point via eth_call. No
// state is committed. A call to an address without code, a revert, or a
// non-decodable return all surface as errors, which the engine collapses
// into its single invalid-signer failure.
type CallValidator struct {
	client *ethclient.Client
	abi    abi.ABI
}

// NewCallValidator creates a validator on an existing RPC client.
func NewCallValidator(client *ethclient.Client) (*CallValidator, error) {
	parsed, err := abi.JSON(strings.NewReader(isValidSignatureABI))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse isValidSignature abi")
	}
	return &CallValidator{client: client, abi: parsed}, nil
}

// ValidateSignature calls signer.isValidSignature(digest, signature) and
// returns the 4-byte value the contract produced.
func (v *CallValidator) ValidateSignature(
	ctx context.Context,
	signer common.Address,
	digest common.Hash,
	signature []byte,
) ([4]byte, error) {
	var magic [4]byte

	data, err := v.abi.Pack("isValidSignature", digest, signature)
	if err != nil {
		return magic, pkgerrors.Wrap(err, "pack isValidSignature call")
	}

	out, err := v.client.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: data}, nil)
	if err != nil {
		return magic, pkgerrors.Wrap(err, "call isValidSignature")
	}

	results, err := v.abi.Unpack("isValidSignature", out)
	if err != nil {
		return magic, pkgerrors.Wrap(err, "decode isValidSignature return")
	}
	value, ok := results[0].([4]byte)
	if !ok {
		return magic, fmt.Errorf("unexpected isValidSignature return type %T", results[0])
	}
	return value, nil
}
