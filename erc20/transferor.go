package erc20

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const transferFromABI = `[{
	"name": "transferFrom",
	"type": "function",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "amount", "type": "uint256"}
	],
	"outputs": [{"name": "", "type": "bool"}]
}]`

const receiptPollInterval = 2 * time.Second

// Transferor executes engine transfer legs on-chain by submitting ERC-20
// transferFrom transactions from a relayer key. The relayer account must
// hold a token allowance from each owner it moves funds for. A transaction
// whose receipt reports failure is surfaced as an error, matching the
// "transfer that reverts on failure" contract the engine expects.
type Transferor struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	sender     common.Address
	chainID    *big.Int
	abi        abi.ABI
	logger     *zap.Logger
}

// NewTransferor creates a transferor from a hex-encoded relayer key.
func NewTransferor(client *ethclient.Client, privateKeyHex string, chainID *big.Int, logger *zap.Logger) (*Transferor, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(transferFromABI))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse transferFrom abi")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transferor{
		client:     client,
		privateKey: privateKey,
		sender:     crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    new(big.Int).Set(chainID),
		abi:        parsed,
		logger:     logger,
	}, nil
}

// Sender returns the relayer address transactions are sent from.
func (t *Transferor) Sender() common.Address {
	return t.sender
}

// Transfer submits token.transferFrom(from, to, amount) and waits for the
// transaction to be mined.
func (t *Transferor) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	data, err := t.abi.Pack("transferFrom", from, to, amount)
	if err != nil {
		return pkgerrors.Wrap(err, "pack transferFrom call")
	}

	nonce, err := t.client.PendingNonceAt(ctx, t.sender)
	if err != nil {
		return pkgerrors.Wrap(err, "fetch relayer nonce")
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "suggest gas price")
	}
	gasLimit, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From: t.sender,
		To:   &token,
		Data: data,
	})
	if err != nil {
		// Estimation reverts when the transfer itself would revert, e.g. on
		// a missing allowance or insufficient balance.
		return fmt.Errorf("transferFrom would revert: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.privateKey)
	if err != nil {
		return pkgerrors.Wrap(err, "sign transaction")
	}
	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return pkgerrors.Wrap(err, "send transaction")
	}

	t.logger.Debug("transferFrom submitted",
		zap.String("token", token.Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("tx", signedTx.Hash().Hex()))

	receipt, err := t.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transferFrom reverted in tx %s", signedTx.Hash().Hex())
	}
	return nil
}

func (t *Transferor) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, pkgerrors.Wrap(err, "fetch receipt")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
