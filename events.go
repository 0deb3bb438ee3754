package permit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent records one executed transfer leg.
type TransferEvent struct {
	Owner  common.Address
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// NonceInvalidationEvent records an owner-initiated bulk nonce invalidation.
type NonceInvalidationEvent struct {
	Owner     common.Address
	WordIndex *big.Int
	Mask      *big.Int
}

// NopPublisher discards all events. It is the engine default.
type NopPublisher struct{}

func (NopPublisher) PublishTransfer(context.Context, TransferEvent) error {
	return nil
}

func (NopPublisher) PublishNonceInvalidation(context.Context, NonceInvalidationEvent) error {
	return nil
}
