// Package events adapts the engine's event sink onto a Watermill publisher,
// so transfer and nonce-invalidation events flow to whatever bus the
// deployment wires in (Redis streams in production, go channels in tests).
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/thomas-lamb-tech/permit"
)

// Topics the publisher emits on.
const (
	TopicTransfer          = "permit.transfer"
	TopicNonceInvalidation = "permit.nonce_invalidated"
)

// TransferMessage is the wire form of a transfer event. Addresses are hex,
// amounts decimal strings.
type TransferMessage struct {
	Owner  string `json:"owner"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// NonceInvalidationMessage is the wire form of a nonce invalidation event.
type NonceInvalidationMessage struct {
	Owner     string `json:"owner"`
	WordIndex string `json:"word_index"`
	Mask      string `json:"mask"`
}

// WatermillPublisher implements permit.EventPublisher over a Watermill
// message publisher.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher wraps an existing Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishTransfer emits one executed transfer leg.
func (p *WatermillPublisher) PublishTransfer(ctx context.Context, event permit.TransferEvent) error {
	return p.publish(TopicTransfer, TransferMessage{
		Owner:  event.Owner.Hex(),
		Token:  event.Token.Hex(),
		To:     event.To.Hex(),
		Amount: event.Amount.String(),
	})
}

// PublishNonceInvalidation emits an owner-initiated bulk invalidation.
func (p *WatermillPublisher) PublishNonceInvalidation(ctx context.Context, event permit.NonceInvalidationEvent) error {
	return p.publish(TopicNonceInvalidation, NonceInvalidationMessage{
		Owner:     event.Owner.Hex(),
		WordIndex: event.WordIndex.String(),
		Mask:      event.Mask.String(),
	})
}

func (p *WatermillPublisher) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
