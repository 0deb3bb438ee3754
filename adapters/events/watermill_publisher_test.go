package events_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-lamb-tech/permit"
	"github.com/thomas-lamb-tech/permit/adapters/events"
)

func receiveOne(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestWatermillPublisher(t *testing.T) {
	ctx := context.Background()

	newBus := func(t *testing.T) *gochannel.GoChannel {
		t.Helper()
		bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
		t.Cleanup(func() { _ = bus.Close() })
		return bus
	}

	t.Run("transfer events arrive on the transfer topic", func(t *testing.T) {
		bus := newBus(t)
		messages, err := bus.Subscribe(ctx, events.TopicTransfer)
		require.NoError(t, err)

		publisher := events.NewWatermillPublisher(bus)
		err = publisher.PublishTransfer(ctx, permit.TransferEvent{
			Owner:  common.HexToAddress("0x1000000000000000000000000000000000000001"),
			Token:  common.HexToAddress("0x00000000000000000000000000000000000000Aa"),
			To:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Amount: big.NewInt(100),
		})
		require.NoError(t, err)

		msg := receiveOne(t, messages)
		require.NotEmpty(t, msg.UUID)

		var payload events.TransferMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, common.HexToAddress("0x1000000000000000000000000000000000000001"), common.HexToAddress(payload.Owner))
		assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000Aa"), common.HexToAddress(payload.Token))
		assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), common.HexToAddress(payload.To))
		assert.Equal(t, "100", payload.Amount)
	})

	t.Run("invalidation events arrive on the invalidation topic", func(t *testing.T) {
		bus := newBus(t)
		messages, err := bus.Subscribe(ctx, events.TopicNonceInvalidation)
		require.NoError(t, err)

		publisher := events.NewWatermillPublisher(bus)
		err = publisher.PublishNonceInvalidation(ctx, permit.NonceInvalidationEvent{
			Owner:     common.HexToAddress("0x1000000000000000000000000000000000000001"),
			WordIndex: big.NewInt(3),
			Mask:      big.NewInt(0b101),
		})
		require.NoError(t, err)

		msg := receiveOne(t, messages)

		var payload events.NonceInvalidationMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "3", payload.WordIndex)
		assert.Equal(t, "5", payload.Mask)
	})
}
