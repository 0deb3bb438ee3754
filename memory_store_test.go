package permit_test

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-lamb-tech/permit"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x1000000000000000000000000000000000000001")
	other := common.HexToAddress("0x1000000000000000000000000000000000000002")

	t.Run("consume sets exactly one bit", func(t *testing.T) {
		store := permit.NewMemoryStore()
		require.NoError(t, store.Consume(ctx, owner, big.NewInt(7)))

		word, err := store.Word(ctx, owner, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 7).String(), word.String())
	})

	t.Run("consuming the same nonce twice fails", func(t *testing.T) {
		store := permit.NewMemoryStore()
		require.NoError(t, store.Consume(ctx, owner, big.NewInt(7)))

		err := store.Consume(ctx, owner, big.NewInt(7))
		assert.True(t, permit.IsCode(err, permit.ErrCodeInvalidNonce), "got %v", err)
	})

	t.Run("nonces are independent across bits, words and owners", func(t *testing.T) {
		store := permit.NewMemoryStore()
		require.NoError(t, store.Consume(ctx, owner, big.NewInt(7)))
		require.NoError(t, store.Consume(ctx, owner, big.NewInt(8)))

		// Nonce 256 lands in word 1 bit 0.
		require.NoError(t, store.Consume(ctx, owner, big.NewInt(256)))
		word1, err := store.Word(ctx, owner, big.NewInt(1))
		require.NoError(t, err)
		assert.Equal(t, "1", word1.String())

		// A different owner has a clean bitmap.
		require.NoError(t, store.Consume(ctx, other, big.NewInt(7)))
	})

	t.Run("a huge nonce maps to the expected word and bit", func(t *testing.T) {
		store := permit.NewMemoryStore()
		nonce, ok := new(big.Int).SetString("123456789123456789123456789", 10)
		require.True(t, ok)
		require.NoError(t, store.Consume(ctx, owner, nonce))

		word, err := store.Word(ctx, owner, permit.NonceWordIndex(nonce))
		require.NoError(t, err)
		assert.Equal(t, uint(1), word.Bit(int(permit.NonceBitPos(nonce))))
	})

	t.Run("invalidate ORs the mask into the word", func(t *testing.T) {
		store := permit.NewMemoryStore()
		require.NoError(t, store.Consume(ctx, owner, big.NewInt(0)))

		require.NoError(t, store.Invalidate(ctx, owner, big.NewInt(0), big.NewInt(0b1100)))
		word, err := store.Word(ctx, owner, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(0b1101).String(), word.String())

		// Invalidation never clears bits.
		require.NoError(t, store.Invalidate(ctx, owner, big.NewInt(0), big.NewInt(0b0010)))
		word, err = store.Word(ctx, owner, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(0b1111).String(), word.String())
	})

	t.Run("rejects out-of-range nonces", func(t *testing.T) {
		store := permit.NewMemoryStore()
		assert.Error(t, store.Consume(ctx, owner, big.NewInt(-1)))
		assert.Error(t, store.Consume(ctx, owner, new(big.Int).Lsh(big.NewInt(1), 256)))
		assert.Error(t, store.Consume(ctx, owner, nil))
	})

	t.Run("exactly one concurrent consumer wins", func(t *testing.T) {
		store := permit.NewMemoryStore()

		const workers = 32
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- store.Consume(ctx, owner, big.NewInt(42))
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
			} else {
				assert.True(t, permit.IsCode(err, permit.ErrCodeInvalidNonce), "got %v", err)
			}
		}
		assert.Equal(t, 1, wins)
	})
}
