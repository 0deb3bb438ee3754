package permit

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Lua scripts execute atomically on the Redis side, which gives Consume its
// indivisible test-and-set across engine replicas sharing one store.
var (
	consumeScript = redis.NewScript(`
if redis.call('GETBIT', KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call('SETBIT', KEYS[1], ARGV[1], 1)
return 1
`)

	invalidateScript = redis.NewScript(`
for i = 1, #ARGV do
  redis.call('SETBIT', KEYS[1], ARGV[i], 1)
end
return #ARGV
`)
)

// RedisStore implements NonceStore on Redis. Each (owner, word) pair maps to
// one key holding a 32-byte bitmap, so multiple engine instances share a
// single replay-protection domain.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a nonce store on an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: "permit:nonces",
	}
}

// Word reads the stored bitmap for (owner, wordIndex), zero when absent.
func (s *RedisStore) Word(ctx context.Context, owner common.Address, wordIndex *big.Int) (*big.Int, error) {
	if err := validateWordIndex(wordIndex); err != nil {
		return nil, err
	}

	raw, err := s.client.Get(ctx, s.key(owner, wordIndex)).Bytes()
	if err == redis.Nil {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read nonce word")
	}

	// SETBIT grows the value as needed; pad to the full big-endian word.
	buf := make([]byte, 32)
	copy(buf, raw)
	return new(big.Int).SetBytes(buf), nil
}

// Consume atomically tests and sets the nonce's bit via a Lua script.
func (s *RedisStore) Consume(ctx context.Context, owner common.Address, nonce *big.Int) error {
	if err := validateNonce(nonce); err != nil {
		return err
	}
	key := s.key(owner, NonceWordIndex(nonce))
	offset := redisBitOffset(NonceBitPos(nonce))

	set, err := consumeScript.Run(ctx, s.client, []string{key}, offset).Int64()
	if err != nil {
		return pkgerrors.Wrap(err, "consume nonce")
	}
	if set == 0 {
		return NewError(ErrCodeInvalidNonce, "nonce already used")
	}
	return nil
}

// Invalidate sets every bit of mask in one atomic script call.
func (s *RedisStore) Invalidate(ctx context.Context, owner common.Address, wordIndex, mask *big.Int) error {
	if err := validateWordIndex(wordIndex); err != nil {
		return err
	}
	if err := validateMask(mask); err != nil {
		return err
	}

	offsets := make([]interface{}, 0, mask.BitLen())
	for bit := 0; bit < mask.BitLen(); bit++ {
		if mask.Bit(bit) == 1 {
			offsets = append(offsets, redisBitOffset(uint(bit)))
		}
	}
	if len(offsets) == 0 {
		return nil
	}

	key := s.key(owner, wordIndex)
	if _, err := invalidateScript.Run(ctx, s.client, []string{key}, offsets...).Result(); err != nil {
		return pkgerrors.Wrap(err, "invalidate nonces")
	}
	return nil
}

func (s *RedisStore) key(owner common.Address, wordIndex *big.Int) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, strings.ToLower(owner.Hex()), wordIndex.String())
}

// redisBitOffset maps a word bit position (LSB = 0) to a Redis SETBIT offset.
// Redis addresses bits MSB-first from the start of the value, so bit b of the
// big-endian 32-byte word lives at offset 255 - b. This keeps GET results
// directly decodable as a big-endian integer.
func redisBitOffset(bit uint) int64 {
	return int64(255 - bit)
}
