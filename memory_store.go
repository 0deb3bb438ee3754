package permit

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore implements NonceStore with an in-process map. It is the
// default for single-instance deployments and for tests; multi-instance
// deployments sharing one replay-protection domain should use RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	words map[common.Address]map[string]*big.Int
}

// NewMemoryStore creates an empty in-memory nonce bitmap.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		words: make(map[common.Address]map[string]*big.Int),
	}
}

// Word returns the stored 256-bit mask, zero for words never written.
func (s *MemoryStore) Word(ctx context.Context, owner common.Address, wordIndex *big.Int) (*big.Int, error) {
	if err := validateWordIndex(wordIndex); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	word, ok := s.words[owner][wordIndex.String()]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(word), nil
}

// Consume atomically tests and sets the nonce's bit under the store mutex.
func (s *MemoryStore) Consume(ctx context.Context, owner common.Address, nonce *big.Int) error {
	if err := validateNonce(nonce); err != nil {
		return err
	}
	key := NonceWordIndex(nonce).String()
	bit := int(NonceBitPos(nonce))

	s.mu.Lock()
	defer s.mu.Unlock()

	word := s.words[owner][key]
	if word != nil && word.Bit(bit) == 1 {
		return NewError(ErrCodeInvalidNonce, "nonce already used")
	}
	if word == nil {
		word = new(big.Int)
	}
	word = new(big.Int).SetBit(word, bit, 1)
	s.setWordLocked(owner, key, word)
	return nil
}

// Invalidate ORs mask into the stored word.
func (s *MemoryStore) Invalidate(ctx context.Context, owner common.Address, wordIndex, mask *big.Int) error {
	if err := validateWordIndex(wordIndex); err != nil {
		return err
	}
	if err := validateMask(mask); err != nil {
		return err
	}
	key := wordIndex.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	word := s.words[owner][key]
	if word == nil {
		word = new(big.Int)
	}
	s.setWordLocked(owner, key, new(big.Int).Or(word, mask))
	return nil
}

func (s *MemoryStore) setWordLocked(owner common.Address, key string, word *big.Int) {
	byOwner, ok := s.words[owner]
	if !ok {
		byOwner = make(map[string]*big.Int)
		s.words[owner] = byOwner
	}
	byOwner[key] = word
}
