// Package bank is an in-memory multi-token ledger implementing the engine's
// transfer primitive. It backs tests and single-process demo deployments;
// production deployments point the engine at an on-chain transferor instead.
package bank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thomas-lamb-tech/permit"
)

// Ledger holds per-token balances. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount of token to account.
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("mint amount must be non-negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(token, account, amount)
	return nil
}

// BalanceOf returns account's balance of token.
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[token][account]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

// Transfer moves exactly amount of token from from to to, failing with an
// insufficient-balance error when from cannot cover it. The debit and credit
// are one atomic step.
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[token][from]
	if !ok || balance.Cmp(amount) < 0 {
		return permit.NewError(permit.ErrCodeInsufficientBalance,
			fmt.Sprintf("account %s holds less than %s of token %s", from.Hex(), amount, token.Hex()))
	}

	balance.Sub(balance, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *Ledger) credit(token, account common.Address, amount *big.Int) {
	byToken, ok := l.balances[token]
	if !ok {
		byToken = make(map[common.Address]*big.Int)
		l.balances[token] = byToken
	}
	balance, ok := byToken[account]
	if !ok {
		balance = new(big.Int)
		byToken[account] = balance
	}
	balance.Add(balance, amount)
}
