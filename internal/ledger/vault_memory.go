package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Compile-time check that MemoryVault implements Vault.
var _ Vault = (*MemoryVault)(nil)

// MemoryVault is an in-memory vault for demo/development mode.
type MemoryVault struct {
	balances map[string]map[string]*big.Int // account -> asset -> balance
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[string]map[string]*big.Int)}
}

func (v *MemoryVault) Balance(_ context.Context, account, asset string) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if assets, ok := v.balances[account]; ok {
		if bal, ok := assets[asset]; ok {
			return new(big.Int).Set(bal), nil
		}
	}
	return big.NewInt(0), nil
}

func (v *MemoryVault) Credit(_ context.Context, account, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balance(account, asset)
	bal.Add(bal, amount)
	return nil
}

func (v *MemoryVault) Transfer(_ context.Context, from, to, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	src := v.balance(from, asset)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds insufficient %s", ErrInsufficientFunds, from, asset)
	}
	src.Sub(src, amount)
	dst := v.balance(to, asset)
	dst.Add(dst, amount)
	return nil
}

// balance returns the live balance entry, creating it at zero. Callers
// must hold the appropriate lock.
func (v *MemoryVault) balance(account, asset string) *big.Int {
	assets, ok := v.balances[account]
	if !ok {
		assets = make(map[string]*big.Int)
		v.balances[account] = assets
	}
	bal, ok := assets[asset]
	if !ok {
		bal = big.NewInt(0)
		assets[asset] = bal
	}
	return bal
}
