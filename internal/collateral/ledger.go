// Package collateral provides an in-process reservable balance ledger that
// satisfies domain.CollateralManager.
package collateral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"creaturecore/pkg/domain"
)

var (
	_ domain.CollateralManager  = (*Ledger)(nil)
	_ domain.CollateralReleaser = (*Ledger)(nil)
)

// ErrInsufficientBalance is returned when the free balance cannot cover a reservation.
var ErrInsufficientBalance = errors.New("collateral: insufficient free balance")

// ErrInsufficientReserved is returned when unreserving more than is locked.
var ErrInsufficientReserved = errors.New("collateral: insufficient reserved balance")

// Account is the balance pair of a single account.
type Account struct {
	Free     domain.Balance `json:"free" toml:"free"`
	Reserved domain.Balance `json:"reserved" toml:"reserved"`
}

// Reservation records one successful Reserve call.
type Reservation struct {
	Account domain.AccountID `json:"account"`
	Amount  domain.Balance   `json:"amount"`
}

// Ledger tracks free and reserved balances. Reservations move funds from free
// to reserved atomically; a failing reservation leaves both untouched.
type Ledger struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]Account
	history  []Reservation
}

// NewLedger seeds a ledger with genesis free balances.
func NewLedger(genesis map[domain.AccountID]domain.Balance) *Ledger {
	l := &Ledger{accounts: make(map[domain.AccountID]Account, len(genesis))}
	for account, free := range genesis {
		l.accounts[account] = Account{Free: free}
	}
	return l
}

// Reserve locks amount of account's free balance.
func (l *Ledger) Reserve(_ context.Context, account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if acct.Free < amount {
		return fmt.Errorf("%w: account %d has %d free, needs %d", ErrInsufficientBalance, account, acct.Free, amount)
	}
	acct.Free -= amount
	acct.Reserved += amount
	l.accounts[account] = acct
	l.history = append(l.history, Reservation{Account: account, Amount: amount})
	return nil
}

// Unreserve releases previously reserved funds back to the free balance.
func (l *Ledger) Unreserve(_ context.Context, account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if acct.Reserved < amount {
		return fmt.Errorf("%w: account %d has %d reserved, releasing %d", ErrInsufficientReserved, account, acct.Reserved, amount)
	}
	acct.Reserved -= amount
	acct.Free += amount
	l.accounts[account] = acct
	return nil
}

// Deposit credits free balance, e.g. when funding accounts after genesis.
func (l *Ledger) Deposit(account domain.AccountID, amount domain.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	acct.Free += amount
	l.accounts[account] = acct
}

// Account returns the balances of account.
func (l *Ledger) Account(account domain.AccountID) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account]
}

// Reservations returns every successful reservation in order.
func (l *Ledger) Reservations() []Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Reservation(nil), l.history...)
}

// Accounts returns all known account ids in ascending order.
func (l *Ledger) Accounts() []domain.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]domain.AccountID, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
