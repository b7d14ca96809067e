// Package balance keeps the engine's view of account balances.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RatioScale is the number of decimal places kept by allocation division.
const RatioScale int32 = 8

var (
	// ErrInsufficientFunds is returned when a withdrawal or fee exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownAsset is returned for assets the ledger does not track.
	ErrUnknownAsset = errors.New("unknown asset")
)

// AccountSource reads balances from the exchange.
type AccountSource interface {
	Account(ctx context.Context, asset string) (Snapshot, error)
}

// Snapshot is an exchange-reported balance.
type Snapshot struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Account is one balance record. Total == Available + Unavailable after
// every sync.
type Account struct {
	Asset       string          `json:"asset"`
	Total       decimal.Decimal `json:"total"`
	Available   decimal.Decimal `json:"available"`
	Unavailable decimal.Decimal `json:"unavailable"`
	LastSync    time.Time       `json:"last_sync"`
}

func (a *Account) sync() {
	a.Total = a.Available.Add(a.Unavailable)
}

// Reservation records a withdrawal so it can be undone exactly.
type Reservation struct {
	Asset  string
	Amount decimal.Decimal
	Fee    decimal.Decimal
	undone bool
}

// Ledger manages account balances for every tracked asset.
type Ledger struct {
	source       AccountSource
	syncInterval time.Duration
	log          *zap.Logger

	mu       sync.RWMutex
	accounts map[string]*Account

	gate atomic.Bool
}

// NewLedger creates a ledger tracking assets. source may be nil in dry-run
// mode, in which case balances come from SetInitial.
func NewLedger(source AccountSource, syncInterval time.Duration, log *zap.Logger, assets ...string) *Ledger {
	l := &Ledger{
		source:       source,
		syncInterval: syncInterval,
		log:          log,
		accounts:     make(map[string]*Account, len(assets)),
	}
	for _, a := range assets {
		l.accounts[a] = &Account{Asset: a}
	}
	return l
}

// Start begins periodic balance refresh.
func (l *Ledger) Start(ctx context.Context) {
	if err := l.Refresh(ctx); err != nil {
		l.log.Error("initial balance refresh failed", zap.Error(err))
	}
	if l.source == nil || l.syncInterval <= 0 {
		return
	}

	ticker := time.NewTicker(l.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					l.log.Error("balance refresh failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Refresh pulls every tracked asset from the exchange. It is skipped while
// an allocation holds the gate so in-flight reservations are not
// overwritten.
func (l *Ledger) Refresh(ctx context.Context) error {
	if l.source == nil {
		return nil
	}
	if !l.TryAcquire() {
		l.log.Debug("balance refresh skipped, gate busy")
		return nil
	}
	defer l.Release()

	for _, asset := range l.Assets() {
		snap, err := l.source.Account(ctx, asset)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", asset, err)
		}
		l.mu.Lock()
		acc := l.accounts[asset]
		acc.Available = snap.Available
		acc.Unavailable = snap.Total.Sub(snap.Available)
		acc.sync()
		acc.LastSync = time.Now()
		l.mu.Unlock()

		l.log.Info("balance synced",
			zap.String("asset", asset),
			zap.Stringer("total", snap.Total),
			zap.Stringer("available", snap.Available))
	}
	return nil
}

// SetInitial sets a balance directly (dry-run mode).
func (l *Ledger) SetInitial(asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[asset] = &Account{
		Asset:     asset,
		Total:     amount,
		Available: amount,
		LastSync:  time.Now(),
	}
	l.log.Info("initial balance set", zap.String("asset", asset), zap.Stringer("amount", amount))
}

// Assets lists tracked assets.
func (l *Ledger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.accounts))
	for a := range l.accounts {
		out = append(out, a)
	}
	return out
}

// Get returns a copy of the account for asset.
func (l *Ledger) Get(asset string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[asset]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return *acc, nil
}

// Available returns the spendable balance of asset.
func (l *Ledger) Available(asset string) (decimal.Decimal, error) {
	acc, err := l.Get(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Available, nil
}

// Allocate returns the per-symbol budget total*ratio/symbolCount. It does
// not mutate the ledger.
func (l *Ledger) Allocate(asset string, ratio decimal.Decimal, symbolCount int) (decimal.Decimal, error) {
	if symbolCount <= 0 {
		return decimal.Zero, fmt.Errorf("allocate %s: symbol count %d", asset, symbolCount)
	}
	acc, err := l.Get(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Total.Mul(ratio).DivRound(decimal.NewFromInt(int64(symbolCount)), RatioScale), nil
}

// Withdraw moves amount from available to unavailable.
func (l *Ledger) Withdraw(amount decimal.Decimal, asset string) (*Reservation, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("withdraw %s: negative amount %s", asset, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	acc.sync()
	if amount.GreaterThan(acc.Available) {
		return nil, fmt.Errorf("%w: need %s, have %s %s", ErrInsufficientFunds, amount, acc.Available, asset)
	}
	acc.Available = acc.Available.Sub(amount)
	acc.Unavailable = acc.Unavailable.Add(amount)
	acc.sync()

	l.log.Debug("balance withdrawn",
		zap.String("asset", asset),
		zap.Stringer("amount", amount),
		zap.Stringer("available", acc.Available))
	return &Reservation{Asset: asset, Amount: amount, Fee: decimal.Zero}, nil
}

// CommitFee debits fee from available. When the fee cannot be covered the
// whole reservation is undone.
func (l *Ledger) CommitFee(res *Reservation, fee decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[res.Asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, res.Asset)
	}
	if fee.GreaterThan(acc.Available) {
		l.undoLocked(acc, res)
		return fmt.Errorf("%w: fee %s, have %s %s", ErrInsufficientFunds, fee, acc.Available, res.Asset)
	}
	acc.Available = acc.Available.Sub(fee)
	res.Fee = res.Fee.Add(fee)
	acc.sync()
	return nil
}

// Undo restores the state before Withdraw, including committed fees.
// Repeated calls are no-ops.
func (l *Ledger) Undo(res *Reservation) {
	if res == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[res.Asset]; ok {
		l.undoLocked(acc, res)
	}
}

func (l *Ledger) undoLocked(acc *Account, res *Reservation) {
	if res.undone {
		return
	}
	acc.Unavailable = acc.Unavailable.Sub(res.Amount)
	acc.Available = acc.Available.Add(res.Amount).Add(res.Fee)
	acc.sync()
	res.undone = true

	l.log.Debug("reservation undone",
		zap.String("asset", res.Asset),
		zap.Stringer("amount", res.Amount),
		zap.Stringer("fee", res.Fee))
}

// Deposit credits available. Negative amounts debit it.
func (l *Ledger) Deposit(amount decimal.Decimal, asset string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	acc.Available = acc.Available.Add(amount)
	acc.sync()
	return nil
}

// ReleaseMargin moves margin held by a closed position back to available.
func (l *Ledger) ReleaseMargin(asset string, margin decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if margin.GreaterThan(acc.Unavailable) {
		l.log.Warn("margin exceeds unavailable balance, clamping",
			zap.String("asset", asset),
			zap.Stringer("margin", margin),
			zap.Stringer("unavailable", acc.Unavailable))
		margin = acc.Unavailable
	}
	acc.Unavailable = acc.Unavailable.Sub(margin)
	acc.Available = acc.Available.Add(margin)
	acc.sync()
	return nil
}

// TryAcquire takes the admission gate that serializes
// allocate, withdraw and commit across strategies.
func (l *Ledger) TryAcquire() bool {
	return l.gate.CompareAndSwap(false, true)
}

// Release frees the admission gate.
func (l *Ledger) Release() {
	l.gate.Store(false)
}

// Balances returns a copy of every account.
func (l *Ledger) Balances() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, *acc)
	}
	return out
}
