package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

const (
	maxRetries  = 3
	baseBackoff = 10 * time.Millisecond
)

// Ledger is the sole authority for mutating wallet balances. Every
// mutation pairs a balance adjustment with an immutable ledger entry
// inside one store transaction, so the running sum of deltas always
// equals the stored balance.
type Ledger struct {
	store store.Store
	log   zerolog.Logger
}

func New(s store.Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: s, log: log.With().Str("component", "ledger").Logger()}
}

// TransferResult groups the entries of one atomic transfer.
type TransferResult struct {
	EventID     string              `json:"event_id"`
	DebitEntry  *domain.LedgerEntry `json:"debit_entry"`
	FeeEntry    *domain.LedgerEntry `json:"fee_entry,omitempty"`
	CreditEntry *domain.LedgerEntry `json:"credit_entry"`
}

// Entries returns the non-nil legs in ledger order.
func (r *TransferResult) Entries() []*domain.LedgerEntry {
	out := []*domain.LedgerEntry{r.DebitEntry}
	if r.FeeEntry != nil {
		out = append(out, r.FeeEntry)
	}
	return append(out, r.CreditEntry)
}

// WithRetry runs fn as one atomic unit, retrying bounded times with
// backoff when the store reports a serialization conflict.
func (l *Ledger) WithRetry(ctx context.Context, lockIDs []int64, fn func(store.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(baseBackoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = l.store.WithinTx(ctx, lockIDs, fn)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		l.log.Warn().Int("attempt", attempt+1).Msg("serialization conflict, retrying")
	}
	return err
}

// Debit removes amount from one wallet. Fails with ErrInvalidAmount for
// non-positive amounts and ErrInsufficientFunds when the wallet would go
// negative; neither failure writes an entry.
func (l *Ledger) Debit(ctx context.Context, accountID int64, wallet domain.WalletKind, amount int64, reason domain.ReasonCode, related *int64) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.WithRetry(ctx, []int64{accountID}, func(tx store.Tx) error {
		var err error
		entry, err = l.DebitInTx(ctx, tx, uuid.NewString(), accountID, wallet, amount, reason, related)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit adds amount to one wallet.
func (l *Ledger) Credit(ctx context.Context, accountID int64, wallet domain.WalletKind, amount int64, reason domain.ReasonCode, related *int64) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.WithRetry(ctx, []int64{accountID}, func(tx store.Tx) error {
		var err error
		entry, err = l.CreditInTx(ctx, tx, uuid.NewString(), accountID, wallet, amount, reason, related)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AtomicTransfer moves amount between wallets, deducting fee computed
// from feeBps. The debit, fee, and credit legs commit together or not at
// all.
func (l *Ledger) AtomicTransfer(ctx context.Context, fromID int64, fromWallet domain.WalletKind, toID int64, toWallet domain.WalletKind, amount int64, feeBps int) (*TransferResult, error) {
	var res *TransferResult
	err := l.WithRetry(ctx, []int64{fromID, toID}, func(tx store.Tx) error {
		var err error
		res, err = l.TransferInTx(ctx, tx, uuid.NewString(), fromID, fromWallet, toID, toWallet, amount, feeBps)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DebitInTx is the transactional building block behind Debit; the policy
// and commission engine call it so their own writes share the unit.
func (l *Ledger) DebitInTx(ctx context.Context, tx store.Tx, eventID string, accountID int64, wallet domain.WalletKind, amount int64, reason domain.ReasonCode, related *int64) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	acct, err := tx.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Balance(wallet) < amount {
		return nil, domain.ErrInsufficientFunds
	}
	return l.apply(ctx, tx, &domain.LedgerEntry{
		EventID:          eventID,
		AccountID:        accountID,
		Wallet:           wallet,
		Delta:            -amount,
		Reason:           reason,
		RelatedAccountID: related,
		Amount:           amount,
	})
}

// CreditInTx is the transactional building block behind Credit.
func (l *Ledger) CreditInTx(ctx context.Context, tx store.Tx, eventID string, accountID int64, wallet domain.WalletKind, amount int64, reason domain.ReasonCode, related *int64) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := tx.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, &domain.LedgerEntry{
		EventID:          eventID,
		AccountID:        accountID,
		Wallet:           wallet,
		Delta:            amount,
		Reason:           reason,
		RelatedAccountID: related,
		Amount:           amount,
	})
}

// TransferInTx performs the debit/fee/credit legs of a transfer inside an
// existing transaction. The source is debited the full amount, split into
// a transfer_out entry for the net and a fee entry, so per-wallet delta
// sums stay exact.
func (l *Ledger) TransferInTx(ctx context.Context, tx store.Tx, eventID string, fromID int64, fromWallet domain.WalletKind, toID int64, toWallet domain.WalletKind, amount int64, feeBps int) (*TransferResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	fee := domain.ApplyBps(amount, feeBps)
	net := amount - fee

	from, err := tx.Account(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Account(ctx, toID); err != nil {
		return nil, err
	}
	if from.Balance(fromWallet) < amount {
		return nil, domain.ErrInsufficientFunds
	}

	res := &TransferResult{EventID: eventID}

	res.DebitEntry, err = l.apply(ctx, tx, &domain.LedgerEntry{
		EventID:          eventID,
		AccountID:        fromID,
		Wallet:           fromWallet,
		Delta:            -net,
		Reason:           domain.ReasonTransferOut,
		RelatedAccountID: &toID,
		Amount:           amount,
		Fee:              fee,
	})
	if err != nil {
		return nil, err
	}

	if fee > 0 {
		res.FeeEntry, err = l.apply(ctx, tx, &domain.LedgerEntry{
			EventID:          eventID,
			AccountID:        fromID,
			Wallet:           fromWallet,
			Delta:            -fee,
			Reason:           domain.ReasonFee,
			RelatedAccountID: &toID,
			Amount:           fee,
		})
		if err != nil {
			return nil, err
		}
	}

	res.CreditEntry, err = l.apply(ctx, tx, &domain.LedgerEntry{
		EventID:          eventID,
		AccountID:        toID,
		Wallet:           toWallet,
		Delta:            net,
		Reason:           domain.ReasonTransferIn,
		RelatedAccountID: &fromID,
		Amount:           net,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// apply writes the balance adjustment and its paired entry.
func (l *Ledger) apply(ctx context.Context, tx store.Tx, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if err := tx.AdjustBalance(ctx, e.AccountID, e.Wallet, e.Delta); err != nil {
		return nil, err
	}
	if err := tx.InsertEntry(ctx, e); err != nil {
		l.log.Error().Str("event_id", e.EventID).Int64("account_id", e.AccountID).
			Err(err).Msg("entry write failed after balance adjustment, unit will roll back")
		return nil, err
	}
	return e, nil
}
