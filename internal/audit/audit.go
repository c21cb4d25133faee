package audit

import (
	"context"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

// Trail is the append-only read interface over the ledger used for
// reconciliation and reporting. It never mutates.
type Trail struct {
	store store.Store
}

func New(s store.Store) *Trail {
	return &Trail{store: s}
}

// Sum aggregates ledger deltas under the given filter.
func (t *Trail) Sum(ctx context.Context, f domain.EntryFilter) (domain.SumResult, error) {
	return t.store.SumEntries(ctx, f)
}

// WalletReport compares one wallet's stored balance to its ledger sum.
type WalletReport struct {
	Wallet    domain.WalletKind `json:"wallet"`
	Balance   int64             `json:"balance"`
	LedgerSum int64             `json:"ledger_sum"`
	Entries   int64             `json:"entries"`
}

// Consistent reports whether the stored balance matches the ledger.
func (r WalletReport) Consistent() bool { return r.Balance == r.LedgerSum }

// ReconcileReport is the per-account consistency check result.
type ReconcileReport struct {
	AccountID  int64          `json:"account_id"`
	Wallets    []WalletReport `json:"wallets"`
	Consistent bool           `json:"consistent"`
}

// Reconcile verifies that each of an account's wallet balances equals the
// running sum of that wallet's ledger deltas. Any mismatch flags a
// consistency breach for manual investigation.
func (t *Trail) Reconcile(ctx context.Context, accountID int64) (*ReconcileReport, error) {
	acct, err := t.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{AccountID: accountID, Consistent: true}
	for _, w := range []domain.WalletKind{domain.WalletMain, domain.WalletTopup} {
		wallet := w
		sum, err := t.store.SumEntries(ctx, domain.EntryFilter{AccountID: &accountID, Wallet: &wallet})
		if err != nil {
			return nil, err
		}
		wr := WalletReport{
			Wallet:    w,
			Balance:   acct.Balance(w),
			LedgerSum: sum.Amount,
			Entries:   sum.Count,
		}
		if !wr.Consistent() {
			report.Consistent = false
		}
		report.Wallets = append(report.Wallets, wr)
	}
	return report, nil
}
