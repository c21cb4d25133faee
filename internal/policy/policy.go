package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/ledger"
	"github.com/meridianfunds/walletcore/internal/store"
)

// Policy validates transfer requests, computes their fee, and delegates
// the balance mutation to the ledger. The daily-limit bookkeeping and the
// history record land in the same atomic unit as the transfer legs, so
// two concurrent requests cannot both pass the limit check.
type Policy struct {
	store  store.Store
	ledger *ledger.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

func New(s store.Store, l *ledger.Ledger, log zerolog.Logger) *Policy {
	return &Policy{
		store:  s,
		ledger: l,
		log:    log.With().Str("component", "policy").Logger(),
		now:    time.Now,
	}
}

// SetNow overrides the clock for tests.
func (p *Policy) SetNow(fn func() time.Time) { p.now = fn }

// Result is a completed transfer: the ledger legs plus the reporting row.
type Result struct {
	Transfer *ledger.TransferResult     `json:"transfer"`
	Record   *domain.FundTransferRecord `json:"record"`
}

// Request validates and executes one transfer.
func (p *Policy) Request(ctx context.Context, req domain.TransferRequest) (*Result, error) {
	rule, err := p.store.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}

	if req.Amount < rule.MinTransfer || req.Amount > rule.MaxTransfer {
		return nil, domain.ErrAmountOutOfRange
	}

	toID := req.ToAccountID
	feeBps := 0
	switch req.Kind {
	case domain.TransferSelf:
		// Movement between the user's own wallets, fee-free.
		toID = req.FromAccountID
		if req.FromWallet == req.ToWallet {
			return nil, domain.ErrSelfTransferNotAllowed
		}
	case domain.TransferPeer:
		if toID == req.FromAccountID {
			return nil, domain.ErrSelfTransferNotAllowed
		}
		if toID == 0 {
			return nil, domain.ErrAccountNotFound
		}
		feeBps = rule.PeerFeeBps
	case domain.TransferAdmin:
		if toID == 0 {
			return nil, domain.ErrAccountNotFound
		}
	default:
		return nil, domain.ErrSelfTransferNotAllowed
	}

	lockIDs := []int64{req.FromAccountID}
	if toID != req.FromAccountID {
		lockIDs = append(lockIDs, toID)
	}

	var res *Result
	err = p.ledger.WithRetry(ctx, lockIDs, func(tx store.Tx) error {
		from, err := tx.Account(ctx, req.FromAccountID)
		if err != nil {
			return err
		}

		now := p.now()
		if req.Kind == domain.TransferPeer {
			if err := p.checkPeer(rule, from, req.Amount, now); err != nil {
				return err
			}
		}

		eventID := uuid.NewString()
		transfer, err := p.ledger.TransferInTx(ctx, tx, eventID,
			req.FromAccountID, req.FromWallet, toID, req.ToWallet, req.Amount, feeBps)
		if err != nil {
			return err
		}

		if req.Kind == domain.TransferPeer {
			if err := tx.SetLastTransferAt(ctx, req.FromAccountID, now); err != nil {
				return err
			}
		}

		record := &domain.FundTransferRecord{
			EventID:       eventID,
			FromAccountID: req.FromAccountID,
			ToAccountID:   toID,
			Amount:        req.Amount,
			Fee:           transfer.DebitEntry.Fee,
			Kind:          req.Kind,
			Remark:        req.Remark,
		}
		if err := tx.InsertTransferRecord(ctx, record); err != nil {
			return err
		}

		res = &Result{Transfer: transfer, Record: record}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("event_id", res.Transfer.EventID).
		Str("kind", string(req.Kind)).
		Int64("from", req.FromAccountID).
		Int64("to", toID).
		Int64("amount", req.Amount).
		Int64("fee", res.Record.Fee).
		Msg("transfer completed")
	return res, nil
}

// checkPeer enforces the peer-transfer rules: an active investment, an
// amount equal to the allowed share of the last investment, and at most
// one transfer per calendar day.
func (p *Policy) checkPeer(rule *domain.CommissionRule, from *domain.Account, amount int64, now time.Time) error {
	if from.TotalInvestment == 0 {
		return domain.ErrNoActiveInvestment
	}

	base := from.LastInvestment
	if base == 0 {
		base = from.TotalInvestment
	}
	if amount != domain.ApplyBps(base, rule.PeerShareBps) {
		return domain.ErrAmountMismatch
	}

	if from.LastTransferAt != nil && sameCalendarDay(*from.LastTransferAt, now) {
		return domain.ErrDailyLimitExceeded
	}
	return nil
}

// Deduct performs an administrative balance deduction, recording both the
// ledger entry and the deduction history row atomically.
func (p *Policy) Deduct(ctx context.Context, accountID int64, wallet domain.WalletKind, amount int64, remark string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := p.ledger.WithRetry(ctx, []int64{accountID}, func(tx store.Tx) error {
		eventID := uuid.NewString()
		var err error
		entry, err = p.ledger.DebitInTx(ctx, tx, eventID, accountID, wallet, amount, domain.ReasonDeduction, nil)
		if err != nil {
			return err
		}
		return tx.InsertDeductionRecord(ctx, &domain.FundDeductionRecord{
			EventID:   eventID,
			AccountID: accountID,
			Wallet:    wallet,
			Amount:    amount,
			Remark:    remark,
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// sameCalendarDay compares two instants at the local midnight boundary.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
