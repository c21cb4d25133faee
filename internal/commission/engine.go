package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/ledger"
	"github.com/meridianfunds/walletcore/internal/store"
)

// PropagationMode decides what an ancestor without a qualifying direct
// referral does to team-commission propagation: Skip leaves them uncredited
// but keeps walking up, Break stops the walk entirely.
type PropagationMode string

const (
	PropagationSkip  PropagationMode = "skip"
	PropagationBreak PropagationMode = "break"
)

// DipPolicy decides what happens to a running team-reward timer when the
// team deposit dips below the tier threshold: Reset discards the accrued
// time, Pause keeps it and resumes when the threshold is met again.
type DipPolicy string

const (
	DipReset DipPolicy = "reset"
	DipPause DipPolicy = "pause"
)

const teamCommissionDepth = 3

// Engine computes the bonus programs and issues the corresponding ledger
// credits. It never touches balances directly; every credit is a ledger
// operation tagged with the bonus reason.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	log    zerolog.Logger
	mode   PropagationMode
	dip    DipPolicy
	now    func() time.Time
}

// Options carries the configurable interpretations of the two rule
// ambiguities; zero values mean Skip and Reset.
type Options struct {
	Mode PropagationMode
	Dip  DipPolicy
}

func New(s store.Store, l *ledger.Ledger, log zerolog.Logger, opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = PropagationSkip
	}
	if opts.Dip == "" {
		opts.Dip = DipReset
	}
	return &Engine{
		store:  s,
		ledger: l,
		log:    log.With().Str("component", "commission").Logger(),
		mode:   opts.Mode,
		dip:    opts.Dip,
		now:    time.Now,
	}
}

// SetNow overrides the clock for tests.
func (e *Engine) SetNow(fn func() time.Time) { e.now = fn }

// ProcessInvestment records an investment event for an account: the topup
// wallet funds the investment, the account's totals advance, and the
// referral and team programs pay out. Returns every ledger entry written.
func (e *Engine) ProcessInvestment(ctx context.Context, investorID int64, amount int64) ([]*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var entries []*domain.LedgerEntry
	err := e.ledger.WithRetry(ctx, []int64{investorID}, func(tx store.Tx) error {
		entry, err := e.ledger.DebitInTx(ctx, tx, uuid.NewString(), investorID,
			domain.WalletTopup, amount, domain.ReasonDeduction, nil)
		if err != nil {
			return err
		}
		if err := tx.ApplyInvestment(ctx, investorID, amount); err != nil {
			return err
		}
		entries = []*domain.LedgerEntry{entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if referral, err := e.CreditReferralBonus(ctx, investorID, amount); err != nil {
		return entries, err
	} else if referral != nil {
		entries = append(entries, referral)
	}

	team, err := e.CreditTeamCommission(ctx, investorID, amount)
	if err != nil {
		return entries, err
	}
	return append(entries, team...), nil
}

// CreditReferralBonus pays the direct referrer their tiered share of the
// investment. Accounts without a referrer, and investments below the
// lowest tier, produce no entry.
func (e *Engine) CreditReferralBonus(ctx context.Context, investorID int64, investment int64) (*domain.LedgerEntry, error) {
	rule, err := e.store.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}
	investor, err := e.store.GetAccount(ctx, investorID)
	if err != nil {
		return nil, err
	}
	if investor.ReferrerID == nil {
		return nil, nil
	}
	rate := rule.ReferralRateBps(investment)
	if rate == 0 {
		return nil, nil
	}
	bonus := domain.ApplyBps(investment, rate)
	if bonus == 0 {
		return nil, nil
	}

	referrerID := *investor.ReferrerID
	var entry *domain.LedgerEntry
	err = e.ledger.WithRetry(ctx, []int64{referrerID}, func(tx store.Tx) error {
		var err error
		entry, err = e.ledger.CreditInTx(ctx, tx, uuid.NewString(), referrerID,
			domain.WalletMain, bonus, domain.ReasonBonus, &investorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Int64("referrer", referrerID).Int64("investor", investorID).
		Int64("bonus", bonus).Msg("referral bonus credited")
	return entry, nil
}

// CreditTeamCommission walks up to three levels of the referral chain and
// pays each qualifying ancestor their level's share of the investment. An
// ancestor with no direct referral of their own is handled per the
// configured propagation mode.
func (e *Engine) CreditTeamCommission(ctx context.Context, investorID int64, investment int64) ([]*domain.LedgerEntry, error) {
	rule, err := e.store.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}

	chain, err := e.uplineChain(ctx, investorID, teamCommissionDepth)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}

	// One active direct referral compulsory at every credited level; a
	// bare referral count is trivially satisfied by the chain itself.
	qualified := make([]bool, len(chain))
	for i, ancestorID := range chain {
		n, err := e.store.ActiveDirects(ctx, ancestorID)
		if err != nil {
			return nil, err
		}
		qualified[i] = n >= 1
	}

	var entries []*domain.LedgerEntry
	err = e.ledger.WithRetry(ctx, chain, func(tx store.Tx) error {
		entries = entries[:0]
		eventID := uuid.NewString()
		for level, ancestorID := range chain {
			if level >= len(rule.TeamLevelBps) {
				break
			}
			if !qualified[level] {
				if e.mode == PropagationBreak {
					break
				}
				continue
			}
			share := domain.ApplyBps(investment, rule.TeamLevelBps[level])
			if share == 0 {
				continue
			}
			entry, err := e.ledger.CreditInTx(ctx, tx, eventID, ancestorID,
				domain.WalletMain, share, domain.ReasonBonus, &investorID)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CreditFirstDepositBonus pays the one-time tiered bonus on an account's
// first qualifying deposit. The award marker makes later calls no-ops.
func (e *Engine) CreditFirstDepositBonus(ctx context.Context, accountID int64, deposit int64) (*domain.LedgerEntry, error) {
	rule, err := e.store.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}
	bonus := rule.FirstDepositBonus(deposit)
	if bonus == 0 {
		return nil, nil
	}

	var entry *domain.LedgerEntry
	err = e.ledger.WithRetry(ctx, []int64{accountID}, func(tx store.Tx) error {
		entry = nil
		claimed, err := tx.ClaimAward(ctx, accountID, domain.ProgramFirstDeposit, 0)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		entry, err = e.ledger.CreditInTx(ctx, tx, uuid.NewString(), accountID,
			domain.WalletMain, bonus, domain.ReasonBonus, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditActiveMemberReward pays the highest (direct referrals, team size)
// tier the account fully satisfies. Each tier pays exactly once.
func (e *Engine) CreditActiveMemberReward(ctx context.Context, accountID int64) (*domain.LedgerEntry, error) {
	rule, err := e.store.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}

	var entry *domain.LedgerEntry
	err = e.ledger.WithRetry(ctx, []int64{accountID}, func(tx store.Tx) error {
		entry = nil
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		tier, reward := rule.ActiveMemberTierFor(acct.DirectReferrals, acct.TeamSize)
		if tier < 0 {
			return nil
		}
		claimed, err := tx.ClaimAward(ctx, accountID, domain.ProgramActiveMember, tier)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		entry, err = e.ledger.CreditInTx(ctx, tx, uuid.NewString(), accountID,
			domain.WalletMain, reward, domain.ReasonBonus, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// uplineChain returns up to depth ancestor ids, nearest first.
func (e *Engine) uplineChain(ctx context.Context, accountID int64, depth int) ([]int64, error) {
	var chain []int64
	cur, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for cur.ReferrerID != nil && len(chain) < depth {
		id := *cur.ReferrerID
		chain = append(chain, id)
		cur, err = e.store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}
