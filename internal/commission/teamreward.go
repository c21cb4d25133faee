package commission

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

// EvaluateTeamRewards advances the team-reward state machine for one
// account against its current team deposit total. A tier moves pending →
// completed once the deposit has been sustained above the threshold for
// the tier's hold period; a dip below the threshold resets or pauses the
// timer per the configured policy. Returns any reward entries credited.
func (e *Engine) EvaluateTeamRewards(ctx context.Context, accountID int64) ([]*domain.LedgerEntry, error) {
	rule, err := e.store.ActiveRule(ctx)
	if err != nil {
		return nil, err
	}
	teamDeposit, err := e.store.TeamDeposit(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var credited []*domain.LedgerEntry
	err = e.ledger.WithRetry(ctx, []int64{accountID}, func(tx store.Tx) error {
		credited = credited[:0]
		now := e.now()
		for tier, t := range rule.TeamRewardTiers {
			entry, err := e.stepTeamReward(ctx, tx, accountID, tier, t, teamDeposit, now)
			if err != nil {
				return err
			}
			if entry != nil {
				credited = append(credited, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credited, nil
}

func (e *Engine) stepTeamReward(ctx context.Context, tx store.Tx, accountID int64, tier int, t domain.TeamRewardTier, teamDeposit int64, now time.Time) (*domain.LedgerEntry, error) {
	tr, err := tx.TeamReward(ctx, accountID, tier)
	if err != nil {
		return nil, err
	}
	if tr != nil && tr.State == domain.TeamRewardCompleted {
		return nil, nil
	}

	if teamDeposit < t.MinTeamDeposit {
		if tr == nil {
			return nil, nil
		}
		switch e.dip {
		case DipPause:
			if !tr.StartedAt.IsZero() {
				tr.Accrued += now.Sub(tr.StartedAt)
				tr.StartedAt = time.Time{}
				return nil, tx.SaveTeamReward(ctx, tr)
			}
			return nil, nil
		default: // DipReset
			return nil, tx.DeleteTeamReward(ctx, accountID, tier)
		}
	}

	if tr == nil {
		return nil, tx.SaveTeamReward(ctx, &domain.TeamReward{
			AccountID: accountID,
			Tier:      tier,
			State:     domain.TeamRewardPending,
			StartedAt: now,
		})
	}

	if tr.StartedAt.IsZero() {
		// Paused timer resumes.
		tr.StartedAt = now
		return nil, tx.SaveTeamReward(ctx, tr)
	}

	hold := time.Duration(t.HoldDays) * 24 * time.Hour
	if tr.Accrued+now.Sub(tr.StartedAt) < hold {
		return nil, nil
	}

	claimed, err := tx.ClaimAward(ctx, accountID, domain.ProgramTeamReward, tier)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	entry, err := e.ledger.CreditInTx(ctx, tx, uuid.NewString(), accountID,
		domain.WalletMain, t.Reward, domain.ReasonBonus, nil)
	if err != nil {
		return nil, err
	}

	tr.State = domain.TeamRewardCompleted
	tr.CompletedAt = &now
	if err := tx.SaveTeamReward(ctx, tr); err != nil {
		return nil, err
	}
	e.log.Info().Int64("account", accountID).Int("tier", tier).
		Int64("reward", t.Reward).Msg("team reward completed")
	return entry, nil
}

// SweepTeamRewards evaluates every account's team rewards; wired to the
// cron schedule in cmd/api.
func (e *Engine) SweepTeamRewards(ctx context.Context) error {
	ids, err := e.store.AccountIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := e.EvaluateTeamRewards(ctx, id); err != nil {
			e.log.Error().Int64("account", id).Err(err).Msg("team reward sweep failed")
		}
	}
	return nil
}
