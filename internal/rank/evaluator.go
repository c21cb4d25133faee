package rank

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

// DemotionPolicy decides whether an achieved rank can be lost when the
// qualifying totals shrink. Sticky mirrors the historical only-upgrade
// behavior; Reevaluate follows the thresholds in both directions.
type DemotionPolicy string

const (
	DemotionSticky     DemotionPolicy = "sticky"
	DemotionReevaluate DemotionPolicy = "reevaluate"
)

// Evaluator assigns accounts the highest rank whose investment and team
// thresholds are both met, and propagates that rank's multipliers onto
// the account.
type Evaluator struct {
	store  store.Store
	log    zerolog.Logger
	policy DemotionPolicy
}

func New(s store.Store, log zerolog.Logger, policy DemotionPolicy) *Evaluator {
	if policy == "" {
		policy = DemotionSticky
	}
	return &Evaluator{
		store:  s,
		log:    log.With().Str("component", "rank").Logger(),
		policy: policy,
	}
}

// Evaluate returns the highest rank in the ladder whose thresholds the
// given totals meet, checking in strictly descending order so a stronger
// qualification is never shadowed by a weaker tier. Falls back to the
// lowest rank when nothing above it qualifies.
func Evaluate(ranks []domain.Rank, tradeBalance int64, activeTeam int) domain.Rank {
	for i := len(ranks) - 1; i >= 0; i-- {
		r := ranks[i]
		if tradeBalance >= r.MinTradeBalance && activeTeam >= r.MinActiveTeam {
			return r
		}
	}
	return ranks[0]
}

// Recompute re-ranks one account from its current investment total and
// team size, honoring the demotion policy, and writes the change and its
// propagated multipliers in one unit.
func (ev *Evaluator) Recompute(ctx context.Context, accountID int64) (domain.Rank, error) {
	rule, err := ev.store.ActiveRule(ctx)
	if err != nil {
		return domain.Rank{}, err
	}

	var result domain.Rank
	err = ev.store.WithinTx(ctx, []int64{accountID}, func(tx store.Tx) error {
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}

		target := Evaluate(rule.Ranks, acct.TotalInvestment, acct.TeamSize)
		if ev.policy == DemotionSticky && domain.RankIndex(target.Name) < domain.RankIndex(acct.Rank) {
			result = currentRank(rule.Ranks, acct.Rank)
			return nil
		}

		result = target
		if target.Name == acct.Rank {
			return nil
		}
		if err := tx.SetRank(ctx, accountID, target); err != nil {
			return err
		}
		ev.log.Info().Int64("account", accountID).
			Str("from", string(acct.Rank)).Str("to", string(target.Name)).
			Msg("rank changed")
		return nil
	})
	if err != nil {
		return domain.Rank{}, err
	}
	return result, nil
}

// RecomputeAll re-ranks every account; wired to the cron schedule.
func (ev *Evaluator) RecomputeAll(ctx context.Context) error {
	ids, err := ev.store.AccountIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := ev.Recompute(ctx, id); err != nil {
			ev.log.Error().Int64("account", id).Err(err).Msg("rank recompute failed")
		}
	}
	return nil
}

func currentRank(ranks []domain.Rank, name domain.RankName) domain.Rank {
	for _, r := range ranks {
		if r.Name == name {
			return r
		}
	}
	return ranks[0]
}
