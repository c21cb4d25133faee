package rank

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

func TestEvaluate(t *testing.T) {
	ranks := domain.DefaultRanks()
	cases := []struct {
		name    string
		balance int64
		team    int
		want    domain.RankName
	}{
		{"below everything falls to the base", 0, 0, domain.RankActive},
		{"base thresholds", 50, 0, domain.RankActive},
		{"balance alone is not enough", 100000, 0, domain.RankActive},
		{"prime", 500, 5, domain.RankPrime},
		{"higher tier shadows lower", 2500, 11, domain.RankVeteran},
		{"team alone is not enough", 50, 60, domain.RankActive},
		{"royal", 10000, 25, domain.RankRoyal},
		{"supreme", 50000, 60, domain.RankSupreme},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(ranks, tc.balance, tc.team)
			assert.Equal(t, tc.want, got.Name)
		})
	}
}

// grow gives an account the investment total and team size to rank with.
func grow(t *testing.T, mem *store.Memory, id int64, invested int64, team int) {
	t.Helper()
	ctx := context.Background()
	if invested > 0 {
		err := mem.WithinTx(ctx, []int64{id}, func(tx store.Tx) error {
			return tx.ApplyInvestment(ctx, id, invested)
		})
		require.NoError(t, err)
	}
	for i := 0; i < team; i++ {
		_, err := mem.CreateAccount(ctx, &id)
		require.NoError(t, err)
	}
}

func TestRecomputePromotesAndPropagates(t *testing.T) {
	mem := store.NewMemory()
	ev := New(mem, zerolog.Nop(), DemotionSticky)
	ctx := context.Background()

	id, err := mem.CreateAccount(ctx, nil)
	require.NoError(t, err)
	grow(t, mem, id, 2500, 11)

	r, err := ev.Recompute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RankVeteran, r.Name)

	acct, err := mem.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RankVeteran, acct.Rank)
	assert.Equal(t, 30, acct.TradeBoosterBps)
	assert.Equal(t, 150, acct.LevelROIBps)
	assert.Equal(t, int64(3), acct.DailyLimitView)
}

func TestRecomputeStickyKeepsRank(t *testing.T) {
	mem := store.NewMemory()
	ev := New(mem, zerolog.Nop(), DemotionSticky)
	ctx := context.Background()

	id, err := mem.CreateAccount(ctx, nil)
	require.NoError(t, err)
	grow(t, mem, id, 2500, 11)
	_, err = ev.Recompute(ctx, id)
	require.NoError(t, err)

	// The qualifying investment shrinks below the VETERAN threshold.
	err = mem.WithinTx(ctx, []int64{id}, func(tx store.Tx) error {
		return tx.ApplyInvestment(ctx, id, -2000)
	})
	require.NoError(t, err)

	r, err := ev.Recompute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RankVeteran, r.Name)

	acct, err := mem.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RankVeteran, acct.Rank)
}

func TestRecomputeReevaluateDemotes(t *testing.T) {
	mem := store.NewMemory()
	ev := New(mem, zerolog.Nop(), DemotionReevaluate)
	ctx := context.Background()

	id, err := mem.CreateAccount(ctx, nil)
	require.NoError(t, err)
	grow(t, mem, id, 2500, 11)
	_, err = ev.Recompute(ctx, id)
	require.NoError(t, err)

	err = mem.WithinTx(ctx, []int64{id}, func(tx store.Tx) error {
		return tx.ApplyInvestment(ctx, id, -2000)
	})
	require.NoError(t, err)

	r, err := ev.Recompute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RankPrime, r.Name)

	acct, err := mem.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RankPrime, acct.Rank)
	assert.Equal(t, 20, acct.TradeBoosterBps)
}

func TestRecomputeUnknownAccount(t *testing.T) {
	mem := store.NewMemory()
	ev := New(mem, zerolog.Nop(), DemotionSticky)
	_, err := ev.Recompute(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRecomputeAll(t *testing.T) {
	mem := store.NewMemory()
	ev := New(mem, zerolog.Nop(), DemotionSticky)
	ctx := context.Background()

	a, err := mem.CreateAccount(ctx, nil)
	require.NoError(t, err)
	b, err := mem.CreateAccount(ctx, nil)
	require.NoError(t, err)
	grow(t, mem, a, 500, 5)

	require.NoError(t, ev.RecomputeAll(ctx))

	accA, err := mem.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.RankPrime, accA.Rank)
	accB, err := mem.GetAccount(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.RankActive, accB.Rank)
}
