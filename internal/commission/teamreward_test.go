package commission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

// rewardFixture is a sponsor with one direct who has invested enough to
// meet the first team-reward tier (10000 for 30 days).
func rewardFixture(t *testing.T, dip DipPolicy) (*fixture, int64, int64) {
	f := newFixture(t, Options{Dip: dip})
	sponsor := f.account(t, nil)
	child := f.account(t, &sponsor)
	f.invest(t, child, 10000)
	return f, sponsor, child
}

// dip lowers the child's recorded investment so the sponsor's team deposit
// falls below the tier threshold.
func (f *fixture) dip(t *testing.T, child, amount int64) {
	t.Helper()
	ctx := context.Background()
	err := f.store.WithinTx(ctx, []int64{child}, func(tx store.Tx) error {
		return tx.ApplyInvestment(ctx, child, -amount)
	})
	require.NoError(t, err)
}

func at(f *fixture, ts time.Time) { f.engine.SetNow(func() time.Time { return ts }) }

func TestTeamRewardPaysAfterHoldPeriod(t *testing.T) {
	f, sponsor, _ := rewardFixture(t, DipReset)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	before := f.mainBalance(t, sponsor)

	at(f, start)
	credited, err := f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	assert.Empty(t, credited, "timer starts, nothing pays yet")

	// One day short of the hold period.
	at(f, start.Add(29*24*time.Hour))
	credited, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	assert.Empty(t, credited)

	at(f, start.Add(30*24*time.Hour))
	credited, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	require.Len(t, credited, 1)
	assert.Equal(t, int64(500), credited[0].Delta)
	assert.Equal(t, domain.ReasonBonus, credited[0].Reason)

	// Completed tiers never pay again.
	at(f, start.Add(90*24*time.Hour))
	credited, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	assert.Empty(t, credited)
	assert.Equal(t, int64(500), f.mainBalance(t, sponsor)-before)
}

func TestTeamRewardDipReset(t *testing.T) {
	f, sponsor, child := rewardFixture(t, DipReset)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	at(f, start)
	_, err := f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)

	// 20 days in, the team deposit dips: the timer is discarded.
	f.dip(t, child, 5000)
	at(f, start.Add(20*24*time.Hour))
	_, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)

	// Deposit recovers; the clock starts over from day 20.
	f.invest(t, f.account(t, &sponsor), 5000)
	at(f, start.Add(21*24*time.Hour))
	_, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)

	// Day 35: only 14 days on the new timer, so nothing pays.
	at(f, start.Add(35*24*time.Hour))
	credited, err := f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	assert.Empty(t, credited)

	// Day 51: 30 days since the restart.
	at(f, start.Add(51*24*time.Hour))
	credited, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	require.Len(t, credited, 1)
	assert.Equal(t, int64(500), credited[0].Delta)
}

func TestTeamRewardDipPause(t *testing.T) {
	f, sponsor, child := rewardFixture(t, DipPause)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	at(f, start)
	_, err := f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)

	// Dip at day 10 banks the 10 accrued days.
	f.dip(t, child, 5000)
	at(f, start.Add(10*24*time.Hour))
	_, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)

	// Recovery at day 20 resumes the timer with 10 days banked.
	f.invest(t, f.account(t, &sponsor), 5000)
	at(f, start.Add(20*24*time.Hour))
	_, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)

	// Day 39: 10 banked + 19 running = 29 days.
	at(f, start.Add(39*24*time.Hour))
	credited, err := f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	assert.Empty(t, credited)

	// Day 40 completes the 30-day hold.
	at(f, start.Add(40*24*time.Hour))
	credited, err = f.engine.EvaluateTeamRewards(ctx, sponsor)
	require.NoError(t, err)
	require.Len(t, credited, 1)
	assert.Equal(t, int64(500), credited[0].Delta)
}

func TestTeamRewardBelowThresholdNeverStarts(t *testing.T) {
	f := newFixture(t, Options{})
	sponsor := f.account(t, nil)
	child := f.account(t, &sponsor)
	f.invest(t, child, 9999)
	before := f.mainBalance(t, sponsor)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, d := range []time.Duration{0, 40 * 24 * time.Hour} {
		at(f, start.Add(d))
		credited, err := f.engine.EvaluateTeamRewards(context.Background(), sponsor)
		require.NoError(t, err)
		assert.Empty(t, credited)
	}
	assert.Equal(t, before, f.mainBalance(t, sponsor))
}

func TestSweepTeamRewards(t *testing.T) {
	f, sponsor, _ := rewardFixture(t, DipReset)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	before := f.mainBalance(t, sponsor)

	at(f, start)
	require.NoError(t, f.engine.SweepTeamRewards(ctx))

	at(f, start.Add(30*24*time.Hour))
	require.NoError(t, f.engine.SweepTeamRewards(ctx))
	assert.Equal(t, int64(500), f.mainBalance(t, sponsor)-before)
}
