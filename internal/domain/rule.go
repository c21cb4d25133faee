package domain

// ReferralTier maps an investment-amount threshold to a bonus rate.
type ReferralTier struct {
	MinInvestment int64 `json:"min_investment"`
	RateBps       int   `json:"rate_bps"`
}

// DepositBonusTier maps a deposit-amount threshold to a fixed bonus.
type DepositBonusTier struct {
	MinDeposit int64 `json:"min_deposit"`
	Bonus      int64 `json:"bonus"`
}

// ActiveMemberTier pays a fixed reward once both referral counts are met.
type ActiveMemberTier struct {
	MinDirectReferrals int   `json:"min_direct_referrals"`
	MinTeamSize        int   `json:"min_team_size"`
	Reward             int64 `json:"reward"`
}

// TeamRewardTier pays once a team deposit total has been sustained above
// the threshold for the hold period.
type TeamRewardTier struct {
	MinTeamDeposit int64 `json:"min_team_deposit"`
	HoldDays       int   `json:"hold_days"`
	Reward         int64 `json:"reward"`
}

// CommissionRule is the single active configuration version governing
// transfers and every bonus program. Rates are basis points so the
// arithmetic stays exact on integer minor units.
type CommissionRule struct {
	Version           int                `json:"version"`
	MinTransfer       int64              `json:"min_transfer"`
	MaxTransfer       int64              `json:"max_transfer"`
	PeerFeeBps        int                `json:"peer_fee_bps"`
	PeerShareBps      int                `json:"peer_share_bps"`
	ReferralTiers     []ReferralTier     `json:"referral_tiers"`
	TeamLevelBps      []int              `json:"team_level_bps"`
	FirstDepositTiers []DepositBonusTier `json:"first_deposit_tiers"`
	ActiveMemberTiers []ActiveMemberTier `json:"active_member_tiers"`
	TeamRewardTiers   []TeamRewardTier   `json:"team_reward_tiers"`
	Ranks             []Rank             `json:"ranks"`
}

// DefaultCommissionRule is the built-in version 1 configuration.
func DefaultCommissionRule() *CommissionRule {
	return &CommissionRule{
		Version:      1,
		MinTransfer:  10,
		MaxTransfer:  100_000_000,
		PeerFeeBps:   200,
		PeerShareBps: 2000,
		ReferralTiers: []ReferralTier{
			{MinInvestment: 100, RateBps: 500},
			{MinInvestment: 500, RateBps: 600},
			{MinInvestment: 1000, RateBps: 700},
			{MinInvestment: 3000, RateBps: 800},
			{MinInvestment: 5000, RateBps: 900},
			{MinInvestment: 10000, RateBps: 1000},
		},
		TeamLevelBps: []int{1600, 800, 400},
		FirstDepositTiers: []DepositBonusTier{
			{MinDeposit: 100, Bonus: 7},
			{MinDeposit: 500, Bonus: 15},
			{MinDeposit: 1000, Bonus: 50},
			{MinDeposit: 3000, Bonus: 100},
			{MinDeposit: 5000, Bonus: 200},
			{MinDeposit: 10000, Bonus: 500},
		},
		ActiveMemberTiers: []ActiveMemberTier{
			{MinDirectReferrals: 5, MinTeamSize: 10, Reward: 25},
			{MinDirectReferrals: 10, MinTeamSize: 50, Reward: 100},
			{MinDirectReferrals: 20, MinTeamSize: 100, Reward: 250},
			{MinDirectReferrals: 30, MinTeamSize: 200, Reward: 500},
			{MinDirectReferrals: 50, MinTeamSize: 500, Reward: 1500},
		},
		TeamRewardTiers: []TeamRewardTier{
			{MinTeamDeposit: 10000, HoldDays: 30, Reward: 500},
			{MinTeamDeposit: 50000, HoldDays: 60, Reward: 3000},
			{MinTeamDeposit: 100000, HoldDays: 90, Reward: 10000},
		},
		Ranks: DefaultRanks(),
	}
}

// ReferralRateBps returns the highest tier rate the investment qualifies
// for, or 0 when the amount is below the lowest tier.
func (r *CommissionRule) ReferralRateBps(investment int64) int {
	rate := 0
	for _, t := range r.ReferralTiers {
		if investment >= t.MinInvestment {
			rate = t.RateBps
		}
	}
	return rate
}

// FirstDepositBonus returns the highest qualifying first-deposit bonus,
// or 0 when the deposit is below the lowest tier.
func (r *CommissionRule) FirstDepositBonus(deposit int64) int64 {
	var bonus int64
	for _, t := range r.FirstDepositTiers {
		if deposit >= t.MinDeposit {
			bonus = t.Bonus
		}
	}
	return bonus
}

// ActiveMemberTierFor returns the index and reward of the highest tier
// fully satisfied by the given counts; index -1 when none qualify.
func (r *CommissionRule) ActiveMemberTierFor(direct, team int) (int, int64) {
	idx, reward := -1, int64(0)
	for i, t := range r.ActiveMemberTiers {
		if direct >= t.MinDirectReferrals && team >= t.MinTeamSize {
			idx, reward = i, t.Reward
		}
	}
	return idx, reward
}

// ApplyBps computes amount*bps/10000 with integer truncation.
func ApplyBps(amount int64, bps int) int64 {
	return amount * int64(bps) / 10000
}
