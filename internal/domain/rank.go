package domain

// RankName is one of the fixed ordered rank tiers.
type RankName string

const (
	RankActive  RankName = "ACTIVE"
	RankPrime   RankName = "PRIME"
	RankVeteran RankName = "VETERAN"
	RankRoyal   RankName = "ROYAL"
	RankSupreme RankName = "SUPREME"
)

// Rank couples a tier with its qualification thresholds and the
// multipliers it propagates onto qualifying accounts.
type Rank struct {
	Name            RankName `json:"name"`
	MinTradeBalance int64    `json:"min_trade_balance"`
	MinActiveTeam   int      `json:"min_active_team"`
	TradeBoosterBps int      `json:"trade_booster_bps"`
	LevelROIBps     int      `json:"level_roi_bps"`
	DailyLimitView  int64    `json:"daily_limit_view"`
}

// rankOrder indexes ranks from lowest to highest tier.
var rankOrder = map[RankName]int{
	RankActive:  0,
	RankPrime:   1,
	RankVeteran: 2,
	RankRoyal:   3,
	RankSupreme: 4,
}

// RankIndex returns the ordinal position of a rank (ACTIVE is 0).
// Unknown names sort below ACTIVE.
func RankIndex(n RankName) int {
	if i, ok := rankOrder[n]; ok {
		return i
	}
	return -1
}

// DefaultRanks is the built-in rank ladder, lowest tier first. The seeder
// persists these as the initial configuration.
func DefaultRanks() []Rank {
	return []Rank{
		{Name: RankActive, MinTradeBalance: 50, MinActiveTeam: 0, TradeBoosterBps: 10, LevelROIBps: 50, DailyLimitView: 1},
		{Name: RankPrime, MinTradeBalance: 500, MinActiveTeam: 5, TradeBoosterBps: 20, LevelROIBps: 100, DailyLimitView: 2},
		{Name: RankVeteran, MinTradeBalance: 2000, MinActiveTeam: 11, TradeBoosterBps: 30, LevelROIBps: 150, DailyLimitView: 3},
		{Name: RankRoyal, MinTradeBalance: 10000, MinActiveTeam: 25, TradeBoosterBps: 40, LevelROIBps: 200, DailyLimitView: 4},
		{Name: RankSupreme, MinTradeBalance: 50000, MinActiveTeam: 60, TradeBoosterBps: 50, LevelROIBps: 300, DailyLimitView: 5},
	}
}
