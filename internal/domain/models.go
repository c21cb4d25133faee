package domain

import "time"

// Account holds a user's wallet balances and the referral/investment
// attributes the commission and rank rules read. Balances are in minor
// units and are mutated only through the ledger, never assigned directly.
type Account struct {
	ID              int64      `json:"id"`
	ReferrerID      *int64     `json:"referrer_id,omitempty"`
	MainBalance     int64      `json:"main_balance"`
	TopupBalance    int64      `json:"topup_balance"`
	TotalInvestment int64      `json:"total_investment"`
	LastInvestment  int64      `json:"last_investment"`
	LastTransferAt  *time.Time `json:"last_transfer_at,omitempty"`
	Rank            RankName   `json:"rank"`
	DirectReferrals int        `json:"direct_referrals"`
	TeamSize        int        `json:"team_size"`
	TradeBoosterBps int        `json:"trade_booster_bps"`
	LevelROIBps     int        `json:"level_roi_bps"`
	DailyLimitView  int64      `json:"daily_limit_view"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Balance returns the named wallet's balance.
func (a *Account) Balance(w WalletKind) int64 {
	if w == WalletTopup {
		return a.TopupBalance
	}
	return a.MainBalance
}

// LedgerEntry is the immutable record of a single signed balance change.
// The running sum of Delta per (account, wallet) must equal the stored
// balance at all times; entries are never updated or deleted.
type LedgerEntry struct {
	ID               int64      `json:"id"`
	EventID          string     `json:"event_id"`
	AccountID        int64      `json:"account_id"`
	Wallet           WalletKind `json:"wallet"`
	Delta            int64      `json:"delta"`
	Reason           ReasonCode `json:"reason"`
	RelatedAccountID *int64     `json:"related_account_id,omitempty"`
	Amount           int64      `json:"amount"`
	Fee              int64      `json:"fee"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TransferRequest is the transient input a controller hands to the policy.
type TransferRequest struct {
	FromAccountID int64        `json:"from_account_id"`
	ToAccountID   int64        `json:"to_account_id"`
	Amount        int64        `json:"amount"`
	FromWallet    WalletKind   `json:"from_wallet"`
	ToWallet      WalletKind   `json:"to_wallet"`
	Kind          TransferKind `json:"kind"`
	Remark        string       `json:"remark"`
}

// FundTransferRecord mirrors a completed transfer for reporting. The
// ledger entries remain the source of truth for balances.
type FundTransferRecord struct {
	ID            int64        `json:"id"`
	EventID       string       `json:"event_id"`
	FromAccountID int64        `json:"from_account_id"`
	ToAccountID   int64        `json:"to_account_id"`
	Amount        int64        `json:"amount"`
	Fee           int64        `json:"fee"`
	Kind          TransferKind `json:"kind"`
	Remark        string       `json:"remark"`
	CreatedAt     time.Time    `json:"created_at"`
}

// FundDeductionRecord mirrors an administrative balance deduction.
type FundDeductionRecord struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	AccountID int64      `json:"account_id"`
	Wallet    WalletKind `json:"wallet"`
	Amount    int64      `json:"amount"`
	Remark    string     `json:"remark"`
	CreatedAt time.Time  `json:"created_at"`
}

// BonusAward marks a bonus program tier as paid to an account. The
// (account, program, tier) key is unique, which is what makes repeated
// crediting attempts no-ops.
type BonusAward struct {
	AccountID int64     `json:"account_id"`
	Program   string    `json:"program"`
	Tier      int       `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// Bonus program names used as BonusAward keys.
const (
	ProgramFirstDeposit = "first_deposit"
	ProgramActiveMember = "active_member"
	ProgramTeamReward   = "team_reward"
)

// TeamRewardState is the lifecycle of one team-reward tier for an account.
type TeamRewardState string

const (
	TeamRewardPending   TeamRewardState = "pending"
	TeamRewardCompleted TeamRewardState = "completed"
)

// TeamReward tracks a team-deposit threshold that must be sustained for a
// hold period before the reward pays out.
type TeamReward struct {
	AccountID   int64           `json:"account_id"`
	Tier        int             `json:"tier"`
	State       TeamRewardState `json:"state"`
	StartedAt   time.Time       `json:"started_at"`
	Accrued     time.Duration   `json:"accrued"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// EntryFilter narrows audit queries over the ledger.
type EntryFilter struct {
	AccountID *int64
	Wallet    *WalletKind
	Reason    *ReasonCode
	From      *time.Time
	To        *time.Time
}

// SumResult is the aggregate of an audit query.
type SumResult struct {
	Amount int64 `json:"amount"`
	Count  int64 `json:"count"`
}
