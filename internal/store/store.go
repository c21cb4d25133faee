package store

import (
	"context"
	"time"

	"github.com/meridianfunds/walletcore/internal/domain"
)

// Tx is the set of writes available inside one atomic unit. Accounts named
// in the unit's lock set are locked for its duration, so a read through
// Account observes the latest committed state and holds it stable.
type Tx interface {
	Account(ctx context.Context, id int64) (*domain.Account, error)

	// AdjustBalance applies a signed delta to one wallet. The caller pairs
	// every adjustment with an InsertEntry carrying the same delta.
	AdjustBalance(ctx context.Context, id int64, wallet domain.WalletKind, delta int64) error
	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error

	SetLastTransferAt(ctx context.Context, id int64, at time.Time) error
	ApplyInvestment(ctx context.Context, id int64, amount int64) error
	SetRank(ctx context.Context, id int64, r domain.Rank) error

	InsertTransferRecord(ctx context.Context, rec *domain.FundTransferRecord) error
	InsertDeductionRecord(ctx context.Context, rec *domain.FundDeductionRecord) error

	// ClaimAward records a (account, program, tier) payout marker. It
	// returns false without error when the marker already exists.
	ClaimAward(ctx context.Context, accountID int64, program string, tier int) (bool, error)

	TeamReward(ctx context.Context, accountID int64, tier int) (*domain.TeamReward, error)
	SaveTeamReward(ctx context.Context, tr *domain.TeamReward) error
	DeleteTeamReward(ctx context.Context, accountID int64, tier int) error
}

// Store is the persistence boundary. WithinTx runs fn as a single atomic
// unit with the given account rows locked in ascending id order; either
// every write in fn commits or none do. A serialization failure surfaces
// as domain.ErrConcurrencyConflict for the caller to retry.
type Store interface {
	WithinTx(ctx context.Context, lockIDs []int64, fn func(Tx) error) error

	CreateAccount(ctx context.Context, referrerID *int64) (int64, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	AccountIDs(ctx context.Context) ([]int64, error)

	Entries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)
	SumEntries(ctx context.Context, f domain.EntryFilter) (domain.SumResult, error)
	GetTransferRecord(ctx context.Context, id int64) (*domain.FundTransferRecord, error)

	// TeamDeposit is the summed TotalInvestment of every account reachable
	// through the referral tree below the given account.
	TeamDeposit(ctx context.Context, accountID int64) (int64, error)

	// ActiveDirects counts the account's direct referrals holding an
	// active investment; the team-commission qualification gate.
	ActiveDirects(ctx context.Context, accountID int64) (int, error)

	ActiveRule(ctx context.Context) (*domain.CommissionRule, error)
}
