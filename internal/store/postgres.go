package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianfunds/walletcore/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	accountColumns        = "id, referrer_id, main_balance, topup_balance, total_investment, last_investment, last_transfer_at, rank, direct_referrals, team_size, trade_booster_bps, level_roi_bps, daily_limit_view, created_at"
	entryColumns          = "id, event_id, account_id, wallet, delta, reason, related_account_id, amount, fee, created_at"
	transferRecordColumns = "id, event_id, from_account_id, to_account_id, amount, fee, kind, remark, created_at"
	teamRewardColumns     = "account_id, tier, state, started_at, accrued_ns, completed_at"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for schema bootstrap in cmd/seeder.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

// mapPgError translates driver failures into the domain taxonomy.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAccountNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
		case pgCheckViolation:
			return domain.ErrInsufficientFunds
		}
	}
	return err
}

// WithinTx runs fn inside a RepeatableRead transaction with the named
// account rows locked FOR UPDATE in ascending id order. Every unit
// touching the same accounts acquires locks in that one global order,
// which prevents lock-cycle deadlocks between concurrent transfers.
func (s *Postgres) WithinTx(ctx context.Context, lockIDs []int64, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: tx begin: %v", domain.ErrPersistenceFailure, err)
	}
	defer tx.Rollback(ctx)

	ids := append([]int64(nil), lockIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		var locked int64
		if err := tx.QueryRow(ctx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&locked); err != nil {
			return mapPgError(err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("tx commit: %w", err))
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.ReferrerID, &a.MainBalance, &a.TopupBalance,
		&a.TotalInvestment, &a.LastInvestment, &a.LastTransferAt, &a.Rank,
		&a.DirectReferrals, &a.TeamSize, &a.TradeBoosterBps, &a.LevelROIBps,
		&a.DailyLimitView, &a.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &a, nil
}

func (s *Postgres) CreateAccount(ctx context.Context, referrerID *int64) (int64, error) {
	rule, err := s.ActiveRule(ctx)
	if err != nil {
		return 0, err
	}
	base := rule.Ranks[0]

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, fmt.Errorf("%w: tx begin: %v", domain.ErrPersistenceFailure, err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO accounts (referrer_id, rank, trade_booster_bps, level_roi_bps, daily_limit_view)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		referrerID, base.Name, base.TradeBoosterBps, base.LevelROIBps, base.DailyLimitView,
	).Scan(&id)
	if err != nil {
		return 0, mapPgError(err)
	}

	if referrerID != nil {
		if _, err := tx.Exec(ctx,
			"UPDATE accounts SET direct_referrals = direct_referrals + 1 WHERE id = $1", *referrerID); err != nil {
			return 0, mapPgError(err)
		}
		// Every ancestor on the referral chain gains one team member.
		_, err = tx.Exec(ctx, `
			WITH RECURSIVE uplines AS (
				SELECT id, referrer_id FROM accounts WHERE id = $1
				UNION ALL
				SELECT a.id, a.referrer_id FROM accounts a JOIN uplines u ON a.id = u.referrer_id
			)
			UPDATE accounts SET team_size = team_size + 1 WHERE id IN (SELECT id FROM uplines)`,
			*referrerID)
		if err != nil {
			return 0, mapPgError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgError(err)
	}
	return id, nil
}

func (s *Postgres) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (s *Postgres) AccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) Entries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)", accountID).Scan(&exists); err != nil {
		return nil, mapPgError(err)
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = $1 ORDER BY id",
		accountID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.AccountID, &e.Wallet, &e.Delta,
			&e.Reason, &e.RelatedAccountID, &e.Amount, &e.Fee, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Postgres) SumEntries(ctx context.Context, f domain.EntryFilter) (domain.SumResult, error) {
	q := "SELECT COALESCE(SUM(delta), 0), COUNT(*) FROM ledger_entries WHERE 1=1"
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		q += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.AccountID != nil {
		add("account_id = $%d", *f.AccountID)
	}
	if f.Wallet != nil {
		add("wallet = $%d", string(*f.Wallet))
	}
	if f.Reason != nil {
		add("reason = $%d", string(*f.Reason))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	var res domain.SumResult
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&res.Amount, &res.Count); err != nil {
		return domain.SumResult{}, mapPgError(err)
	}
	return res, nil
}

func (s *Postgres) GetTransferRecord(ctx context.Context, id int64) (*domain.FundTransferRecord, error) {
	var r domain.FundTransferRecord
	err := s.pool.QueryRow(ctx,
		"SELECT "+transferRecordColumns+" FROM fund_transfers WHERE id = $1", id,
	).Scan(&r.ID, &r.EventID, &r.FromAccountID, &r.ToAccountID, &r.Amount, &r.Fee, &r.Kind, &r.Remark, &r.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &r, nil
}

func (s *Postgres) TeamDeposit(ctx context.Context, accountID int64) (int64, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)", accountID).Scan(&exists); err != nil {
		return 0, mapPgError(err)
	}
	if !exists {
		return 0, domain.ErrAccountNotFound
	}

	var total int64
	err := s.pool.QueryRow(ctx, `
		WITH RECURSIVE team AS (
			SELECT id, total_investment FROM accounts WHERE referrer_id = $1
			UNION ALL
			SELECT a.id, a.total_investment FROM accounts a JOIN team t ON a.referrer_id = t.id
		)
		SELECT COALESCE(SUM(total_investment), 0) FROM team`, accountID).Scan(&total)
	if err != nil {
		return 0, mapPgError(err)
	}
	return total, nil
}

func (s *Postgres) ActiveDirects(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM accounts WHERE referrer_id = $1 AND total_investment > 0",
		accountID).Scan(&n)
	if err != nil {
		return 0, mapPgError(err)
	}
	return n, nil
}

func (s *Postgres) ActiveRule(ctx context.Context) (*domain.CommissionRule, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		"SELECT doc FROM commission_rules WHERE active ORDER BY version DESC LIMIT 1").Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultCommissionRule(), nil
	}
	if err != nil {
		return nil, mapPgError(err)
	}

	var rule domain.CommissionRule
	if err := json.Unmarshal(doc, &rule); err != nil {
		return nil, fmt.Errorf("decode commission rule: %w", err)
	}
	return &rule, nil
}

// pgTx adapts a pgx transaction to the Tx interface.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Account(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (t *pgTx) AdjustBalance(ctx context.Context, id int64, wallet domain.WalletKind, delta int64) error {
	col := "main_balance"
	if wallet == domain.WalletTopup {
		col = "topup_balance"
	}
	tag, err := t.tx.Exec(ctx,
		fmt.Sprintf("UPDATE accounts SET %s = %s + $1 WHERE id = $2", col, col), delta, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (event_id, account_id, wallet, delta, reason, related_account_id, amount, fee)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		e.EventID, e.AccountID, string(e.Wallet), e.Delta, string(e.Reason),
		e.RelatedAccountID, e.Amount, e.Fee,
	).Scan(&e.ID, &e.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) SetLastTransferAt(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, "UPDATE accounts SET last_transfer_at = $1 WHERE id = $2", at, id)
	return mapPgError(err)
}

func (t *pgTx) ApplyInvestment(ctx context.Context, id int64, amount int64) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE accounts SET total_investment = total_investment + $1, last_investment = $1 WHERE id = $2",
		amount, id)
	return mapPgError(err)
}

func (t *pgTx) SetRank(ctx context.Context, id int64, r domain.Rank) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET rank = $1, trade_booster_bps = $2, level_roi_bps = $3, daily_limit_view = $4
		 WHERE id = $5`,
		r.Name, r.TradeBoosterBps, r.LevelROIBps, r.DailyLimitView, id)
	return mapPgError(err)
}

func (t *pgTx) InsertTransferRecord(ctx context.Context, rec *domain.FundTransferRecord) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO fund_transfers (event_id, from_account_id, to_account_id, amount, fee, kind, remark)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		rec.EventID, rec.FromAccountID, rec.ToAccountID, rec.Amount, rec.Fee,
		string(rec.Kind), rec.Remark,
	).Scan(&rec.ID, &rec.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) InsertDeductionRecord(ctx context.Context, rec *domain.FundDeductionRecord) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO fund_deductions (event_id, account_id, wallet, amount, remark)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		rec.EventID, rec.AccountID, string(rec.Wallet), rec.Amount, rec.Remark,
	).Scan(&rec.ID, &rec.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) ClaimAward(ctx context.Context, accountID int64, program string, tier int) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO bonus_awards (account_id, program, tier) VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, program, tier) DO NOTHING`,
		accountID, program, tier)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) TeamReward(ctx context.Context, accountID int64, tier int) (*domain.TeamReward, error) {
	var tr domain.TeamReward
	var accruedNs int64
	err := t.tx.QueryRow(ctx,
		"SELECT "+teamRewardColumns+" FROM team_rewards WHERE account_id = $1 AND tier = $2",
		accountID, tier,
	).Scan(&tr.AccountID, &tr.Tier, &tr.State, &tr.StartedAt, &accruedNs, &tr.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPgError(err)
	}
	tr.Accrued = time.Duration(accruedNs)
	return &tr, nil
}

func (t *pgTx) SaveTeamReward(ctx context.Context, tr *domain.TeamReward) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO team_rewards (account_id, tier, state, started_at, accrued_ns, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_id, tier) DO UPDATE
		 SET state = EXCLUDED.state, started_at = EXCLUDED.started_at,
		     accrued_ns = EXCLUDED.accrued_ns, completed_at = EXCLUDED.completed_at`,
		tr.AccountID, tr.Tier, string(tr.State), tr.StartedAt, int64(tr.Accrued), tr.CompletedAt)
	return mapPgError(err)
}

func (t *pgTx) DeleteTeamReward(ctx context.Context, accountID int64, tier int) error {
	_, err := t.tx.Exec(ctx, "DELETE FROM team_rewards WHERE account_id = $1 AND tier = $2", accountID, tier)
	return mapPgError(err)
}
