package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianfunds/walletcore/internal/domain"
)

// Memory is an in-process Store used by tests and dry runs. A single
// mutex serializes transactions; WithinTx works against the live maps and
// restores a snapshot when fn fails, which gives the same all-or-nothing
// behavior as the database rollback path.
type Memory struct {
	mu sync.Mutex

	accounts    map[int64]*domain.Account
	entries     []domain.LedgerEntry
	transfers   map[int64]*domain.FundTransferRecord
	deductions  map[int64]*domain.FundDeductionRecord
	awards      map[string]time.Time
	teamRewards map[string]*domain.TeamReward
	rule        *domain.CommissionRule

	nextAccountID   int64
	nextEntryID     int64
	nextTransferID  int64
	nextDeductionID int64

	// failAfterWrites forces a persistence error once that many writes
	// have succeeded inside the current transaction. Test hook only.
	failAfterWrites int
	txWrites        int

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[int64]*domain.Account),
		transfers:   make(map[int64]*domain.FundTransferRecord),
		deductions:  make(map[int64]*domain.FundDeductionRecord),
		awards:      make(map[string]time.Time),
		teamRewards: make(map[string]*domain.TeamReward),
		rule:        domain.DefaultCommissionRule(),
		now:         time.Now,
	}
}

// SetNow overrides the clock for tests.
func (m *Memory) SetNow(fn func() time.Time) { m.now = fn }

// FailAfterWrites arms the forced-failure hook; 0 disarms it.
func (m *Memory) FailAfterWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfterWrites = n
}

// SetRule swaps the active configuration version.
func (m *Memory) SetRule(r *domain.CommissionRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rule = r
}

func awardKey(accountID int64, program string, tier int) string {
	return fmt.Sprintf("%d/%s/%d", accountID, program, tier)
}

func rewardKey(accountID int64, tier int) string {
	return fmt.Sprintf("%d/%d", accountID, tier)
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	if a.ReferrerID != nil {
		v := *a.ReferrerID
		c.ReferrerID = &v
	}
	if a.LastTransferAt != nil {
		v := *a.LastTransferAt
		c.LastTransferAt = &v
	}
	return &c
}

func cloneTeamReward(tr *domain.TeamReward) *domain.TeamReward {
	c := *tr
	if tr.CompletedAt != nil {
		v := *tr.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

type memSnapshot struct {
	accounts    map[int64]*domain.Account
	entryCount  int
	transfers   map[int64]*domain.FundTransferRecord
	deductions  map[int64]*domain.FundDeductionRecord
	awards      map[string]time.Time
	teamRewards map[string]*domain.TeamReward
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		accounts:    make(map[int64]*domain.Account, len(m.accounts)),
		entryCount:  len(m.entries),
		transfers:   make(map[int64]*domain.FundTransferRecord, len(m.transfers)),
		deductions:  make(map[int64]*domain.FundDeductionRecord, len(m.deductions)),
		awards:      make(map[string]time.Time, len(m.awards)),
		teamRewards: make(map[string]*domain.TeamReward, len(m.teamRewards)),
	}
	for id, a := range m.accounts {
		s.accounts[id] = cloneAccount(a)
	}
	for id, t := range m.transfers {
		c := *t
		s.transfers[id] = &c
	}
	for id, d := range m.deductions {
		c := *d
		s.deductions[id] = &c
	}
	for k, v := range m.awards {
		s.awards[k] = v
	}
	for k, tr := range m.teamRewards {
		s.teamRewards[k] = cloneTeamReward(tr)
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.accounts = s.accounts
	m.entries = m.entries[:s.entryCount]
	m.transfers = s.transfers
	m.deductions = s.deductions
	m.awards = s.awards
	m.teamRewards = s.teamRewards
}

func (m *Memory) WithinTx(ctx context.Context, lockIDs []int64, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range lockIDs {
		if _, ok := m.accounts[id]; !ok {
			return domain.ErrAccountNotFound
		}
	}

	snap := m.snapshot()
	m.txWrites = 0
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) CreateAccount(ctx context.Context, referrerID *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if referrerID != nil {
		if _, ok := m.accounts[*referrerID]; !ok {
			return 0, domain.ErrAccountNotFound
		}
	}

	m.nextAccountID++
	id := m.nextAccountID
	base := m.rule.Ranks[0]
	acct := &domain.Account{
		ID:              id,
		ReferrerID:      referrerID,
		Rank:            base.Name,
		TradeBoosterBps: base.TradeBoosterBps,
		LevelROIBps:     base.LevelROIBps,
		DailyLimitView:  base.DailyLimitView,
		CreatedAt:       m.now(),
	}
	if referrerID != nil {
		c := *referrerID
		acct.ReferrerID = &c
	}
	m.accounts[id] = acct

	if referrerID != nil {
		m.accounts[*referrerID].DirectReferrals++
		for cur := referrerID; cur != nil; cur = m.accounts[*cur].ReferrerID {
			m.accounts[*cur].TeamSize++
		}
	}
	return id, nil
}

func (m *Memory) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *Memory) AccountIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) Entries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) SumEntries(ctx context.Context, f domain.EntryFilter) (domain.SumResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res domain.SumResult
	for _, e := range m.entries {
		if f.AccountID != nil && e.AccountID != *f.AccountID {
			continue
		}
		if f.Wallet != nil && e.Wallet != *f.Wallet {
			continue
		}
		if f.Reason != nil && e.Reason != *f.Reason {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.CreatedAt.Before(*f.To) {
			continue
		}
		res.Amount += e.Delta
		res.Count++
	}
	return res, nil
}

func (m *Memory) GetTransferRecord(ctx context.Context, id int64) (*domain.FundTransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, domain.ErrPersistenceFailure
	}
	c := *t
	return &c, nil
}

func (m *Memory) TeamDeposit(ctx context.Context, accountID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return 0, domain.ErrAccountNotFound
	}

	children := make(map[int64][]int64)
	for id, a := range m.accounts {
		if a.ReferrerID != nil {
			children[*a.ReferrerID] = append(children[*a.ReferrerID], id)
		}
	}

	var total int64
	stack := append([]int64(nil), children[accountID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total += m.accounts[id].TotalInvestment
		stack = append(stack, children[id]...)
	}
	return total, nil
}

func (m *Memory) ActiveDirects(ctx context.Context, accountID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return 0, domain.ErrAccountNotFound
	}
	n := 0
	for _, a := range m.accounts {
		if a.ReferrerID != nil && *a.ReferrerID == accountID && a.TotalInvestment > 0 {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ActiveRule(ctx context.Context) (*domain.CommissionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rule, nil
}

// memTx applies writes directly to the owning store; rollback happens in
// WithinTx via snapshot restore.
type memTx struct {
	m *Memory
}

func (t *memTx) countWrite() error {
	if t.m.failAfterWrites > 0 && t.m.txWrites >= t.m.failAfterWrites {
		return domain.ErrPersistenceFailure
	}
	t.m.txWrites++
	return nil
}

func (t *memTx) account(id int64) (*domain.Account, error) {
	a, ok := t.m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

func (t *memTx) Account(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := t.account(id)
	if err != nil {
		return nil, err
	}
	return cloneAccount(a), nil
}

func (t *memTx) AdjustBalance(ctx context.Context, id int64, wallet domain.WalletKind, delta int64) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	a, err := t.account(id)
	if err != nil {
		return err
	}
	switch wallet {
	case domain.WalletTopup:
		if a.TopupBalance+delta < 0 {
			return domain.ErrInsufficientFunds
		}
		a.TopupBalance += delta
	default:
		if a.MainBalance+delta < 0 {
			return domain.ErrInsufficientFunds
		}
		a.MainBalance += delta
	}
	return nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	if _, err := t.account(e.AccountID); err != nil {
		return err
	}
	t.m.nextEntryID++
	e.ID = t.m.nextEntryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.m.now()
	}
	t.m.entries = append(t.m.entries, *e)
	return nil
}

func (t *memTx) SetLastTransferAt(ctx context.Context, id int64, at time.Time) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	a, err := t.account(id)
	if err != nil {
		return err
	}
	a.LastTransferAt = &at
	return nil
}

func (t *memTx) ApplyInvestment(ctx context.Context, id int64, amount int64) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	a, err := t.account(id)
	if err != nil {
		return err
	}
	a.TotalInvestment += amount
	a.LastInvestment = amount
	return nil
}

func (t *memTx) SetRank(ctx context.Context, id int64, r domain.Rank) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	a, err := t.account(id)
	if err != nil {
		return err
	}
	a.Rank = r.Name
	a.TradeBoosterBps = r.TradeBoosterBps
	a.LevelROIBps = r.LevelROIBps
	a.DailyLimitView = r.DailyLimitView
	return nil
}

func (t *memTx) InsertTransferRecord(ctx context.Context, rec *domain.FundTransferRecord) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	t.m.nextTransferID++
	rec.ID = t.m.nextTransferID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.m.now()
	}
	c := *rec
	t.m.transfers[rec.ID] = &c
	return nil
}

func (t *memTx) InsertDeductionRecord(ctx context.Context, rec *domain.FundDeductionRecord) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	t.m.nextDeductionID++
	rec.ID = t.m.nextDeductionID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.m.now()
	}
	c := *rec
	t.m.deductions[rec.ID] = &c
	return nil
}

func (t *memTx) ClaimAward(ctx context.Context, accountID int64, program string, tier int) (bool, error) {
	if err := t.countWrite(); err != nil {
		return false, err
	}
	k := awardKey(accountID, program, tier)
	if _, exists := t.m.awards[k]; exists {
		return false, nil
	}
	t.m.awards[k] = t.m.now()
	return true, nil
}

func (t *memTx) TeamReward(ctx context.Context, accountID int64, tier int) (*domain.TeamReward, error) {
	tr, ok := t.m.teamRewards[rewardKey(accountID, tier)]
	if !ok {
		return nil, nil
	}
	return cloneTeamReward(tr), nil
}

func (t *memTx) SaveTeamReward(ctx context.Context, tr *domain.TeamReward) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	t.m.teamRewards[rewardKey(tr.AccountID, tr.Tier)] = cloneTeamReward(tr)
	return nil
}

func (t *memTx) DeleteTeamReward(ctx context.Context, accountID int64, tier int) error {
	if err := t.countWrite(); err != nil {
		return err
	}
	delete(t.m.teamRewards, rewardKey(accountID, tier))
	return nil
}
