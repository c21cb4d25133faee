package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return New(mem, zerolog.Nop()), mem
}

func newAccount(t *testing.T, mem *store.Memory) int64 {
	t.Helper()
	id, err := mem.CreateAccount(context.Background(), nil)
	require.NoError(t, err)
	return id
}

// walletSum returns the ledger-delta sum and entry count for one wallet.
func walletSum(t *testing.T, mem *store.Memory, id int64, w domain.WalletKind) domain.SumResult {
	t.Helper()
	res, err := mem.SumEntries(context.Background(), domain.EntryFilter{AccountID: &id, Wallet: &w})
	require.NoError(t, err)
	return res
}

func requireConsistent(t *testing.T, mem *store.Memory, id int64) {
	t.Helper()
	acct, err := mem.GetAccount(context.Background(), id)
	require.NoError(t, err)
	for _, w := range []domain.WalletKind{domain.WalletMain, domain.WalletTopup} {
		sum := walletSum(t, mem, id, w)
		require.Equal(t, acct.Balance(w), sum.Amount, "wallet %s out of sync with ledger", w)
	}
}

func TestCreditThenDebit(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	id := newAccount(t, mem)

	_, err := l.Credit(ctx, id, domain.WalletMain, 100, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	entry, err := l.Debit(ctx, id, domain.WalletMain, 40, domain.ReasonWithdrawal, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-40), entry.Delta)
	assert.Equal(t, domain.ReasonWithdrawal, entry.Reason)

	acct, err := mem.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(60), acct.MainBalance)
	requireConsistent(t, mem, id)
}

func TestDebitInsufficientFundsWritesNothing(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	id := newAccount(t, mem)

	_, err := l.Credit(ctx, id, domain.WalletMain, 50, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	_, err = l.Debit(ctx, id, domain.WalletMain, 51, domain.ReasonWithdrawal, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	sum := walletSum(t, mem, id, domain.WalletMain)
	assert.Equal(t, int64(1), sum.Count, "failed debit must not add an entry")
	assert.Equal(t, int64(50), sum.Amount)
}

func TestInvalidAmounts(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	id := newAccount(t, mem)

	for _, amount := range []int64{0, -5} {
		_, err := l.Debit(ctx, id, domain.WalletMain, amount, domain.ReasonWithdrawal, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = l.Credit(ctx, id, domain.WalletMain, amount, domain.ReasonDeposit, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}

	sum := walletSum(t, mem, id, domain.WalletMain)
	assert.Zero(t, sum.Count)
}

func TestDebitUnknownAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Debit(context.Background(), 42, domain.WalletMain, 10, domain.ReasonWithdrawal, nil)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAtomicTransferFee(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	a := newAccount(t, mem)
	b := newAccount(t, mem)

	_, err := l.Credit(ctx, a, domain.WalletMain, 1000, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	res, err := l.AtomicTransfer(ctx, a, domain.WalletMain, b, domain.WalletTopup, 1000, 200)
	require.NoError(t, err)

	require.NotNil(t, res.FeeEntry)
	assert.Equal(t, int64(-980), res.DebitEntry.Delta)
	assert.Equal(t, int64(20), res.DebitEntry.Fee)
	assert.Equal(t, int64(-20), res.FeeEntry.Delta)
	assert.Equal(t, domain.ReasonFee, res.FeeEntry.Reason)
	assert.Equal(t, int64(980), res.CreditEntry.Delta)
	assert.Len(t, res.Entries(), 3)

	// All legs share the grouping event id.
	for _, e := range res.Entries() {
		assert.Equal(t, res.EventID, e.EventID)
	}

	accA, _ := mem.GetAccount(ctx, a)
	accB, _ := mem.GetAccount(ctx, b)
	assert.Equal(t, int64(0), accA.MainBalance)
	assert.Equal(t, int64(980), accB.TopupBalance)
	requireConsistent(t, mem, a)
	requireConsistent(t, mem, b)
}

func TestAtomicTransferZeroFeeHasTwoLegs(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	a := newAccount(t, mem)
	b := newAccount(t, mem)

	_, err := l.Credit(ctx, a, domain.WalletMain, 500, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	res, err := l.AtomicTransfer(ctx, a, domain.WalletMain, b, domain.WalletMain, 500, 0)
	require.NoError(t, err)
	assert.Nil(t, res.FeeEntry)
	assert.Len(t, res.Entries(), 2)
}

func TestAtomicTransferInsufficientFunds(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	a := newAccount(t, mem)
	b := newAccount(t, mem)

	_, err := l.AtomicTransfer(ctx, a, domain.WalletMain, b, domain.WalletMain, 100, 0)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Zero(t, walletSum(t, mem, a, domain.WalletMain).Count)
	assert.Zero(t, walletSum(t, mem, b, domain.WalletMain).Count)
}

func TestAtomicTransferRollsBackOnPersistenceFailure(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	a := newAccount(t, mem)
	b := newAccount(t, mem)

	_, err := l.Credit(ctx, a, domain.WalletMain, 1000, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	// Fail mid-unit: after the debit leg is written, before the credit
	// leg completes.
	mem.FailAfterWrites(3)
	_, err = l.AtomicTransfer(ctx, a, domain.WalletMain, b, domain.WalletMain, 100, 200)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	mem.FailAfterWrites(0)

	// No partial transfer: not one entry, not one moved unit.
	accA, _ := mem.GetAccount(ctx, a)
	accB, _ := mem.GetAccount(ctx, b)
	assert.Equal(t, int64(1000), accA.MainBalance)
	assert.Equal(t, int64(0), accB.MainBalance)
	assert.Equal(t, int64(1), walletSum(t, mem, a, domain.WalletMain).Count)
	assert.Zero(t, walletSum(t, mem, b, domain.WalletMain).Count)
}

func TestConcurrentTransfersPreserveInvariant(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	ids := make([]int64, 3)
	for i := range ids {
		ids[i] = newAccount(t, mem)
		_, err := l.Credit(ctx, ids[i], domain.WalletMain, 10000, domain.ReasonDeposit, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := ids[i%3]
			to := ids[(i+1)%3]
			// Some transfers will fail on funds under contention; the
			// invariant must hold either way.
			_, _ = l.AtomicTransfer(ctx, from, domain.WalletMain, to, domain.WalletMain, 500, 200)
		}(i)
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		requireConsistent(t, mem, id)
		acct, err := mem.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, acct.MainBalance, int64(0))
		total += acct.MainBalance
	}
	// Fees are debited but credited to no account, so the pool can only
	// shrink by the total fees taken, never grow.
	assert.LessOrEqual(t, total, int64(30000))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	id := newAccount(t, mem)

	_, err := l.Credit(ctx, id, domain.WalletMain, 100, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, id, domain.WalletMain, 30, domain.ReasonWithdrawal, nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	acct, err := mem.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100)-successes*30, acct.MainBalance)
	assert.GreaterOrEqual(t, acct.MainBalance, int64(0))
	assert.LessOrEqual(t, successes, int64(3))
	requireConsistent(t, mem, id)
}
