package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfunds/walletcore/internal/audit"
	"github.com/meridianfunds/walletcore/internal/cache"
	"github.com/meridianfunds/walletcore/internal/commission"
	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/ledger"
	"github.com/meridianfunds/walletcore/internal/policy"
	"github.com/meridianfunds/walletcore/internal/rank"
	"github.com/meridianfunds/walletcore/internal/store"
)

type testServer struct {
	router *mux.Router
	store  *store.Memory
	ledger *ledger.Ledger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	log := zerolog.Nop()
	l := ledger.New(mem, log)
	p := policy.New(mem, l, log)
	eng := commission.New(mem, l, log, commission.Options{})
	ranks := rank.New(mem, log, rank.DemotionSticky)
	trail := audit.New(mem)

	h := NewHandler(mem, l, p, eng, ranks, trail, cache.Disabled(), log)
	r := mux.NewRouter()
	h.Register(r)
	return &testServer{router: r, store: mem, ledger: l}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createAccount(t *testing.T, referrer *int64) int64 {
	t.Helper()
	var body map[string]interface{}
	if referrer != nil {
		body = map[string]interface{}{"referrer_id": *referrer}
	}
	rec := s.do(t, "POST", "/accounts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		AccountID int64 `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccountID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createAccount(t, nil)

	rec := s.do(t, "GET", fmt.Sprintf("/accounts/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acct domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, id, acct.ID)
	assert.Equal(t, domain.RankActive, acct.Rank)

	rec = s.do(t, "GET", "/accounts/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "account_not_found", errorCode(t, rec))

	rec = s.do(t, "GET", "/accounts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositWithdrawFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createAccount(t, nil)

	rec := s.do(t, "POST", "/deposits", map[string]interface{}{
		"account_id": id, "wallet": "main", "amount": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, "POST", "/withdrawals", map[string]interface{}{
		"account_id": id, "wallet": "main", "amount": 300,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, "GET", fmt.Sprintf("/accounts/%d", id), nil)
	var acct domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	// 1000 deposit + 50 first-deposit bonus - 300 withdrawal.
	assert.Equal(t, int64(750), acct.MainBalance)

	rec = s.do(t, "POST", "/withdrawals", map[string]interface{}{
		"account_id": id, "wallet": "main", "amount": 10000,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_funds", errorCode(t, rec))
}

func TestTransferEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	a := s.createAccount(t, nil)
	b := s.createAccount(t, nil)

	_, err := s.ledger.Credit(ctx, a, domain.WalletMain, 1000, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	rec := s.do(t, "POST", "/transfers", map[string]interface{}{
		"from_account_id": a,
		"to_account_id":   b,
		"amount":          500,
		"from_wallet":     "main",
		"to_wallet":       "topup",
		"kind":            "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res struct {
		Record struct {
			ID  int64 `json:"id"`
			Fee int64 `json:"fee"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Zero(t, res.Record.Fee)

	rec = s.do(t, "GET", fmt.Sprintf("/transfers/%d", res.Record.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, "GET", "/transfers/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferValidation(t *testing.T) {
	s := newTestServer(t)
	a := s.createAccount(t, nil)
	b := s.createAccount(t, nil)

	rec := s.do(t, "POST", "/transfers", map[string]interface{}{
		"from_account_id": a, "to_account_id": b, "amount": 500,
		"from_wallet": "savings", "to_wallet": "main", "kind": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "POST", "/transfers", map[string]interface{}{
		"from_account_id": a, "to_account_id": b, "amount": 500,
		"from_wallet": "main", "to_wallet": "main", "kind": "wire",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Peer transfer without an investment.
	rec = s.do(t, "POST", "/transfers", map[string]interface{}{
		"from_account_id": a, "to_account_id": b, "amount": 500,
		"from_wallet": "main", "to_wallet": "topup", "kind": "peer",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_active_investment", errorCode(t, rec))
}

func TestInvestmentEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	root := s.createAccount(t, nil)
	investor := s.createAccount(t, &root)

	_, err := s.ledger.Credit(ctx, investor, domain.WalletTopup, 1000, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	rec := s.do(t, "POST", "/investments", map[string]interface{}{
		"account_id": investor, "amount": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	acct, err := s.store.GetAccount(ctx, investor)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acct.TotalInvestment)
	assert.Equal(t, int64(0), acct.TopupBalance)

	rec = s.do(t, "POST", "/investments", map[string]interface{}{
		"account_id": investor, "amount": 0,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", errorCode(t, rec))
}

func TestRankEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := s.createAccount(t, nil)

	rec := s.do(t, "GET", fmt.Sprintf("/accounts/%d/rank", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rk struct {
		Rank domain.RankName `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rk))
	assert.Equal(t, domain.RankActive, rk.Rank)

	rec = s.do(t, "POST", fmt.Sprintf("/accounts/%d/rank/recompute", id), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := s.createAccount(t, nil)
	_, err := s.ledger.Credit(ctx, id, domain.WalletMain, 100, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	rec := s.do(t, "GET", fmt.Sprintf("/accounts/%d/reconcile", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report audit.ReconcileReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Consistent)
}

func TestAuditSumEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := s.createAccount(t, nil)
	_, err := s.ledger.Credit(ctx, id, domain.WalletMain, 100, domain.ReasonDeposit, nil)
	require.NoError(t, err)
	_, err = s.ledger.Credit(ctx, id, domain.WalletTopup, 50, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	rec := s.do(t, "GET", fmt.Sprintf("/audit/sum?account_id=%d&wallet=main", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum domain.SumResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, int64(100), sum.Amount)
	assert.Equal(t, int64(1), sum.Count)

	rec = s.do(t, "GET", "/audit/sum?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeductionEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := s.createAccount(t, nil)
	_, err := s.ledger.Credit(ctx, id, domain.WalletMain, 500, domain.ReasonDeposit, nil)
	require.NoError(t, err)

	rec := s.do(t, "POST", "/deductions", map[string]interface{}{
		"account_id": id, "wallet": "main", "amount": 200, "remark": "adjustment",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	acct, err := s.store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(300), acct.MainBalance)
}
