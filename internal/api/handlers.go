package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/meridianfunds/walletcore/internal/audit"
	"github.com/meridianfunds/walletcore/internal/cache"
	"github.com/meridianfunds/walletcore/internal/commission"
	"github.com/meridianfunds/walletcore/internal/domain"
	"github.com/meridianfunds/walletcore/internal/ledger"
	"github.com/meridianfunds/walletcore/internal/policy"
	"github.com/meridianfunds/walletcore/internal/rank"
	"github.com/meridianfunds/walletcore/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walletcore_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_transfers_total",
		Help: "Completed and rejected transfers by kind",
	}, []string{"kind", "outcome"})

	bonusCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_bonus_credits_total",
		Help: "Bonus ledger credits issued by program",
	}, []string{"program"})
)

type Handler struct {
	store    store.Store
	ledger   *ledger.Ledger
	policy   *policy.Policy
	engine   *commission.Engine
	ranks    *rank.Evaluator
	trail    *audit.Trail
	accounts *cache.AccountCache
	log      zerolog.Logger
}

func NewHandler(s store.Store, l *ledger.Ledger, p *policy.Policy, e *commission.Engine, r *rank.Evaluator, t *audit.Trail, c *cache.AccountCache, log zerolog.Logger) *Handler {
	return &Handler{
		store:    s,
		ledger:   l,
		policy:   p,
		engine:   e,
		ranks:    r,
		trail:    t,
		accounts: c,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Register mounts every route on the given subrouter.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	r.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	r.HandleFunc("/accounts/{id}/entries", h.GetAccountEntriesHandler).Methods("GET")
	r.HandleFunc("/accounts/{id}/rank", h.GetRankHandler).Methods("GET")
	r.HandleFunc("/accounts/{id}/rank/recompute", h.RecomputeRankHandler).Methods("POST")
	r.HandleFunc("/accounts/{id}/reconcile", h.ReconcileHandler).Methods("GET")
	r.HandleFunc("/transfers", h.CreateTransferHandler).Methods("POST")
	r.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods("GET")
	r.HandleFunc("/deposits", h.DepositHandler).Methods("POST")
	r.HandleFunc("/withdrawals", h.WithdrawalHandler).Methods("POST")
	r.HandleFunc("/deductions", h.DeductionHandler).Methods("POST")
	r.HandleFunc("/investments", h.InvestmentHandler).Methods("POST")
	r.HandleFunc("/audit/sum", h.AuditSumHandler).Methods("GET")
}

// statusFor maps the failure taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAmountOutOfRange),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrNoActiveInvestment),
		errors.Is(err, domain.ErrSelfTransferNotAllowed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferrerID *int64 `json:"referrer_id"`
	}
	if r.Body != nil {
		// Empty body means a root account with no referrer.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id, err := h.store.CreateAccount(r.Context(), req.ReferrerID)
	if err != nil {
		h.respondFailure(w, r, "/accounts", err)
		return
	}

	if req.ReferrerID != nil {
		h.afterTeamGrowth(r.Context(), *req.ReferrerID)
	}

	h.respond(w, r, "/accounts", http.StatusCreated, map[string]int64{"account_id": id})
}

// afterTeamGrowth runs the counter-driven programs for a referrer whose
// team just grew. Failures are logged, not surfaced: the account creation
// already committed.
func (h *Handler) afterTeamGrowth(ctx context.Context, referrerID int64) {
	if bonus, err := h.engine.CreditActiveMemberReward(ctx, referrerID); err != nil {
		h.log.Error().Int64("account", referrerID).Err(err).Msg("active member reward failed")
	} else if bonus != nil {
		bonusCreditsTotal.WithLabelValues(domain.ProgramActiveMember).Inc()
	}

	// Team size changed for the whole upline; re-rank the direct referrer
	// now, the periodic sweep covers the rest of the chain.
	if _, err := h.ranks.Recompute(ctx, referrerID); err != nil {
		h.log.Error().Int64("account", referrerID).Err(err).Msg("rank recompute failed")
	}
	h.accounts.Invalidate(ctx, referrerID)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "/accounts/{id}")
	if !ok {
		return
	}

	if acct := h.accounts.Get(r.Context(), id); acct != nil {
		h.respond(w, r, "/accounts/{id}", http.StatusOK, acct)
		return
	}

	acct, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, "/accounts/{id}", err)
		return
	}
	h.accounts.Put(r.Context(), acct)
	h.respond(w, r, "/accounts/{id}", http.StatusOK, acct)
}

func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "/accounts/{id}/entries")
	if !ok {
		return
	}
	entries, err := h.store.Entries(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, "/accounts/{id}/entries", err)
		return
	}
	h.respond(w, r, "/accounts/{id}/entries", http.StatusOK, entries)
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	var body struct {
		FromAccountID int64  `json:"from_account_id"`
		ToAccountID   int64  `json:"to_account_id"`
		Amount        int64  `json:"amount"`
		FromWallet    string `json:"from_wallet"`
		ToWallet      string `json:"to_wallet"`
		Kind          string `json:"kind"`
		Remark        string `json:"remark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, "/transfers", http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}

	fromWallet, err := domain.ParseWalletKind(body.FromWallet)
	if err != nil {
		h.respondError(w, r, "/transfers", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	toWallet, err := domain.ParseWalletKind(body.ToWallet)
	if err != nil {
		h.respondError(w, r, "/transfers", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	kind, err := domain.ParseTransferKind(body.Kind)
	if err != nil {
		h.respondError(w, r, "/transfers", http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := h.policy.Request(r.Context(), domain.TransferRequest{
		FromAccountID: body.FromAccountID,
		ToAccountID:   body.ToAccountID,
		Amount:        body.Amount,
		FromWallet:    fromWallet,
		ToWallet:      toWallet,
		Kind:          kind,
		Remark:        body.Remark,
	})
	if err != nil {
		transfersTotal.WithLabelValues(string(kind), "rejected").Inc()
		h.respondFailure(w, r, "/transfers", err)
		return
	}

	transfersTotal.WithLabelValues(string(kind), "completed").Inc()
	h.accounts.Invalidate(r.Context(), res.Record.FromAccountID, res.Record.ToAccountID)
	h.respond(w, r, "/transfers", http.StatusCreated, res)
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "/transfers/{id}")
	if !ok {
		return
	}
	record, err := h.store.GetTransferRecord(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "/transfers/{id}", http.StatusNotFound, "not_found", "Transfer not found")
		return
	}
	h.respond(w, r, "/transfers/{id}", http.StatusOK, record)
}

func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID int64  `json:"account_id"`
		Wallet    string `json:"wallet"`
		Amount    int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, "/deposits", http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	wallet, err := domain.ParseWalletKind(body.Wallet)
	if err != nil {
		h.respondError(w, r, "/deposits", http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	entry, err := h.ledger.Credit(r.Context(), body.AccountID, wallet, body.Amount, domain.ReasonDeposit, nil)
	if err != nil {
		h.respondFailure(w, r, "/deposits", err)
		return
	}

	if bonus, err := h.engine.CreditFirstDepositBonus(r.Context(), body.AccountID, body.Amount); err != nil {
		h.log.Error().Int64("account", body.AccountID).Err(err).Msg("first deposit bonus failed")
	} else if bonus != nil {
		bonusCreditsTotal.WithLabelValues(domain.ProgramFirstDeposit).Inc()
	}

	h.accounts.Invalidate(r.Context(), body.AccountID)
	h.respond(w, r, "/deposits", http.StatusCreated, entry)
}

func (h *Handler) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID int64  `json:"account_id"`
		Wallet    string `json:"wallet"`
		Amount    int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, "/withdrawals", http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	wallet, err := domain.ParseWalletKind(body.Wallet)
	if err != nil {
		h.respondError(w, r, "/withdrawals", http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	entry, err := h.ledger.Debit(r.Context(), body.AccountID, wallet, body.Amount, domain.ReasonWithdrawal, nil)
	if err != nil {
		h.respondFailure(w, r, "/withdrawals", err)
		return
	}
	h.accounts.Invalidate(r.Context(), body.AccountID)
	h.respond(w, r, "/withdrawals", http.StatusCreated, entry)
}

func (h *Handler) DeductionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID int64  `json:"account_id"`
		Wallet    string `json:"wallet"`
		Amount    int64  `json:"amount"`
		Remark    string `json:"remark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, "/deductions", http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	wallet, err := domain.ParseWalletKind(body.Wallet)
	if err != nil {
		h.respondError(w, r, "/deductions", http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	entry, err := h.policy.Deduct(r.Context(), body.AccountID, wallet, body.Amount, body.Remark)
	if err != nil {
		h.respondFailure(w, r, "/deductions", err)
		return
	}
	h.accounts.Invalidate(r.Context(), body.AccountID)
	h.respond(w, r, "/deductions", http.StatusCreated, entry)
}

func (h *Handler) InvestmentHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID int64 `json:"account_id"`
		Amount    int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, "/investments", http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}

	entries, err := h.engine.ProcessInvestment(r.Context(), body.AccountID, body.Amount)
	if err != nil {
		h.respondFailure(w, r, "/investments", err)
		return
	}
	for _, e := range entries {
		if e.Reason == domain.ReasonBonus {
			bonusCreditsTotal.WithLabelValues("investment").Inc()
		}
	}

	// Rank depends on the new investment total; a failure here is logged
	// and left to the periodic sweep.
	if _, err := h.ranks.Recompute(r.Context(), body.AccountID); err != nil {
		h.log.Error().Int64("account", body.AccountID).Err(err).Msg("rank recompute failed")
	}

	touched := []int64{body.AccountID}
	for _, e := range entries {
		touched = append(touched, e.AccountID)
	}
	h.accounts.Invalidate(r.Context(), touched...)
	h.respond(w, r, "/investments", http.StatusCreated, entries)
}

func (h *Handler) GetRankHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "/accounts/{id}/rank")
	if !ok {
		return
	}
	acct, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, "/accounts/{id}/rank", err)
		return
	}
	h.respond(w, r, "/accounts/{id}/rank", http.StatusOK, map[string]interface{}{
		"rank":              acct.Rank,
		"trade_booster_bps": acct.TradeBoosterBps,
		"level_roi_bps":     acct.LevelROIBps,
		"daily_limit_view":  acct.DailyLimitView,
	})
}

func (h *Handler) RecomputeRankHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "/accounts/{id}/rank/recompute")
	if !ok {
		return
	}
	rk, err := h.ranks.Recompute(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, "/accounts/{id}/rank/recompute", err)
		return
	}
	h.accounts.Invalidate(r.Context(), id)
	h.respond(w, r, "/accounts/{id}/rank/recompute", http.StatusOK, rk)
}

func (h *Handler) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "/accounts/{id}/reconcile")
	if !ok {
		return
	}
	report, err := h.trail.Reconcile(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, "/accounts/{id}/reconcile", err)
		return
	}
	h.respond(w, r, "/accounts/{id}/reconcile", http.StatusOK, report)
}

func (h *Handler) AuditSumHandler(w http.ResponseWriter, r *http.Request) {
	var f domain.EntryFilter
	q := r.URL.Query()
	if v := q.Get("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondError(w, r, "/audit/sum", http.StatusBadRequest, "bad_request", "invalid account_id")
			return
		}
		f.AccountID = &id
	}
	if v := q.Get("wallet"); v != "" {
		wallet, err := domain.ParseWalletKind(v)
		if err != nil {
			h.respondError(w, r, "/audit/sum", http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		f.Wallet = &wallet
	}
	if v := q.Get("reason"); v != "" {
		reason := domain.ReasonCode(v)
		f.Reason = &reason
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, r, "/audit/sum", http.StatusBadRequest, "bad_request", "invalid from timestamp")
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, r, "/audit/sum", http.StatusBadRequest, "bad_request", "invalid to timestamp")
			return
		}
		f.To = &t
	}

	res, err := h.trail.Sum(r.Context(), f)
	if err != nil {
		h.respondFailure(w, r, "/audit/sum", err)
		return
	}
	h.respond(w, r, "/audit/sum", http.StatusOK, res)
}

// Helpers

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, endpoint string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, r, endpoint, http.StatusBadRequest, "bad_request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Str("endpoint", endpoint).Err(err).Msg("request failed")
		h.respondError(w, r, endpoint, status, "internal_error", "Internal Server Error")
		return
	}
	h.respondError(w, r, endpoint, status, domain.ErrorCode(err), err.Error())
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, endpoint string, status int, code, message string) {
	h.respond(w, r, endpoint, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, endpoint string, status int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
