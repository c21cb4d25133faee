package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/meridianfunds/walletcore/internal/api"
	"github.com/meridianfunds/walletcore/internal/audit"
	"github.com/meridianfunds/walletcore/internal/cache"
	"github.com/meridianfunds/walletcore/internal/commission"
	"github.com/meridianfunds/walletcore/internal/config"
	"github.com/meridianfunds/walletcore/internal/ledger"
	"github.com/meridianfunds/walletcore/internal/logging"
	"github.com/meridianfunds/walletcore/internal/policy"
	"github.com/meridianfunds/walletcore/internal/rank"
	"github.com/meridianfunds/walletcore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx := context.Background()
	pg, err := store.NewPostgres(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pg.Close()

	accountCache := cache.Disabled()
	if cfg.RedisAddr != "" {
		accountCache = cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err := accountCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, account reads go to the database")
		}
	}

	// Core wiring: ledger owns balances, policy and engine drive it.
	wl := ledger.New(pg, log)
	tp := policy.New(pg, wl, log)
	eng := commission.New(pg, wl, log, commission.Options{
		Mode: commission.PropagationMode(cfg.TeamCommissionMode),
		Dip:  commission.DipPolicy(cfg.TeamRewardDip),
	})
	ranks := rank.New(pg, log, rank.DemotionPolicy(cfg.RankDemotion))
	trail := audit.New(pg)

	handler := api.NewHandler(pg, wl, tp, eng, ranks, trail, accountCache, log)

	// Periodic jobs: team-reward hold timers and rank recomputation.
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.SweepSchedule, func() {
		if err := eng.SweepTeamRewards(ctx); err != nil {
			log.Error().Err(err).Msg("team reward sweep failed")
		}
		if err := ranks.RecomputeAll(ctx); err != nil {
			log.Error().Err(err).Msg("rank sweep failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("invalid sweep schedule")
	}
	sched.Start()
	defer sched.Stop()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	handler.Register(r.PathPrefix("/api/v1").Subrouter())

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
