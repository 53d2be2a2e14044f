/*
main.go - Chips engine server entry point

PURPOSE:
  Wires storage, engine, leaderboard, metrics, and the HTTP server, then
  runs until SIGINT/SIGTERM with graceful shutdown.

CONFIGURATION (flag overrides env, env overrides default):
  PORT                          HTTP listen port (default 8080)
  DB_PATH                       SQLite file path; empty runs in-memory
  LEADERBOARD_REFRESH_INTERVAL  Snapshot refresh cadence (default 15s)
  REFERRAL_CREDIT_CHIPS         Chips per qualified referral (default 100)

USAGE:
  ./server                       In-memory storage
  ./server -db chips.db          Persistent SQLite storage
  ./server -port 9090 -refresh 5s
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gameforge/chips-engine/api"
	"github.com/gameforge/chips-engine/ledger"
	"github.com/gameforge/chips-engine/ledger/store"
	"github.com/gameforge/chips-engine/store/sqlite"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	var (
		port      = flag.Int("port", envInt("PORT", 8080), "HTTP listen port")
		dbPath    = flag.String("db", os.Getenv("DB_PATH"), "SQLite database path (empty = in-memory)")
		refresh   = flag.Duration("refresh", envDuration("LEADERBOARD_REFRESH_INTERVAL", api.DefaultRefreshInterval), "leaderboard refresh interval")
		refCredit = flag.Int64("referral-credit", envInt64("REFERRAL_CREDIT_CHIPS", ledger.DefaultReferralCreditChips), "chips per qualified referral")
	)
	flag.Parse()

	st, closeStore, err := openStore(*dbPath)
	if err != nil {
		log.Fatalf("[Main] storage: %v", err)
	}
	defer closeStore()

	engine := ledger.NewEngine(st)
	engine.ReferralCredit = *refCredit

	metrics := api.NewMetrics()
	engine.SetObserver(metrics)

	lb := ledger.NewLeaderboard(st)
	if err := lb.Refresh(context.Background()); err != nil {
		log.Fatalf("[Main] initial leaderboard snapshot: %v", err)
	}

	refresher, err := api.NewRefresher(lb, *refresh)
	if err != nil {
		log.Fatalf("[Main] refresher: %v", err)
	}
	if err := refresher.Start(context.Background()); err != nil {
		log.Fatalf("[Main] refresher start: %v", err)
	}

	handler := api.NewHandler(engine, st, lb)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: api.NewRouter(handler, metrics),
	}

	go func() {
		log.Printf("[Main] chips engine listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("[Main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := refresher.Stop(); err != nil {
		log.Printf("[Main] refresher stop: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Main] shutdown: %v", err)
	}
	log.Println("[Main] stopped")
}

// openStore picks the storage backend: SQLite when a path is given,
// otherwise in-memory.
func openStore(path string) (ledger.Store, func(), error) {
	if path == "" {
		log.Println("[Main] using in-memory storage")
		return store.NewMemory(), func() {}, nil
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[Main] using SQLite storage at %s", path)
	return s, func() { s.Close() }, nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
