/*
stats.go - Aggregate ledger statistics

PURPOSE:
  Computes admin-facing aggregates over the whole ledger: chips issued and
  debited, average balance, and referral conversion. Ratios use exact
  decimal arithmetic so reported rates never drift from the integers they
  summarize.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Stats is an aggregate view over the ledger, projections, and referrals.
type Stats struct {
	Users          int
	Entries        int
	ChipsCredited  int64
	ChipsDebited   int64 // absolute value of all debits
	TotalBalance   int64
	AverageBalance decimal.Decimal
	Referrals      int
	Credited       int
	ConversionRate decimal.Decimal // credited / total referrals
}

// ComputeStats folds the full ledger into aggregates.
func ComputeStats(ctx context.Context, entries EntryStore, projections ProjectionStore, referrals ReferralStore) (Stats, error) {
	var s Stats

	all, err := entries.AllEntries(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load entries: %w", err)
	}
	s.Entries = len(all)
	for _, e := range all {
		if e.Amount > 0 {
			s.ChipsCredited += e.Amount
		} else {
			s.ChipsDebited += -e.Amount
		}
	}

	projs, err := projections.ListProjections(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load projections: %w", err)
	}
	s.Users = len(projs)
	for _, p := range projs {
		s.TotalBalance += p.Balance
	}
	if s.Users > 0 {
		s.AverageBalance = decimal.NewFromInt(s.TotalBalance).
			DivRound(decimal.NewFromInt(int64(s.Users)), 2)
	}

	edges, err := referrals.ListReferrals(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load referrals: %w", err)
	}
	s.Referrals = len(edges)
	for _, e := range edges {
		if e.Credited() {
			s.Credited++
		}
	}
	if s.Referrals > 0 {
		s.ConversionRate = decimal.NewFromInt(int64(s.Credited)).
			DivRound(decimal.NewFromInt(int64(s.Referrals)), 4)
	}

	return s, nil
}
