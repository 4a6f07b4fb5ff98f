package engine

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
)

// DecisionEngine routes visitors to targets. It is stateless and re-entrant;
// all mutable state lives behind the repository and counter.
type DecisionEngine struct {
	targets TargetRepository
	traffic TrafficCounter
}

func New(targets TargetRepository, traffic TrafficCounter) *DecisionEngine {
	return &DecisionEngine{targets: targets, traffic: traffic}
}

// candidate pairs a target with its numeric fields, parsed once per decision.
type candidate struct {
	target Target
	value  decimal.Decimal
	cap    decimal.Decimal
}

// Decide picks the highest-value eligible target for the visitor and
// increments its traffic counter. Eligibility: accept count below cap,
// visitor geoState in the target's set, visitor UTC hour in the target's set.
// Ties on value resolve to whichever target the repository listed first.
func (e *DecisionEngine) Decide(ctx context.Context, v Visitor) (Decision, error) {
	all, err := e.targets.List(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("list targets: %w: %w", ErrStoreUnavailable, err)
	}
	if len(all) == 0 {
		return Decision{}, nil
	}

	cands := make([]candidate, len(all))
	for i, t := range all {
		cands[i] = candidate{
			target: t,
			value:  parseDecimal(t.Value),
			cap:    parseDecimal(t.MaxAcceptsPerDay),
		}
	}
	// highest value first; stable so equal values keep repository order
	slices.SortStableFunc(cands, func(a, b candidate) int {
		return b.value.Cmp(a.value)
	})

	hour := strconv.Itoa(v.Timestamp.UTC().Hour())
	for _, c := range cands {
		ok, err := e.eligible(ctx, c, v.GeoState, hour)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			continue
		}
		if _, err := e.traffic.Increment(ctx, c.target.ID); err != nil {
			return Decision{}, fmt.Errorf("increment traffic for %q: %w: %w", c.target.ID, ErrStoreUnavailable, err)
		}
		return Decision{Accepted: true, URL: c.target.URL}, nil
	}
	return Decision{}, nil
}

func (e *DecisionEngine) eligible(ctx context.Context, c candidate, geoState, hour string) (bool, error) {
	n, err := e.traffic.Count(ctx, c.target.ID)
	if err != nil {
		return false, fmt.Errorf("read traffic for %q: %w: %w", c.target.ID, ErrStoreUnavailable, err)
	}
	if decimal.NewFromInt(n).Cmp(c.cap) >= 0 {
		return false, nil
	}
	return c.target.Accept.GeoState.Contains(geoState) && c.target.Accept.Hour.Contains(hour), nil
}

// parseDecimal treats an unparsable field as zero, so a malformed value ranks
// last and a malformed cap accepts nothing.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
