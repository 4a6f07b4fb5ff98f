package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a target id has no stored record.
	ErrNotFound = errors.New("target not found")
	// ErrStoreUnavailable wraps any repository or counter failure; a decision
	// that hits it is aborted, never defaulted.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Rule is a set-membership matcher, serialized the way the store keeps it
// ({"$in": [...]}).
type Rule struct {
	In []string `json:"$in"`
}

func (r Rule) Contains(v string) bool {
	for _, s := range r.In {
		if s == v {
			return true
		}
	}
	return false
}

type AcceptRules struct {
	GeoState Rule `json:"geoState"`
	Hour     Rule `json:"hour"` // decimal strings of UTC hours, "0".."23"
}

// Target is a registered destination. Value and MaxAcceptsPerDay stay strings
// on the wire and in the store; they are parsed as decimals per decision.
type Target struct {
	ID               string      `json:"id"`
	URL              string      `json:"url"`
	Value            string      `json:"value"`
	MaxAcceptsPerDay string      `json:"maxAcceptsPerDay"`
	Accept           AcceptRules `json:"accept"`
}

// Visitor is the context of one incoming request. Publisher is carried
// through but not used by any current rule.
type Visitor struct {
	GeoState  string    `json:"geoState"`
	Publisher string    `json:"publisher"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is the engine output: accept with a redirect url, or reject.
type Decision struct {
	Accepted bool
	URL      string
}

// TargetRepository is the durable id -> target mapping.
type TargetRepository interface {
	Upsert(ctx context.Context, t Target) error
	List(ctx context.Context) ([]Target, error)
	Get(ctx context.Context, id string) (Target, error)
}

// TrafficCounter is the durable id -> accept-count mapping. Increment MUST be
// atomic per key; a read-modify-write loses updates under concurrent decides.
type TrafficCounter interface {
	Count(ctx context.Context, id string) (int64, error)
	Increment(ctx context.Context, id string) (int64, error)
}
