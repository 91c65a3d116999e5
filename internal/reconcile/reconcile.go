// Package reconcile diffs an incoming snapshot against the persisted golden
// record, emits change events and builds the next golden record under the
// retention policy.
package reconcile

import (
	"sort"

	"shipwatch/internal/model"
)

// Options fixes the key schema and policies for one reconciliation.
type Options struct {
	Schema model.KeySchema
	Mode   model.MergeMode
	// RetentionDays is the age horizon for terminal records. Negative disables eviction.
	RetentionDays int
	Today         model.Date
}

// Stats counts what happened to each record.
type Stats struct {
	Incoming       int // records received
	Unique         int // distinct keys in incoming
	Duplicates     int // incoming records superseded by a later one with the same key
	Unkeyed        int // incoming records without an identity (invalid date, empty key field)
	StaleKeys      int // previous records without an identity under the current schema
	FirstSeen      int
	Changed        int
	Unchanged      int
	CarriedForward int // previous-only keys kept in cumulative mode
	Evicted        int
}

// Result is the next golden record plus the detected events, in
// first-seen-in-incoming order.
type Result struct {
	Next   model.GoldenRecord
	Events []model.ChangeEvent
	Stats  Stats
}

type keyed struct {
	key model.Key
	rec model.Record
}

// Reconcile is a pure function of its inputs.
func Reconcile(previous model.GoldenRecord, incoming []model.Record, opts Options) Result {
	var st Stats
	st.Incoming = len(incoming)

	// Dedup incoming: position of first occurrence, value of the last.
	var order []model.Key
	latest := make(map[model.Key]model.Record, len(incoming))
	for _, r := range incoming {
		k, ok := opts.Schema.KeyOf(r)
		if !ok {
			st.Unkeyed++
			continue
		}
		if _, dup := latest[k]; dup {
			st.Duplicates++
		} else {
			order = append(order, k)
		}
		latest[k] = r
	}
	st.Unique = len(order)

	prev := make(map[model.Key]model.Record, len(previous))
	var prevOrder []model.Key
	for _, r := range previous {
		k, ok := opts.Schema.KeyOf(r)
		if !ok {
			st.StaleKeys++
			continue
		}
		if _, dup := prev[k]; !dup {
			prevOrder = append(prevOrder, k)
		}
		prev[k] = r
	}

	var events []model.ChangeEvent
	for _, k := range order {
		cur := latest[k]
		old, found := prev[k]
		switch {
		case !found && expired(cur, opts):
			// arrives already past retention: never stored, so never new
		case !found:
			st.FirstSeen++
			events = append(events, newEvent(k, cur, nil))
		case model.Canon(old.Status) != model.Canon(cur.Status):
			st.Changed++
			before := old.Status
			events = append(events, newEvent(k, cur, &before))
		default:
			st.Unchanged++
		}
	}

	merged := make([]keyed, 0, len(order)+len(prevOrder))
	if opts.Mode != model.MergeReplace {
		for _, k := range prevOrder {
			if _, inIncoming := latest[k]; !inIncoming {
				st.CarriedForward++
				merged = append(merged, keyed{k, prev[k]})
			}
		}
	}
	for _, k := range order {
		merged = append(merged, keyed{k, latest[k]})
	}

	next := make([]keyed, 0, len(merged))
	for _, kr := range merged {
		if expired(kr.rec, opts) {
			st.Evicted++
			continue
		}
		next = append(next, kr)
	}
	sort.Slice(next, func(i, j int) bool {
		if c := next[i].rec.Date.Compare(next[j].rec.Date); c != 0 {
			return c < 0
		}
		return next[i].key < next[j].key
	})

	out := make(model.GoldenRecord, len(next))
	for i, kr := range next {
		out[i] = kr.rec
	}
	return Result{Next: out, Events: events, Stats: st}
}

// expired applies retention: terminal and older than the horizon.
func expired(r model.Record, opts Options) bool {
	if opts.RetentionDays < 0 || !opts.Today.Valid() || !r.Date.Valid() {
		return false
	}
	if !model.IsTerminal(r.Status) {
		return false
	}
	return r.Date.DaysUntil(opts.Today) > opts.RetentionDays
}

func newEvent(k model.Key, r model.Record, previous *string) model.ChangeEvent {
	return model.ChangeEvent{
		Key:            k,
		Destination:    r.Destination,
		Product:        r.Product,
		Date:           r.Date,
		PreviousStatus: previous,
		NewStatus:      r.Status,
	}
}
