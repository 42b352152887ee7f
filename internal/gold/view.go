// Package gold maintains incremental, watermarked aggregate views over the
// silver row stream. Watermarked views finalize day windows once the event-time
// watermark passes their upper bound; the completeness view keeps the latest
// known state per key without ever finalizing.
package gold

import (
	"fmt"
	"strings"
	"time"

	"github.com/lakeline/lakeline/internal/config"
	"github.com/lakeline/lakeline/internal/sketch"
	"github.com/lakeline/lakeline/pkg/types"
)

// ViewSpec declares one gold view: its grouping dimensions, watermark policy,
// and approximate-distinct accuracy target.
type ViewSpec struct {
	Name              string
	GroupBy           []string
	Lag               time.Duration
	Watermarked       bool
	DistinctErrorRate float64
}

// NewViewSpec validates a view declaration from configuration.
func NewViewSpec(cfg config.ViewConfig) (ViewSpec, error) {
	if cfg.Name == "" {
		return ViewSpec{}, fmt.Errorf("gold: view requires a name")
	}
	if len(cfg.GroupBy) == 0 {
		return ViewSpec{}, fmt.Errorf("gold: view %s requires grouping dimensions", cfg.Name)
	}
	hasDay := false
	for _, dim := range cfg.GroupBy {
		switch dim {
		case "location", "brand", "sku", "order":
		case "day":
			hasDay = true
		default:
			return ViewSpec{}, fmt.Errorf("gold: view %s groups by unknown dimension %q", cfg.Name, dim)
		}
	}
	if cfg.Watermarked {
		if !hasDay {
			return ViewSpec{}, fmt.Errorf("gold: watermarked view %s must group by day", cfg.Name)
		}
		if cfg.WatermarkLag <= 0 {
			return ViewSpec{}, fmt.Errorf("gold: watermarked view %s requires a positive lag", cfg.Name)
		}
	}
	return ViewSpec{
		Name:              cfg.Name,
		GroupBy:           cfg.GroupBy,
		Lag:               cfg.WatermarkLag,
		Watermarked:       cfg.Watermarked,
		DistinctErrorRate: cfg.DistinctErrorRate,
	}, nil
}

// PartitionKey returns the day window a row belongs to, or the empty string
// for unwatermarked views, whose state is not time-bounded.
func (s ViewSpec) PartitionKey(row *types.SilverRow) string {
	if !s.Watermarked {
		return ""
	}
	return row.PartitionKey
}

// GroupKey joins the row's values for the view's non-day dimensions. The day
// dimension is carried by the partition key, not repeated here.
func (s ViewSpec) GroupKey(row *types.SilverRow) string {
	parts := make([]string, 0, len(s.GroupBy))
	for _, dim := range s.GroupBy {
		switch dim {
		case "location":
			parts = append(parts, row.LocationID)
		case "brand":
			parts = append(parts, row.Brand)
		case "sku":
			parts = append(parts, row.SKU)
		case "order":
			parts = append(parts, row.OrderID)
		}
	}
	return strings.Join(parts, "|")
}

// Accumulator is the running aggregate for one (partition, group) cell.
type Accumulator struct {
	RowCount      int64
	SumExtended   float64
	Orders        *sketch.HyperLogLog
	LastEventTime time.Time
}

// WindowRow is one finalized (or, for the completeness view, materialized)
// aggregate emitted by a gold view.
type WindowRow struct {
	View           string    `json:"view"`
	PartitionKey   string    `json:"partition_key"`
	GroupKey       string    `json:"group_key"`
	RowCount       int64     `json:"row_count"`
	SumExtended    float64   `json:"sum_extended"`
	DistinctOrders int64     `json:"distinct_orders"`
	Watermark      time.Time `json:"watermark"`
	FinalizedAt    time.Time `json:"finalized_at"`
}

type stateKey struct {
	partition string
	group     string
}

// View is the in-memory working state of one gold view. State is loaded from
// and persisted to the gold store at batch boundaries; all mutation happens on
// the aggregator goroutine, one logical owner per view.
type View struct {
	Spec ViewSpec

	maxEventTime time.Time
	state        map[stateKey]*Accumulator
	dirty        map[stateKey]struct{}
}

// NewView creates an empty view.
func NewView(spec ViewSpec) *View {
	return &View{
		Spec:  spec,
		state: make(map[stateKey]*Accumulator),
		dirty: make(map[stateKey]struct{}),
	}
}

// Watermark returns max event time seen minus the configured lag, or the zero
// time before any row has been observed. Unwatermarked views always return
// the zero time.
func (v *View) Watermark() time.Time {
	if !v.Spec.Watermarked || v.maxEventTime.IsZero() {
		return time.Time{}
	}
	return v.maxEventTime.Add(-v.Spec.Lag)
}

// MaxEventTime returns the maximum event time the view has observed.
func (v *View) MaxEventTime() time.Time {
	return v.maxEventTime
}

// Apply folds one silver row into the view. Returns false when the row falls
// behind the current watermark and is dropped: its window is already final
// (or about to be), and emitted windows are never revised.
func (v *View) Apply(row *types.SilverRow) bool {
	if v.Spec.Watermarked {
		if wm := v.Watermark(); !wm.IsZero() && row.EventTime.Before(wm) {
			return false
		}
	}
	if row.EventTime.After(v.maxEventTime) {
		v.maxEventTime = row.EventTime
	}

	key := stateKey{partition: v.Spec.PartitionKey(row), group: v.Spec.GroupKey(row)}
	acc, ok := v.state[key]
	if !ok {
		acc = &Accumulator{}
		if v.Spec.DistinctErrorRate > 0 {
			acc.Orders = sketch.NewWithErrorRate(v.Spec.DistinctErrorRate)
		}
		v.state[key] = acc
	}

	acc.RowCount++
	acc.SumExtended += row.Extended
	if acc.Orders != nil {
		acc.Orders.AddString(row.OrderID)
	}
	if row.EventTime.After(acc.LastEventTime) {
		acc.LastEventTime = row.EventTime
	}
	v.dirty[key] = struct{}{}
	return true
}

// FinalizeReady emits every window whose upper bound the watermark has
// passed, removing its state. The decision is a pure function of the current
// watermark and each window's bounds, so it needs no real clock; now is
// recorded on the emitted rows only.
func (v *View) FinalizeReady(now time.Time) ([]WindowRow, error) {
	if !v.Spec.Watermarked {
		return nil, nil
	}
	wm := v.Watermark()
	if wm.IsZero() {
		return nil, nil
	}

	var out []WindowRow
	for key, acc := range v.state {
		_, end, err := types.DayWindowBounds(key.partition)
		if err != nil {
			return nil, fmt.Errorf("gold: view %s has malformed partition %q: %w", v.Spec.Name, key.partition, err)
		}
		if end.After(wm) {
			continue
		}
		row := WindowRow{
			View:         v.Spec.Name,
			PartitionKey: key.partition,
			GroupKey:     key.group,
			RowCount:     acc.RowCount,
			SumExtended:  acc.SumExtended,
			Watermark:    wm,
			FinalizedAt:  now,
		}
		if acc.Orders != nil {
			row.DistinctOrders = int64(acc.Orders.Estimate())
		}
		out = append(out, row)
		delete(v.state, key)
		delete(v.dirty, key)
	}
	return out, nil
}

// Snapshot returns a copy of the live (unfinalized) state rows, materialized
// the same way finalized windows are. Used by the completeness view's read
// path and the ops API.
func (v *View) Snapshot() []WindowRow {
	out := make([]WindowRow, 0, len(v.state))
	for key, acc := range v.state {
		row := WindowRow{
			View:         v.Spec.Name,
			PartitionKey: key.partition,
			GroupKey:     key.group,
			RowCount:     acc.RowCount,
			SumExtended:  acc.SumExtended,
			Watermark:    v.Watermark(),
		}
		if acc.Orders != nil {
			row.DistinctOrders = int64(acc.Orders.Estimate())
		}
		out = append(out, row)
	}
	return out
}

// restore installs a loaded accumulator without marking it dirty.
func (v *View) restore(partition, group string, acc *Accumulator) {
	v.state[stateKey{partition: partition, group: group}] = acc
}

// setMaxEventTime installs the persisted watermark anchor on load.
func (v *View) setMaxEventTime(t time.Time) {
	v.maxEventTime = t
}

// dirtyState returns the accumulators touched since the last persist, keyed
// by (partition, group).
func (v *View) dirtyState() map[stateKey]*Accumulator {
	out := make(map[stateKey]*Accumulator, len(v.dirty))
	for key := range v.dirty {
		if acc, ok := v.state[key]; ok {
			out[key] = acc
		}
	}
	return out
}

// clearDirty resets the dirty set after a successful persist.
func (v *View) clearDirty() {
	v.dirty = make(map[stateKey]struct{})
}
