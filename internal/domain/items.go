// Package domain defines the persistence models and pure order-line logic for
// the POS resilience subsystem. The helpers in this file implement the line
// identity and quantity rules shared by the staging cart, customer tabs, and
// split/merge/move operations: lines with identical menu item, variant,
// modifiers, and notes collapse into one line with a summed quantity; any
// difference in customization keeps lines separate so special instructions are
// never conflated.
package domain

import (
	"sort"
	"strings"
)

// OrderItem is one line of an order: a menu item reference plus the exact
// customization the guest asked for. Two lines are the "same line" only when
// every customization field matches (see LineKey).
type OrderItem struct {
	MenuItemID string   `json:"menu_item_id"`
	Name       string   `json:"name"`
	Variant    string   `json:"variant,omitempty"`
	Quantity   int      `json:"quantity"`
	UnitPrice  float64  `json:"unit_price"`
	Modifiers  []string `json:"modifiers,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// LineKey returns the canonical identity of a line: menu item, variant,
// sorted modifiers, and trimmed notes. Quantity and price are excluded —
// they are properties of the line, not part of its identity.
func (it OrderItem) LineKey() string {
	mods := make([]string, len(it.Modifiers))
	copy(mods, it.Modifiers)
	sort.Strings(mods)
	parts := []string{
		it.MenuItemID,
		it.Variant,
		strings.Join(mods, ","),
		strings.TrimSpace(it.Notes),
	}
	return strings.Join(parts, "|")
}

// SameLine reports whether two items are the same logical line and may be
// merged by summing quantities.
func SameLine(a, b OrderItem) bool { return a.LineKey() == b.LineKey() }

// LineTotal returns quantity * unit price for a single line.
func (it OrderItem) LineTotal() float64 { return float64(it.Quantity) * it.UnitPrice }

// SelectedQuantity selects some quantity of an existing line, identified by
// its LineKey. Used by split and move operations.
type SelectedQuantity struct {
	LineKey  string `json:"line_key"`
	Quantity int    `json:"quantity"`
}

// ItemSelection is the set of line quantities chosen for a split or move.
type ItemSelection []SelectedQuantity

// MergeLines unions src into dst, summing quantities for identical lines and
// appending the rest. Inputs are not mutated; the result preserves dst order
// first, then the order of newly introduced src lines.
func MergeLines(dst, src []OrderItem) []OrderItem {
	out := make([]OrderItem, len(dst))
	copy(out, dst)
	for _, s := range src {
		if s.Quantity <= 0 {
			continue
		}
		merged := false
		for i := range out {
			if SameLine(out[i], s) {
				out[i].Quantity += s.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, s)
		}
	}
	return out
}

// AddLine merges a single item into items under the same-line rule.
func AddLine(items []OrderItem, it OrderItem) []OrderItem {
	return MergeLines(items, []OrderItem{it})
}

// TotalQuantity sums quantities across all lines.
func TotalQuantity(items []OrderItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// SubtractSelection removes the selected quantities from items and returns
// the remaining lines and the moved lines. ok is false when any selection
// references a missing line or exceeds the quantity present; in that case
// both return slices are nil and the caller must treat the source as
// unchanged. The sum of quantities across remaining+moved always equals the
// input sum when ok is true.
func SubtractSelection(items []OrderItem, sel ItemSelection) (remaining, moved []OrderItem, ok bool) {
	remaining = make([]OrderItem, len(items))
	copy(remaining, items)

	for _, s := range sel {
		if s.Quantity <= 0 {
			return nil, nil, false
		}
		idx := -1
		for i := range remaining {
			if remaining[i].LineKey() == s.LineKey {
				idx = i
				break
			}
		}
		if idx < 0 || remaining[idx].Quantity < s.Quantity {
			return nil, nil, false
		}
		movedLine := remaining[idx]
		movedLine.Quantity = s.Quantity
		moved = MergeLines(moved, []OrderItem{movedLine})

		remaining[idx].Quantity -= s.Quantity
		if remaining[idx].Quantity == 0 {
			remaining = append(remaining[:idx], remaining[idx+1:]...)
		}
	}
	return remaining, moved, true
}

// Totals is a recomputed money summary. It is advisory display data, never
// authoritative billing state.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// ComputeTotals recomputes subtotal, tax, and total for a set of lines.
func ComputeTotals(items []OrderItem, taxRate float64) Totals {
	var sub float64
	for _, it := range items {
		sub += it.LineTotal()
	}
	tax := sub * taxRate
	return Totals{Subtotal: sub, Tax: tax, Total: sub + tax}
}
