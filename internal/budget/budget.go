// Package budget implements word-budget arithmetic: spreading a
// project's total budget across outline units and tracking spend
// against it.
package budget

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/inkwell/internal/project"
)

// Allocation is the per-unit share of a project budget.
type Allocation struct {
	UnitID string `json:"unit_id"`
	Words  int    `json:"words"`
}

// UnitSpend compares one unit's allocation against its actual draft.
type UnitSpend struct {
	UnitID    string `json:"unit_id"`
	Allocated int    `json:"allocated"`
	Written   int    `json:"written"`
	Remaining int    `json:"remaining"`
}

// Summary rolls up spend across a whole outline.
type Summary struct {
	Budget    int         `json:"budget"`
	Written   int         `json:"written"`
	Remaining int         `json:"remaining"`
	Units     []UnitSpend `json:"units"`
}

// Allocate spreads total across the outline's units proportionally to
// their declared word targets. Units without targets share the budget
// evenly. Rounding remainders go to the units with the largest
// fractional parts, so the shares always sum exactly to total.
func Allocate(total int, units []project.Unit) ([]Allocation, error) {
	if total < 0 {
		return nil, fmt.Errorf("budget: total must be non-negative, got %d", total)
	}
	if len(units) == 0 {
		return nil, nil
	}

	weights := make([]int, len(units))
	weightSum := 0
	for i, u := range units {
		if u.Words < 0 {
			return nil, fmt.Errorf("budget: unit %q has negative word target", u.ID)
		}
		weights[i] = u.Words
		weightSum += u.Words
	}
	if weightSum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		weightSum = len(units)
	}

	out := make([]Allocation, len(units))
	type frac struct {
		idx int
		rem int
	}
	fracs := make([]frac, len(units))
	assigned := 0
	for i, u := range units {
		share := total * weights[i] / weightSum
		out[i] = Allocation{UnitID: u.ID, Words: share}
		fracs[i] = frac{idx: i, rem: total * weights[i] % weightSum}
		assigned += share
	}

	// Largest-remainder distribution of the leftover words. Ties break
	// on position so the result is stable.
	sort.SliceStable(fracs, func(i, j int) bool { return fracs[i].rem > fracs[j].rem })
	for i := 0; i < total-assigned; i++ {
		out[fracs[i%len(fracs)].idx].Words++
	}
	return out, nil
}

// CountWords counts whitespace-separated words, skipping a leading
// YAML front matter fence.
func CountWords(text string) int {
	body := text
	if strings.HasPrefix(body, "---\n") {
		rest := body[len("---\n"):]
		if i := strings.Index(rest, "\n---\n"); i >= 0 {
			body = rest[i+len("\n---\n"):]
		}
	}
	return len(strings.Fields(body))
}

// Spend compares written word counts (keyed by unit id) against the
// allocations for a budget. Unknown unit ids in written are ignored.
func Spend(total int, units []project.Unit, written map[string]int) (*Summary, error) {
	allocs, err := Allocate(total, units)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Budget: total}
	for _, a := range allocs {
		w := written[a.UnitID]
		sum.Written += w
		sum.Units = append(sum.Units, UnitSpend{
			UnitID:    a.UnitID,
			Allocated: a.Words,
			Written:   w,
			Remaining: a.Words - w,
		})
	}
	sum.Remaining = sum.Budget - sum.Written
	return sum, nil
}
