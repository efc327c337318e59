// internal/billing/change.go
package billing

import "sort"

// DefaultDenominations is the seeded currency table.
var DefaultDenominations = []int{2000, 500, 200, 100, 50, 20, 10, 5, 2, 1}

type Change struct {
	Denominations map[int]int `json:"denominations"`
	// Remainder is the part of the amount no denomination could cover.
	Remainder int `json:"remainder"`
}

// Total is the value handed back as physical pieces.
func (c Change) Total() int {
	total := 0
	for value, count := range c.Denominations {
		total += value * count
	}
	return total
}

// Pieces counts the physical pieces in the breakdown.
func (c Change) Pieces() int {
	pieces := 0
	for _, count := range c.Denominations {
		pieces += count
	}
	return pieces
}

// SortDenominations returns the positive, unique values of denominations in descending order.
func SortDenominations(denominations []int) []int {
	seen := make(map[int]bool, len(denominations))
	sorted := make([]int, 0, len(denominations))
	for _, d := range denominations {
		if d <= 0 || seen[d] {
			continue
		}
		seen[d] = true
		sorted = append(sorted, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	return sorted
}

// MakeChange splits amount greedily across denominations, largest first.
// The piece count is minimal only for canonical sets such as DefaultDenominations.
func MakeChange(amount int, denominations []int) Change {
	change := Change{Denominations: map[int]int{}}
	if amount <= 0 {
		return change
	}

	remainder := amount
	for _, value := range SortDenominations(denominations) {
		if remainder == 0 {
			break
		}
		if count := remainder / value; count > 0 {
			change.Denominations[value] = count
			remainder %= value
		}
	}
	change.Remainder = remainder
	return change
}
