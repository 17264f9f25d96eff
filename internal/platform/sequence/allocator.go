// Package sequence issues the human-readable reference numbers carried
// by cases, quotes, claims and tickets. Numbers are monotonic per
// (prefix, year) and collision-free under concurrent creation.
package sequence

import (
	"context"
	"fmt"
)

// Reference number prefixes.
const (
	PrefixCase   = "CASE"
	PrefixQuote  = "QT"
	PrefixClaim  = "CLM"
	PrefixTicket = "TKT"
)

// Allocator hands out the next reference number for a prefix and
// calendar year, formatted PREFIX-YYYY-NNNNN.
type Allocator interface {
	Next(ctx context.Context, prefix string, year int) (string, error)
}

// Format renders a reference number with a 5-digit zero-padded sequence.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%04d-%05d", prefix, year, seq)
}
