// Package fund holds the per-user fund collection and the merge rules that
// keep it deduplicated and status-preserving across discovery batches.
package fund

import (
	"strings"

	"golang.org/x/text/cases"
)

// Key returns the natural key of a fund name: surrounding whitespace trimmed
// and Unicode case folded. "Fund A", " fund a " and "FUND A" share one key.
func Key(name string) string {
	// cases.Caser is stateful, so one is built per call.
	return cases.Fold().String(strings.TrimSpace(name))
}
