package fund

import "github.com/sells-group/fundscout/internal/model"

// Merge returns existing with incoming folded in, applying the collection
// merge rules. Neither input is modified.
func Merge(existing, incoming []model.Fund) []model.Fund {
	c := NewCollection(existing...)
	c.Merge(incoming)
	return c.Snapshot()
}
