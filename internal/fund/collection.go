package fund

import "github.com/sells-group/fundscout/internal/model"

// MergeStats counts what a merge did to a collection.
type MergeStats struct {
	Added   int
	Updated int
}

// Collection is an insertion-ordered set of funds indexed by natural key.
// It is not safe for concurrent use; the owning session serializes access.
type Collection struct {
	order []string
	items map[string]model.Fund
}

// NewCollection returns a collection seeded with records. Duplicate keys
// collapse to the last occurrence at the position of the first.
func NewCollection(records ...model.Fund) *Collection {
	c := &Collection{}
	c.Replace(records)
	return c
}

// Replace discards the current contents and loads records as-is, keeping
// their stored status. Used to seed a session from persistence.
func (c *Collection) Replace(records []model.Fund) {
	c.order = make([]string, 0, len(records))
	c.items = make(map[string]model.Fund, len(records))
	for _, r := range records {
		c.put(Key(r.Name), r.Clone())
	}
}

// Merge folds a discovery batch into the collection. Every incoming record
// takes the status already held for its key, or model.StatusPending when
// there is none. Statuses carried by the batch itself are ignored.
// Existing keys keep their position and take the incoming content. Nothing
// is ever removed.
func (c *Collection) Merge(batch []model.Fund) MergeStats {
	var stats MergeStats
	if len(batch) == 0 {
		return stats
	}
	c.ensure()

	// Status lookup is taken from the state before the batch so duplicates
	// inside one batch do not inherit from each other.
	prior := make(map[string]string, len(batch))
	for _, r := range batch {
		k := Key(r.Name)
		if cur, ok := c.items[k]; ok && cur.Status != "" {
			prior[k] = cur.Status
		}
	}

	for _, r := range batch {
		k := Key(r.Name)
		rec := r.Clone()
		rec.Status = prior[k]
		if rec.Status == "" {
			rec.Status = model.StatusPending
		}
		if _, ok := c.items[k]; ok {
			stats.Updated++
		} else {
			stats.Added++
		}
		c.put(k, rec)
	}
	return stats
}

// Snapshot returns deep copies of all funds in insertion order.
func (c *Collection) Snapshot() []model.Fund {
	out := make([]model.Fund, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k].Clone())
	}
	return out
}

// Len returns the number of distinct funds.
func (c *Collection) Len() int {
	return len(c.order)
}

// Get looks a fund up by name or key.
func (c *Collection) Get(name string) (model.Fund, bool) {
	f, ok := c.items[Key(name)]
	if !ok {
		return model.Fund{}, false
	}
	return f.Clone(), true
}

// Status returns the lifecycle label of a fund.
func (c *Collection) Status(name string) (string, bool) {
	f, ok := c.items[Key(name)]
	if !ok {
		return "", false
	}
	return f.Status, true
}

// SetStatus overwrites the lifecycle label of a fund. It reports false when
// the fund is not in the collection.
func (c *Collection) SetStatus(name, status string) bool {
	k := Key(name)
	f, ok := c.items[k]
	if !ok {
		return false
	}
	f.Status = status
	c.items[k] = f
	return true
}

// AttachAnalysis stores an application analysis on a fund in place.
func (c *Collection) AttachAnalysis(name string, a *model.ApplicationAnalysis) bool {
	k := Key(name)
	f, ok := c.items[k]
	if !ok || a == nil {
		return false
	}
	cp := model.Fund{Analysis: a}.Clone()
	f.Analysis = cp.Analysis
	c.items[k] = f
	return true
}

// Unanalyzed returns the funds that have no application analysis yet.
func (c *Collection) Unanalyzed() []model.Fund {
	var out []model.Fund
	for _, k := range c.order {
		if f := c.items[k]; !f.HasAnalysis() {
			out = append(out, f.Clone())
		}
	}
	return out
}

// Reset empties the collection.
func (c *Collection) Reset() {
	c.order = nil
	c.items = nil
}

func (c *Collection) ensure() {
	if c.items == nil {
		c.items = make(map[string]model.Fund)
	}
}

func (c *Collection) put(k string, f model.Fund) {
	c.ensure()
	if _, ok := c.items[k]; !ok {
		c.order = append(c.order, k)
	}
	c.items[k] = f
}
