package report

import (
	"sort"
	"strings"

	"github.com/sells-group/fundscout/internal/model"
)

// Count is a label with the number of funds carrying it.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary is the dashboard view of a collection.
type Summary struct {
	Total    int     `json:"total"`
	Analyzed int     `json:"analyzed"`
	ByStatus []Count `json:"by_status"`
	BySDG    []Count `json:"by_sdg"`
}

// Summarize counts funds by lifecycle status and by SDG. Funds without a
// status count as pending. SDG labels are trimmed and counted once per fund.
// Both breakdowns are sorted by count descending, then label.
func Summarize(funds []model.Fund) Summary {
	s := Summary{Total: len(funds)}
	status := make(map[string]int)
	sdg := make(map[string]int)

	for _, f := range funds {
		if f.HasAnalysis() {
			s.Analyzed++
		}
		st := strings.TrimSpace(f.Status)
		if st == "" {
			st = model.StatusPending
		}
		status[st]++

		seen := make(map[string]bool, len(f.Alignment.SDGs))
		for _, label := range f.Alignment.SDGs {
			label = strings.TrimSpace(label)
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			sdg[label]++
		}
	}

	s.ByStatus = sorted(status)
	s.BySDG = sorted(sdg)
	return s
}

func sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
