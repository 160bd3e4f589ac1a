package categorize

import (
	"sort"

	"github.com/policypulse/policy-pulse/internal/core/domain"
)

// CodeStat is the per-code slice of a run summary.
type CodeStat struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Summary aggregates a finished categorization run. Percentages are relative
// to the number of quotes, so a quote carrying several codes counts toward
// each of them.
type Summary struct {
	Codes            []CodeStat `json:"codes"`
	TotalQuotes      int        `json:"total_quotes"`
	TotalAssignments int        `json:"total_assignments"`
	AvgCodesPerQuote float64    `json:"avg_codes_per_quote"`
}

// Stats computes the code distribution over categorized quotes. Codes are
// ordered by descending count, ties broken by name for a stable report.
func Stats(quotes []domain.CategorizedQuote) Summary {
	counts := make(map[string]int)
	assignments := 0

	for _, quote := range quotes {
		for _, ref := range quote.Codes {
			counts[ref.CodeName]++
			assignments++
		}
	}

	stats := make([]CodeStat, 0, len(counts))

	for name, count := range counts {
		stat := CodeStat{Name: name, Count: count}
		if len(quotes) > 0 {
			stat.Percentage = float64(count) / float64(len(quotes)) * 100
		}

		stats = append(stats, stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}

		return stats[i].Name < stats[j].Name
	})

	summary := Summary{
		Codes:            stats,
		TotalQuotes:      len(quotes),
		TotalAssignments: assignments,
	}

	if len(quotes) > 0 {
		summary.AvgCodesPerQuote = float64(assignments) / float64(len(quotes))
	}

	return summary
}
