package cachestore

import (
	"sort"
	"strings"
)

const OverviewKey = "market-overview"

// NormalizeSymbols trims, upper-cases, drops empties and duplicates, and sorts.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// QuotesKey is independent of the order symbols are given in.
func QuotesKey(symbols []string) string {
	return "quotes:" + strings.Join(NormalizeSymbols(symbols), ",")
}

func HistoricalKey(symbol, rng string) string {
	return "historical:" + strings.ToUpper(strings.TrimSpace(symbol)) + ":" + strings.ToLower(rng)
}
