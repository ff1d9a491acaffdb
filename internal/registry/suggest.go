package registry

import (
	"sort"
	"strings"
)

// suggestCutoff is the minimum similarity for an edit-distance suggestion.
const suggestCutoff = 0.5

// closeMatches ranks known slugs against an unknown input. Containment
// matches come first ("geo" should suggest "geo-news-live" before anything
// fuzzier), then edit-distance neighbours above the cutoff fill the rest.
func closeMatches(input string, known []string, n int) []string {
	if n <= 0 || input == "" {
		return nil
	}
	in := strings.ToLower(strings.TrimSpace(input))

	var contained []string
	rest := make(map[string]float64)
	for _, k := range known {
		kl := strings.ToLower(k)
		if kl == in {
			continue
		}
		if strings.Contains(kl, in) || strings.Contains(in, kl) {
			contained = append(contained, k)
			continue
		}
		if sim := similarity(in, kl); sim >= suggestCutoff {
			rest[k] = sim
		}
	}

	sort.Strings(contained)
	out := contained
	if len(out) >= n {
		return out[:n]
	}

	fuzzy := make([]string, 0, len(rest))
	for k := range rest {
		fuzzy = append(fuzzy, k)
	}
	sort.Slice(fuzzy, func(i, j int) bool {
		if rest[fuzzy[i]] != rest[fuzzy[j]] {
			return rest[fuzzy[i]] > rest[fuzzy[j]]
		}
		return fuzzy[i] < fuzzy[j]
	})
	for _, k := range fuzzy {
		if len(out) >= n {
			break
		}
		out = append(out, k)
	}
	return out
}

// similarity is 1 - levenshtein/maxlen, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	max := la
	if lb > max {
		max = lb
	}
	return 1 - float64(levenshtein(a, b))/float64(max)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
