package palette

import "sort"

// DefaultPattern picks the 2nd, 1st, 3rd and 7th most common clusters.
// Pure frequency tends to return four shades of the same background.
var DefaultPattern = [4]int{1, 0, 2, 6}

// Rank orders cluster indices by count, largest first; equal counts keep the lower index first
func Rank(counts []int) []int {
	ranked := make([]int, len(counts))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return counts[ranked[a]] > counts[ranked[b]]
	})
	return ranked
}

// SelectSwatches maps each ranked position in pattern to a cluster index.
// Positions past the last cluster clamp to it, so the result always holds four valid indices.
func SelectSwatches(counts []int, pattern [4]int) [4]int {
	var out [4]int
	if len(counts) == 0 {
		return out
	}
	ranked := Rank(counts)
	last := len(ranked) - 1
	for i, pos := range pattern {
		if pos < 0 {
			pos = 0
		}
		if pos > last {
			pos = last
		}
		out[i] = ranked[pos]
	}
	return out
}
