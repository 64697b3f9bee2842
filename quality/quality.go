// Package quality picks a stream variant from a resolved track's candidates.
package quality

import (
	"regexp"
	"sort"
	"strconv"

	"saavnbridge/model"
)

const (
	Low    = "96kbps"
	Medium = "160kbps"
	High   = "320kbps"
)

var bitrateRegex = regexp.MustCompile(`\d+`)

// Bitrate extracts the integer bitrate embedded in a label such as "160kbps".
// Labels without digits return -1 so they sort last.
func Bitrate(label string) int {
	match := bitrateRegex.FindString(label)
	if match == "" {
		return -1
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return -1
	}
	return n
}

// PickBestURL returns the URL labeled preferred, or failing that the
// highest-bitrate candidate.
func PickBestURL(candidates []model.CandidateURL, preferred string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	for _, c := range candidates {
		if c.Quality == preferred {
			return c.URL, true
		}
	}

	sorted := append([]model.CandidateURL(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Bitrate(sorted[i].Quality) > Bitrate(sorted[j].Quality)
	})
	return sorted[0].URL, true
}
