package model

import (
	"strings"
)

type Catalog string

const (
	CatalogPrimary   Catalog = "primary"
	CatalogSecondary Catalog = "secondary"
)

// CandidateURL is one playable variant of a track, e.g. {"https://...", "320kbps"}.
type CandidateURL struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type Track struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	ArtistNames     []string       `json:"artist_names"`
	ArtistID        string         `json:"artist_id,omitempty"`
	Album           string         `json:"album,omitempty"`
	DurationSeconds int            `json:"duration_seconds"`
	ArtworkURL      string         `json:"artwork_url,omitempty"`
	SourceCatalog   Catalog        `json:"source_catalog"`
	CandidateURLs   []CandidateURL `json:"candidate_urls,omitempty"`
}

// Artists renders the artist list for display.
func (t Track) Artists() string {
	return strings.Join(t.ArtistNames, ", ")
}

func (t Track) IsResolved() bool {
	return len(t.CandidateURLs) > 0
}

// SameAs reports whether two tracks refer to the same logical song.
// Tracks without an ID are compared by title and artists.
func (t Track) SameAs(other Track) bool {
	if t.ID != "" || other.ID != "" {
		return t.ID == other.ID && t.SourceCatalog == other.SourceCatalog
	}
	return strings.EqualFold(t.Title, other.Title) && strings.EqualFold(t.Artists(), other.Artists())
}

// ResolvedTrack is the outcome of a successful resolution.
type ResolvedTrack struct {
	Track         Track          `json:"track"`
	CandidateURLs []CandidateURL `json:"candidate_urls"`
	Source        string         `json:"source"`
	FromCache     bool           `json:"from_cache"`
}

// Apply returns a copy of the track with the resolved candidates filled in.
// A track that already carries candidates is returned unchanged.
func (r ResolvedTrack) Apply(t Track) Track {
	if t.IsResolved() {
		return t
	}
	t.CandidateURLs = append([]CandidateURL(nil), r.CandidateURLs...)
	return t
}
