package saavn

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"saavnbridge/model"
)

// Category is the item type the catalog tags its listings with.
type Category string

const (
	CategoryAll   Category = ""
	CategorySong  Category = "song"
	CategoryAlbum Category = "album"
)

var ErrUnsupportedCategory = errors.New("unsupported category")

// Validate rejects categories the catalog does not list.
func (c Category) Validate() error {
	switch c {
	case CategoryAll, CategorySong, CategoryAlbum:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedCategory, string(c))
}

// Matches reports whether an item of type itemType belongs in category c.
func (c Category) Matches(itemType Category) bool {
	return c == CategoryAll || c == itemType
}

type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ArtistNames []string `json:"artist_names"`
	Year        string   `json:"year,omitempty"`
	ArtworkURL  string   `json:"artwork_url,omitempty"`
	SongCount   int      `json:"song_count"`
}

// Item is one trending entry. Exactly one of Song and Album is set,
// according to Type.
type Item struct {
	Type  Category     `json:"type"`
	Song  *model.Track `json:"song,omitempty"`
	Album *Album       `json:"album,omitempty"`
}

type SearchResult struct {
	Songs  []model.Track `json:"songs"`
	Albums []Album       `json:"albums"`
}

type Playlist struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Tracks []model.Track `json:"tracks"`
}

// FailedError is a well-formed response whose envelope reports failure.
type FailedError struct {
	Operation string
	Message   string
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("saavn %s: request failed", e.Operation)
	}
	return fmt.Sprintf("saavn %s: %s", e.Operation, e.Message)
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	return strings.EqualFold(e.Status, "success")
}

// flexInt accepts both 245 and "245"; the catalog is not consistent.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*f = flexInt(n)
	return nil
}

type wireDownload struct {
	Quality string `json:"quality"`
	Link    string `json:"link"`
}

type wireRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// wireItem covers songs, albums and mixed trending entries.
type wireItem struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	Album            wireRef        `json:"album"`
	PrimaryArtists   string         `json:"primary_artists"`
	PrimaryArtistsID string         `json:"primary_artists_id"`
	Duration         flexInt        `json:"duration"`
	Year             string         `json:"year"`
	Image            string         `json:"image"`
	SongCount        flexInt        `json:"song_count"`
	DownloadURL      []wireDownload `json:"download_url"`
}

type wireList struct {
	Results []wireItem `json:"results"`
	Total   int        `json:"total"`
}

type wireSearch struct {
	Songs  wireList `json:"songs"`
	Albums wireList `json:"albums"`
}

type wirePlaylist struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Songs []wireItem `json:"songs"`
}

func splitList(s string) []string {
	return lo.FilterMap(strings.Split(s, ","), func(part string, _ int) (string, bool) {
		part = strings.TrimSpace(html.UnescapeString(part))
		return part, part != ""
	})
}

func (w wireItem) category() Category {
	if w.Type == "" {
		return CategorySong
	}
	return Category(strings.ToLower(w.Type))
}

func (w wireItem) toTrack() model.Track {
	artistIDs := splitList(w.PrimaryArtistsID)
	return model.Track{
		ID:              w.ID,
		Title:           html.UnescapeString(w.Name),
		ArtistNames:     splitList(w.PrimaryArtists),
		ArtistID:        lo.FirstOrEmpty(artistIDs),
		Album:           html.UnescapeString(w.Album.Name),
		DurationSeconds: int(w.Duration),
		ArtworkURL:      w.Image,
		SourceCatalog:   model.CatalogPrimary,
		CandidateURLs: lo.FilterMap(w.DownloadURL, func(d wireDownload, _ int) (model.CandidateURL, bool) {
			return model.CandidateURL{URL: d.Link, Quality: d.Quality}, d.Link != ""
		}),
	}
}

func (w wireItem) toAlbum() Album {
	return Album{
		ID:          w.ID,
		Name:        html.UnescapeString(w.Name),
		ArtistNames: splitList(w.PrimaryArtists),
		Year:        w.Year,
		ArtworkURL:  w.Image,
		SongCount:   int(w.SongCount),
	}
}

func (w wireItem) toItem() Item {
	item := Item{Type: w.category()}
	switch item.Type {
	case CategoryAlbum:
		album := w.toAlbum()
		item.Album = &album
	default:
		track := w.toTrack()
		item.Song = &track
	}
	return item
}

func toTracks(items []wireItem) []model.Track {
	return lo.Map(items, func(w wireItem, _ int) model.Track { return w.toTrack() })
}

func toAlbums(items []wireItem) []Album {
	return lo.Map(items, func(w wireItem, _ int) Album { return w.toAlbum() })
}

// filterItems keeps the entries of category c.
func filterItems(items []Item, c Category) []Item {
	return lo.Filter(items, func(item Item, _ int) bool { return c.Matches(item.Type) })
}
