package saavn

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"saavnbridge/model"
)

//go:embed fixtures/fallback.json
var fallbackFixtures []byte

type fixtureSet struct {
	Songs     []wireItem `json:"songs"`
	Albums    []wireItem `json:"albums"`
	Trending  []string   `json:"trending"`
	Playlists []struct {
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Songs []string `json:"songs"`
	} `json:"playlists"`
}

// Fallback answers from a fixed offline catalog. It never does I/O, so it
// only fails on unknown ids or categories.
type Fallback struct {
	songs     []model.Track
	albums    []Album
	trending  []Item
	byArtist  map[string][]model.Track
	playlists map[string]*Playlist
	logger    *log.Entry
}

// NewFallback loads the bundled fixtures.
func NewFallback() (*Fallback, error) {
	return NewFallbackFromJSON(fallbackFixtures)
}

func NewFallbackFromJSON(data []byte) (*Fallback, error) {
	var set fixtureSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("load fallback fixtures: %w", err)
	}

	f := &Fallback{
		songs:     toTracks(set.Songs),
		albums:    toAlbums(set.Albums),
		byArtist:  make(map[string][]model.Track),
		playlists: make(map[string]*Playlist, len(set.Playlists)),
		logger: log.WithFields(log.Fields{
			"module": "saavn",
			"source": KindFallback,
		}),
	}

	for _, w := range set.Songs {
		for _, artistID := range splitList(w.PrimaryArtistsID) {
			f.byArtist[artistID] = append(f.byArtist[artistID], w.toTrack())
		}
	}

	songsByID := lo.KeyBy(set.Songs, func(w wireItem) string { return w.ID })
	albumsByID := lo.KeyBy(set.Albums, func(w wireItem) string { return w.ID })
	for _, id := range set.Trending {
		if w, ok := songsByID[id]; ok {
			f.trending = append(f.trending, w.toItem())
		} else if w, ok := albumsByID[id]; ok {
			f.trending = append(f.trending, w.toItem())
		} else {
			return nil, fmt.Errorf("load fallback fixtures: trending entry %q not found", id)
		}
	}
	for _, p := range set.Playlists {
		playlist := &Playlist{ID: p.ID, Name: p.Name}
		for _, id := range p.Songs {
			w, ok := songsByID[id]
			if !ok {
				return nil, fmt.Errorf("load fallback fixtures: playlist %s song %q not found", p.ID, id)
			}
			playlist.Tracks = append(playlist.Tracks, w.toTrack())
		}
		f.playlists[p.ID] = playlist
	}
	return f, nil
}

func (f *Fallback) Kind() Kind {
	return KindFallback
}

// matches reports whether every word of query appears in one of fields.
func matches(query string, fields ...string) bool {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return false
	}
	haystack := strings.ToLower(strings.Join(fields, " "))
	return lo.EveryBy(words, func(word string) bool { return strings.Contains(haystack, word) })
}

func (f *Fallback) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	songs, _ := f.SearchSongs(ctx, query)
	albums, _ := f.SearchAlbums(ctx, query)
	return &SearchResult{
		Songs:  lo.Subset(songs, 0, uint(limit)),
		Albums: lo.Subset(albums, 0, uint(limit)),
	}, nil
}

func (f *Fallback) SearchSongs(_ context.Context, query string) ([]model.Track, error) {
	results := lo.Filter(f.songs, func(t model.Track, _ int) bool {
		return matches(query, t.Title, t.Artists(), t.Album)
	})
	f.logger.Tracef("search songs %q: %d fixture results", query, len(results))
	return results, nil
}

func (f *Fallback) SearchAlbums(_ context.Context, query string) ([]Album, error) {
	return lo.Filter(f.albums, func(a Album, _ int) bool {
		return matches(query, a.Name, strings.Join(a.ArtistNames, " "))
	}), nil
}

func (f *Fallback) Trending(_ context.Context, category Category) ([]Item, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	return filterItems(f.trending, category), nil
}

// ArtistTopSongs returns every fixture song credited to artistID.
func (f *Fallback) ArtistTopSongs(_ context.Context, artistID string) ([]model.Track, error) {
	return append([]model.Track(nil), f.byArtist[artistID]...), nil
}

func (f *Fallback) Playlist(_ context.Context, id string) (*Playlist, error) {
	playlist, ok := f.playlists[id]
	if !ok {
		return nil, &FailedError{Operation: "playlist", Message: "playlist not found"}
	}
	copied := *playlist
	copied.Tracks = append([]model.Track(nil), playlist.Tracks...)
	return &copied, nil
}
