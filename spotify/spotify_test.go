package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"saavnbridge/model"
)

func TestParseSpotifyURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Link
		wantErr bool
	}{
		{
			name: "track",
			url:  "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b",
			want: Link{Kind: KindTrack, ID: "0VjIjW4GlUZAMYd2vXMi3b"},
		},
		{
			name: "track with si query",
			url:  "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b?si=abc123",
			want: Link{Kind: KindTrack, ID: "0VjIjW4GlUZAMYd2vXMi3b"},
		},
		{
			name: "playlist",
			url:  "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			want: Link{Kind: KindPlaylist, ID: "37i9dQZF1DXcBWIGoYBM5M"},
		},
		{
			name: "localized playlist",
			url:  "https://open.spotify.com/intl-de/playlist/37i9dQZF1DXcBWIGoYBM5M",
			want: Link{Kind: KindPlaylist, ID: "37i9dQZF1DXcBWIGoYBM5M"},
		},
		{
			name: "album",
			url:  "https://open.spotify.com/album/4yP0hdKOZPNshxUOjY0cZj",
			want: Link{Kind: KindAlbum, ID: "4yP0hdKOZPNshxUOjY0cZj"},
		},
		{
			name: "artist",
			url:  "https://open.spotify.com/artist/4NHQPlJsbc7kbJTwq0B3lD",
			want: Link{Kind: KindArtist, ID: "4NHQPlJsbc7kbJTwq0B3lD"},
		},
		{
			name:    "invalid domain",
			url:     "https://example.com/track/abc",
			wantErr: true,
		},
		{
			name:    "missing id",
			url:     "https://open.spotify.com/track/",
			wantErr: true,
		},
		{
			name:    "wrong path",
			url:     "https://open.spotify.com/wrong/abc",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpotifyURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSpotifyURL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSpotifyURL) {
					t.Errorf("error = %v, want ErrInvalidSpotifyURL", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseSpotifyURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeAPI struct {
	server        *httptest.Server
	tokenRequests atomic.Int32
	pageRequests  atomic.Int32
	total         int
}

func trackJSON(i int) string {
	return fmt.Sprintf(`{"type":"track","id":"t%d","name":"Song %d","duration_ms":215000,
		"artists":[{"id":"a1","name":"Arijit Singh"},{"id":"a2","name":"Pritam"}],
		"album":{"name":"Album %d","images":[{"url":"https://img/%d.jpg","height":640,"width":640}]}}`, i, i, i, i)
}

func newFakeAPI(t *testing.T, total int) *fakeAPI {
	t.Helper()
	api := &fakeAPI{total: total}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case path == "/api/token":
			api.tokenRequests.Add(1)
			w.Write([]byte(`{"access_token":"token-1","token_type":"bearer","expires_in":3600}`))
			return
		case r.Header.Get("Authorization") != "Bearer token-1":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"status":401,"message":"No token provided"}}`))
			return
		case path == "/v1/search":
			w.Write([]byte(`{"playlists":{"href":"","limit":20,"offset":0,"total":2,"items":[
				{"id":"p1","name":"Bollywood Hits","owner":{"display_name":"editor"},"tracks":{"total":150},"images":[{"url":"https://img/p1.jpg"}]},
				null]}}`))
		case path == "/v1/playlists/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"status":404,"message":"Not found."}}`))
		case path == "/v1/playlists/empty":
			w.Write([]byte(`{"id":"empty","name":"Nothing","owner":{"display_name":"me"},"tracks":{"total":0,"items":[]}}`))
		case path == "/v1/playlists/p1":
			fmt.Fprintf(w, `{"id":"p1","name":"Bollywood Hits","owner":{"display_name":"editor"},"tracks":{"total":%d,"items":[]}}`, api.total)
		case path == "/v1/playlists/p1/tracks":
			api.pageRequests.Add(1)
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			items := []string{}
			for i := offset; i < offset+limit && i < api.total; i++ {
				if i == 5 {
					items = append(items, `{"track":{"type":"episode","id":"e5","name":"Podcast"}}`)
					continue
				}
				items = append(items, `{"track":`+trackJSON(i)+`}`)
			}
			fmt.Fprintf(w, `{"href":"","limit":%d,"offset":%d,"total":%d,"items":[%s]}`, limit, offset, api.total, strings.Join(items, ","))
		case path == "/v1/tracks/t9":
			w.Write([]byte(trackJSON(9)))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"status":404,"message":"Not found."}}`))
		}
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) client(t *testing.T, limit int) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		ClientID:      "id",
		ClientSecret:  "secret",
		TokenURL:      a.server.URL + "/api/token",
		BaseURL:       a.server.URL + "/v1",
		PlaylistLimit: limit,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(context.Background(), Config{}); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("New() error = %v, want ErrMissingCredentials", err)
	}
}

func TestGetPlaylistTracksPaginates(t *testing.T) {
	api := newFakeAPI(t, 150)
	c := api.client(t, 500)

	result, err := c.GetPlaylistTracks(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetPlaylistTracks() error = %v", err)
	}
	if result.Name != "Bollywood Hits" || result.TotalTracks != 150 {
		t.Errorf("summary = %+v", result.PlaylistSummary)
	}
	// 150 items minus the episode at position 5
	if len(result.Tracks) != 149 {
		t.Fatalf("got %d tracks, want 149", len(result.Tracks))
	}
	if result.Tracks[0].ID != "t0" || result.Tracks[148].ID != "t149" {
		t.Errorf("tracks out of order: first %s last %s", result.Tracks[0].ID, result.Tracks[148].ID)
	}
	if got := api.pageRequests.Load(); got != 2 {
		t.Errorf("page requests = %d, want 2", got)
	}

	first := result.Tracks[0]
	if first.SourceCatalog != model.CatalogSecondary || first.IsResolved() {
		t.Errorf("secondary tracks must not carry audio: %+v", first)
	}
	if first.Artists() != "Arijit Singh, Pritam" || first.DurationSeconds != 215 || first.ArtworkURL != "https://img/0.jpg" {
		t.Errorf("unexpected mapping: %+v", first)
	}
}

func TestGetPlaylistTracksRespectsLimit(t *testing.T) {
	api := newFakeAPI(t, 150)
	c := api.client(t, 30)

	result, err := c.GetPlaylistTracks(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Tracks) != 29 {
		t.Errorf("got %d tracks, want 29", len(result.Tracks))
	}
	if got := api.pageRequests.Load(); got != 1 {
		t.Errorf("page requests = %d, want 1", got)
	}
}

func TestPlaylistErrors(t *testing.T) {
	api := newFakeAPI(t, 10)
	c := api.client(t, 100)

	if _, err := c.GetPlaylistTracks(context.Background(), "missing"); !errors.Is(err, ErrPlaylistNotFound) {
		t.Errorf("missing playlist error = %v", err)
	}
	if _, err := c.GetPlaylistTracks(context.Background(), "empty"); !errors.Is(err, ErrPlaylistEmpty) {
		t.Errorf("empty playlist error = %v", err)
	}
}

func TestSearchAndGetTrackReuseToken(t *testing.T) {
	api := newFakeAPI(t, 10)
	c := api.client(t, 100)

	playlists, err := c.SearchPlaylists(context.Background(), "bollywood", 10)
	if err != nil {
		t.Fatalf("SearchPlaylists() error = %v", err)
	}
	if len(playlists) != 1 || playlists[0].ID != "p1" || playlists[0].TotalTracks != 150 || playlists[0].Owner != "editor" {
		t.Errorf("SearchPlaylists() = %+v", playlists)
	}

	track, err := c.GetTrack(context.Background(), "t9")
	if err != nil {
		t.Fatalf("GetTrack() error = %v", err)
	}
	if track.Title != "Song 9" || track.Album != "Album 9" {
		t.Errorf("GetTrack() = %+v", track)
	}

	if got := api.tokenRequests.Load(); got != 1 {
		t.Errorf("token requests = %d, want 1", got)
	}
}
