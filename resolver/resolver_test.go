package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"saavnbridge/cache"
	"saavnbridge/httpclient"
	"saavnbridge/model"
	"saavnbridge/saavn"
)

func playable(id, title string) model.Track {
	return model.Track{
		ID:            id,
		Title:         title,
		SourceCatalog: model.CatalogPrimary,
		CandidateURLs: []model.CandidateURL{
			{URL: "https://cdn/" + id + "_96.mp4", Quality: "96kbps"},
			{URL: "https://cdn/" + id + "_320.mp4", Quality: "320kbps"},
		},
	}
}

type fakeCatalog struct {
	mutex sync.Mutex
	calls []string

	searchSongs func(ctx context.Context, query string) ([]model.Track, error)
	topSongs    func(ctx context.Context, artistID string) ([]model.Track, error)
	trending    func(ctx context.Context, category saavn.Category) ([]saavn.Item, error)
}

func (f *fakeCatalog) record(call string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCatalog) Calls() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCatalog) Search(_ context.Context, query string, _ int) (*saavn.SearchResult, error) {
	f.record("search:" + query)
	return &saavn.SearchResult{}, nil
}

func (f *fakeCatalog) SearchSongs(ctx context.Context, query string) ([]model.Track, error) {
	f.record("songs:" + query)
	if f.searchSongs == nil {
		return nil, nil
	}
	return f.searchSongs(ctx, query)
}

func (f *fakeCatalog) ArtistTopSongs(ctx context.Context, artistID string) ([]model.Track, error) {
	f.record("top:" + artistID)
	if f.topSongs == nil {
		return nil, nil
	}
	return f.topSongs(ctx, artistID)
}

func (f *fakeCatalog) Trending(ctx context.Context, category saavn.Category) ([]saavn.Item, error) {
	f.record("trending:" + string(category))
	if f.trending == nil {
		return nil, nil
	}
	return f.trending(ctx, category)
}

func newResolver(catalog Catalog) (*Resolver, *cache.TTL[string, model.ResolvedTrack]) {
	resolutions := cache.New[string, model.ResolvedTrack](time.Hour)
	return New(catalog, resolutions, Options{RetryDelay: time.Millisecond}), resolutions
}

var spotifyTrack = model.Track{
	ID:            "sp1",
	Title:         "Tum Hi Ho",
	ArtistNames:   []string{"Arijit Singh"},
	SourceCatalog: model.CatalogSecondary,
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestFallbackStopsAtTitleSearch(t *testing.T) {
	catalog := &fakeCatalog{
		searchSongs: func(_ context.Context, query string) ([]model.Track, error) {
			if query == "Tum Hi Ho" {
				return []model.Track{{ID: "no-audio", Title: "Tum Hi Ho"}, playable("s1", "Tum Hi Ho")}, nil
			}
			return nil, nil
		},
	}
	r, _ := newResolver(catalog)

	track := spotifyTrack
	track.ArtistID = "459320"
	resolved, err := r.ResolvePlayableTrack(context.Background(), track)
	if err != nil {
		t.Fatalf("ResolvePlayableTrack() error = %v", err)
	}
	if resolved == nil || resolved.Source != SourceTitleSearch {
		t.Fatalf("resolved = %+v, want title_search", resolved)
	}
	if resolved.CandidateURLs[0].URL != "https://cdn/s1_96.mp4" {
		t.Errorf("CandidateURLs = %+v", resolved.CandidateURLs)
	}
	equalCalls(t, catalog.Calls(), []string{"songs:Tum Hi Ho Arijit Singh", "songs:Tum Hi Ho"})
}

func TestResolutionIsIdempotent(t *testing.T) {
	catalog := &fakeCatalog{
		searchSongs: func(context.Context, string) ([]model.Track, error) {
			return []model.Track{playable("s1", "Tum Hi Ho")}, nil
		},
	}
	r, _ := newResolver(catalog)

	first, err := r.ResolvePlayableTrack(context.Background(), spotifyTrack)
	if err != nil || first == nil {
		t.Fatalf("first resolution = %+v, %v", first, err)
	}
	callsAfterFirst := len(catalog.Calls())

	second, err := r.ResolvePlayableTrack(context.Background(), spotifyTrack)
	if err != nil || second == nil {
		t.Fatalf("second resolution = %+v, %v", second, err)
	}
	if got := len(catalog.Calls()); got != callsAfterFirst {
		t.Errorf("second resolution made %d catalog calls", got-callsAfterFirst)
	}
	if !second.FromCache || first.FromCache {
		t.Errorf("FromCache first=%v second=%v", first.FromCache, second.FromCache)
	}
	if len(first.CandidateURLs) != len(second.CandidateURLs) || first.CandidateURLs[1] != second.CandidateURLs[1] {
		t.Errorf("candidates differ: %+v vs %+v", first.CandidateURLs, second.CandidateURLs)
	}
}

func TestExhaustedChainReturnsNil(t *testing.T) {
	catalog := &fakeCatalog{
		trending: func(context.Context, saavn.Category) ([]saavn.Item, error) {
			song := playable("s9", "Something Else")
			return []saavn.Item{{Type: saavn.CategorySong, Song: &song}}, nil
		},
	}
	r, resolutions := newResolver(catalog)

	track := spotifyTrack
	track.ArtistID = "459320"
	resolved, err := r.ResolvePlayableTrack(context.Background(), track)
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if resolved != nil {
		t.Fatalf("resolved = %+v, want nil", resolved)
	}
	equalCalls(t, catalog.Calls(), []string{
		"songs:Tum Hi Ho Arijit Singh",
		"songs:Tum Hi Ho",
		"top:459320",
		"trending:song",
	})
	if resolutions.Len() != 0 {
		t.Error("exhausted resolution was cached")
	}
}

func TestFailingStrategyDoesNotAbortChain(t *testing.T) {
	catalog := &fakeCatalog{
		searchSongs: func(context.Context, string) ([]model.Track, error) {
			return nil, &saavn.FailedError{Operation: "search_songs", Message: "boom"}
		},
		topSongs: func(context.Context, string) ([]model.Track, error) {
			return []model.Track{playable("s1", "Tum Hi Ho")}, nil
		},
	}
	r, _ := newResolver(catalog)

	track := spotifyTrack
	track.ArtistID = "459320"
	resolved, err := r.ResolvePlayableTrack(context.Background(), track)
	if err != nil {
		t.Fatal(err)
	}
	if resolved == nil || resolved.Source != SourceArtistTopSongs {
		t.Fatalf("resolved = %+v, want artist_top_songs", resolved)
	}
	// non-transient failures are not retried
	equalCalls(t, catalog.Calls(), []string{"songs:Tum Hi Ho Arijit Singh", "songs:Tum Hi Ho", "top:459320"})
}

func TestTransientFailureIsRetried(t *testing.T) {
	var attempts atomic.Int32
	catalog := &fakeCatalog{
		searchSongs: func(context.Context, string) ([]model.Track, error) {
			if attempts.Add(1) == 1 {
				return nil, &httpclient.NoResponseError{Timeout: true}
			}
			return []model.Track{playable("s1", "Tum Hi Ho")}, nil
		},
	}
	r, _ := newResolver(catalog)

	resolved, err := r.ResolvePlayableTrack(context.Background(), spotifyTrack)
	if err != nil || resolved == nil {
		t.Fatalf("resolution = %+v, %v", resolved, err)
	}
	if resolved.Source != SourceExactSearch {
		t.Errorf("Source = %q, want exact_search", resolved.Source)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestTrendingOnlyMatchesSongs(t *testing.T) {
	catalog := &fakeCatalog{
		trending: func(context.Context, saavn.Category) ([]saavn.Item, error) {
			song := playable("s2", "Tum Hi Ho (Unplugged)")
			return []saavn.Item{
				{Type: saavn.CategoryAlbum, Album: &saavn.Album{ID: "a1", Name: "Tum Hi Ho"}},
				{Type: saavn.CategorySong, Song: &song},
			}, nil
		},
	}
	r, _ := newResolver(catalog)

	resolved, err := r.ResolvePlayableTrack(context.Background(), spotifyTrack)
	if err != nil || resolved == nil {
		t.Fatalf("resolution = %+v, %v", resolved, err)
	}
	if resolved.Source != SourceTrending || resolved.CandidateURLs[0].URL != "https://cdn/s2_96.mp4" {
		t.Errorf("resolved = %+v", resolved)
	}
}

func TestBestTitleMatch(t *testing.T) {
	songs := []model.Track{
		playable("a", "Tum Hi Ho (Reprise Version)"),
		{ID: "b", Title: "TUM HI HO"},
		playable("c", "tum hi ho"),
		playable("d", "Kesariya"),
	}

	tests := []struct {
		title  string
		wantID string
	}{
		{"Tum Hi Ho", "c"},
		{"reprise", "a"},
		{"Chaleya", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := bestTitleMatch(tt.title, songs)
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("bestTitleMatch() = %s, want nil", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("bestTitleMatch() = %+v, want %s", got, tt.wantID)
			}
		})
	}
}

func TestConcurrentResolutionsAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	var searches atomic.Int32
	catalog := &fakeCatalog{
		searchSongs: func(ctx context.Context, _ string) ([]model.Track, error) {
			searches.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []model.Track{playable("s1", "Tum Hi Ho")}, nil
		},
	}
	r, _ := newResolver(catalog)

	var wg sync.WaitGroup
	results := make(chan *model.ResolvedTrack, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved, _ := r.ResolvePlayableTrack(context.Background(), spotifyTrack)
			results <- resolved
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for resolved := range results {
		if resolved == nil {
			t.Error("a caller got no resolution")
		}
	}
	if got := searches.Load(); got != 1 {
		t.Errorf("searches = %d, want 1", got)
	}
}

func TestCanceledResolutionCachesNothing(t *testing.T) {
	catalog := &fakeCatalog{
		searchSongs: func(ctx context.Context, _ string) ([]model.Track, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	r, resolutions := newResolver(catalog)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	resolved, err := r.ResolvePlayableTrack(ctx, spotifyTrack)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if resolved != nil {
		t.Error("canceled resolution returned a result")
	}
	time.Sleep(20 * time.Millisecond)
	if resolutions.Len() != 0 {
		t.Error("canceled resolution was cached")
	}
}

func TestProvidedCandidatesSkipTheChain(t *testing.T) {
	catalog := &fakeCatalog{}
	r, _ := newResolver(catalog)

	resolved, err := r.ResolvePlayableTrack(context.Background(), playable("s1", "Tum Hi Ho"))
	if err != nil || resolved == nil || resolved.Source != SourceProvided {
		t.Fatalf("resolution = %+v, %v", resolved, err)
	}
	if len(catalog.Calls()) != 0 {
		t.Errorf("calls = %v, want none", catalog.Calls())
	}
}

func TestResolveAllKeepsOrder(t *testing.T) {
	catalog := &fakeCatalog{
		searchSongs: func(_ context.Context, query string) ([]model.Track, error) {
			if query == "Kesariya" {
				return []model.Track{playable("k", "Kesariya")}, nil
			}
			return nil, nil
		},
	}
	r, _ := newResolver(catalog)

	tracks := []model.Track{
		{ID: "1", Title: "Kesariya", SourceCatalog: model.CatalogSecondary},
		{ID: "2", Title: "Unknown Song", SourceCatalog: model.CatalogSecondary},
		{ID: "3", Title: "Kesariya", ArtistNames: []string{"Pritam"}, SourceCatalog: model.CatalogSecondary},
	}
	results := r.ResolveAll(context.Background(), tracks)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []bool{true, false, true} {
		if results[i].Track.ID != tracks[i].ID {
			t.Errorf("result %d is for track %s", i, results[i].Track.ID)
		}
		if results[i].Playable() != want {
			t.Errorf("result %d playable = %v, want %v", i, results[i].Playable(), want)
		}
		if results[i].Err != nil {
			t.Errorf("result %d error = %v", i, results[i].Err)
		}
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name  string
		track model.Track
		want  string
	}{
		{"id and artist", model.Track{ID: "s1", ArtistID: "a1", Title: "X"}, "s1|a1"},
		{"id only", model.Track{ID: "s1", Title: "X"}, "s1|"},
		{"no id", model.Track{Title: " Tum Hi Ho ", ArtistNames: []string{"Arijit Singh", "Mithoon"}}, "tum hi ho|arijit singh, mithoon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey(tt.track); got != tt.want {
				t.Errorf("CacheKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
