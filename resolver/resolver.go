// Package resolver turns a track from either catalog into playable
// candidate URLs from the primary catalog.
package resolver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"saavnbridge/httpclient"
	"saavnbridge/model"
	"saavnbridge/retry"
	"saavnbridge/saavn"
)

const (
	SourceExactSearch    = "exact_search"
	SourceTitleSearch    = "title_search"
	SourceArtistTopSongs = "artist_top_songs"
	SourceTrending       = "trending"
	// SourceProvided marks a track that already carried candidates.
	SourceProvided = "provided"

	DefaultParallelism = 4
)

// Catalog is the part of the primary catalog the chain searches.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) (*saavn.SearchResult, error)
	SearchSongs(ctx context.Context, query string) ([]model.Track, error)
	ArtistTopSongs(ctx context.Context, artistID string) ([]model.Track, error)
	Trending(ctx context.Context, category saavn.Category) ([]saavn.Item, error)
}

// Cache holds successful resolutions. Failures are never stored.
type Cache interface {
	Get(key string) (model.ResolvedTrack, bool)
	Set(key string, value model.ResolvedTrack)
}

type Options struct {
	// Attempts per strategy when the catalog does not answer.
	Attempts    int
	RetryDelay  time.Duration
	Parallelism int
}

type Resolver struct {
	catalog     Catalog
	cache       Cache
	group       singleflight.Group
	policy      retry.Policy
	parallelism int
	logger      *log.Entry
}

type strategy struct {
	name string
	run  func(ctx context.Context, track model.Track) (*model.Track, error)
}

func New(catalog Catalog, cache Cache, opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	return &Resolver{
		catalog: catalog,
		cache:   cache,
		policy: retry.Policy{
			MaxAttempts: opts.Attempts,
			Delay:       opts.RetryDelay,
			Retryable:   isTransient,
			Name:        "resolve",
		},
		parallelism: opts.Parallelism,
		logger: log.WithFields(log.Fields{
			"module": "resolver",
		}),
	}
}

// isTransient is true for failures a second attempt can fix. A rate limit
// will not clear within the retry delay, so it is not one of them.
func isTransient(err error) bool {
	var noResponse *httpclient.NoResponseError
	return errors.As(err, &noResponse)
}

// CacheKey is "songId|artistId", or "title|artist" when the track has no id.
func CacheKey(track model.Track) string {
	if track.ID != "" {
		return track.ID + "|" + track.ArtistID
	}
	return strings.ToLower(strings.TrimSpace(track.Title)) + "|" + strings.ToLower(track.Artists())
}

// ResolvePlayableTrack runs the fallback chain for track. A nil result with
// a nil error means no strategy found it: the track is unplayable here, not
// broken. Only cancellation is returned as an error.
func (r *Resolver) ResolvePlayableTrack(ctx context.Context, track model.Track) (*model.ResolvedTrack, error) {
	if track.IsResolved() {
		return &model.ResolvedTrack{
			Track:         track,
			CandidateURLs: track.CandidateURLs,
			Source:        SourceProvided,
		}, nil
	}

	key := CacheKey(track)
	if cached, ok := r.cache.Get(key); ok {
		r.logger.Tracef("resolution cache hit %s", key)
		cached.FromCache = true
		return &cached, nil
	}

	for {
		ch := r.group.DoChan(key, func() (any, error) {
			return r.resolve(ctx, track, key)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				leaderLeft := errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)
				if leaderLeft && ctx.Err() == nil {
					// the caller that led the shared resolution left; take over
					continue
				}
				return nil, res.Err
			}
			resolved, _ := res.Val.(*model.ResolvedTrack)
			if resolved == nil {
				return nil, nil
			}
			copied := *resolved
			return &copied, nil
		}
	}
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{SourceExactSearch, r.exactSearch},
		{SourceTitleSearch, r.titleSearch},
		{SourceArtistTopSongs, r.artistTopSongs},
		{SourceTrending, r.trending},
	}
}

func (r *Resolver) resolve(ctx context.Context, track model.Track, key string) (*model.ResolvedTrack, error) {
	span := sentry.StartSpan(ctx, "resolver.resolve")
	span.Description = "Resolve playable track"
	span.SetTag("catalog", string(track.SourceCatalog))
	span.SetData("key", key)
	defer span.Finish()
	ctx = span.Context()

	logger := r.logger.WithFields(log.Fields{
		"title":  track.Title,
		"artist": track.Artists(),
	})

	for _, s := range r.strategies() {
		var match *model.Track
		err := retry.Do(ctx, r.policy, func(ctx context.Context, _ int) error {
			var err error
			match, err = s.run(ctx, track)
			return err
		})
		if ctx.Err() != nil {
			span.Status = sentry.SpanStatusCanceled
			return nil, ctx.Err()
		}
		if err != nil {
			logger.WithField("strategy", s.name).Warnf("strategy failed, trying next: %v", err)
			continue
		}
		if match == nil {
			logger.WithField("strategy", s.name).Trace("no match")
			continue
		}

		resolved := &model.ResolvedTrack{
			Track:         track,
			CandidateURLs: append([]model.CandidateURL(nil), match.CandidateURLs...),
			Source:        s.name,
		}
		r.cache.Set(key, *resolved)
		logger.WithField("strategy", s.name).Debugf("resolved to primary track %s", match.ID)
		span.SetTag("source", s.name)
		span.Status = sentry.SpanStatusOK
		return resolved, nil
	}

	logger.Debug("no strategy matched, track is only available on the other catalog")
	span.Status = sentry.SpanStatusNotFound
	return nil, nil
}

func firstPlayable(tracks []model.Track) *model.Track {
	match, ok := lo.Find(tracks, func(t model.Track) bool { return t.IsResolved() })
	if !ok {
		return nil
	}
	return &match
}

func (r *Resolver) exactSearch(ctx context.Context, track model.Track) (*model.Track, error) {
	if len(track.ArtistNames) == 0 {
		// nothing beyond the title search to try
		return nil, nil
	}
	results, err := r.catalog.SearchSongs(ctx, track.Title+" "+track.Artists())
	if err != nil {
		return nil, err
	}
	return firstPlayable(results), nil
}

func (r *Resolver) titleSearch(ctx context.Context, track model.Track) (*model.Track, error) {
	results, err := r.catalog.SearchSongs(ctx, track.Title)
	if err != nil {
		return nil, err
	}
	return firstPlayable(results), nil
}

func (r *Resolver) artistTopSongs(ctx context.Context, track model.Track) (*model.Track, error) {
	if track.ArtistID == "" {
		return nil, nil
	}
	songs, err := r.catalog.ArtistTopSongs(ctx, track.ArtistID)
	if err != nil {
		return nil, err
	}
	return bestTitleMatch(track.Title, songs), nil
}

func (r *Resolver) trending(ctx context.Context, track model.Track) (*model.Track, error) {
	items, err := r.catalog.Trending(ctx, saavn.CategorySong)
	if err != nil {
		return nil, err
	}
	songs := lo.FilterMap(items, func(item saavn.Item, _ int) (model.Track, bool) {
		if item.Type != saavn.CategorySong || item.Song == nil {
			return model.Track{}, false
		}
		return *item.Song, true
	})
	return bestTitleMatch(track.Title, songs), nil
}

// bestTitleMatch keeps the playable songs whose title contains title
// (case-insensitive) and returns the one closest to it.
func bestTitleMatch(title string, songs []model.Track) *model.Track {
	needle := strings.ToLower(strings.TrimSpace(title))
	if needle == "" {
		return nil
	}
	candidates := lo.Filter(songs, func(s model.Track, _ int) bool {
		return s.IsResolved() && strings.Contains(strings.ToLower(s.Title), needle)
	})
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return &candidates[0]
	}

	titles := lo.Map(candidates, func(s model.Track, _ int) string { return s.Title })
	ranks := fuzzy.RankFindNormalizedFold(needle, titles)
	if len(ranks) == 0 {
		return &candidates[0]
	}
	sort.Stable(ranks)
	return &candidates[ranks[0].OriginalIndex]
}

// Result is one entry of a batch resolution.
type Result struct {
	Track    model.Track          `json:"track"`
	Resolved *model.ResolvedTrack `json:"resolved,omitempty"`
	Err      error                `json:"-"`
}

func (r Result) Playable() bool {
	return r.Resolved != nil
}

// ResolveAll resolves tracks with bounded parallelism. Results keep the
// input order; an unplayable entry does not fail the batch.
func (r *Resolver) ResolveAll(ctx context.Context, tracks []model.Track) []Result {
	results := make([]Result, len(tracks))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, track := range tracks {
		results[i].Track = track
		g.Go(func() error {
			resolved, err := r.ResolvePlayableTrack(ctx, track)
			results[i].Resolved = resolved
			results[i].Err = err
			return nil
		})
	}
	g.Wait()

	playable := lo.CountBy(results, Result.Playable)
	r.logger.Debugf("resolved %d of %d tracks", playable, len(tracks))
	return results
}

func (r *Resolver) Search(ctx context.Context, query string, limit int) (*saavn.SearchResult, error) {
	return r.catalog.Search(ctx, query, limit)
}
