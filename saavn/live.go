package saavn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"saavnbridge/httpclient"
	"saavnbridge/model"
)

const DefaultSearchLimit = 20

// Getter is the slice of httpclient.Client the live source uses.
type Getter interface {
	Get(ctx context.Context, rawURL string, cfg *httpclient.RequestConfig) (*httpclient.Response, error)
}

type Live struct {
	http    Getter
	baseURL string
	logger  *log.Entry
}

func NewLive(http Getter, baseURL string) *Live {
	return &Live{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger: log.WithFields(log.Fields{
			"module": "saavn",
			"source": KindLive,
		}),
	}
}

func (l *Live) Kind() Kind {
	return KindLive
}

// get fetches path and decodes the envelope's data into out.
func (l *Live) get(ctx context.Context, op, path string, params url.Values, out any) error {
	span := sentry.StartSpan(ctx, "saavn."+op)
	span.Description = "GET " + path
	defer span.Finish()

	resp, err := l.http.Get(span.Context(), l.baseURL+path, &httpclient.RequestConfig{Params: params})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			span.Status = sentry.SpanStatusInternalError
		} else {
			span.Status = sentry.SpanStatusCanceled
		}
		return err
	}
	span.SetData("from_cache", resp.FromCache)

	var env envelope
	if err := resp.DecodeJSON(&env); err != nil {
		span.Status = sentry.SpanStatusDataLoss
		return fmt.Errorf("saavn %s: %w", op, err)
	}
	if !env.ok() {
		span.Status = sentry.SpanStatusFailedPrecondition
		return &FailedError{Operation: op, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			span.Status = sentry.SpanStatusDataLoss
			return fmt.Errorf("saavn %s: decode data: %w", op, err)
		}
	}

	span.Status = sentry.SpanStatusOK
	return nil
}

func (l *Live) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	var data wireSearch
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	if err := l.get(ctx, "search", "/search", params, &data); err != nil {
		return nil, err
	}
	l.logger.Debugf("search %q: %d songs, %d albums", query, len(data.Songs.Results), len(data.Albums.Results))
	return &SearchResult{
		Songs:  toTracks(data.Songs.Results),
		Albums: toAlbums(data.Albums.Results),
	}, nil
}

func (l *Live) SearchSongs(ctx context.Context, query string) ([]model.Track, error) {
	var data wireList
	if err := l.get(ctx, "search_songs", "/search/songs", url.Values{"q": {query}}, &data); err != nil {
		return nil, err
	}
	l.logger.Tracef("search songs %q: %d results", query, len(data.Results))
	return toTracks(data.Results), nil
}

func (l *Live) SearchAlbums(ctx context.Context, query string) ([]Album, error) {
	var data wireList
	if err := l.get(ctx, "search_albums", "/search/albums", url.Values{"q": {query}}, &data); err != nil {
		return nil, err
	}
	return toAlbums(data.Results), nil
}

// Trending lists the catalog's trending entries of the given category.
// The endpoint returns every type mixed together, so the category is
// applied here rather than trusted to the backend.
func (l *Live) Trending(ctx context.Context, category Category) ([]Item, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	var data []wireItem
	if err := l.get(ctx, "trending", "/get/trending", nil, &data); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(data))
	for _, w := range data {
		items = append(items, w.toItem())
	}
	filtered := filterItems(items, category)
	l.logger.Tracef("trending %q: kept %d of %d", category, len(filtered), len(items))
	return filtered, nil
}

func (l *Live) ArtistTopSongs(ctx context.Context, artistID string) ([]model.Track, error) {
	if artistID == "" {
		return nil, errors.New("saavn artist_top_songs: empty artist id")
	}
	var data wireList
	if err := l.get(ctx, "artist_top_songs", "/artist/top-songs", url.Values{"artist_id": {artistID}}, &data); err != nil {
		return nil, err
	}
	return toTracks(data.Results), nil
}

func (l *Live) Playlist(ctx context.Context, id string) (*Playlist, error) {
	var data wirePlaylist
	if err := l.get(ctx, "playlist", "/playlist", url.Values{"id": {id}}, &data); err != nil {
		return nil, err
	}
	return &Playlist{
		ID:     data.ID,
		Name:   data.Name,
		Tracks: toTracks(data.Songs),
	}, nil
}
