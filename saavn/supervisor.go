package saavn

import (
	"context"
	"errors"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"saavnbridge/httpclient"
	"saavnbridge/model"
)

// Supervisor serves every call from the live source and switches to the
// fallback source only when the live failure is transient (no response,
// rate limited, 5xx). Unsupported features, failed envelopes and
// cancellation are returned as-is. It counts which source served each call.
type Supervisor struct {
	live     Source
	fallback Source

	liveServed     atomic.Int64
	fallbackServed atomic.Int64

	logger *log.Entry
}

// NewSupervisor takes the live source and an optional fallback. A nil live
// source means offline: everything is served by the fallback.
func NewSupervisor(live, fallback Source) *Supervisor {
	if live == nil && fallback == nil {
		panic("saavn: supervisor needs at least one source")
	}
	return &Supervisor{
		live:     live,
		fallback: fallback,
		logger: log.WithFields(log.Fields{
			"module": "saavn",
			"source": "supervisor",
		}),
	}
}

func (s *Supervisor) Kind() Kind {
	if s.live == nil {
		return KindFallback
	}
	return KindLive
}

// Served reports how many calls the given source kind has answered.
func (s *Supervisor) Served(kind Kind) int64 {
	switch kind {
	case KindLive:
		return s.liveServed.Load()
	case KindFallback:
		return s.fallbackServed.Load()
	}
	return 0
}

// shouldFallback is the switching policy.
func shouldFallback(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return httpclient.IsRecoverable(err)
}

func serve[T any](ctx context.Context, s *Supervisor, op string, call func(Source) (T, error)) (T, error) {
	if s.live != nil {
		value, err := call(s.live)
		if err == nil {
			s.liveServed.Add(1)
			return value, nil
		}
		if s.fallback == nil || !shouldFallback(err) || ctx.Err() != nil {
			return value, err
		}
		s.logger.WithFields(log.Fields{
			"operation": op,
			"error":     err,
		}).Warn("live catalog unavailable, serving fallback data")
	}

	value, err := call(s.fallback)
	if err == nil {
		s.fallbackServed.Add(1)
	}
	return value, err
}

func (s *Supervisor) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	return serve(ctx, s, "search", func(src Source) (*SearchResult, error) {
		return src.Search(ctx, query, limit)
	})
}

func (s *Supervisor) SearchSongs(ctx context.Context, query string) ([]model.Track, error) {
	return serve(ctx, s, "search_songs", func(src Source) ([]model.Track, error) {
		return src.SearchSongs(ctx, query)
	})
}

func (s *Supervisor) SearchAlbums(ctx context.Context, query string) ([]Album, error) {
	return serve(ctx, s, "search_albums", func(src Source) ([]Album, error) {
		return src.SearchAlbums(ctx, query)
	})
}

func (s *Supervisor) Trending(ctx context.Context, category Category) ([]Item, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	return serve(ctx, s, "trending", func(src Source) ([]Item, error) {
		return src.Trending(ctx, category)
	})
}

func (s *Supervisor) ArtistTopSongs(ctx context.Context, artistID string) ([]model.Track, error) {
	return serve(ctx, s, "artist_top_songs", func(src Source) ([]model.Track, error) {
		return src.ArtistTopSongs(ctx, artistID)
	})
}

func (s *Supervisor) Playlist(ctx context.Context, id string) (*Playlist, error) {
	return serve(ctx, s, "playlist", func(src Source) (*Playlist, error) {
		return src.Playlist(ctx, id)
	})
}
