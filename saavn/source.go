// Package saavn talks to the primary catalog: the aggregator API that
// carries direct audio URLs. Access goes through a Source, with a Live
// implementation backed by the API and a Fallback backed by bundled
// fixtures, chosen per call by a Supervisor.
package saavn

import (
	"context"

	"saavnbridge/model"
)

type Kind string

const (
	KindLive     Kind = "live"
	KindFallback Kind = "fallback"
)

// Source is everything the resolver and the bridge need from the primary
// catalog. Trending must return only entries of the requested category.
type Source interface {
	Kind() Kind
	Search(ctx context.Context, query string, limit int) (*SearchResult, error)
	SearchSongs(ctx context.Context, query string) ([]model.Track, error)
	SearchAlbums(ctx context.Context, query string) ([]Album, error)
	Trending(ctx context.Context, category Category) ([]Item, error)
	ArtistTopSongs(ctx context.Context, artistID string) ([]model.Track, error)
	Playlist(ctx context.Context, id string) (*Playlist, error)
}
