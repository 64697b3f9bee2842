// Package spotify reads the secondary catalog. It has rich metadata but no
// audio, so its tracks are resolved against the primary catalog before
// playback.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	spotifyclient "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"saavnbridge/model"
)

const (
	DefaultPlaylistLimit = 100
	pageSize             = 100
	pageConcurrency      = 4
)

var (
	ErrPlaylistNotFound   = errors.New("playlist not found")
	ErrPlaylistPrivate    = errors.New("playlist is private or not accessible")
	ErrPlaylistEmpty      = errors.New("playlist is empty")
	ErrNoPlayableTracks   = errors.New("playlist contains no playable tracks (only podcasts or episodes)")
	ErrInvalidSpotifyURL  = errors.New("invalid Spotify URL")
	ErrMissingCredentials = errors.New("spotify client id and secret are required")
)

type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL and BaseURL default to the public endpoints; tests point them at httptest.
	TokenURL string
	BaseURL  string
	// PlaylistLimit caps how many tracks GetPlaylistTracks returns.
	PlaylistLimit int
}

type Client struct {
	api           *spotifyclient.Client
	playlistLimit int
	logger        *log.Entry
}

type PlaylistSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	TotalTracks int    `json:"total_tracks"`
	ArtworkURL  string `json:"artwork_url,omitempty"`
}

type PlaylistResult struct {
	PlaylistSummary
	Tracks []model.Track `json:"tracks"`
}

// New builds a client whose bearer token is fetched on first use and
// refreshed only once it expires.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotifyauth.TokenURL
	}
	if cfg.PlaylistLimit <= 0 {
		cfg.PlaylistLimit = DefaultPlaylistLimit
	}

	credentials := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	// the credentials token source is wrapped in oauth2.ReuseTokenSource
	httpClient := credentials.Client(context.WithoutCancel(ctx))

	var opts []spotifyclient.ClientOption
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, spotifyclient.WithBaseURL(base))
	}

	return &Client{
		api:           spotifyclient.New(httpClient, opts...),
		playlistLimit: cfg.PlaylistLimit,
		logger: log.WithFields(log.Fields{
			"module": "spotify",
		}),
	}, nil
}

func toTrack(track *spotifyclient.FullTrack) model.Track {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}
	var artwork string
	if len(track.Album.Images) > 0 {
		artwork = track.Album.Images[0].URL
	}
	return model.Track{
		ID:              string(track.ID),
		Title:           track.Name,
		ArtistNames:     artists,
		Album:           track.Album.Name,
		DurationSeconds: int(track.Duration) / 1000,
		ArtworkURL:      artwork,
		SourceCatalog:   model.CatalogSecondary,
	}
}

func toSummary(p spotifyclient.SimplePlaylist) PlaylistSummary {
	summary := PlaylistSummary{
		ID:          string(p.ID),
		Name:        p.Name,
		Owner:       p.Owner.DisplayName,
		TotalTracks: int(p.Tracks.Total),
	}
	if len(p.Images) > 0 {
		summary.ArtworkURL = p.Images[0].URL
	}
	return summary
}

// statusOf extracts the HTTP status from a Web API error.
func statusOf(err error) int {
	var apiErr spotifyclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	// older responses only carry the status in the message
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "404") || strings.Contains(errStr, "Not Found"):
		return 404
	case strings.Contains(errStr, "403") || strings.Contains(errStr, "Forbidden"):
		return 403
	}
	return 0
}

func playlistError(err error) error {
	switch statusOf(err) {
	case 404:
		return ErrPlaylistNotFound
	case 403:
		return ErrPlaylistPrivate
	}
	return err
}

func (c *Client) SearchPlaylists(ctx context.Context, query string, limit int) ([]PlaylistSummary, error) {
	span := sentry.StartSpan(ctx, "spotify.search_playlists")
	span.Description = "Search Spotify playlists"
	span.SetTag("query", query)
	defer span.Finish()

	if limit <= 0 || limit > 50 {
		limit = 20
	}
	results, err := c.api.Search(span.Context(), query, spotifyclient.SearchTypePlaylist, spotifyclient.Limit(limit))
	if err != nil {
		c.logger.Errorf("Failed to search Spotify playlists %q: %v", query, err)
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	summaries := []PlaylistSummary{}
	if results.Playlists != nil {
		for _, p := range results.Playlists.Playlists {
			// the API returns null entries for playlists removed since indexing
			if p.ID == "" {
				continue
			}
			summaries = append(summaries, toSummary(p))
		}
	}

	span.Status = sentry.SpanStatusOK
	span.SetData("results", len(summaries))
	return summaries, nil
}

func (c *Client) GetPlaylist(ctx context.Context, playlistID string) (*PlaylistSummary, error) {
	span := sentry.StartSpan(ctx, "spotify.get_playlist")
	span.Description = "Get playlist from Spotify API"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()

	playlist, err := c.api.GetPlaylist(span.Context(), spotifyclient.ID(playlistID))
	if err != nil {
		c.logger.Errorf("Failed to fetch Spotify playlist %s: %v", playlistID, err)
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return nil, playlistError(err)
	}

	summary := toSummary(playlist.SimplePlaylist)
	summary.TotalTracks = int(playlist.Tracks.Total)
	span.Status = sentry.SpanStatusOK
	return &summary, nil
}

// GetPlaylistTracks returns up to the configured limit of playable tracks.
// Pages after the first are fetched concurrently and reassembled in order.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID string) (*PlaylistResult, error) {
	c.logger.Tracef("Fetching playlist tracks from Spotify API: %s (limit: %d)", playlistID, c.playlistLimit)

	span := sentry.StartSpan(ctx, "spotify.get_playlist_tracks")
	span.Description = "Get playlist tracks from Spotify API"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()
	ctx = span.Context()

	summary, err := c.GetPlaylist(ctx, playlistID)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}
	if summary.TotalTracks == 0 {
		c.logger.Warnf("Spotify playlist %s is empty", playlistID)
		span.Status = sentry.SpanStatusOK
		return nil, ErrPlaylistEmpty
	}

	wanted := min(summary.TotalTracks, c.playlistLimit)
	pages := (wanted + pageSize - 1) / pageSize
	results := make([][]spotifyclient.PlaylistItem, pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageConcurrency)
	for i := range pages {
		g.Go(func() error {
			page, err := c.api.GetPlaylistItems(gctx, spotifyclient.ID(playlistID),
				spotifyclient.Limit(min(pageSize, wanted-i*pageSize)),
				spotifyclient.Offset(i*pageSize))
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			results[i] = page.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Errorf("Failed to fetch Spotify playlist items %s: %v", playlistID, err)
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return nil, playlistError(err)
	}

	tracks := make([]model.Track, 0, wanted)
	for _, page := range results {
		for _, item := range page {
			// skip podcasts and episodes
			if item.Track.Track == nil {
				continue
			}
			tracks = append(tracks, toTrack(item.Track.Track))
		}
	}
	if len(tracks) == 0 {
		c.logger.Warnf("Spotify playlist %s has no playable tracks (only podcasts or episodes)", playlistID)
		span.Status = sentry.SpanStatusOK
		return nil, ErrNoPlayableTracks
	}

	c.logger.Debugf("Fetched %d tracks from Spotify playlist '%s' (total: %d)", len(tracks), summary.Name, summary.TotalTracks)
	span.Status = sentry.SpanStatusOK
	span.SetData("tracks_count", len(tracks))
	span.SetData("total_tracks", summary.TotalTracks)

	return &PlaylistResult{PlaylistSummary: *summary, Tracks: tracks}, nil
}

func (c *Client) GetTrack(ctx context.Context, trackID string) (*model.Track, error) {
	c.logger.Tracef("Fetching track from Spotify API: %s", trackID)

	span := sentry.StartSpan(ctx, "spotify.get_track")
	span.Description = "Get track from Spotify API"
	span.SetTag("track_id", trackID)
	defer span.Finish()

	track, err := c.api.GetTrack(span.Context(), spotifyclient.ID(trackID))
	if err != nil {
		c.logger.Errorf("Failed to fetch Spotify track %s: %v", trackID, err)
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	result := toTrack(track)
	c.logger.Debugf("Fetched Spotify track: '%s' by %s", result.Title, result.Artists())
	span.Status = sentry.SpanStatusOK
	return &result, nil
}

type Kind string

const (
	KindTrack    Kind = "track"
	KindPlaylist Kind = "playlist"
	KindAlbum    Kind = "album"
	KindArtist   Kind = "artist"
)

// Link is a parsed open.spotify.com link.
type Link struct {
	Kind Kind
	ID   string
}

// ParseSpotifyURL accepts open.spotify.com links, including localized
// (/intl-xx/) paths and tracking query parameters.
func ParseSpotifyURL(raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host != "open.spotify.com" {
		log.Warnf("URL is not an open.spotify.com link: %s", raw)
		return Link{}, ErrInvalidSpotifyURL
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		log.Warnf("Invalid Spotify URL format (too few parts): %s", raw)
		return Link{}, ErrInvalidSpotifyURL
	}

	kind := Kind(parts[0])
	switch kind {
	case KindTrack, KindPlaylist, KindAlbum, KindArtist:
	default:
		log.Warnf("Unsupported Spotify link type %q: %s", parts[0], raw)
		return Link{}, ErrInvalidSpotifyURL
	}

	log.Tracef("Parsed Spotify %s URL: %s", kind, parts[1])
	return Link{Kind: kind, ID: parts[1]}, nil
}
