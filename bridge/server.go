// Package bridge is the HTTP surface a UI shell talks to. Handlers are thin:
// they bind the request, call a service and render errors as user-readable
// messages.
package bridge

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"saavnbridge/database"
	"saavnbridge/model"
	"saavnbridge/player"
	"saavnbridge/resolver"
	"saavnbridge/saavn"
	appsentry "saavnbridge/sentry"
	"saavnbridge/spotify"
)

type Catalog interface {
	Search(ctx context.Context, query string, limit int) (*saavn.SearchResult, error)
	Trending(ctx context.Context, category saavn.Category) ([]saavn.Item, error)
	Playlist(ctx context.Context, id string) (*saavn.Playlist, error)
}

type Resolver interface {
	ResolvePlayableTrack(ctx context.Context, track model.Track) (*model.ResolvedTrack, error)
	ResolveAll(ctx context.Context, tracks []model.Track) []resolver.Result
}

type Player interface {
	LoadAndPlay(ctx context.Context, queue []model.Track, index int) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SkipToNext(ctx context.Context) error
	SkipToPrevious(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) (player.SeekResult, error)
	SetRepeatMode(mode player.RepeatMode) error
	Reset(ctx context.Context) error
	Snapshot() player.Session
}

type Playlists interface {
	SearchPlaylists(ctx context.Context, query string, limit int) ([]spotify.PlaylistSummary, error)
	GetPlaylistTracks(ctx context.Context, playlistID string) (*spotify.PlaylistResult, error)
}

type History interface {
	GetHistory(ctx context.Context, limit int) ([]database.HistoryRecord, error)
}

// Services are the dependencies of the HTTP surface. Playlists and History
// may be nil, which disables their routes.
type Services struct {
	Catalog   Catalog
	Resolver  Resolver
	Player    Player
	Playlists Playlists
	History   History
}

type Server struct {
	services Services
	logger   *log.Entry
}

func New(services Services) *Server {
	return &Server{
		services: services,
		logger: log.WithFields(log.Fields{
			"module": "bridge",
		}),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), appsentry.GetSentryGin(), s.requestLogger())

	router.GET("/health", s.health)
	router.GET("/search", s.search)
	router.GET("/trending", s.trending)
	router.GET("/playlists/:id", s.playlist)
	router.POST("/resolve", s.resolve)

	p := router.Group("/player")
	p.GET("/state", s.playerState)
	p.POST("/play", s.play)
	p.POST("/pause", s.playerCommand(s.services.Player.Pause))
	p.POST("/resume", s.playerCommand(s.services.Player.Resume))
	p.POST("/next", s.playerCommand(s.services.Player.SkipToNext))
	p.POST("/previous", s.playerCommand(s.services.Player.SkipToPrevious))
	p.POST("/reset", s.playerCommand(s.services.Player.Reset))
	p.POST("/seek", s.seek)
	p.POST("/repeat", s.repeat)

	if s.services.History != nil {
		router.GET("/history", s.history)
	}
	if s.services.Playlists != nil {
		router.GET("/spotify/playlists", s.spotifyPlaylists)
		router.POST("/spotify/resolve", s.spotifyResolve)
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"ok": true}
	if counter, ok := s.services.Catalog.(interface{ Served(saavn.Kind) int64 }); ok {
		body["served"] = gin.H{
			string(saavn.KindLive):     counter.Served(saavn.KindLive),
			string(saavn.KindFallback): counter.Served(saavn.KindFallback),
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing search query."})
		return
	}
	result, err := s.services.Catalog.Search(c.Request.Context(), query, queryInt(c, "limit", saavn.DefaultSearchLimit))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) trending(c *gin.Context) {
	items, err := s.services.Catalog.Trending(c.Request.Context(), saavn.Category(c.Query("type")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) playlist(c *gin.Context) {
	playlist, err := s.services.Catalog.Playlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, playlist)
}

type resolveRequest struct {
	Track model.Track `json:"track"`
}

func (s *Server) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Track.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must include a track with a title."})
		return
	}
	resolved, err := s.services.Resolver.ResolvePlayableTrack(c.Request.Context(), req.Track)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if resolved == nil {
		s.respondError(c, player.ErrNotPlayable)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

func (s *Server) history(c *gin.Context) {
	records, err := s.services.History.GetHistory(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}
