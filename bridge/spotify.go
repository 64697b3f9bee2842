package bridge

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"saavnbridge/resolver"
	"saavnbridge/spotify"
)

func (s *Server) spotifyPlaylists(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing search query."})
		return
	}
	playlists, err := s.services.Playlists.SearchPlaylists(c.Request.Context(), query, queryInt(c, "limit", 10))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playlists": playlists})
}

type spotifyResolveRequest struct {
	URL string `json:"url"`
}

type spotifyResolveResponse struct {
	Playlist spotify.PlaylistSummary `json:"playlist"`
	Results  []resolver.Result       `json:"results"`
	Playable int                     `json:"playable"`
}

// spotifyResolve imports a secondary-catalog playlist link and resolves
// every track against the primary catalog.
func (s *Server) spotifyResolve(c *gin.Context) {
	var req spotifyResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must include a url."})
		return
	}
	link, err := spotify.ParseSpotifyURL(req.URL)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if link.Kind != spotify.KindPlaylist {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only playlist links can be imported."})
		return
	}

	playlist, err := s.services.Playlists.GetPlaylistTracks(c.Request.Context(), link.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	results := s.services.Resolver.ResolveAll(c.Request.Context(), playlist.Tracks)
	resp := spotifyResolveResponse{
		Playlist: playlist.PlaylistSummary,
		Results:  results,
	}
	for _, r := range results {
		if r.Playable() {
			resp.Playable++
		}
	}
	s.logger.Infof("Resolved %d/%d tracks from playlist '%s'", resp.Playable, len(results), playlist.Name)
	c.JSON(http.StatusOK, resp)
}
