package bridge

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"saavnbridge/model"
	"saavnbridge/player"
)

func (s *Server) playerState(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.Player.Snapshot())
}

// playerCommand adapts a no-argument player operation into a handler that
// answers with the session after the command.
func (s *Server) playerCommand(command func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := command(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.services.Player.Snapshot())
	}
}

type playRequest struct {
	Queue []model.Track `json:"queue"`
	Index int           `json:"index"`
}

func (s *Server) play(c *gin.Context) {
	var req playRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must be a queue and an index."})
		return
	}
	if err := s.services.Player.LoadAndPlay(c.Request.Context(), req.Queue, req.Index); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.services.Player.Snapshot())
}

type seekRequest struct {
	Seconds *float64 `json:"seconds"`
}

func (s *Server) seek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Seconds == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must include seconds."})
		return
	}
	result, err := s.services.Player.Seek(c.Request.Context(), *req.Seconds)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type repeatRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) repeat(c *gin.Context) {
	var req repeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must include a repeat mode."})
		return
	}
	mode, err := player.ParseRepeatMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Repeat mode must be off, track or queue."})
		return
	}
	if err := s.services.Player.SetRepeatMode(mode); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.services.Player.Snapshot())
}
