package bridge

import (
	"context"
	"errors"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"saavnbridge/httpclient"
	"saavnbridge/player"
	"saavnbridge/saavn"
	"saavnbridge/spotify"
)

// statusClientClosed is what nginx logs when the client goes away first.
const statusClientClosed = 499

// describe maps an error to a status code and a message the UI can show
// without further translation.
func describe(err error) (int, string) {
	var fault *player.PlaybackFault
	var serverErr *httpclient.ServerError
	var failed *saavn.FailedError
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosed, ""
	case errors.Is(err, player.ErrNotPlayable):
		return http.StatusUnprocessableEntity, "This song isn't available to stream here. It may only exist on the other catalog."
	case errors.Is(err, player.ErrSetupFailed):
		return http.StatusServiceUnavailable, "The audio engine could not start. Reset the player to try again."
	case errors.Is(err, player.ErrQueueBoundary):
		return http.StatusConflict, "There is no track in that direction."
	case errors.Is(err, player.ErrEmptyQueue):
		return http.StatusConflict, "The queue is empty."
	case errors.Is(err, player.ErrInvalidIndex):
		return http.StatusBadRequest, "That queue position does not exist."
	case errors.Is(err, player.ErrSuperseded):
		return http.StatusConflict, "A newer request replaced this one."
	case errors.As(err, &fault):
		return http.StatusBadGateway, "Playback failed: " + fault.Message
	case errors.Is(err, spotify.ErrInvalidSpotifyURL):
		return http.StatusBadRequest, "That doesn't look like a Spotify link."
	case errors.Is(err, spotify.ErrPlaylistNotFound):
		return http.StatusNotFound, "Playlist not found."
	case errors.Is(err, spotify.ErrPlaylistPrivate):
		return http.StatusForbidden, "That playlist is private."
	case errors.Is(err, spotify.ErrPlaylistEmpty), errors.Is(err, spotify.ErrNoPlayableTracks):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, saavn.ErrUnsupportedCategory):
		return http.StatusBadRequest, "Category must be song or album."
	case errors.As(err, &failed):
		return http.StatusBadGateway, failed.Message
	case errors.Is(err, httpclient.ErrRateLimited):
		return http.StatusTooManyRequests, httpclient.UserMessage(err)
	case errors.As(err, &serverErr) && serverErr.IsUnsupported():
		return http.StatusNotFound, httpclient.UserMessage(err)
	}
	if httpclient.IsRecoverable(err) || errors.As(err, &serverErr) {
		return http.StatusBadGateway, httpclient.UserMessage(err)
	}
	return http.StatusInternalServerError, httpclient.UserMessage(err)
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, message := describe(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
	} else {
		s.logger.Debugf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	if status == statusClientClosed {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"error": message})
}
