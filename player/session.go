package player

import (
	"errors"
	"fmt"
	"time"

	"saavnbridge/model"
)

type State string

const (
	StateIdle      State = "idle"
	StateBuffering State = "buffering"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateError     State = "error"
)

type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatTrack RepeatMode = "track"
	RepeatQueue RepeatMode = "queue"
)

func ParseRepeatMode(s string) (RepeatMode, error) {
	switch mode := RepeatMode(s); mode {
	case RepeatOff, RepeatTrack, RepeatQueue:
		return mode, nil
	}
	return "", fmt.Errorf("unknown repeat mode %q", s)
}

var (
	// ErrNotPlayable means no catalog strategy found audio for the track.
	ErrNotPlayable = errors.New("track is not playable: only available on the other catalog")
	// ErrSetupFailed is terminal until Reset.
	ErrSetupFailed   = errors.New("audio engine setup failed")
	ErrQueueBoundary = errors.New("no track in that direction")
	ErrEmptyQueue    = errors.New("queue is empty")
	ErrInvalidIndex  = errors.New("queue index out of range")
	// ErrSuperseded is returned by a load that finished after a newer one started.
	ErrSuperseded = errors.New("load superseded by a newer request")
)

// PlaybackFault is the structured error the orchestrator reports when
// playback fails.
type PlaybackFault struct {
	Message string    `json:"message"`
	Code    string    `json:"code"`
	Index   int       `json:"index"`
	TrackID string    `json:"track_id,omitempty"`
	At      time.Time `json:"at"`
	// Recovered is set once an automatic skip moved past the fault.
	Recovered bool `json:"recovered"`
}

func (f *PlaybackFault) Error() string {
	if f.Code == "" {
		return "playback failed: " + f.Message
	}
	return fmt.Sprintf("playback failed (%s): %s", f.Code, f.Message)
}

// Session is the orchestrator's view of playback. Snapshots are copies.
type Session struct {
	ID           string         `json:"id"`
	Queue        []model.Track  `json:"queue"`
	CurrentIndex int            `json:"current_index"`
	State        State          `json:"state"`
	RepeatMode   RepeatMode     `json:"repeat_mode"`
	LastError    *PlaybackFault `json:"last_error,omitempty"`
}

func newSession() Session {
	return Session{
		CurrentIndex: -1,
		State:        StateIdle,
		RepeatMode:   RepeatOff,
	}
}

// Current returns the current track, if any.
func (s Session) Current() (model.Track, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Queue) {
		return model.Track{}, false
	}
	return s.Queue[s.CurrentIndex], true
}

func (s Session) clone() Session {
	s.Queue = append([]model.Track(nil), s.Queue...)
	if s.LastError != nil {
		fault := *s.LastError
		s.LastError = &fault
	}
	return s
}

type SeekResult struct {
	Applied bool    `json:"applied"`
	Seconds float64 `json:"seconds"`
	State   State   `json:"state"`
}
