// Package audio is the boundary to the native playback engine. The
// orchestrator only sees the Engine interface and its event channel.
package audio

import (
	"context"
	"errors"
)

type State string

const (
	StateNone    State = "none"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

type EventType string

const (
	EventPlaybackError EventType = "playback_error"
	EventTrackChanged  EventType = "track_changed"
	EventQueueEnded    EventType = "queue_ended"
)

// Event is one notification from the engine. Message and Code are set for
// EventPlaybackError; NextTrack is the new engine queue index for
// EventTrackChanged, or -1 when playback moved past the end.
type Event struct {
	Type      EventType
	Message   string
	Code      string
	NextTrack int
	ItemID    string
}

func PlaybackError(message, code, itemID string) Event {
	return Event{Type: EventPlaybackError, Message: message, Code: code, ItemID: itemID, NextTrack: -1}
}

func TrackChanged(next int, itemID string) Event {
	return Event{Type: EventTrackChanged, NextTrack: next, ItemID: itemID}
}

func QueueEnded(itemID string) Event {
	return Event{Type: EventQueueEnded, NextTrack: -1, ItemID: itemID}
}

// Item is a track as the engine sees it: something with a URL to play.
type Item struct {
	ID     string
	URL    string
	Title  string
	Artist string
}

var (
	ErrNotSetup     = errors.New("audio engine is not set up")
	ErrEmptyQueue   = errors.New("audio engine queue is empty")
	ErrInvalidIndex = errors.New("audio engine queue index out of range")
)

type Engine interface {
	Setup(ctx context.Context) error
	Add(ctx context.Context, items ...Item) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SeekTo(ctx context.Context, seconds float64) error
	Skip(ctx context.Context, index int) error
	GetState(ctx context.Context) (State, error)
	GetQueue(ctx context.Context) ([]Item, error)
	Reset(ctx context.Context) error
	Events() <-chan Event
}
