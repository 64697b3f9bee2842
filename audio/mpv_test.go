package audio

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func nextEvent(t *testing.T, e *MPVEngine) Event {
	t.Helper()
	select {
	case event := <-e.Events():
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for engine event")
	}
	return Event{}
}

func TestMPVEngineRequiresSetup(t *testing.T) {
	e := NewMPVEngine(MPVOptions{Path: "definitely-not-a-player-binary"})
	ctx := context.Background()

	if err := e.Add(ctx, Item{ID: "a"}); !errors.Is(err, ErrNotSetup) {
		t.Errorf("Add() before Setup error = %v, want ErrNotSetup", err)
	}
	if err := e.Setup(ctx); err == nil {
		t.Error("Setup() with a missing binary should fail")
	}
	if state, _ := e.GetState(ctx); state != StateNone {
		t.Errorf("state = %q, want none", state)
	}
}

func TestMPVEngineAdvancesThroughQueue(t *testing.T) {
	e := NewMPVEngine(MPVOptions{Path: requireBinary(t, "true")})
	ctx := context.Background()

	if err := e.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := e.Play(ctx); !errors.Is(err, ErrEmptyQueue) {
		t.Errorf("Play() on empty queue error = %v", err)
	}
	if err := e.Add(ctx, Item{ID: "a", URL: "https://cdn/a.mp4"}, Item{ID: "b", URL: "https://cdn/b.mp4"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Play(ctx); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	changed := nextEvent(t, e)
	if changed.Type != EventTrackChanged || changed.NextTrack != 1 || changed.ItemID != "b" {
		t.Errorf("first event = %+v, want track change to b", changed)
	}
	if ended := nextEvent(t, e); ended.Type != EventQueueEnded || ended.ItemID != "b" {
		t.Errorf("second event = %+v, want queue ended after b", ended)
	}
	if state, _ := e.GetState(ctx); state != StateStopped {
		t.Errorf("state = %q, want stopped", state)
	}
}

func TestMPVEngineReportsFailures(t *testing.T) {
	e := NewMPVEngine(MPVOptions{Path: requireBinary(t, "false")})
	ctx := context.Background()

	if err := e.Setup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Add(ctx, Item{ID: "bad", URL: "https://cdn/bad.mp4"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Play(ctx); err != nil {
		t.Fatal(err)
	}

	event := nextEvent(t, e)
	if event.Type != EventPlaybackError || event.Code != "exit_1" || event.ItemID != "bad" {
		t.Errorf("event = %+v, want playback error exit_1", event)
	}
}

func TestMPVEngineSkipAndReset(t *testing.T) {
	e := NewMPVEngine(MPVOptions{Path: requireBinary(t, "true")})
	ctx := context.Background()

	if err := e.Setup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Add(ctx, Item{ID: "a"}, Item{ID: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Skip(ctx, 5); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Skip(5) error = %v, want ErrInvalidIndex", err)
	}
	if err := e.Skip(ctx, 1); err != nil {
		t.Errorf("Skip(1) error = %v", err)
	}

	if err := e.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	queue, _ := e.GetQueue(ctx)
	if len(queue) != 0 {
		t.Errorf("queue after Reset = %v", queue)
	}
	if state, _ := e.GetState(ctx); state != StateReady {
		t.Errorf("state after Reset = %q, want ready", state)
	}
}
