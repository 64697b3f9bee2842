package player

import (
	"context"
	"errors"
	"time"

	"saavnbridge/audio"
	"saavnbridge/sentryhelper"
)

// Run consumes engine events until ctx is done or the engine closes its
// channel.
func (p *Player) Run(ctx context.Context) {
	events := p.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				p.logger.Info("engine event channel closed")
				return
			}
			p.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one engine event to the session. Any reload it
// triggers runs before it returns.
func (p *Player) HandleEvent(ctx context.Context, ev audio.Event) {
	p.logger.Debugf("engine event %s", ev.Type)
	switch ev.Type {
	case audio.EventPlaybackError:
		p.handleFault(ctx, ev)
	case audio.EventQueueEnded:
		p.handleQueueEnded(ctx, ev)
	case audio.EventTrackChanged:
		p.handleTrackChanged(ev)
	default:
		p.logger.Warnf("ignoring unknown engine event %q", ev.Type)
	}
}

// handleFault records the fault and skips once to the next track. With
// RepeatQueue the skip wraps to the start; otherwise a fault on the last
// track leaves the session in Error.
func (p *Player) handleFault(ctx context.Context, ev audio.Event) {
	ctx, span := sentryhelper.StartOperationTransaction(ctx, "player.recover", "Recover from playback fault", map[string]string{
		"code": ev.Code,
	})
	defer span.Finish()

	p.mutex.Lock()
	if !p.concernsCurrentLocked(ev.ItemID) {
		p.mutex.Unlock()
		p.logger.Debugf("dropping fault for %q, not the current track", ev.ItemID)
		return
	}
	current := p.session.CurrentIndex
	track, _ := p.session.Current()
	fault := &PlaybackFault{
		Message: ev.Message,
		Code:    ev.Code,
		Index:   current,
		TrackID: track.ID,
		At:      time.Now(),
	}
	p.session.State = StateError
	p.session.LastError = fault
	p.notifyLocked()

	n := len(p.session.Queue)
	next := -1
	switch {
	case current+1 < n:
		next = current + 1
	case p.session.RepeatMode == RepeatQueue && n > 1:
		next = 0
	}
	if next < 0 {
		p.mutex.Unlock()
		p.logger.Warnf("playback fault on %q with nothing to skip to: %s", track.Title, ev.Message)
		sentryhelper.CaptureException(ctx, fault)
		return
	}

	p.session.CurrentIndex = next
	p.session.State = StateBuffering
	generation := p.bumpLocked()
	p.notifyLocked()
	p.mutex.Unlock()

	p.logger.Warnf("playback fault on %q, skipping to %d: %s", track.Title, next, ev.Message)
	sentryhelper.CaptureException(ctx, fault)

	err := p.load(ctx, generation, next, true)
	switch {
	case err == nil:
		p.mutex.Lock()
		if p.session.LastError == fault {
			fault.Recovered = true
			p.notifyLocked()
		}
		p.mutex.Unlock()
	case errors.Is(err, ErrSuperseded):
	default:
		p.logger.Errorf("recovery failed: %v", err)
		p.mutex.Lock()
		if generation == p.generation && p.session.State == StateBuffering {
			p.session.State = StateError
			p.notifyLocked()
		}
		p.mutex.Unlock()
	}
}

// handleQueueEnded runs when the current track finished on its own.
func (p *Player) handleQueueEnded(ctx context.Context, ev audio.Event) {
	p.mutex.Lock()
	if !p.concernsCurrentLocked(ev.ItemID) {
		p.mutex.Unlock()
		p.logger.Debugf("dropping end of %q, not the current track", ev.ItemID)
		return
	}
	track, played := p.session.Current()
	sessionID := p.session.ID
	current := p.session.CurrentIndex
	n := len(p.session.Queue)

	next := -1
	switch {
	case p.session.RepeatMode == RepeatTrack:
		next = current
	case current+1 < n:
		next = current + 1
	case p.session.RepeatMode == RepeatQueue:
		next = 0
	}

	var generation uint64
	if next < 0 {
		p.session.State = StateIdle
		p.notifyLocked()
	} else {
		p.session.CurrentIndex = next
		generation = p.bumpLocked()
	}
	p.mutex.Unlock()

	if played && p.history != nil {
		if err := p.history.RecordPlay(ctx, sessionID, track); err != nil {
			p.logger.Warnf("failed to record play of %q: %v", track.Title, err)
		}
	}
	if next < 0 {
		p.logger.Debug("queue finished")
		return
	}

	err := p.load(ctx, generation, next, false)
	if err != nil && !errors.Is(err, ErrSuperseded) {
		p.logger.Errorf("failed to advance to %d: %v", next, err)
	}
	if errors.Is(err, errResolve) {
		p.settleIdle(ctx, generation)
	}
}

// concernsCurrentLocked reports whether an engine event refers to the track
// the session is on now. Events left over from a replaced queue or a reset
// session do not. An event without an item id is taken at its word as long
// as there is a current track.
func (p *Player) concernsCurrentLocked(itemID string) bool {
	track, ok := p.session.Current()
	if !ok {
		return false
	}
	return itemID == "" || itemID == track.ID
}

// handleTrackChanged keeps CurrentIndex in line with the engine.
func (p *Player) handleTrackChanged(ev audio.Event) {
	if ev.ItemID == "" {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for i, track := range p.session.Queue {
		if track.ID == ev.ItemID {
			if i != p.session.CurrentIndex {
				p.session.CurrentIndex = i
				p.notifyLocked()
			}
			return
		}
	}
}
