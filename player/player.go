// Package player is the playback orchestrator. It owns the queue and the
// playback state, drives an audio.Engine, and recovers from engine faults
// by skipping ahead.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"saavnbridge/audio"
	"saavnbridge/model"
	"saavnbridge/quality"
	"saavnbridge/retry"
	"saavnbridge/sentryhelper"
)

const (
	DefaultSetupAttempts = 3
	DefaultSetupDelay    = 500 * time.Millisecond
	subscriberBuffer     = 16
)

// errResolve marks a load that failed before reaching the engine, so the
// engine still holds whatever it had before.
var errResolve = errors.New("resolve failed")

type Resolver interface {
	ResolvePlayableTrack(ctx context.Context, track model.Track) (*model.ResolvedTrack, error)
}

// History records tracks that played to the end.
type History interface {
	RecordPlay(ctx context.Context, sessionID string, track model.Track) error
}

type Options struct {
	PreferredQuality string
	SetupAttempts    int
	SetupDelay       time.Duration
	History          History
}

type Player struct {
	mutex   sync.Mutex
	session Session
	// generation increases with every load request; a load that finds a
	// newer generation drops its result
	generation uint64
	ready      bool
	setupErr   error

	// engineMutex serializes engine command sequences between loads
	engineMutex sync.Mutex
	engine      audio.Engine
	resolver    Resolver
	history     History
	preferred   string
	setupPolicy retry.Policy
	queuePolicy retry.Policy

	subscribers map[int]chan Session
	nextSub     int

	logger *log.Entry
}

func New(engine audio.Engine, resolver Resolver, opts Options) *Player {
	if opts.SetupAttempts <= 0 {
		opts.SetupAttempts = DefaultSetupAttempts
	}
	if opts.SetupDelay <= 0 {
		opts.SetupDelay = DefaultSetupDelay
	}
	if opts.PreferredQuality == "" {
		opts.PreferredQuality = quality.High
	}
	return &Player{
		session:   newSession(),
		engine:    engine,
		resolver:  resolver,
		history:   opts.History,
		preferred: opts.PreferredQuality,
		setupPolicy: retry.Policy{
			MaxAttempts: opts.SetupAttempts,
			Delay:       opts.SetupDelay,
			Name:        "engine_setup",
		},
		queuePolicy: retry.Policy{
			MaxAttempts: opts.SetupAttempts,
			Delay:       opts.SetupDelay,
			Name:        "engine_queue",
		},
		subscribers: make(map[int]chan Session),
		logger: log.WithFields(log.Fields{
			"module": "player",
		}),
	}
}

// Setup initializes the engine, retrying with a fixed delay. Once every
// attempt has failed it keeps returning ErrSetupFailed until Reset.
func (p *Player) Setup(ctx context.Context) error {
	p.mutex.Lock()
	if p.ready {
		p.mutex.Unlock()
		return nil
	}
	if p.setupErr != nil {
		err := p.setupErr
		p.mutex.Unlock()
		return err
	}
	p.mutex.Unlock()

	err := retry.Do(ctx, p.setupPolicy, func(ctx context.Context, _ int) error {
		return p.engine.Setup(ctx)
	})

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err == nil {
		p.ready = true
		p.logger.Debug("engine set up")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.setupErr = fmt.Errorf("%w: %w", ErrSetupFailed, err)
	p.session.State = StateError
	p.session.LastError = &PlaybackFault{
		Message: err.Error(),
		Code:    "setup_failed",
		Index:   p.session.CurrentIndex,
		At:      time.Now(),
	}
	p.notifyLocked()
	p.logger.Errorf("engine setup failed: %v", err)
	sentryhelper.CaptureException(ctx, p.setupErr)
	return p.setupErr
}

// bumpLocked starts a new load generation. Must hold p.mutex.
func (p *Player) bumpLocked() uint64 {
	p.generation++
	return p.generation
}

// LoadAndPlay replaces the queue and starts playing queue[index].
func (p *Player) LoadAndPlay(ctx context.Context, queue []model.Track, index int) error {
	if len(queue) == 0 {
		return ErrEmptyQueue
	}
	if index < 0 || index >= len(queue) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(queue))
	}
	if err := p.Setup(ctx); err != nil {
		return err
	}

	p.mutex.Lock()
	if p.session.ID == "" {
		p.session.ID = uuid.NewString()
	}
	p.session.Queue = append([]model.Track(nil), queue...)
	p.session.CurrentIndex = index
	p.session.LastError = nil
	generation := p.bumpLocked()
	p.mutex.Unlock()

	err := p.load(ctx, generation, index, false)
	if errors.Is(err, errResolve) {
		p.settleIdle(ctx, generation)
	}
	return err
}

// Play replaces the queue with a single track.
func (p *Player) Play(ctx context.Context, track model.Track) error {
	return p.LoadAndPlay(ctx, []model.Track{track}, 0)
}

// load resolves and starts queue[index]. recovering marks an automatic
// skip after a fault, where an unplayable track is terminal.
func (p *Player) load(ctx context.Context, generation uint64, index int, recovering bool) error {
	p.mutex.Lock()
	if generation != p.generation {
		p.mutex.Unlock()
		return ErrSuperseded
	}
	track := p.session.Queue[index]
	sessionID := p.session.ID
	p.mutex.Unlock()

	sentryhelper.AddBreadcrumb(ctx, "playback", "load", map[string]any{
		"session_id": sessionID,
		"index":      index,
		"title":      track.Title,
	})

	if !track.IsResolved() {
		resolved, err := p.resolver.ResolvePlayableTrack(ctx, track)
		if err != nil {
			return fmt.Errorf("%w for %q: %w", errResolve, track.Title, err)
		}
		if resolved != nil {
			track = resolved.Apply(track)
		}
	}
	url, ok := quality.PickBestURL(track.CandidateURLs, p.preferred)

	p.mutex.Lock()
	if generation != p.generation {
		p.mutex.Unlock()
		p.logger.Debugf("dropping stale load of %q", track.Title)
		return ErrSuperseded
	}
	if !ok {
		p.notPlayableLocked(index, track, recovering)
		p.mutex.Unlock()
		p.stopEngine(ctx, generation)
		return ErrNotPlayable
	}
	p.session.Queue[index] = track
	p.session.State = StateBuffering
	p.notifyLocked()
	p.mutex.Unlock()

	err := p.startEngine(ctx, generation, audio.Item{
		ID:     track.ID,
		URL:    url,
		Title:  track.Title,
		Artist: track.Artists(),
	})

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if generation != p.generation || errors.Is(err, ErrSuperseded) {
		return ErrSuperseded
	}
	if err != nil {
		fault := &PlaybackFault{
			Message: err.Error(),
			Code:    "engine",
			Index:   index,
			TrackID: track.ID,
			At:      time.Now(),
		}
		p.session.State = StateError
		p.session.LastError = fault
		p.notifyLocked()
		p.logger.Errorf("engine failed to start %q: %v", track.Title, err)
		sentryhelper.CaptureException(ctx, fault)
		return fault
	}

	p.session.State = StatePlaying
	p.notifyLocked()
	p.logger.Debugf("playing %q (%d/%d)", track.Title, index+1, len(p.session.Queue))
	return nil
}

// notPlayableLocked settles state when a track has no audio. A user load
// ends in Idle; a failed recovery stays in Error. Must hold p.mutex.
func (p *Player) notPlayableLocked(index int, track model.Track, recovering bool) {
	p.logger.Infof("%q is not playable here", track.Title)
	if recovering {
		p.session.State = StateError
		p.session.LastError = &PlaybackFault{
			Message: ErrNotPlayable.Error(),
			Code:    "recovery_failed",
			Index:   index,
			TrackID: track.ID,
			At:      time.Now(),
		}
	} else {
		p.session.State = StateIdle
	}
	p.notifyLocked()
}

// settleIdle parks a load that failed before it reached the engine, and
// stops whatever the engine was still playing for the old queue.
func (p *Player) settleIdle(ctx context.Context, generation uint64) {
	p.mutex.Lock()
	if generation != p.generation {
		p.mutex.Unlock()
		return
	}
	p.session.State = StateIdle
	p.notifyLocked()
	p.mutex.Unlock()

	p.stopEngine(context.WithoutCancel(ctx), generation)
}

func (p *Player) startEngine(ctx context.Context, generation uint64, item audio.Item) error {
	p.engineMutex.Lock()
	defer p.engineMutex.Unlock()

	if !p.isCurrent(generation) {
		return ErrSuperseded
	}
	if err := p.engine.Reset(ctx); err != nil {
		return fmt.Errorf("reset engine: %w", err)
	}
	err := retry.Do(ctx, p.queuePolicy, func(ctx context.Context, _ int) error {
		return p.engine.Add(ctx, item)
	})
	if err != nil {
		return fmt.Errorf("queue track: %w", err)
	}
	if err := p.engine.Play(ctx); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	return nil
}

func (p *Player) stopEngine(ctx context.Context, generation uint64) {
	p.engineMutex.Lock()
	defer p.engineMutex.Unlock()
	if !p.isCurrent(generation) {
		return
	}
	if err := p.engine.Reset(ctx); err != nil {
		p.logger.Warnf("failed to stop engine: %v", err)
	}
}

func (p *Player) isCurrent(generation uint64) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return generation == p.generation
}

func (p *Player) SkipToNext(ctx context.Context) error {
	return p.skip(ctx, 1)
}

func (p *Player) SkipToPrevious(ctx context.Context) error {
	return p.skip(ctx, -1)
}

// skip moves by delta. Past either end it wraps, except with RepeatOff
// where it stops at the boundary.
func (p *Player) skip(ctx context.Context, delta int) error {
	if err := p.Setup(ctx); err != nil {
		return err
	}

	p.mutex.Lock()
	n := len(p.session.Queue)
	if n == 0 {
		p.mutex.Unlock()
		return ErrEmptyQueue
	}
	next := p.session.CurrentIndex + delta
	if next < 0 || next >= n {
		if p.session.RepeatMode == RepeatOff {
			p.mutex.Unlock()
			return ErrQueueBoundary
		}
		next = (next%n + n) % n
	}
	previous := p.session.CurrentIndex
	p.session.CurrentIndex = next
	generation := p.bumpLocked()
	p.mutex.Unlock()

	err := p.load(ctx, generation, next, false)
	if errors.Is(err, errResolve) {
		// the engine never left the previous track
		p.mutex.Lock()
		if generation == p.generation {
			p.session.CurrentIndex = previous
			p.notifyLocked()
		}
		p.mutex.Unlock()
	}
	return err
}

// Seek is applied only while a track is playing or paused; in any other
// state it does nothing and reports Applied false.
func (p *Player) Seek(ctx context.Context, seconds float64) (SeekResult, error) {
	p.mutex.Lock()
	state := p.session.State
	p.mutex.Unlock()

	if state != StatePlaying && state != StatePaused {
		return SeekResult{Applied: false, State: state}, nil
	}
	if seconds < 0 {
		seconds = 0
	}

	p.engineMutex.Lock()
	err := p.engine.SeekTo(ctx, seconds)
	p.engineMutex.Unlock()
	if err != nil {
		return SeekResult{State: state}, fmt.Errorf("seek: %w", err)
	}
	return SeekResult{Applied: true, Seconds: seconds, State: state}, nil
}

func (p *Player) Pause(ctx context.Context) error {
	p.mutex.Lock()
	if p.session.State != StatePlaying {
		p.mutex.Unlock()
		return nil
	}
	generation := p.generation
	p.mutex.Unlock()

	p.engineMutex.Lock()
	err := p.engine.Pause(ctx)
	p.engineMutex.Unlock()
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if generation == p.generation && p.session.State == StatePlaying {
		p.session.State = StatePaused
		p.notifyLocked()
	}
	return nil
}

func (p *Player) Resume(ctx context.Context) error {
	p.mutex.Lock()
	if p.session.State != StatePaused {
		p.mutex.Unlock()
		return nil
	}
	generation := p.generation
	p.mutex.Unlock()

	p.engineMutex.Lock()
	err := p.engine.Play(ctx)
	p.engineMutex.Unlock()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if generation == p.generation && p.session.State == StatePaused {
		p.session.State = StatePlaying
		p.notifyLocked()
	}
	return nil
}

func (p *Player) SetRepeatMode(mode RepeatMode) error {
	if _, err := ParseRepeatMode(string(mode)); err != nil {
		return err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.session.RepeatMode = mode
	p.notifyLocked()
	return nil
}

// Reset stops playback, empties the session and clears a failed setup so
// the next command sets the engine up again.
func (p *Player) Reset(ctx context.Context) error {
	p.mutex.Lock()
	p.bumpLocked()
	p.session = newSession()
	p.setupErr = nil
	p.notifyLocked()
	p.mutex.Unlock()

	p.engineMutex.Lock()
	defer p.engineMutex.Unlock()
	if err := p.engine.Reset(ctx); err != nil {
		return fmt.Errorf("reset engine: %w", err)
	}
	p.logger.Debug("player reset")
	return nil
}

func (p *Player) Snapshot() Session {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.session.clone()
}

// Subscribe returns a channel of session snapshots taken after every state
// change, and a function to stop receiving them. Slow subscribers miss
// updates rather than block playback.
func (p *Player) Subscribe() (<-chan Session, func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Session, subscriberBuffer)
	p.subscribers[id] = ch

	return ch, func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
}

// notifyLocked must hold p.mutex.
func (p *Player) notifyLocked() {
	if len(p.subscribers) == 0 {
		return
	}
	snapshot := p.session.clone()
	for id, ch := range p.subscribers {
		select {
		case ch <- snapshot:
		default:
			p.logger.Warnf("subscriber %d is full, dropping %s update", id, snapshot.State)
		}
	}
}
