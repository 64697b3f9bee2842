package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

const DefaultMPVPath = "mpv"

type MPVOptions struct {
	Path        string
	AudioDevice string
	ExtraArgs   []string
}

// MPVEngine plays its queue by running one mpv process per track. Pause and
// resume stop and continue the process; seeking restarts it at the new offset.
type MPVEngine struct {
	mutex   sync.Mutex
	path    string
	device  string
	extra   []string
	ready   bool
	queue   []Item
	current int
	state   State
	cmd     *exec.Cmd
	// generation invalidates the waiter of a process we replaced or killed
	generation int
	startedAt  time.Time
	offset     float64
	events     chan Event
	logger     *log.Entry
}

func NewMPVEngine(opts MPVOptions) *MPVEngine {
	if opts.Path == "" {
		opts.Path = DefaultMPVPath
	}
	return &MPVEngine{
		path:    opts.Path,
		device:  opts.AudioDevice,
		extra:   opts.ExtraArgs,
		current: -1,
		state:   StateNone,
		events:  make(chan Event, 100),
		logger: log.WithFields(log.Fields{
			"module": "audio-engine",
		}),
	}
}

func (e *MPVEngine) Events() <-chan Event {
	return e.events
}

func (e *MPVEngine) Setup(_ context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	path, err := exec.LookPath(e.path)
	if err != nil {
		return fmt.Errorf("player binary %q not found: %w", e.path, err)
	}
	e.path = path
	e.ready = true
	if e.state == StateNone {
		e.state = StateReady
	}
	e.logger.Debugf("engine ready using %s", path)
	return nil
}

func (e *MPVEngine) Add(_ context.Context, items ...Item) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.ready {
		return ErrNotSetup
	}
	e.queue = append(e.queue, items...)
	if e.current < 0 && len(e.queue) > 0 {
		e.current = 0
	}
	return nil
}

func (e *MPVEngine) Play(_ context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.ready {
		return ErrNotSetup
	}
	if len(e.queue) == 0 {
		return ErrEmptyQueue
	}

	switch e.state {
	case StatePlaying:
		return nil
	case StatePaused:
		if e.cmd != nil {
			if err := e.signal(syscall.SIGCONT); err != nil {
				return err
			}
			e.startedAt = time.Now()
			e.state = StatePlaying
			return nil
		}
	}
	return e.start(0)
}

func (e *MPVEngine) Pause(_ context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.state != StatePlaying || e.cmd == nil {
		return nil
	}
	if err := e.signal(syscall.SIGSTOP); err != nil {
		return err
	}
	e.offset += time.Since(e.startedAt).Seconds()
	e.state = StatePaused
	return nil
}

func (e *MPVEngine) SeekTo(_ context.Context, seconds float64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.cmd == nil || (e.state != StatePlaying && e.state != StatePaused) {
		return nil
	}
	if seconds < 0 {
		seconds = 0
	}
	wasPaused := e.state == StatePaused
	e.stop()
	if err := e.start(seconds); err != nil {
		return err
	}
	if wasPaused {
		if err := e.signal(syscall.SIGSTOP); err != nil {
			return err
		}
		e.state = StatePaused
	}
	return nil
}

func (e *MPVEngine) Skip(_ context.Context, index int) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if index < 0 || index >= len(e.queue) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(e.queue))
	}
	active := e.state == StatePlaying || e.state == StatePaused
	e.stop()
	e.current = index
	if active {
		return e.start(0)
	}
	return nil
}

func (e *MPVEngine) GetState(_ context.Context) (State, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state, nil
}

func (e *MPVEngine) GetQueue(_ context.Context) ([]Item, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]Item(nil), e.queue...), nil
}

// Position is the playback offset of the current track in seconds.
func (e *MPVEngine) Position() float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.state == StatePlaying {
		return e.offset + time.Since(e.startedAt).Seconds()
	}
	return e.offset
}

func (e *MPVEngine) Reset(_ context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.stop()
	e.queue = nil
	e.current = -1
	e.offset = 0
	if e.ready {
		e.state = StateReady
	} else {
		e.state = StateNone
	}
	return nil
}

// start launches the current item at offset seconds. Must hold e.mutex.
func (e *MPVEngine) start(offset float64) error {
	item := e.queue[e.current]
	args := []string{"--no-video", "--no-terminal", "--really-quiet"}
	if offset > 0 {
		args = append(args, "--start="+strconv.FormatFloat(offset, 'f', 1, 64))
	}
	if e.device != "" {
		args = append(args, "--audio-device="+e.device)
	}
	args = append(args, e.extra...)
	args = append(args, item.URL)

	cmd := exec.Command(e.path, args...)
	// own process group so a kill takes any children with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		sentry.CaptureException(err)
		e.state = StateStopped
		return fmt.Errorf("start player for %s: %w", item.ID, err)
	}

	e.generation++
	e.cmd = cmd
	e.offset = offset
	e.startedAt = time.Now()
	e.state = StatePlaying
	e.logger.Debugf("playing %s (%s) from %.1fs", item.Title, item.ID, offset)

	go e.wait(cmd, e.generation, item)
	return nil
}

// stop kills the running process without reporting its exit. Must hold e.mutex.
func (e *MPVEngine) stop() {
	if e.cmd == nil {
		return
	}
	e.generation++
	killProcessGroup(e.cmd)
	e.cmd = nil
	e.state = StateStopped
}

func (e *MPVEngine) signal(sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(e.cmd.Process.Pid)
	if err != nil {
		return e.cmd.Process.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
	_ = cmd.Process.Kill()
}

func (e *MPVEngine) wait(cmd *exec.Cmd, generation int, item Item) {
	err := cmd.Wait()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if generation != e.generation {
		return
	}
	e.cmd = nil
	e.offset = 0

	if err != nil {
		code := "exit"
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = "exit_" + strconv.Itoa(exitErr.ExitCode())
		}
		e.logger.Warnf("player exited with error for %s: %v", item.ID, err)
		e.state = StateStopped
		e.emit(PlaybackError(err.Error(), code, item.ID))
		return
	}

	if e.current+1 < len(e.queue) {
		e.current++
		next := e.queue[e.current]
		e.emit(TrackChanged(e.current, next.ID))
		if err := e.start(0); err != nil {
			e.emit(PlaybackError(err.Error(), "start_failed", next.ID))
		}
		return
	}

	e.state = StateStopped
	e.emit(QueueEnded(item.ID))
}

func (e *MPVEngine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		msg := "audio engine event channel is full, dropping " + string(event.Type)
		sentry.CaptureMessage(msg)
		e.logger.Warn(msg)
	}
}
