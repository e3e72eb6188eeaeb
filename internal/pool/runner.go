package pool

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/protocol"
)

// RunnerPhase is the lifecycle phase of a program run.
type RunnerPhase string

const (
	PhaseIdle        RunnerPhase = "idle"
	PhaseAwaitingAck RunnerPhase = "awaiting_device_ack"
	PhaseTracking    RunnerPhase = "tracking"
	PhaseComplete    RunnerPhase = "complete"
)

// RunState is the runner's published working set. Observers render
// progress from it; a non-empty Failure means the run was aborted and
// will not be retried automatically.
type RunState struct {
	Phase       RunnerPhase `json:"phase"`
	ProgramID   string      `json:"program_id,omitempty"`
	ProgramName string      `json:"program_name,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	Steps       []Step      `json:"steps,omitempty"`
	StepIndex   int         `json:"step_index"`
	Elapsed     int         `json:"elapsed"` // seconds, device-timer derived
	Total       int         `json:"total"`   // seconds
	PaceOffset  int         `json:"pace_offset"`
	Failure     string      `json:"failure,omitempty"`
}

// runnerCommand represents requests sent to the runner goroutine.
type runnerCommand struct {
	kind    runnerCommandKind
	program *Program
	userID  string
	delta   int
}

type runnerCommandKind int

const (
	runnerLaunch runnerCommandKind = iota
	runnerCancel
	runnerAdjust
)

// Runner drives a structured workout as one continuous pool session.
//
// The launch sets the pool's hardware timer to the TOTAL workout
// duration once; afterwards the runner never touches the timer again.
// Progress is re-derived on every broadcast from the pool's own
// remaining-timer field, so there is no drift between a local clock and
// the device clock, and a lost set-speed command is corrected on the
// next broadcast-driven check.
type Runner struct {
	link       DeviceLink
	logger     *log.Logger
	ackTimeout time.Duration

	// Run state, owned exclusively by the runner goroutine. The mutex
	// only guards the snapshot read by State().
	mu          sync.RWMutex
	phase       RunnerPhase
	programID   string
	programName string
	userID      string
	steps       []Step
	stepIdx     int
	total       int
	timerStart  int // remaining-timer value at launch acknowledgment
	elapsed     int
	offset      int // live pace adjustment for the in-progress step

	stateEvent *events.ChannelEvent[RunState]

	// ackTimer fires the launch-ack deadline even when the device goes
	// silent and no broadcast ever reaches statusChan. Owned by the
	// runner goroutine except for the initial arm in NewRunner.
	ackTimer *time.Timer

	cmdChan      chan runnerCommand
	statusChan   chan DerivedStatus
	unlisten     func()
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewRunner creates a Runner listening to the link's status stream and
// starts its goroutine.
func NewRunner(link DeviceLink, logger *log.Logger, ackTimeout time.Duration) *Runner {
	if link == nil {
		panic("Runner: link cannot be nil")
	}
	if logger == nil {
		panic("Runner: logger cannot be nil")
	}
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}

	r := &Runner{
		link:       link,
		logger:     logger,
		ackTimeout: ackTimeout,
		phase:      PhaseIdle,
		stateEvent: events.NewChannelEvent[RunState](true),
		cmdChan:    make(chan runnerCommand, 4),
		statusChan: make(chan DerivedStatus, 8),
		doneChan:   make(chan struct{}),
	}
	r.ackTimer = time.NewTimer(ackTimeout)
	r.ackTimer.Stop()
	r.unlisten = link.ListenToStatus(r.statusChan)

	r.wg.Add(1)
	events.SafeGo(logger, func() { r.runLoop() })

	return r
}

// Launch starts executing a program for a user. An active run is
// cancelled first; at most one run exists at a time.
func (r *Runner) Launch(program *Program, userID string) error {
	if program == nil {
		return fmt.Errorf("no program given")
	}
	steps := program.Flatten()
	if len(steps) == 0 {
		return fmt.Errorf("program %q has no steps", program.Name)
	}
	total := stepsDuration(steps)
	if total < protocol.TimerMin || total > protocol.TimerMax {
		return fmt.Errorf("program duration %ds outside pool timer range %d-%ds",
			total, protocol.TimerMin, protocol.TimerMax)
	}

	r.cmdChan <- runnerCommand{kind: runnerLaunch, program: program, userID: userID}
	return nil
}

// Cancel stops an in-progress run immediately, whatever its phase.
func (r *Runner) Cancel() {
	r.cmdChan <- runnerCommand{kind: runnerCancel}
}

// AdjustPace applies a signed pace adjustment to the in-progress step.
// The resulting pace is clamped into the valid range; the step schedule
// is not touched.
func (r *Runner) AdjustPace(delta int) {
	r.cmdChan <- runnerCommand{kind: runnerAdjust, delta: delta}
}

// State returns the current run state snapshot.
func (r *Runner) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buildState("")
}

// ListenToState registers a channel for run state updates. Returns a
// deregistration function.
func (r *Runner) ListenToState(ch chan<- RunState) func() {
	return r.stateEvent.Listen(ch)
}

// Shutdown stops the runner goroutine. An active run is cancelled.
// Safe to call multiple times.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.logger.Printf("Runner: shutting down")
		r.unlisten()
		close(r.doneChan)
		r.wg.Wait()
		r.logger.Printf("Runner: shutdown complete")
	})
}

// buildState snapshots the run state. MUST be called with mu held (at
// least read lock).
func (r *Runner) buildState(failure string) RunState {
	state := RunState{
		Phase:       r.phase,
		ProgramID:   r.programID,
		ProgramName: r.programName,
		UserID:      r.userID,
		StepIndex:   r.stepIdx,
		Elapsed:     r.elapsed,
		Total:       r.total,
		PaceOffset:  r.offset,
		Failure:     failure,
	}
	if len(r.steps) > 0 {
		state.Steps = make([]Step, len(r.steps))
		copy(state.Steps, r.steps)
	}
	return state
}

func (r *Runner) runLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.doneChan:
			if r.phase != PhaseIdle && r.phase != PhaseComplete {
				r.sendStop()
			}
			r.logger.Printf("Runner: goroutine exiting")
			return

		case cmd := <-r.cmdChan:
			switch cmd.kind {
			case runnerLaunch:
				r.handleLaunch(cmd.program, cmd.userID)
			case runnerCancel:
				r.handleCancel()
			case runnerAdjust:
				r.handleAdjust(cmd.delta)
			}

		case status := <-r.statusChan:
			r.handleStatus(status)

		case <-r.ackTimer.C:
			if r.phase == PhaseAwaitingAck {
				r.sendStop()
				r.fail("device never reached running state after launch")
			}
		}
	}
}

// handleLaunch issues the launch protocol: one set-speed to the first
// step's pace, one set-timer to the TOTAL duration, then start.
func (r *Runner) handleLaunch(program *Program, userID string) {
	if r.phase != PhaseIdle {
		r.logger.Printf("Runner: cancelling active run before new launch")
		r.handleCancel()
	}

	steps := program.Flatten()
	total := stepsDuration(steps)

	r.mu.Lock()
	r.phase = PhaseAwaitingAck
	r.programID = program.ID
	r.programName = program.Name
	r.userID = userID
	r.steps = steps
	r.stepIdx = 0
	r.total = total
	r.timerStart = 0
	r.elapsed = 0
	r.offset = 0
	r.mu.Unlock()
	r.ackTimer.Reset(r.ackTimeout)

	r.logger.Printf("Runner: launching %q for user %s (%d steps, %s total)",
		program.Name, userID, len(steps), protocol.FormatTimer(total))

	for _, cmd := range []Command{
		mustCommand(CmdSpeed, steps[0].Pace),
		mustCommand(CmdTimer, total),
		mustCommand(CmdStart, 0),
	} {
		if err := r.link.SendCommand(cmd); err != nil {
			r.fail(fmt.Sprintf("launch failed: %v", err))
			return
		}
	}

	r.notify("")
}

func (r *Runner) handleCancel() {
	if r.phase == PhaseIdle {
		return
	}
	r.logger.Printf("Runner: run cancelled at phase %s", r.phase)
	r.sendStop()
	r.release()
	r.notify("")
}

func (r *Runner) handleAdjust(delta int) {
	if r.phase != PhaseTracking && r.phase != PhaseAwaitingAck {
		r.logger.Printf("Runner: ignoring pace adjustment outside a run")
		return
	}

	r.mu.Lock()
	step := r.steps[r.stepIdx]
	adjusted := protocol.ClampPace(step.Pace + r.offset + delta)
	r.offset = adjusted - step.Pace
	r.mu.Unlock()

	r.logger.Printf("Runner: pace adjusted to %s (offset %+d)", protocol.FormatPace(adjusted), adjusted-step.Pace)
	if err := r.link.SendCommand(mustCommand(CmdSpeed, adjusted)); err != nil {
		r.logger.Printf("Runner: pace adjustment send failed: %v", err)
	}
	r.notify("")
}

// handleStatus advances the run from a broadcast. This is the only
// place run progress changes: the device's remaining timer is the
// single source of truth for elapsed time.
func (r *Runner) handleStatus(status DerivedStatus) {
	switch r.phase {
	case PhaseAwaitingAck:
		r.handleAckStatus(status)
	case PhaseTracking:
		r.handleTrackingStatus(status)
	}
}

// handleAckStatus waits for a broadcast proving the pool actually
// started with our timer. A positive remaining timer no larger than the
// programmed total guards against stale leftovers from a previous
// session.
func (r *Runner) handleAckStatus(status DerivedStatus) {
	frame := status.Frame
	if frame.IsRunning && frame.RemainingTimer > 0 && frame.RemainingTimer <= r.total {
		r.ackTimer.Stop()
		r.mu.Lock()
		r.timerStart = frame.RemainingTimer
		r.phase = PhaseTracking
		r.mu.Unlock()
		r.logger.Printf("Runner: launch acknowledged, remaining timer %s", protocol.FormatTimer(frame.RemainingTimer))
		r.notify("")
	}
}

func (r *Runner) handleTrackingStatus(status DerivedStatus) {
	frame := status.Frame

	// Remaining timer growing past the launch value means something
	// else reprogrammed the pool; the run is no longer ours to drive.
	if frame.RemainingTimer > r.timerStart {
		r.sendStop()
		r.fail(fmt.Sprintf("remaining timer reset unexpectedly (%d > %d)", frame.RemainingTimer, r.timerStart))
		return
	}

	if !frame.IsRunning && frame.RemainingTimer <= 0 {
		r.complete()
		return
	}

	elapsed := r.timerStart - frame.RemainingTimer
	if elapsed < 0 {
		elapsed = 0
	}

	r.mu.Lock()
	r.elapsed = elapsed
	r.mu.Unlock()

	if elapsed >= r.total {
		r.complete()
		return
	}

	// Step advancement is monotonic: the index only ever moves forward.
	idx := stepIndexAt(r.steps, elapsed)
	if idx >= len(r.steps) {
		r.complete()
		return
	}
	if idx > r.stepIdx {
		r.advanceTo(idx)
		return
	}

	r.notify("")
}

// advanceTo moves to a later step and issues a set-speed only. No timer
// reset and no stop/start: the single long-running timer set at launch
// already governs total duration.
func (r *Runner) advanceTo(idx int) {
	r.mu.Lock()
	r.stepIdx = idx
	r.offset = 0
	step := r.steps[idx]
	r.mu.Unlock()

	r.logger.Printf("Runner: step %d/%d (%s %s at %s/100m)",
		idx+1, len(r.steps), step.Section, step.Kind, protocol.FormatPace(step.Pace))

	if err := r.link.SendCommand(mustCommand(CmdSpeed, step.Pace)); err != nil {
		r.logger.Printf("Runner: step speed send failed: %v", err)
		// Not fatal: the next broadcast-driven check re-evaluates and a
		// later pace command supersedes this one.
	}
	r.notify("")
}

func (r *Runner) complete() {
	r.logger.Printf("Runner: program complete")
	r.sendStop()

	r.mu.Lock()
	r.phase = PhaseComplete
	r.elapsed = r.total
	state := r.buildState("")
	r.mu.Unlock()
	r.stateEvent.Notify(state)

	r.release()
}

// fail aborts the run and surfaces the reason to observers. The runner
// never retries a launch by itself.
func (r *Runner) fail(reason string) {
	r.logger.Printf("Runner: run failed: %s", reason)

	r.mu.Lock()
	r.phase = PhaseIdle
	state := r.buildState(reason)
	r.mu.Unlock()
	r.stateEvent.Notify(state)

	r.release()
}

// release discards the run's working set.
func (r *Runner) release() {
	r.ackTimer.Stop()
	r.mu.Lock()
	r.phase = PhaseIdle
	r.programID = ""
	r.programName = ""
	r.userID = ""
	r.steps = nil
	r.stepIdx = 0
	r.total = 0
	r.timerStart = 0
	r.elapsed = 0
	r.offset = 0
	r.mu.Unlock()
}

func (r *Runner) sendStop() {
	if err := r.link.SendCommand(mustCommand(CmdStop, 0)); err != nil {
		r.logger.Printf("Runner: stop send failed: %v", err)
	}
}

func (r *Runner) notify(failure string) {
	r.mu.RLock()
	state := r.buildState(failure)
	r.mu.RUnlock()
	r.stateEvent.Notify(state)
}

// mustCommand builds a command whose parameters are already validated
// by the caller.
func mustCommand(op CommandOp, value int) Command {
	cmd, err := NewCommand(op, value)
	if err != nil {
		panic(err)
	}
	return cmd
}
