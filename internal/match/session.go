// Package match drives one play-through of a generated game: it owns the
// script runner, the countdown clock and the round state machine, and fans
// state changes out to whoever is watching.
package match

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adlib-games/adlib/internal/scripting"
)

// Status is the round state machine position.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusInitialized Status = "initialized"
	StatusPlaying     Status = "playing"
	StatusEnded       Status = "ended"
)

// EndReason says why a round left StatusPlaying.
type EndReason string

const (
	EndTimeUp       EndReason = "time_up"
	EndOutOfGuesses EndReason = "out_of_guesses"
	EndScriptEnded  EndReason = "script_ended"
	EndStopped      EndReason = "stopped"
)

var (
	ErrSessionClosed  = errors.New("match: session closed")
	ErrNotIdle        = errors.New("match: round already initialized")
	ErrNotInitialized = errors.New("match: round not initialized")
	ErrNotPlaying     = errors.New("match: round not playing")
)

// EventEmitter receives loop notifications. Calls happen on the session's
// loop goroutine, so implementations must return quickly.
type EventEmitter interface {
	StateChanged(snap Snapshot)
	RoundEnded(sum Summary)
}

// InputRecord is one judged player input.
type InputRecord struct {
	RoundID string
	Seq     int
	Input   string
	Correct bool
	Points  int
	At      time.Time
}

// InputRecorder persists judged inputs. Implementations buffer internally;
// the session calls it inline on the loop goroutine.
type InputRecorder interface {
	RecordInput(rec InputRecord)
}

// Snapshot is a point-in-time view of the round.
type Snapshot struct {
	RoundID        string              `json:"roundId"`
	GameID         string              `json:"gameId"`
	Status         Status              `json:"status"`
	State          scripting.GameState `json:"state"`
	Inputs         int                 `json:"inputs"`
	Correct        int                 `json:"correct"`
	HintsUsed      int                 `json:"hintsUsed"`
	ScriptFailures int                 `json:"scriptFailures"`
}

// Config wires a session to its game and collaborators.
type Config struct {
	GameID string
	// Source is the Lua script the round plays.
	Source string
	// DurationSeconds is the round clock used when the script does not
	// open with a timeRemaining of its own.
	DurationSeconds int
	// TickInterval is how often the clock loses one second of
	// timeRemaining. Defaults to one second; tests shrink it.
	TickInterval time.Duration
	Emitter      EventEmitter
	Recorder     InputRecorder
	Logger       *zap.SugaredLogger
}

// Session runs the round. All script and state access is confined to one
// loop goroutine; the exported methods hand work to it and wait, so a
// Session is safe for concurrent use.
type Session struct {
	cfg Config
	log *zap.SugaredLogger

	reqs      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	status    Status
	closed    bool
	runner    *scripting.Runner
	state     scripting.GameState
	roundID   string
	total     int
	remaining int
	hasNext   bool
	hasHint   bool
	inputs    int
	correct   int
	hintsUsed int
	startedAt time.Time
	series    scoreBuffer
	summary   *Summary
	ticker    *time.Ticker
}

// NewSession starts the loop goroutine in StatusIdle. The caller must
// Close the session when done with it.
func NewSession(cfg Config) *Session {
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = scripting.DefaultDuration
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	s := &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		reqs:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		status:  StatusIdle,
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	s.ticker = time.NewTicker(s.cfg.TickInterval)
	defer s.ticker.Stop()

	for {
		var tickC <-chan time.Time
		if s.status == StatusPlaying {
			tickC = s.ticker.C
		}
		select {
		case fn := <-s.reqs:
			fn()
		case <-tickC:
			s.tick()
		case <-s.quit:
			s.teardown()
			close(s.stopped)
			s.drain()
			return
		}
	}
}

// drain unblocks callers that enqueued while the loop was shutting down;
// their handlers see the torn-down session and reply ErrSessionClosed.
func (s *Session) drain() {
	for {
		select {
		case fn := <-s.reqs:
			fn()
		default:
			return
		}
	}
}

func (s *Session) teardown() {
	s.closed = true
	if s.runner != nil {
		s.runner.Destroy()
		s.runner = nil
	}
}

// do runs fn on the loop goroutine and waits for it. The request channel is
// unbuffered, so once the send completes the loop (or its shutdown drain) is
// guaranteed to run fn.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case s.reqs <- wrapped:
	case <-s.stopped:
		return ErrSessionClosed
	}
	<-done
	return nil
}

// Close tears the session down. Idempotent; operations racing the close
// return ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

// Initialize loads the script and asks it for the opening state, moving
// Idle to Initialized. A script that cannot load reports its *LoadError
// here and the session stays Idle.
func (s *Session) Initialize() error {
	var err error
	if derr := s.do(func() { err = s.handleInitialize() }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) handleInitialize() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.status != StatusIdle {
		return ErrNotIdle
	}

	runner, err := scripting.NewRunner(s.cfg.Source, scripting.Options{
		DefaultDuration: s.cfg.DurationSeconds,
		Logger:          s.log,
	})
	if err != nil {
		s.log.Warnw("script rejected at load", "gameId", s.cfg.GameID, "error", err)
		return err
	}

	s.runner = runner
	s.roundID = uuid.NewString()
	s.hasNext = runner.Has("getNextChallenge")
	s.hasHint = runner.Has("getHint")
	s.state = runner.Init()

	// The host owns the clock. The script's opening timeRemaining seeds
	// it when present; after that every tick writes the truth back.
	s.remaining = s.state.TimeRemaining
	if s.remaining <= 0 {
		s.remaining = s.cfg.DurationSeconds
	}
	s.total = s.remaining
	s.state.TimeRemaining = s.remaining

	s.inputs, s.correct, s.hintsUsed = 0, 0, 0
	s.series = scoreBuffer{}
	s.summary = nil
	s.startedAt = time.Time{}
	s.status = StatusInitialized
	s.emitState()
	return nil
}

// Start begins play and the countdown.
func (s *Session) Start() error {
	var err error
	if derr := s.do(func() { err = s.handleStart() }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) handleStart() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.status != StatusInitialized {
		return ErrNotInitialized
	}
	s.state = s.runner.Start(s.state)
	s.state.TimeRemaining = s.remaining
	s.startedAt = time.Now()
	s.status = StatusPlaying
	s.ticker.Reset(s.cfg.TickInterval)
	s.series.add(ScorePoint{Elapsed: 0, Score: s.state.Score})
	s.emitState()
	return nil
}

// Submit judges one player input and returns the verdict. The returned
// state reflects any follow-up challenge the script produced.
func (s *Session) Submit(input string) (scripting.InputResult, error) {
	var res scripting.InputResult
	var err error
	if derr := s.do(func() { res, err = s.handleSubmit(input) }); derr != nil {
		return scripting.InputResult{}, derr
	}
	return res, err
}

func (s *Session) handleSubmit(input string) (scripting.InputResult, error) {
	if s.closed {
		return scripting.InputResult{}, ErrSessionClosed
	}
	if s.status != StatusPlaying {
		return scripting.InputResult{}, ErrNotPlaying
	}

	s.inputs++
	res := s.runner.OnInput(s.state, input)
	s.state = res.State
	s.state.TimeRemaining = s.remaining
	if res.Correct {
		s.correct++
	}

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecordInput(InputRecord{
			RoundID: s.roundID,
			Seq:     s.inputs,
			Input:   input,
			Correct: res.Correct,
			Points:  res.Points,
			At:      time.Now(),
		})
	}

	switch {
	case !s.state.IsPlaying:
		s.endRound(EndScriptEnded)
	case s.state.MaxWrongGuesses > 0 && s.state.WrongGuesses >= s.state.MaxWrongGuesses:
		s.endRound(EndOutOfGuesses)
	case res.Correct && s.hasNext:
		s.state = s.runner.NextChallenge(s.state)
		s.state.TimeRemaining = s.remaining
	}

	if s.status == StatusPlaying {
		s.emitState()
	}
	res.State = s.state
	return res, nil
}

// HintNow asks the script for a hint. Scripts without getHint answer with
// an empty string without being called.
func (s *Session) HintNow() (string, error) {
	var hint string
	var err error
	if derr := s.do(func() { hint, err = s.handleHint() }); derr != nil {
		return "", derr
	}
	return hint, err
}

func (s *Session) handleHint() (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.status != StatusPlaying {
		return "", ErrNotPlaying
	}
	if !s.hasHint {
		return "", nil
	}
	hint := s.runner.Hint(s.state)
	if hint != "" {
		s.hintsUsed++
	}
	return hint, nil
}

// Stop ends a running round early.
func (s *Session) Stop() error {
	var err error
	if derr := s.do(func() { err = s.handleStop() }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) handleStop() error {
	if s.closed {
		return ErrSessionClosed
	}
	switch s.status {
	case StatusPlaying, StatusInitialized:
		s.endRound(EndStopped)
		return nil
	default:
		return ErrNotPlaying
	}
}

// Reset returns the session to Idle so Initialize can replay the same
// script from scratch.
func (s *Session) Reset() error {
	var err error
	if derr := s.do(func() { err = s.handleReset() }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) handleReset() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.runner != nil {
		s.runner.Destroy()
		s.runner = nil
	}
	s.status = StatusIdle
	s.state = scripting.GameState{}
	s.summary = nil
	s.roundID = ""
	return nil
}

// Snapshot reports the current round state.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	var err error
	if derr := s.do(func() {
		if s.closed {
			err = ErrSessionClosed
			return
		}
		snap = s.currentSnapshot()
	}); derr != nil {
		return Snapshot{}, derr
	}
	return snap, err
}

func (s *Session) currentSnapshot() Snapshot {
	snap := Snapshot{
		RoundID:   s.roundID,
		GameID:    s.cfg.GameID,
		Status:    s.status,
		State:     s.state,
		Inputs:    s.inputs,
		Correct:   s.correct,
		HintsUsed: s.hintsUsed,
	}
	if s.runner != nil {
		snap.ScriptFailures = s.runner.Failures()
	}
	return snap
}

// ScriptLogs returns everything the guest script logged this round. The
// buffer survives the end of the round until Reset or Close.
func (s *Session) ScriptLogs() ([]scripting.LogEntry, error) {
	var logs []scripting.LogEntry
	var err error
	if derr := s.do(func() {
		if s.closed {
			err = ErrSessionClosed
			return
		}
		if s.runner != nil {
			logs = s.runner.Logs()
		}
	}); derr != nil {
		return nil, derr
	}
	return logs, err
}

// Summary returns the completed round's summary, or ok=false before the
// round has ended.
func (s *Session) Summary() (Summary, bool) {
	var sum Summary
	var ok bool
	if derr := s.do(func() {
		if !s.closed && s.summary != nil {
			sum, ok = *s.summary, true
		}
	}); derr != nil {
		return Summary{}, false
	}
	return sum, ok
}

// tick runs on the loop goroutine once per interval while playing.
func (s *Session) tick() {
	s.remaining--
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.state.TimeRemaining = s.remaining
	if s.remaining <= 0 {
		s.endRound(EndTimeUp)
		return
	}
	s.series.add(ScorePoint{Elapsed: s.total - s.remaining, Score: s.state.Score})
	s.emitState()
}

func (s *Session) endRound(reason EndReason) {
	endedAt := time.Now()
	s.state.IsPlaying = false
	s.state.TimeRemaining = s.remaining
	s.status = StatusEnded

	played := 0
	if !s.startedAt.IsZero() {
		played = int(endedAt.Sub(s.startedAt).Seconds())
	}
	failures := 0
	if s.runner != nil {
		failures = s.runner.Failures()
	}
	s.series.add(ScorePoint{Elapsed: s.total - s.remaining, Score: s.state.Score})

	sum := Summary{
		RoundID:        s.roundID,
		GameID:         s.cfg.GameID,
		Reason:         reason,
		Score:          s.state.Score,
		Inputs:         s.inputs,
		Correct:        s.correct,
		WrongGuesses:   s.state.WrongGuesses,
		HintsUsed:      s.hintsUsed,
		ScriptFailures: failures,
		PlayedSeconds:  played,
		StartedAt:      s.startedAt,
		EndedAt:        endedAt,
		Series:         s.series.snapshot(),
	}
	s.summary = &sum

	// The guest is done; release the interpreter now rather than at Close.
	if s.runner != nil {
		s.runner.Destroy()
	}

	s.log.Infow("round ended",
		"roundId", s.roundID,
		"gameId", s.cfg.GameID,
		"reason", reason,
		"score", sum.Score,
		"inputs", sum.Inputs,
	)
	s.emitState()
	if s.cfg.Emitter != nil {
		s.cfg.Emitter.RoundEnded(sum)
	}
}

func (s *Session) emitState() {
	if s.cfg.Emitter != nil {
		s.cfg.Emitter.StateChanged(s.currentSnapshot())
	}
}
