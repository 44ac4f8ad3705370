package gamestore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adlib-games/adlib/internal/match"
)

// Recorder buffers judged inputs and flushes them to the store in batches,
// off the session's loop goroutine. It implements match.InputRecorder.
type Recorder struct {
	store *Store
	log   *zap.SugaredLogger

	mu        sync.Mutex
	buffer    []RoundInput
	flushSize int
	wg        sync.WaitGroup
}

var _ match.InputRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder. flushSize controls how many inputs are
// buffered before a batch insert.
func NewRecorder(store *Store, logger *zap.SugaredLogger, flushSize int) *Recorder {
	if flushSize <= 0 {
		flushSize = 50
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{
		store:     store,
		log:       logger,
		buffer:    make([]RoundInput, 0, flushSize),
		flushSize: flushSize,
	}
}

// RecordInput buffers one judged input and flushes if the buffer is full.
func (r *Recorder) RecordInput(rec match.InputRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, RoundInput{
		RoundID:   rec.RoundID,
		Seq:       rec.Seq,
		Input:     rec.Input,
		Correct:   rec.Correct,
		Points:    rec.Points,
		CreatedAt: rec.At,
	})

	if len(r.buffer) >= r.flushSize {
		r.flushLocked()
	}
}

// Flush persists any buffered inputs in the background.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Close flushes and waits for all background inserts to land.
func (r *Recorder) Close() {
	r.Flush()
	r.wg.Wait()
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	ins := make([]RoundInput, len(r.buffer))
	copy(ins, r.buffer)
	r.buffer = r.buffer[:0]

	// Insert in background to avoid blocking the session loop
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.store.InsertInputsBatch(ins); err != nil {
			r.log.Errorw("flush round inputs", "error", err, "count", len(ins))
		}
	}()
}
