package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxjournal/pkg/store"
)

// ErrOffline is reported by [Recorder.Persist] after [Recorder.Open] failed
// to create a session record.
var ErrOffline = errors.New("session: recorder offline")

// DefaultPersistTimeout bounds a single transcript write.
const DefaultPersistTimeout = 5 * time.Second

// Recorder mirrors one session's transcript into a [store.Store].
//
// Writes are fire-and-forget: failures are logged and marked as degraded,
// never propagated to the turn engine. Writes are ordered by submission; a
// write that is overtaken by a newer one is skipped.
type Recorder struct {
	store   store.Store
	timeout time.Duration

	offline  atomic.Bool
	degraded atomic.Bool
	seq      atomic.Uint64

	writeMu sync.Mutex
	written uint64
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder over st. A zero timeout selects
// [DefaultPersistTimeout].
func NewRecorder(st store.Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Recorder{store: st, timeout: timeout}
}

// Open creates the session record for userID. When the store fails, Open
// returns a locally generated ID together with the error, and the recorder
// stays offline for the rest of the session.
func (r *Recorder) Open(ctx context.Context, userID string) (string, error) {
	id, err := r.store.StartSession(ctx, userID)
	if err != nil {
		r.offline.Store(true)
		r.degraded.Store(true)
		return uuid.NewString(), err
	}
	return id, nil
}

// Persist writes fullText as the transcript of sessionID in the background.
// The returned channel yields the outcome once and is then closed; callers
// may ignore it.
func (r *Recorder) Persist(sessionID, fullText string) <-chan error {
	result := make(chan error, 1)
	if r.offline.Load() {
		result <- ErrOffline
		close(result)
		return result
	}

	seq := r.seq.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(result)
		result <- r.write(seq, sessionID, fullText)
	}()
	return result
}

func (r *Recorder) write(seq uint64, sessionID, fullText string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if seq < r.written {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.AppendTranscript(ctx, sessionID, fullText); err != nil {
		r.degraded.Store(true)
		slog.Warn("session: transcript persist failed", "session_id", sessionID, "err", err)
		return err
	}
	r.written = seq
	r.degraded.Store(false)
	return nil
}

// Degraded reports whether the most recent store operation failed.
func (r *Recorder) Degraded() bool { return r.degraded.Load() }

// Flush waits for every pending write.
func (r *Recorder) Flush() { r.wg.Wait() }
