package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxjournal/pkg/provider/stt/mock"
)

type resultLog struct {
	mu   sync.Mutex
	got  []stt.Transcript
	errs []error
}

func (l *resultLog) onResult(t stt.Transcript) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, t)
}

func (l *resultLog) onError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *resultLog) results() []stt.Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stt.Transcript(nil), l.got...)
}

func newTestRecognition(t *testing.T, p *sttmock.Provider) (*Recognition, *resultLog) {
	t.Helper()
	m, _ := newTestMetrics(t)
	log := &resultLog{}
	r := NewRecognition(RecognitionConfig{
		Provider: p,
		Stream:   stt.StreamConfig{SampleRate: 16000, Channels: 1},
		Backoff:  10 * time.Millisecond,
		OnResult: log.onResult,
		OnError:  log.onError,
		Metrics:  m,
	})
	t.Cleanup(r.Close)
	return r, log
}

func TestRecognition_DeliversResults(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r, log := newTestRecognition(t, p)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.State() != RecognitionRunning {
		t.Fatalf("State = %v, want running", r.State())
	}

	sess := p.Last()
	sess.PartialsCh <- stt.Transcript{Text: "hel"}
	sess.FinalsCh <- stt.Transcript{Text: "hello"}
	waitFor(t, "two results", func() bool { return len(log.results()) == 2 })

	got := log.results()
	if got[1].Text != "hello" || !got[1].IsFinal {
		t.Errorf("final result = %+v", got[1])
	}

	r.Feed([]int16{1, 2, 3})
	if sess.AudioCount() != 1 {
		t.Errorf("audio count = %d, want 1", sess.AudioCount())
	}
}

func TestRecognition_StartReplacesStream(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r, _ := newTestRecognition(t, p)
	_ = r.Start(context.Background())
	first := p.Last()
	_ = r.Start(context.Background())

	if !first.Closed() {
		t.Error("Start should close the previous stream")
	}
	if p.CallCount() != 2 {
		t.Errorf("StartStream calls = %d, want 2", p.CallCount())
	}
}

func TestRecognition_StopForAssistantSpeech(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r, _ := newTestRecognition(t, p)
	_ = r.Start(context.Background())
	sess := p.Last()

	r.Stop(StopForAssistantSpeech)
	if !sess.Closed() || r.State() != RecognitionStopped {
		t.Fatal("Stop should close the stream")
	}
	r.Feed([]int16{1})
	if sess.AudioCount() != 0 {
		t.Error("Feed while stopped should not send audio")
	}

	// An error from the suspended stream must not restart recognition.
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.fail(gen, errors.New("late failure"))
	time.Sleep(50 * time.Millisecond)
	if p.CallCount() != 1 {
		t.Errorf("StartStream calls = %d, want 1", p.CallCount())
	}
}

func TestRecognition_RestartsAfterError(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r, log := newTestRecognition(t, p)
	_ = r.Start(context.Background())

	p.Last().Fail(errors.New("socket reset"))
	waitFor(t, "restart", func() bool { return p.CallCount() == 2 && r.State() == RecognitionRunning })

	log.mu.Lock()
	nerr := len(log.errs)
	log.mu.Unlock()
	if nerr != 1 {
		t.Errorf("errors reported = %d, want 1", nerr)
	}
}

func TestRecognition_NoRestartAfterUserStop(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r, _ := newTestRecognition(t, p)
	_ = r.Start(context.Background())
	r.Stop(StopUser)

	if err := r.Start(context.Background()); !errors.Is(err, ErrRecognitionClosed) {
		t.Errorf("Start after user stop = %v, want ErrRecognitionClosed", err)
	}
	if r.LastStop() != StopUser {
		t.Errorf("LastStop = %v", r.LastStop())
	}
}

func TestRecognition_PermissionDenied(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{StartStreamErr: stt.ErrPermissionDenied}
	r, _ := newTestRecognition(t, p)
	if err := r.Start(context.Background()); !errors.Is(err, stt.ErrPermissionDenied) {
		t.Errorf("Start = %v, want ErrPermissionDenied", err)
	}
}

func TestRecognition_RestartsAfterCleanClose(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r, log := newTestRecognition(t, p)
	_ = r.Start(context.Background())

	// The provider ends the stream without an error while recognition is live.
	_ = p.Last().Close()
	waitFor(t, "restart", func() bool { return p.CallCount() == 2 && r.State() == RecognitionRunning })

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.errs) != 1 || !errors.Is(log.errs[0], ErrStreamEnded) {
		t.Errorf("errors reported = %v, want one ErrStreamEnded", log.errs)
	}
}

func TestRecognition_FeedDoesNotAllocate(t *testing.T) {
	p := &sttmock.Provider{}
	r, _ := newTestRecognition(t, p)
	_ = r.Start(context.Background())

	samples := make([]int16, 320)
	allocs := testing.AllocsPerRun(100, func() { r.Feed(samples) })
	if allocs != 0 {
		t.Errorf("Feed allocates %.1f times per frame, want 0", allocs)
	}
	if p.Last().AudioCount() == 0 {
		t.Error("Feed did not reach the stream")
	}
}
