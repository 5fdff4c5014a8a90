package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/internal/speech"
	"github.com/MrWong99/voxjournal/pkg/audio"
	audiomock "github.com/MrWong99/voxjournal/pkg/audio/mock"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxjournal/pkg/provider/llm/mock"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxjournal/pkg/provider/stt/mock"
	"github.com/MrWong99/voxjournal/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxjournal/pkg/provider/tts/mock"
	storemock "github.com/MrWong99/voxjournal/pkg/store/mock"
	"github.com/MrWong99/voxjournal/pkg/types"
)

type harness struct {
	src    *audiomock.Source
	stt    *sttmock.Provider
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
	sink   *audiomock.Sink
	store  *storemock.Store
	rec    *session.Recorder
	reader *sdkmetric.ManualReader
	c      *Coordinator
}

func testConfig() Config {
	return Config{
		UserID:          "u1",
		SilenceHold:     60 * time.Millisecond,
		Tick:            10 * time.Millisecond,
		BargeHold:       40 * time.Millisecond,
		ResumeDelay:     10 * time.Millisecond,
		FastResumeDelay: 5 * time.Millisecond,
		RestartBackoff:  10 * time.Millisecond,
		ReplyTimeout:    time.Second,
		ClockInterval:   10 * time.Millisecond,
		SystemPrompt:    "be kind",
	}
}

func newHarness(t *testing.T, cfg Config, lp *llmmock.Provider, tp *ttsmock.Provider) *harness {
	t.Helper()
	m, reader := newTestMetrics(t)
	h := &harness{
		src:    &audiomock.Source{},
		stt:    &sttmock.Provider{},
		llm:    lp,
		tts:    tp,
		sink:   &audiomock.Sink{},
		store:  storemock.New(),
		reader: reader,
	}
	h.rec = session.NewRecorder(h.store, 0)
	player := speech.New(tp, h.sink, tts.Voice{ID: "calm"})
	t.Cleanup(player.Close)

	c, err := New(cfg, Deps{
		Source:   h.src,
		STT:      h.stt,
		LLM:      lp,
		Speaker:  player,
		Recorder: h.rec,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.c = c
	t.Cleanup(c.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) sayFinal(text string) {
	h.stt.Last().FinalsCh <- stt.Transcript{Text: text}
}

func loudFrame() audio.Frame {
	s := make([]int16, 320)
	for i := range s {
		s[i] = 8000
	}
	return audio.Frame{Samples: s, Count: len(s), SampleRate: 16000}
}

func pcmChunk() []byte {
	return audio.EncodePCM16(nil, loudFrame().Samples)
}

func reply(text string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: text}}
}

func TestCoordinator_FullTurn(t *testing.T) {
	t.Parallel()

	tp := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcmChunk(), pcmChunk()}}
	h := newHarness(t, testConfig(), reply("That sounds lovely."), tp)
	h.start(t)
	if h.c.State() != StateListening {
		t.Fatalf("State = %v, want listening", h.c.State())
	}

	h.sayFinal("I had a good day")
	waitFor(t, "assistant turn", func() bool { return len(h.c.Transcript()) == 2 })
	waitFor(t, "resumed recognition", func() bool {
		return h.c.State() == StateListening && h.stt.CallCount() == 2
	})

	got := h.c.Transcript()
	want := []types.Turn{
		{Speaker: types.SpeakerUser, Text: "I had a good day"},
		{Speaker: types.SpeakerAssistant, Text: "That sounds lovely."},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if spoken := tp.SpokenTexts(); len(spoken) != 1 || spoken[0] != "That sounds lovely." {
		t.Errorf("spoken = %v", spoken)
	}

	calls := h.llm.Calls()
	if len(calls) != 1 || calls[0].Req.SystemPrompt != "be kind" || len(calls[0].Req.Messages) != 1 {
		t.Fatalf("reply request = %+v", calls)
	}
	if h.sink.PlayedCount() != 2 {
		t.Errorf("played %d chunks, want 2", h.sink.PlayedCount())
	}
	if n := counter(t, h.reader, "voxjournal.turn.commits"); n != 1 {
		t.Errorf("commits = %d, want 1", n)
	}

	h.c.Stop()
	h.rec.Flush()
	stored, _ := h.store.Transcript(h.c.SessionID())
	if stored != "User: I had a good day\nAssistant: That sounds lovely.\n" {
		t.Errorf("stored transcript = %q", stored)
	}
}

func TestCoordinator_SilenceCommit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), reply("Tell me more."), &ttsmock.Provider{})
	h.start(t)

	h.stt.Last().PartialsCh <- stt.Transcript{Text: "work was busy"}
	h.src.Emit(loudFrame())

	waitFor(t, "silence commit", func() bool { return len(h.llm.Calls()) == 1 })
	if got := h.c.Transcript()[0].Text; got != "work was busy" {
		t.Errorf("committed %q", got)
	}
}

func TestCoordinator_PartialWithoutVoiceWaitsForHold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SilenceHold = 300 * time.Millisecond
	h := newHarness(t, cfg, reply("Go on."), &ttsmock.Provider{})
	h.start(t)

	heard := time.Now()
	h.stt.Last().PartialsCh <- stt.Transcript{Text: "I was thinking"}
	time.Sleep(100 * time.Millisecond)
	if n := len(h.llm.Calls()); n != 0 {
		t.Fatalf("committed %d times before the silence hold elapsed", n)
	}

	waitFor(t, "silence commit", func() bool { return len(h.llm.Calls()) == 1 })
	if elapsed := time.Since(heard); elapsed < cfg.SilenceHold {
		t.Errorf("committed after %v, want at least %v", elapsed, cfg.SilenceHold)
	}
	if got := h.c.Transcript()[0].Text; got != "I was thinking" {
		t.Errorf("committed %q", got)
	}
}

func TestCoordinator_ShortUtteranceNotCommitted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), reply("ok"), &ttsmock.Provider{})
	h.start(t)

	h.stt.Last().PartialsCh <- stt.Transcript{Text: "a"}
	time.Sleep(200 * time.Millisecond)
	if n := len(h.llm.Calls()); n != 0 {
		t.Errorf("reply requests = %d, want 0", n)
	}
	if h.c.State() != StateListening {
		t.Errorf("State = %v, want listening", h.c.State())
	}
}

func TestCoordinator_BargeIn(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	tp := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcmChunk()}, Hold: hold}
	h := newHarness(t, testConfig(), reply("Here is a long answer."), tp)
	h.start(t)

	h.sayFinal("tell me something")
	waitFor(t, "speaking", func() bool { return h.c.State() == StateSpeaking })

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				h.src.Emit(loudFrame())
			}
		}
	}()
	waitFor(t, "barge-in back to listening", func() bool { return h.c.State() == StateListening })
	close(stop)
	wg.Wait()

	if n := counter(t, h.reader, "voxjournal.turn.barge_ins"); n != 1 {
		t.Errorf("barge-ins = %d, want 1", n)
	}
	if h.sink.CallCountInterrupt == 0 {
		t.Error("playback was not interrupted")
	}
	waitFor(t, "recognition resumed", func() bool { return h.stt.CallCount() == 2 })
}

func TestCoordinator_LateReplyAfterTimeLimitDiscarded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	returned := make(chan struct{})
	lp := &llmmock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			// Ignores cancellation like a hung backend.
			<-release
			defer close(returned)
			return &llm.CompletionResponse{Content: "too late"}, nil
		},
	}
	tp := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcmChunk()}}
	cfg := testConfig()
	cfg.MaxDuration = 150 * time.Millisecond
	cfg.WarnAt = 50 * time.Millisecond
	h := newHarness(t, cfg, lp, tp)
	h.start(t)

	h.sayFinal("one more thing")
	waitFor(t, "awaiting reply", func() bool { return h.c.State() == StateAwaitingReply })

	select {
	case <-h.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("time limit never fired")
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-returned

	waitFor(t, "discard recorded", func() bool {
		return counter(t, h.reader, "voxjournal.reply.discarded") == 1
	})
	if got := h.c.Transcript(); len(got) != 1 || got[0].Speaker != types.SpeakerUser {
		t.Errorf("transcript = %+v, want only the user turn", got)
	}
	if n := len(tp.SpokenTexts()); n != 0 {
		t.Errorf("playback started %d times after the limit", n)
	}
	out := h.c.Outcome()
	if !out.EndedByLimit() || out.State != StateTimeLimitEnded {
		t.Errorf("outcome = %+v, want time limit end", out)
	}
	if h.src.Running() {
		t.Error("capture should be stopped")
	}
}

func TestCoordinator_WarningOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxDuration = 200 * time.Millisecond
	cfg.WarnAt = 150 * time.Millisecond
	h := newHarness(t, cfg, reply("ok"), &ttsmock.Provider{})
	h.start(t)

	var warnings, clocks int
	var sawTerminal bool
	timeout := time.After(2 * time.Second)
	for !sawTerminal {
		select {
		case ev := <-h.c.Events():
			switch ev := ev.(type) {
			case WarningEvent:
				warnings++
			case ClockEvent:
				clocks++
			case StateEvent:
				sawTerminal = ev.To == StateTimeLimitEnded
			}
		case <-timeout:
			t.Fatal("session did not reach the time limit")
		}
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
	if clocks == 0 {
		t.Error("no clock events published")
	}
}

func TestCoordinator_PermissionDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), reply("ok"), &ttsmock.Provider{})
	h.stt.StartStreamErr = fmt.Errorf("deepgram: %w", stt.ErrPermissionDenied)

	err := h.c.Start(context.Background())
	if !errors.Is(err, stt.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want idle", h.c.State())
	}
	if h.src.CallCountStart != 0 || h.store.SessionCount() != 0 {
		t.Error("no capture or session record may be opened on a denied start")
	}
}

func TestCoordinator_UserStopKeepsPendingUtterance(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SilenceHold = time.Hour
	h := newHarness(t, cfg, reply("ok"), &ttsmock.Provider{})
	h.start(t)

	h.stt.Last().PartialsCh <- stt.Transcript{Text: "and that is all"}
	timeout := time.After(2 * time.Second)
	for seen := false; !seen; {
		select {
		case ev := <-h.c.Events():
			if p, ok := ev.(PartialEvent); ok && p.Text == "and that is all" {
				seen = true
			}
		case <-timeout:
			t.Fatal("partial never applied")
		}
	}
	h.c.Stop()

	if h.c.State() != StateEnded {
		t.Fatalf("State = %v, want ended", h.c.State())
	}
	got := h.c.Transcript()
	if len(got) != 1 || got[0].Text != "and that is all" {
		t.Errorf("transcript = %+v", got)
	}
	if h.src.Running() {
		t.Error("capture tap still installed")
	}
	if !h.stt.Last().Closed() {
		t.Error("recognizer stream not closed")
	}
	if out := h.c.Outcome(); out.EndedByLimit() || out.Turns != 1 || out.EndedAt.IsZero() {
		t.Errorf("outcome = %+v", out)
	}
}

func TestCoordinator_RecognizerErrorRestarts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), reply("ok"), &ttsmock.Provider{})
	h.start(t)

	h.stt.Last().Fail(errors.New("socket reset"))
	waitFor(t, "recognizer restart", func() bool { return h.stt.CallCount() == 2 })
	waitFor(t, "restart metric", func() bool { return counter(t, h.reader, "voxjournal.stt.restarts") == 1 })
}

func TestCoordinator_ReplyErrorReturnsToListening(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteErr: errors.New("model overloaded")}
	h := newHarness(t, testConfig(), lp, &ttsmock.Provider{})
	h.start(t)

	h.sayFinal("hello there")
	waitFor(t, "listening again", func() bool {
		return h.c.State() == StateListening && h.stt.CallCount() == 2
	})
	if n := len(h.c.Transcript()); n != 1 {
		t.Errorf("transcript len = %d, want 1", n)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("New without deps should fail")
	}
}
