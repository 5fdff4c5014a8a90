// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Deepgram finalises an utterance in segments: every is_final result covers
// only the audio since the previous one. The session folds those segments
// into a running hypothesis so that each emitted Transcript carries the whole
// current utterance. A speech_final result, or an UtteranceEnd event, closes
// the utterance and is emitted on Finals.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxjournal/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint, e.g. for a self-hosted
// Deepgram deployment.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram. A 401 or
// 403 from the handshake is reported as [stt.ErrPermissionDenied].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: dial: %w", stt.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The read loop outlives the dial context; Close cancels it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan *[]byte, 256),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	sess.wg.Add(2)
	go sess.readLoop(loopCtx)
	go sess.writeLoop(loopCtx)

	return sess, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// event is a parsed server message reduced to what the folder needs.
type event struct {
	text         string
	confidence   float64
	isFinal      bool
	speechFinal  bool
	utteranceEnd bool
}

// hypothesis folds Deepgram segments into a whole-utterance transcript.
type hypothesis struct {
	committed []string
}

// apply consumes ev and returns the transcript to emit, if any.
func (h *hypothesis) apply(ev event) (stt.Transcript, bool) {
	if ev.utteranceEnd {
		if len(h.committed) == 0 {
			return stt.Transcript{}, false
		}
		t := stt.Transcript{Text: strings.Join(h.committed, " "), IsFinal: true}
		h.committed = h.committed[:0]
		return t, true
	}

	text := strings.TrimSpace(ev.text)
	if ev.isFinal && text != "" {
		h.committed = append(h.committed, text)
	}

	parts := h.committed
	if !ev.isFinal && text != "" {
		parts = append(parts[:len(parts):len(parts)], text)
	}
	full := strings.Join(parts, " ")

	if ev.speechFinal {
		h.committed = h.committed[:0]
		if full == "" {
			return stt.Transcript{}, false
		}
		return stt.Transcript{Text: full, IsFinal: true, Confidence: ev.confidence}, true
	}
	if full == "" {
		return stt.Transcript{}, false
	}
	return stt.Transcript{Text: full, Confidence: ev.confidence}, true
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan *[]byte

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc

	errMu sync.Mutex
	err   error
}

// chunkPool recycles the queued copies of SendAudio chunks.
var chunkPool = sync.Pool{New: func() any { return new([]byte) }}

// SendAudio queues a copy of a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	buf := chunkPool.Get().(*[]byte)
	*buf = append((*buf)[:0], chunk...)
	select {
	case s.audio <- buf:
		return nil
	case <-s.done:
		chunkPool.Put(buf)
		return stt.ErrSessionClosed
	}
}

// send writes one queued chunk and returns its buffer to the pool.
func (s *session) send(ctx context.Context, buf *[]byte) error {
	err := s.conn.Write(ctx, websocket.MessageBinary, *buf)
	chunkPool.Put(buf)
	return err
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close flushes pending audio, asks Deepgram to finish, and tears down the
// connection.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) setErr(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case buf := <-s.audio:
			if err := s.send(ctx, buf); err != nil {
				s.setErr(fmt.Errorf("deepgram: write: %w", err))
				return
			}
		case <-s.done:
			for {
				select {
				case buf := <-s.audio:
					_ = s.send(ctx, buf)
				default:
					return
				}
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var h hypothesis
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		ev, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		t, ok := h.apply(ev)
		if !ok {
			continue
		}

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false for messages that carry no recognition signal.
func parseDeepgramResponse(data []byte) (event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return event{}, false
	}
	switch resp.Type {
	case "UtteranceEnd":
		return event{utteranceEnd: true}, true
	case "Results":
	default:
		return event{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return event{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return event{
		text:        alt.Transcript,
		confidence:  alt.Confidence,
		isFinal:     resp.IsFinal,
		speechFinal: resp.SpeechFinal,
	}, true
}
