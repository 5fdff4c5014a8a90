// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxjournal/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000", "pcm_24000").
// Only pcm_* formats are playable by the speech player.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty and the
// output format must be a pcm_<rate> format.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := sampleRateFromFormat(p.outputFormat)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	p.sampleRate = rate
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

// ---- WebSocket message types ----

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// SynthesizeStream opens a WebSocket to ElevenLabs, pipes text fragments from
// the text channel, and returns a channel emitting raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(voice.ID, p.model, p.outputFormat), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				pcm, final, err := decodeAudio(msg)
				if err != nil {
					slog.Warn("elevenlabs: stream message", "err", err)
					return
				}
				if len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				}
				if final {
					return
				}
			}
		}()

		for {
			select {
			case sentence, ok := <-text:
				if !ok {
					flushBytes, _ := buildWSMessage("", nil)
					_ = conn.Write(ctx, websocket.MessageText, flushBytes)
					<-readDone
					return
				}
				if strings.TrimSpace(sentence) == "" {
					continue
				}
				msgBytes, _ := buildWSMessage(sentence, nil)
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					return
				}
			case <-readDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// ---- helpers ----

func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

func buildURLForVoice(voiceID, model, format string) string {
	return fmt.Sprintf(wsEndpointFmt, url.PathEscape(voiceID), url.QueryEscape(model), url.QueryEscape(format))
}

// decodeAudio extracts PCM from one server message. An error message from the
// server is returned as an error.
func decodeAudio(msg []byte) (pcm []byte, final bool, err error) {
	var resp audioResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, false, nil
	}
	if resp.Error != "" {
		return nil, false, fmt.Errorf("server error: %s", resp.Error)
	}
	if resp.Audio != "" {
		pcm, err = base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			return nil, false, fmt.Errorf("decode audio: %w", err)
		}
	}
	return pcm, resp.IsFinal, nil
}

// sampleRateFromFormat parses "pcm_<rate>".
func sampleRateFromFormat(format string) (int, error) {
	rateStr, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("unsupported output format %q: want pcm_<rate>", format)
	}
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("unsupported output format %q: bad sample rate", format)
	}
	return rate, nil
}
