// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{make([]byte, 640), make([]byte, 640)},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/voxjournal/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Voice is the Voice passed to SynthesizeStream.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
//
// SynthesizeStream drains the text channel, records the joined text, and then
// emits SynthesizeChunks. When Hold is non-nil the chunks are only emitted
// after Hold is closed, which lets a test keep a reply "speaking".
type Provider struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to 16000.
	Rate int

	// SynthesizeChunks are emitted in order on the returned channel.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// Hold delays emission until closed. Optional.
	Hold chan struct{}

	// SynthesizeStreamCalls records every call.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// Texts records the full text consumed by each call.
	Texts []string
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Voice: voice})
	err := p.SynthesizeErr
	chunks := p.SynthesizeChunks
	hold := p.Hold
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		var b strings.Builder
		for frag := range text {
			b.WriteString(frag)
		}
		p.mu.Lock()
		p.Texts = append(p.Texts, b.String())
		p.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// SpokenTexts returns a copy of the recorded texts. Thread-safe.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Texts))
	copy(out, p.Texts)
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
