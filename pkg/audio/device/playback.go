package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxjournal/pkg/audio"
)

// Playback is an [audio.Sink] backed by a persistent malgo playback device.
// The device outputs silence whenever the ring is empty.
type Playback struct {
	sampleRate int

	mctx   *malgo.AllocatedContext
	device *malgo.Device
	ring   *sampleRing

	// interrupt is closed and replaced by Interrupt. Guarded by mu.
	mu        sync.Mutex
	interrupt chan struct{}

	// flush tells the audio callback to drop buffered samples.
	flush atomic.Bool

	// drained is signalled by the callback every time the ring runs empty.
	drained chan struct{}

	closeOnce sync.Once
}

// NewPlayback opens the default playback device at sampleRate.
// bufferMs is the device period; 0 selects 100ms, which suits Bluetooth
// outputs.
func NewPlayback(sampleRate int, bufferMs uint32) (*Playback, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if bufferMs == 0 {
		bufferMs = 100
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback: init context: %w", err)
	}

	p := &Playback{
		sampleRate: sampleRate,
		mctx:       mctx,
		ring:       &sampleRing{},
		interrupt:  make(chan struct{}),
		drained:    make(chan struct{}, 1),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = bufferMs

	var out [1024]int16
	onSend := func(output, _ []byte, framecount uint32) {
		if p.flush.Swap(false) {
			p.ring.clear()
		}
		remaining := int(framecount)
		off := 0
		for remaining > 0 {
			n := remaining
			if n > len(out) {
				n = len(out)
			}
			got := p.ring.pop(out[:n])
			for i := 0; i < n; i++ {
				var s int16
				if i < got {
					s = out[i]
				}
				binary.LittleEndian.PutUint16(output[(off+i)*2:], uint16(s))
			}
			off += n
			remaining -= n
		}
		if p.ring.len() == 0 {
			select {
			case p.drained <- struct{}{}:
			default:
			}
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback: start device: %w", err)
	}
	p.device = dev

	slog.Info("audio playback started", "sample_rate", sampleRate, "buffer_ms", bufferMs)
	return p, nil
}

// Play queues pcm and blocks until the device has consumed it, Interrupt is
// called, or ctx is cancelled.
func (p *Playback) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	interrupt := p.interrupt
	p.mu.Unlock()

	samples := audio.DecodePCM16(pcm)
	for len(samples) > 0 {
		n := p.ring.push(samples)
		samples = samples[n:]
		if len(samples) == 0 {
			break
		}
		// Ring full; wait for the device to make room.
		select {
		case <-interrupt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	for p.ring.len() > 0 {
		select {
		case <-interrupt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.drained:
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// Interrupt drops queued audio and releases pending Play calls.
func (p *Playback) Interrupt() {
	p.flush.Store(true)
	p.mu.Lock()
	close(p.interrupt)
	p.interrupt = make(chan struct{})
	p.mu.Unlock()
}

// SampleRate returns the device rate.
func (p *Playback) SampleRate() int { return p.sampleRate }

// Close stops the device and releases the malgo context.
func (p *Playback) Close() error {
	p.closeOnce.Do(func() {
		p.Interrupt()
		if p.device != nil {
			_ = p.device.Stop()
			p.device.Uninit()
		}
		_ = p.mctx.Uninit()
		p.mctx.Free()
	})
	return nil
}

var _ audio.Sink = (*Playback)(nil)
