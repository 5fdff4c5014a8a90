// Package device provides microphone capture and speaker playback backed by
// github.com/gen2brain/malgo (miniaudio).
//
// The malgo data callbacks run on the audio thread. They only copy samples in
// or out of lock-free ring buffers; frame delivery to the tap and blocking
// playback waits happen on ordinary goroutines.
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

// Capture is an [audio.Source] reading 16-bit mono PCM from the default
// capture device.
type Capture struct {
	sampleRate   int
	frameSamples int

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	stop    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	tap  atomic.Pointer[func(audio.Frame)]
	ring *sampleRing

	// scratch is reused by the audio callback for byte to sample conversion.
	scratch []int16
}

// NewCapture returns a capture source delivering frames of frameMs
// milliseconds at sampleRate. The device is not opened until Start.
func NewCapture(sampleRate, frameMs int) *Capture {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if frameMs <= 0 {
		frameMs = 20
	}
	return &Capture{
		sampleRate:   sampleRate,
		frameSamples: sampleRate * frameMs / 1000,
		ring:         &sampleRing{},
		scratch:      make([]int16, 0, 4096),
	}
}

// Start opens the default capture device and begins delivering frames to tap.
// If the source is already running only the tap is replaced.
func (c *Capture) Start(_ context.Context, tap func(audio.Frame)) error {
	c.tap.Store(&tap)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("capture: init context: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(c.sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	onRecv := func(_, input []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		n := int(framecount)
		if n*2 > len(input) {
			n = len(input) / 2
		}
		if cap(c.scratch) < n {
			// Only reached if the backend delivers a larger period than requested.
			c.scratch = make([]int16, n)
		}
		buf := c.scratch[:n]
		for i := range buf {
			buf[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
		}
		c.ring.push(buf)
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("capture: init device: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	c.mctx = mctx
	c.device = dev
	c.stop = make(chan struct{})
	c.running.Store(true)

	c.wg.Add(1)
	go c.processLoop(c.stop)

	if err := dev.Start(); err != nil {
		c.running.Store(false)
		close(c.stop)
		c.wg.Wait()
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		c.device, c.mctx = nil, nil
		return fmt.Errorf("capture: start device: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	slog.Info("audio capture started", "sample_rate", c.sampleRate, "frame_samples", c.frameSamples)
	return nil
}

// processLoop drains the ring in frame-sized pieces and calls the tap.
func (c *Capture) processLoop(stop <-chan struct{}) {
	defer c.wg.Done()

	buf := make([]int16, c.frameSamples)
	frame := audio.Frame{Samples: buf, SampleRate: c.sampleRate}
	for {
		select {
		case <-stop:
			return
		default:
		}
		if c.ring.len() < c.frameSamples {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
			}
			continue
		}
		frame.Count = c.ring.pop(buf)
		if tap := c.tap.Load(); tap != nil && *tap != nil {
			(*tap)(frame)
		}
	}
}

// Stop halts capture and releases the device.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Swap(false) {
		return nil
	}
	close(c.stop)
	c.wg.Wait()

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.mctx != nil {
		_ = c.mctx.Uninit()
		c.mctx.Free()
		c.mctx = nil
	}
	c.ring.clear()
	slog.Info("audio capture stopped")
	return nil
}

var _ audio.Source = (*Capture)(nil)
