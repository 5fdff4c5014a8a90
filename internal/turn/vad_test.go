package turn

import (
	"testing"

	"github.com/MrWong99/voxjournal/pkg/audio"
)

func constFrame(amp int16, n int) audio.Frame {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	return audio.Frame{Samples: s, Count: n, SampleRate: 16000}
}

func TestVAD_Process(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame audio.Frame
		want  bool
	}{
		{"silence", constFrame(0, 320), false},
		{"below gate", constFrame(300, 320), false},
		{"voiced", constFrame(4000, 320), true},
		{"empty", audio.Frame{}, false},
		{"count beyond buffer", audio.Frame{Samples: make([]int16, 4), Count: 99}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVAD(0, 0)
			if got := v.Process(tt.frame); got != tt.want {
				t.Errorf("Process() = %v, want %v (rms %.4f)", got, tt.want, RMS(tt.frame))
			}
		})
	}
}

func TestVAD_LevelSmoothing(t *testing.T) {
	t.Parallel()

	v := NewVAD(DefaultVADGate, 0.25)
	v.Observe(1)
	if got := v.Level(); got != 0.25 {
		t.Fatalf("Level after one step = %v, want 0.25", got)
	}
	v.Observe(1)
	if got := v.Level(); got != 0.4375 {
		t.Fatalf("Level after two steps = %v, want 0.4375", got)
	}

	// Empty frames leave the level untouched.
	v.Process(audio.Frame{})
	if got := v.Level(); got != 0.4375 {
		t.Errorf("Level after empty frame = %v, want 0.4375", got)
	}
}

func TestVAD_ProcessDoesNotAllocate(t *testing.T) {
	v := NewVAD(0, 0)
	f := constFrame(4000, 320)
	allocs := testing.AllocsPerRun(100, func() { v.Process(f) })
	if allocs != 0 {
		t.Errorf("Process allocates %.0f times per frame", allocs)
	}
}
