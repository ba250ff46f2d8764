package playback

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/navtalk/esl-tutor/pkg/audio"
)

// otoBufferSize is ~100ms of 24 kHz mono 16-bit audio. Small enough for low
// latency, large enough to avoid glitches.
const otoBufferSize = 4800

// The oto context can only be created once per process, so it is shared by
// every otoOutput and suspended rather than torn down on Close.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedOtoContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.SampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("playback: init speaker: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// otoOutput renders WAV buffers through the system speaker. It resumes the
// shared context on each play and suspends it on Close, so a stopped session
// releases the device without preventing the next session from reusing it.
type otoOutput struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	closed bool
}

var _ Output = (*otoOutput)(nil)

// NewOtoOutput opens the default speaker output. Intended as the
// OutputFactory for NewQueue.
func NewOtoOutput() (Output, error) {
	ctx, err := sharedOtoContext()
	if err != nil {
		return nil, err
	}
	return &otoOutput{ctx: ctx}, nil
}

// Play decodes the WAV buffer and renders it to completion. Returns early
// with a nil error when the output is closed mid-playback.
func (o *otoOutput) Play(wav []byte) error {
	pcm, rate, err := audio.ParseWAV(wav)
	if err != nil {
		return fmt.Errorf("playback: decode chunk: %w", err)
	}
	// The shared context is fixed at the service rate; a buffer at any other
	// rate would play pitch-shifted.
	if rate != audio.SampleRate {
		return fmt.Errorf("playback: unsupported sample rate %d", rate)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	if err := o.ctx.Resume(); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("playback: resume speaker: %w", err)
	}
	player := o.ctx.NewPlayer(bytes.NewReader(pcm))
	o.player = player
	o.mu.Unlock()

	player.Play()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != player {
		// Close already released it.
		return nil
	}
	o.player = nil
	return player.Close()
}

// Close stops any in-flight playback and suspends the shared context.
// Idempotent.
func (o *otoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if err := o.ctx.Suspend(); err != nil {
		return fmt.Errorf("playback: suspend speaker: %w", err)
	}
	return nil
}
