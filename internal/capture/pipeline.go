// Package capture streams microphone audio to the control channel. It
// acquires one exclusive source, converts each fixed-size frame to PCM16,
// base64-encodes it and sends it in bounded chunks. The pipeline runs
// independently of inbound message handling and is gated only by mute state
// and the send function it is given.
package capture

import (
	"log/slog"
	"sync"

	"github.com/navtalk/esl-tutor/pkg/audio"
)

// DefaultFrameSize is the number of samples per processing frame.
const DefaultFrameSize = 4096

// DefaultChunkSize bounds the base64 payload of one append-audio frame.
const DefaultChunkSize = 4096

// Source delivers fixed-size frames of float32 samples in [-1, 1] until
// closed. Start may block while the device is acquired; the frame callback
// is invoked from the source's own capture routine.
type Source interface {
	Start(frameSize int, fn func(samples []float32)) error
	Close() error
}

// SourceFactory acquires the microphone. Acquisition can be slow (device
// init, permission prompts), so the pipeline calls it off the caller's
// goroutine and discards the result if a Stop supersedes the attempt.
type SourceFactory func() (Source, error)

// SendFunc transmits one base64-encoded audio chunk. Implementations decide
// whether the channel is open; errors are logged by the pipeline, not
// retried.
type SendFunc func(chunk string) error

// Pipeline owns the microphone source and the frame-to-chunk conversion.
// Muting silences the captured samples without interrupting the frame flow.
//
// Pipeline is safe for concurrent use.
type Pipeline struct {
	mu        sync.Mutex
	newSource SourceFactory
	send      SendFunc
	frameSize int
	chunkSize int
	attempt   uint64
	src       Source
	muted     bool
	onFail    func(err error)
	log       *slog.Logger
}

// NewPipeline creates an idle Pipeline. Zero frame or chunk sizes fall back
// to the defaults.
func NewPipeline(factory SourceFactory, send SendFunc, frameSize, chunkSize int, log *slog.Logger) *Pipeline {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		newSource: factory,
		send:      send,
		frameSize: frameSize,
		chunkSize: chunkSize,
		log:       log,
	}
}

// SetFailureHandler registers a callback invoked when the microphone cannot
// be acquired or its stream fails to start. The handler runs off the
// caller's goroutine and may call Stop.
func (p *Pipeline) SetFailureHandler(fn func(err error)) {
	p.mu.Lock()
	p.onFail = fn
	p.mu.Unlock()
}

// Start acquires the microphone and begins streaming frames. A Stop issued
// before acquisition completes discards the acquired source. Calling Start
// while already running replaces the previous source.
func (p *Pipeline) Start() {
	p.mu.Lock()
	p.attempt++
	token := p.attempt
	prev := p.src
	p.src = nil
	p.mu.Unlock()

	if prev != nil {
		p.closeSource(prev)
	}

	go func() {
		src, err := p.newSource()
		if err != nil {
			p.log.Error("capture: microphone unavailable", "err", err)
			p.fail(err)
			return
		}

		p.mu.Lock()
		if token != p.attempt {
			// Superseded while acquiring; never keep a live stream.
			p.mu.Unlock()
			p.closeSource(src)
			return
		}
		p.src = src
		p.mu.Unlock()

		if err := src.Start(p.frameSize, func(samples []float32) {
			p.handleFrame(token, samples)
		}); err != nil {
			p.log.Error("capture: start stream", "err", err)
			p.Stop()
			p.fail(err)
		}
	}()
}

// Stop invalidates the current attempt, closes the source and clears
// tracking state. Idempotent and safe with no active stream.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.attempt++
	src := p.src
	p.src = nil
	p.mu.Unlock()

	if src != nil {
		p.closeSource(src)
	}
}

// SetMuted silences captured samples. Frames keep flowing while muted; only
// their payload becomes silent.
func (p *Pipeline) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Running reports whether a source is currently streaming.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src != nil
}

func (p *Pipeline) handleFrame(token uint64, samples []float32) {
	p.mu.Lock()
	if token != p.attempt {
		p.mu.Unlock()
		return
	}
	muted := p.muted
	p.mu.Unlock()

	if muted {
		for i := range samples {
			samples[i] = 0
		}
	}

	pcm := audio.FloatToPCM16(samples)
	for _, chunk := range audio.ChunkBase64(pcm, p.chunkSize) {
		if err := p.send(chunk); err != nil {
			p.log.Debug("capture: drop chunk", "err", err)
			return
		}
	}
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	fn := p.onFail
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (p *Pipeline) closeSource(src Source) {
	if err := src.Close(); err != nil {
		p.log.Warn("capture: close source", "err", err)
	}
}
