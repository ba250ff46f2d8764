// Package playback buffers streamed assistant speech and plays it back in
// strict arrival order. Chunks are queued as WAV buffers and consumed by a
// single driver slot, so utterances never overlap even when decode latency
// varies per chunk.
package playback

import (
	"log/slog"
	"sync"

	"github.com/navtalk/esl-tutor/pkg/audio"
)

// Output decodes and plays one WAV buffer to completion. Play blocks until
// the buffer has been rendered or the output is closed; a decode failure is
// reported as an error. Implementations must tolerate Close being called
// while Play is in flight.
type Output interface {
	Play(wav []byte) error
	Close() error
}

// OutputFactory creates the audio output on first use. The queue owns the
// returned Output and closes it on Stop.
type OutputFactory func() (Output, error)

// Queue is the FIFO playback buffer with a single active play slot. Chunks
// enqueued while a buffer is playing wait their turn; a Stop (teardown or
// barge-in) discards everything, including the completion of the in-flight
// buffer.
//
// Queue is safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	pending   [][]byte
	active    bool
	gen       uint64
	out       Output
	newOutput OutputFactory
	log       *slog.Logger
}

// NewQueue creates an idle Queue. The output is not created until the first
// buffer is played.
func NewQueue(factory OutputFactory, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{newOutput: factory, log: log}
}

// Enqueue wraps a raw PCM16 chunk in a WAV container and appends it to the
// queue, starting the driver if it is idle.
func (q *Queue) Enqueue(pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, audio.EncodeWAV(pcm, audio.SampleRate))
	q.driveLocked()
}

// Stop halts any active playback, empties the queue and releases the output.
// An in-flight buffer's completion is invalidated, not awaited. Safe to call
// repeatedly and while idle.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.gen++
	q.pending = nil
	q.active = false
	out := q.out
	q.out = nil
	q.mu.Unlock()

	if out != nil {
		if err := out.Close(); err != nil {
			q.log.Warn("playback: close output", "err", err)
		}
	}
}

// Pending reports the number of buffers waiting behind the active slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active reports whether a buffer is currently decoding or playing.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// driveLocked dequeues the next buffer when the slot is free. Callers must
// hold q.mu.
func (q *Queue) driveLocked() {
	if q.active || len(q.pending) == 0 {
		return
	}
	buf := q.pending[0]
	q.pending = q.pending[1:]
	q.active = true
	go q.play(buf, q.gen)
}

func (q *Queue) play(buf []byte, gen uint64) {
	out, err := q.output(gen)
	if err != nil {
		q.log.Warn("playback: open output", "err", err)
		q.finish(gen)
		return
	}
	if out == nil {
		// Stopped between dequeue and output creation.
		return
	}
	if err := out.Play(buf); err != nil {
		// A bad chunk is skipped so the queue never stalls.
		q.log.Warn("playback: chunk skipped", "err", err)
	}
	q.finish(gen)
}

// output returns the shared Output, creating it on first use. Returns
// (nil, nil) when the queue was stopped after this play was scheduled.
func (q *Queue) output(gen uint64) (Output, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return nil, nil
	}
	if q.out == nil {
		out, err := q.newOutput()
		if err != nil {
			return nil, err
		}
		q.out = out
	}
	return q.out, nil
}

// finish clears the active slot and advances to the next buffer, unless a
// Stop superseded this play.
func (q *Queue) finish(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return
	}
	q.active = false
	q.driveLocked()
}
