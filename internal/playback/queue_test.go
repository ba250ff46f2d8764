package playback

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/navtalk/esl-tutor/pkg/audio"
)

// fakeOutput records play order and can simulate slow or failing decodes.
type fakeOutput struct {
	mu      sync.Mutex
	playing bool
	overlap bool
	played  [][]byte
	delays  []time.Duration
	fail    map[int]error
	closes  int
}

func (f *fakeOutput) Play(wav []byte) error {
	f.mu.Lock()
	if f.playing {
		f.overlap = true
	}
	f.playing = true
	idx := len(f.played)
	f.played = append(f.played, wav)
	var delay time.Duration
	if idx < len(f.delays) {
		delay = f.delays[idx]
	}
	err := f.fail[idx]
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	return err
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeOutput) snapshot() (played [][]byte, overlap bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.played...), f.overlap
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.Active() || q.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue did not drain: active=%v pending=%d", q.Active(), q.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueue_PlaysInOrderWithoutOverlap(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{delays: []time.Duration{20 * time.Millisecond, 0, 5 * time.Millisecond}}
	q := NewQueue(func() (Output, error) { return out, nil }, nil)

	chunks := [][]byte{{1, 0, 2, 0}, {3, 0}, {4, 0, 5, 0, 6, 0}}
	for _, c := range chunks {
		q.Enqueue(c)
	}
	waitIdle(t, q)

	played, overlap := out.snapshot()
	if overlap {
		t.Error("buffers played concurrently")
	}
	if len(played) != len(chunks) {
		t.Fatalf("played %d buffers; want %d", len(played), len(chunks))
	}
	for i, c := range chunks {
		pcm, rate, err := audio.ParseWAV(played[i])
		if err != nil {
			t.Fatalf("buffer %d is not valid WAV: %v", i, err)
		}
		if rate != audio.SampleRate {
			t.Errorf("buffer %d sample rate = %d; want %d", i, rate, audio.SampleRate)
		}
		if !bytes.Equal(pcm, c) {
			t.Errorf("buffer %d payload = %v; want %v", i, pcm, c)
		}
	}
}

func TestQueue_DecodeFailureSkipsChunk(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{fail: map[int]error{1: errors.New("bad chunk")}}
	q := NewQueue(func() (Output, error) { return out, nil }, nil)

	q.Enqueue([]byte{1, 0})
	q.Enqueue([]byte{2, 0})
	q.Enqueue([]byte{3, 0})
	waitIdle(t, q)

	played, _ := out.snapshot()
	if len(played) != 3 {
		t.Errorf("played %d buffers; want 3 (failure must not stall the queue)", len(played))
	}
}

func TestQueue_StopDiscardsPendingAndClosesOutput(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{delays: []time.Duration{50 * time.Millisecond}}
	q := NewQueue(func() (Output, error) { return out, nil }, nil)

	q.Enqueue([]byte{1, 0})
	q.Enqueue([]byte{2, 0})
	q.Enqueue([]byte{3, 0})

	// Stop while the first buffer is mid-play.
	time.Sleep(10 * time.Millisecond)
	q.Stop()

	if q.Pending() != 0 || q.Active() {
		t.Errorf("after Stop: pending=%d active=%v; want empty and idle", q.Pending(), q.Active())
	}

	// The in-flight completion must not restart the driver.
	time.Sleep(80 * time.Millisecond)
	played, _ := out.snapshot()
	if len(played) != 1 {
		t.Errorf("played %d buffers after Stop; want 1", len(played))
	}

	out.mu.Lock()
	closes := out.closes
	out.mu.Unlock()
	if closes != 1 {
		t.Errorf("output closed %d times; want 1", closes)
	}
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(func() (Output, error) { return &fakeOutput{}, nil }, nil)
	q.Stop()
	q.Stop() // no output created yet, must not panic
}

func TestQueue_OutputCreatedLazily(t *testing.T) {
	t.Parallel()

	var created int
	var mu sync.Mutex
	q := NewQueue(func() (Output, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return &fakeOutput{}, nil
	}, nil)

	mu.Lock()
	if created != 0 {
		t.Error("output created before first chunk")
	}
	mu.Unlock()

	q.Enqueue([]byte{1, 0})
	q.Enqueue([]byte{2, 0})
	waitIdle(t, q)

	mu.Lock()
	if created != 1 {
		t.Errorf("output created %d times; want 1 (reused across chunks)", created)
	}
	mu.Unlock()
}

func TestQueue_FactoryFailureDoesNotStall(t *testing.T) {
	t.Parallel()

	q := NewQueue(func() (Output, error) { return nil, errors.New("no device") }, nil)
	q.Enqueue([]byte{1, 0})
	q.Enqueue([]byte{2, 0})
	waitIdle(t, q)
}
