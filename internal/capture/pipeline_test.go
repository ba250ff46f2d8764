package capture

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/navtalk/esl-tutor/pkg/audio"
)

// fakeSource hands the frame callback to the test so frames can be injected
// manually.
type fakeSource struct {
	mu      sync.Mutex
	fn      func(samples []float32)
	started bool
	closed  bool
}

func (f *fakeSource) Start(frameSize int, fn func(samples []float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	f.started = true
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) emit(samples []float32) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// chunkRecorder collects sent chunks.
type chunkRecorder struct {
	mu     sync.Mutex
	chunks []string
}

func (r *chunkRecorder) send(chunk string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	return nil
}

func (r *chunkRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipeline_FramesEncodedAndChunked(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	rec := &chunkRecorder{}
	// 4 samples per frame, 8-char chunks: one frame yields 8 PCM bytes,
	// 12 base64 chars, so two chunks.
	p := NewPipeline(func() (Source, error) { return src, nil }, rec.send, 4, 8, nil)

	p.Start()
	waitFor(t, func() bool { return src.emit([]float32{0.5, -0.5, 1.0, -1.0}) })
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })

	chunks := rec.snapshot()
	joined := chunks[0] + chunks[1]
	pcm, err := base64.StdEncoding.DecodeString(joined)
	if err != nil {
		t.Fatalf("chunks do not reassemble to base64: %v", err)
	}
	want := audio.FloatToPCM16([]float32{0.5, -0.5, 1.0, -1.0})
	if string(pcm) != string(want) {
		t.Errorf("payload = %v; want %v", pcm, want)
	}
}

func TestPipeline_MutedFramesStillFlowAsSilence(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	rec := &chunkRecorder{}
	p := NewPipeline(func() (Source, error) { return src, nil }, rec.send, 4, 64, nil)

	p.Start()
	p.SetMuted(true)
	waitFor(t, func() bool { return src.emit([]float32{0.9, 0.9, 0.9, 0.9}) })
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	pcm, err := base64.StdEncoding.DecodeString(rec.snapshot()[0])
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range pcm {
		if b != 0 {
			t.Fatalf("byte %d = %d; muted frame must be silent", i, b)
		}
	}
}

func TestPipeline_StopDiscardsSupersededAcquisition(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	release := make(chan struct{})
	rec := &chunkRecorder{}
	p := NewPipeline(func() (Source, error) {
		<-release
		return src, nil
	}, rec.send, 4, 64, nil)

	p.Start()
	p.Stop() // supersedes the attempt before acquisition completes
	close(release)

	waitFor(t, src.isClosed)
	if p.Running() {
		t.Error("pipeline running after Stop")
	}
}

func TestPipeline_StaleFramesDropped(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	rec := &chunkRecorder{}
	p := NewPipeline(func() (Source, error) { return src, nil }, rec.send, 4, 64, nil)

	p.Start()
	waitFor(t, func() bool { return src.emit([]float32{0.1, 0.1, 0.1, 0.1}) })
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	p.Stop()
	src.emit([]float32{0.2, 0.2, 0.2, 0.2})

	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("chunks after Stop = %d; want 1", got)
	}
}

func TestPipeline_AcquisitionFailureInvokesHandler(t *testing.T) {
	t.Parallel()

	failed := make(chan error, 1)
	p := NewPipeline(func() (Source, error) {
		return nil, errAccessDenied
	}, func(string) error { return nil }, 4, 64, nil)
	p.SetFailureHandler(func(err error) { failed <- err })

	p.Start()
	select {
	case err := <-failed:
		if err != errAccessDenied {
			t.Errorf("handler err = %v; want %v", err, errAccessDenied)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler not invoked")
	}
	if p.Running() {
		t.Error("pipeline running after failed acquisition")
	}
}

var errAccessDenied = errors.New("access denied")

func TestPipeline_StopIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPipeline(func() (Source, error) { return &fakeSource{}, nil }, func(string) error { return nil }, 4, 64, nil)
	p.Stop()
	p.Stop()
}
