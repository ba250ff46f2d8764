package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/navtalk/esl-tutor/pkg/audio"
)

// malgoSource captures 24 kHz mono float32 audio from the default
// microphone. The device delivers buffers of arbitrary size; the source
// accumulates them and emits exact frameSize frames.
type malgoSource struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
	buf    []float32
	closed bool
}

var _ Source = (*malgoSource)(nil)

// NewMalgoSource acquires the system audio backend. Device setup happens in
// Start.
func NewMalgoSource() (Source, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio backend: %w", err)
	}
	return &malgoSource{ctx: ctx}, nil
}

func (m *malgoSource) Start(frameSize int, fn func(samples []float32)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = audio.SampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.push(input, frameSize, fn)
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("capture: init microphone: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		device.Uninit()
		return nil
	}
	m.device = device
	m.mu.Unlock()

	if err := device.Start(); err != nil {
		return fmt.Errorf("capture: start microphone: %w", err)
	}
	return nil
}

// push appends raw float32 sample bytes and emits every complete frame.
func (m *malgoSource) push(input []byte, frameSize int, fn func(samples []float32)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	for i := 0; i+4 <= len(input); i += 4 {
		bits := binary.LittleEndian.Uint32(input[i:])
		m.buf = append(m.buf, math.Float32frombits(bits))
	}
	var frames [][]float32
	for len(m.buf) >= frameSize {
		frame := make([]float32, frameSize)
		copy(frame, m.buf[:frameSize])
		m.buf = m.buf[frameSize:]
		frames = append(frames, frame)
	}
	m.mu.Unlock()

	for _, frame := range frames {
		fn(frame)
	}
}

// Close stops the device and releases the backend. Idempotent.
func (m *malgoSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	device := m.device
	m.device = nil
	m.buf = nil
	m.mu.Unlock()

	if device != nil {
		device.Stop()
		device.Uninit()
	}
	return m.ctx.Uninit()
}
