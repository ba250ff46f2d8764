package audio

import (
	"encoding/base64"
	"math"
	"strings"
	"testing"
)

func TestFloatToPCM16_Clamping(t *testing.T) {
	t.Parallel()

	pcm := FloatToPCM16([]float32{-2.5, -1, 0, 1, 3.7})
	got := PCM16ToFloat(pcm)

	want := []float32{-1, -1, 0, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestFloatToPCM16_RoundTrip(t *testing.T) {
	t.Parallel()

	// Synthetic sine frame; every sample must survive the round trip within
	// one quantization step (1/0x7fff).
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	got := PCM16ToFloat(FloatToPCM16(samples))
	if len(got) != len(samples) {
		t.Fatalf("round trip length = %d; want %d", len(got), len(samples))
	}

	const step = 1.0 / 0x7fff
	for i := range samples {
		if diff := math.Abs(float64(got[i] - samples[i])); diff > step {
			t.Fatalf("sample %d drifted by %v (> %v)", i, diff, step)
		}
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := EncodeWAV(pcm, SampleRate)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d; want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("missing RIFF/WAVE magic: %q %q", wav[0:4], wav[8:12])
	}

	gotPCM, rate, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if rate != SampleRate {
		t.Errorf("sample rate = %d; want %d", rate, SampleRate)
	}
	if string(gotPCM) != string(pcm) {
		t.Errorf("payload = %v; want %v", gotPCM, pcm)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		wav  []byte
	}{
		{"empty", nil},
		{"short", []byte("RIFF")},
		{"wrong magic", make([]byte, 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := ParseWAV(tt.wav); err == nil {
				t.Error("ParseWAV accepted invalid input")
			}
		})
	}
}

func TestChunkBase64(t *testing.T) {
	t.Parallel()

	data := make([]byte, 9000)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := ChunkBase64(data, 4096)
	if len(chunks) == 0 {
		t.Fatal("no chunks returned")
	}
	for i, c := range chunks {
		if len(c) > 4096 {
			t.Errorf("chunk %d length = %d; want <= 4096", i, len(c))
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.Join(chunks, ""))
	if err != nil {
		t.Fatalf("reassembled chunks do not decode: %v", err)
	}
	if string(decoded) != string(data) {
		t.Error("reassembled payload differs from input")
	}
}

func TestChunkBase64_Empty(t *testing.T) {
	t.Parallel()
	if got := ChunkBase64(nil, 4096); got != nil {
		t.Errorf("ChunkBase64(nil) = %v; want nil", got)
	}
}
