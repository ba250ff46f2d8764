// Package audio provides the sample codec used by the NavTalk realtime
// pipeline: float/PCM16 conversion, base64 chunk framing for transports with
// per-frame payload limits, and a minimal single-channel WAV container.
//
// All functions are pure and allocation-bounded; no state is kept between
// calls.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// SampleRate is the fixed sample rate of the NavTalk realtime service,
	// used for both microphone capture and assistant speech playback.
	SampleRate = 24000

	// wavHeaderSize is the size of the canonical RIFF/WAVE header written by
	// EncodeWAV: "RIFF" + size + "WAVE" + "fmt " chunk (16 bytes) + "data" + size.
	wavHeaderSize = 44
)

// FloatToPCM16 converts 32-bit float samples to little-endian signed 16-bit
// PCM. Samples are clamped to [-1, 1] before scaling; negative values scale
// by 0x8000 and positive by 0x7fff so both extremes map onto the full int16
// range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f < -1 {
			f = -1
		} else if f > 1 {
			f = 1
		}
		var s int16
		if f < 0 {
			s = int16(f * 0x8000)
		} else {
			s = int16(f * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM back to float32
// samples in [-1, 1]. It is the inverse of [FloatToPCM16] up to one
// quantization step. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if s < 0 {
			out[i] = float32(s) / 0x8000
		} else {
			out[i] = float32(s) / 0x7fff
		}
	}
	return out
}

// EncodeWAV wraps raw mono 16-bit PCM in a minimal 44-byte RIFF/WAVE header
// at the given sample rate. The payload is copied; the input slice is not
// retained.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)                    // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)                     // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1)                     // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))    // sample rate
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))  // byte rate
	binary.LittleEndian.PutUint16(out[32:34], 2)                     // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                    // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))

	copy(out[wavHeaderSize:], pcm)
	return out
}

// ParseWAV extracts the PCM payload and sample rate from a WAV buffer
// produced by [EncodeWAV]. It accepts only the canonical layout (single
// "fmt " chunk immediately followed by "data").
func ParseWAV(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < wavHeaderSize {
		return nil, 0, fmt.Errorf("audio: wav buffer too short (%d bytes)", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE buffer")
	}
	if string(wav[36:40]) != "data" {
		return nil, 0, fmt.Errorf("audio: unsupported wav layout")
	}
	rate := int(binary.LittleEndian.Uint32(wav[24:28]))
	size := int(binary.LittleEndian.Uint32(wav[40:44]))
	if size > len(wav)-wavHeaderSize {
		size = len(wav) - wavHeaderSize
	}
	return wav[wavHeaderSize : wavHeaderSize+size], rate, nil
}

// ChunkBase64 base64-encodes data and splits the encoded text into chunks of
// at most chunkSize characters. Some transports impose per-frame payload
// limits, so each chunk is sent as its own frame. A non-positive chunkSize
// yields a single chunk. Empty input yields nil.
func ChunkBase64(data []byte, chunkSize int) []string {
	if len(data) == 0 {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if chunkSize <= 0 || len(encoded) <= chunkSize {
		return []string{encoded}
	}
	chunks := make([]string, 0, (len(encoded)+chunkSize-1)/chunkSize)
	for i := 0; i < len(encoded); i += chunkSize {
		end := i + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, encoded[i:end])
	}
	return chunks
}
