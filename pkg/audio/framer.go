package audio

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/zaf/g711"
)

// supportedRates are the sample rates the pipeline accepts. They match the
// rates the VAD engines are built for.
var supportedRates = []int{8000, 16000, 32000, 48000}

// supportedFrameMs are the frame durations the Framer can produce.
var supportedFrameMs = []int{10, 20, 30, 40}

// FramerConfig configures a [Framer].
type FramerConfig struct {
	// SampleRate is the audio sample rate in Hz. Must be one of 8000, 16000,
	// 32000, or 48000.
	SampleRate int

	// FrameMs is the produced frame duration in milliseconds. Must be one of
	// 10, 20, 30, or 40.
	FrameMs int

	// Encoding is the wire encoding of chunks passed to Push.
	Encoding Encoding
}

// Framer reassembles arbitrarily sized incoming byte chunks into fixed-duration
// PCM16 mono frames. Leftover samples and odd trailing bytes are carried across
// Push calls, so chunk boundaries never shift frame boundaries.
//
// A Framer belongs to a single session and is not safe for concurrent use;
// the transport reader that owns the session's byte stream must be the only
// caller of Push.
type Framer struct {
	cfg          FramerConfig
	frameSamples int

	pending  []int16 // decoded samples not yet emitted as a frame
	carry    byte    // dangling low byte of a split PCM16 sample
	hasCarry bool

	nextIndex uint64

	// now is swapped in tests for deterministic CapturedAt values.
	now func() time.Time
}

// NewFramer validates cfg and returns a ready Framer. Configuration faults
// (unsupported rate, duration, or encoding) are construction errors; Push never
// re-validates them per chunk.
func NewFramer(cfg FramerConfig) (*Framer, error) {
	if !slices.Contains(supportedRates, cfg.SampleRate) {
		return nil, fmt.Errorf("audio: unsupported sample rate %d Hz (supported: 8000, 16000, 32000, 48000)", cfg.SampleRate)
	}
	if !slices.Contains(supportedFrameMs, cfg.FrameMs) {
		return nil, fmt.Errorf("audio: unsupported frame duration %d ms (supported: 10, 20, 30, 40)", cfg.FrameMs)
	}
	if !cfg.Encoding.IsValid() {
		return nil, fmt.Errorf("audio: unknown encoding %q", cfg.Encoding)
	}
	return &Framer{
		cfg:          cfg,
		frameSamples: FrameSamples(cfg.SampleRate, cfg.FrameMs),
		now:          time.Now,
	}, nil
}

// FrameDuration returns the duration of one produced frame.
func (f *Framer) FrameDuration() time.Duration {
	return time.Duration(f.cfg.FrameMs) * time.Millisecond
}

// FrameSize returns the number of samples in one produced frame.
func (f *Framer) FrameSize() int { return f.frameSamples }

// Push appends a chunk of encoded audio and returns every complete frame it
// yields, in order. A chunk may yield zero frames (short chunk) or several
// (large chunk). Partial trailing data is retained for the next Push and
// discarded when the session ends, never emitted as an undersized frame.
func (f *Framer) Push(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}

	switch f.cfg.Encoding {
	case EncodingMulaw:
		f.pending = append(f.pending, bytesToPCM16(g711.DecodeUlaw(chunk))...)
	default: // EncodingPCM16
		if f.hasCarry {
			chunk = append([]byte{f.carry}, chunk...)
			f.hasCarry = false
		}
		if len(chunk)%2 != 0 {
			f.carry = chunk[len(chunk)-1]
			f.hasCarry = true
			chunk = chunk[:len(chunk)-1]
		}
		f.pending = append(f.pending, bytesToPCM16(chunk)...)
	}

	var frames []Frame
	captured := f.now()
	for len(f.pending) >= f.frameSamples {
		samples := make([]int16, f.frameSamples)
		copy(samples, f.pending[:f.frameSamples])
		f.pending = f.pending[f.frameSamples:]

		f.nextIndex++
		frames = append(frames, Frame{
			Samples:    samples,
			Index:      f.nextIndex,
			CapturedAt: captured,
		})
	}
	return frames
}

// PendingSamples returns the number of buffered samples awaiting the next
// frame boundary.
func (f *Framer) PendingSamples() int { return len(f.pending) }

// bytesToPCM16 converts little-endian PCM16 bytes to samples. len(b) must be
// even.
func bytesToPCM16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return samples
}

// PCM16ToBytes converts samples back to little-endian PCM16 bytes. Used when
// handing a finalized utterance span to the transcription collaborator.
func PCM16ToBytes(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}
