// Package audio defines the frame types and chunk reassembly used by the
// voice session pipeline.
//
// The atomic unit of processing is the [Frame]: a fixed-duration block of
// PCM16 mono samples. Transports deliver audio as arbitrarily sized byte
// chunks (WebSocket messages, telephony media packets); a [Framer] reassembles
// those chunks into frames of exactly the configured duration so that the VAD
// engines downstream always see the frame size they were built for.
package audio

import "time"

// Encoding identifies the wire encoding of incoming audio chunks.
type Encoding string

const (
	// EncodingPCM16 is 16-bit little-endian linear PCM, as sent by web clients.
	EncodingPCM16 Encoding = "pcm16le"

	// EncodingMulaw is G.711 μ-law, 8-bit companded, as carried by telephony
	// trunks. Decoded to PCM16 on ingestion.
	EncodingMulaw Encoding = "mulaw"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM16 || e == EncodingMulaw
}

// Frame is a fixed-length block of PCM16 mono samples. Frames are produced by
// a [Framer] and flow through VAD, fusion, and segmentation in strict Index
// order.
type Frame struct {
	// Samples is the PCM16 sample block. Its length is always exactly
	// SampleRate × FrameMs / 1000 for the Framer that produced it; the
	// pipeline rejects frames of any other length rather than resizing them.
	Samples []int16

	// Index is the monotonic frame counter within one session, starting at 1.
	Index uint64

	// CapturedAt is when the chunk completing this frame arrived.
	CapturedAt time.Time
}

// FrameSamples returns the number of samples in one frame of frameMs
// milliseconds at the given sample rate.
func FrameSamples(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}
