// Package energy implements the fast filter VAD: a deterministic, rule-based
// frame classifier using RMS energy and zero-crossing rate.
//
// The filter is cheap and conservative. It runs on every frame ahead of the
// neural confirm engine; the hybrid fusion controller combines the two
// verdicts. Classification is a pure function of the frame's samples and the
// configured aggressiveness, so identical sessions fed identical frames
// always produce identical decision streams.
package energy

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

// supportedFrameMs are the frame durations the filter accepts. The 40 ms
// transport framing is deliberately absent: configuring it alongside this
// engine is a construction-time error.
var supportedFrameMs = []int{10, 20, 30}

var supportedRates = []int{8000, 16000, 32000, 48000}

// level holds the decision thresholds for one aggressiveness step. Higher
// aggressiveness raises the energy floor and narrows the zero-crossing band,
// classifying more frames as non-speech.
type level struct {
	energy float64 // minimum normalised RMS for speech
	zcrMax float64 // maximum zero-crossing rate for voiced speech
}

var levels = [4]level{
	{energy: 0.005, zcrMax: 0.50},
	{energy: 0.010, zcrMax: 0.40},
	{energy: 0.020, zcrMax: 0.30},
	{energy: 0.040, zcrMax: 0.25},
}

// loudFactor is the multiple of the energy threshold above which a frame is
// speech regardless of its zero-crossing rate. Shouted speech and plosives
// have high ZCR but must not be filtered.
const loudFactor = 4.0

// Engine creates fast filter sessions. The zero value is ready to use.
type Engine struct{}

// New returns a fast filter engine.
func New() *Engine { return &Engine{} }

var _ vad.Engine = (*Engine)(nil)

// NewSession validates cfg and returns a classifier session. Unsupported
// sample rates, frame durations, or aggressiveness values surface here, not
// per frame.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if !slices.Contains(supportedRates, cfg.SampleRate) {
		return nil, fmt.Errorf("energy: unsupported sample rate %d Hz", cfg.SampleRate)
	}
	if !slices.Contains(supportedFrameMs, cfg.FrameMs) {
		return nil, fmt.Errorf("energy: unsupported frame duration %d ms (supported: 10, 20, 30)", cfg.FrameMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("energy: aggressiveness %d out of range 0–3", cfg.Aggressiveness)
	}
	return &session{
		frameSamples: audio.FrameSamples(cfg.SampleRate, cfg.FrameMs),
		lv:           levels[cfg.Aggressiveness],
	}, nil
}

// session classifies frames for one stream. The filter keeps no state across
// frames; Reset is a no-op kept for interface symmetry with the stateful
// confirm engine.
type session struct {
	frameSamples int
	lv           level
	closed       bool
}

func (s *session) Process(frame audio.Frame) (vad.Decision, error) {
	if s.closed {
		return vad.Decision{}, errors.New("energy: session closed")
	}
	if len(frame.Samples) != s.frameSamples {
		return vad.Decision{}, fmt.Errorf("energy: frame %d has %d samples, session expects %d",
			frame.Index, len(frame.Samples), s.frameSamples)
	}

	e := rms(frame.Samples)
	z := zeroCrossingRate(frame.Samples)

	speech := e >= s.lv.energy*loudFactor || (e >= s.lv.energy && z <= s.lv.zcrMax)
	return vad.Decision{Index: frame.Index, Speech: speech}, nil
}

func (s *session) Reset() {}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// rms returns the root-mean-square level of the samples normalised to [0, 1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ. Unvoiced fricatives and broadband noise sit high; voiced speech low.
func zeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
