package turn

import (
	"fmt"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

// DefaultMinVoiceCount is the consecutive fused-speech frame run that
// triggers a barge-in interrupt.
const DefaultMinVoiceCount = 2

// Interrupt describes a detected barge-in: the voiced run that caused it.
type Interrupt struct {
	// RunStart is the first frame of the triggering voiced run.
	RunStart uint64

	// RunEnd is the frame on which the run reached the threshold.
	RunEnd uint64

	// Voiced is the run length at trigger time.
	Voiced int
}

// Monitor detects customer speech during machine playback. It counts
// consecutive fused-speech frames — a sliding run, not a cumulative energy
// integral — so isolated noise bursts below the threshold never trigger, and
// the run resets on the next non-speech frame.
//
// The monitor consumes frames only between Begin and End; End must be called
// the instant playback stops so a late frame cannot fire an interrupt after
// the fact. At most one interrupt fires per playback episode.
//
// Not safe for concurrent use.
type Monitor struct {
	minRun int

	active   bool
	fired    bool
	run      int
	runStart uint64
}

// NewMonitor returns a Monitor that triggers after minVoiceCount consecutive
// voiced frames. Zero selects the default.
func NewMonitor(minVoiceCount int) (*Monitor, error) {
	if minVoiceCount == 0 {
		minVoiceCount = DefaultMinVoiceCount
	}
	if minVoiceCount < 1 {
		return nil, fmt.Errorf("turn: min voice count must be at least 1, got %d", minVoiceCount)
	}
	return &Monitor{minRun: minVoiceCount}, nil
}

// Begin starts a new playback episode: the run counter and the fired latch
// are cleared and the monitor starts consuming frames.
func (m *Monitor) Begin() {
	m.active = true
	m.fired = false
	m.run = 0
	m.runStart = 0
}

// End stops the episode. Frames observed after End are ignored.
func (m *Monitor) End() {
	m.active = false
	m.run = 0
}

// Active reports whether a playback episode is in progress.
func (m *Monitor) Active() bool { return m.active }

// Observe consumes one fused decision. It returns a non-zero Interrupt with
// ok=true exactly once per episode, on the frame that completes the voiced
// run.
func (m *Monitor) Observe(d vad.Fused) (Interrupt, bool) {
	if !m.active || m.fired {
		return Interrupt{}, false
	}
	if !d.Speech {
		m.run = 0
		return Interrupt{}, false
	}
	m.run++
	if m.run == 1 {
		m.runStart = d.Index
	}
	if m.run < m.minRun {
		return Interrupt{}, false
	}
	m.fired = true
	return Interrupt{RunStart: m.runStart, RunEnd: d.Index, Voiced: m.run}, true
}
