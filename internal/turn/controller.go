package turn

import (
	"fmt"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

const (
	// DefaultSilenceDuration is the silence budget that finalizes a turn.
	DefaultSilenceDuration = 2 * time.Second

	// DefaultHangover is the padding appended past a closing segment's last
	// speech frame.
	DefaultHangover = 300 * time.Millisecond

	// DefaultMaxEmptyInputs is the number of consecutive zero-voiced
	// utterances after which automatic re-listening is suspended.
	DefaultMaxEmptyInputs = 2
)

// Config holds the Controller's tuning knobs. Zero durations and counts fall
// back to the defaults above.
type Config struct {
	// FrameDuration is the duration of one pipeline frame. Required.
	FrameDuration time.Duration

	// SilenceDuration is how much consecutive fused silence closes the open
	// segment and finalizes the turn.
	SilenceDuration time.Duration

	// Hangover is appended to a closing segment's end boundary even when all
	// of it is non-speech. It never resets the silence counter.
	Hangover time.Duration

	// MaxEmptyInputs is the consecutive empty-utterance limit before the
	// controller suspends automatic re-listening.
	MaxEmptyInputs int
}

// FrameResult reports what one Feed (or ForceFinalize) call produced. Fields
// are nil/false when the frame caused no boundary.
type FrameResult struct {
	// SegmentOpened is true when this frame opened a new segment.
	SegmentOpened bool

	// Segment is set when the open segment closed on this frame.
	Segment *Segment

	// Utterance is set when the turn finalized on this frame. It always
	// accompanies a non-nil Segment except for empty forced finalizes.
	Utterance *Utterance
}

// Controller is the per-session segment aggregator and turn state machine.
// Feed must be called with fused decisions in strictly increasing frame
// order. Not safe for concurrent use.
type Controller struct {
	frameDur       time.Duration
	silenceFrames  int // consecutive non-speech frames that trigger finalize
	hangoverFrames uint64
	maxEmpty       int

	state      State
	suspended  bool
	emptyCount int

	segStart   uint64 // open segment start; valid in Listening
	lastSpeech uint64 // newest speech frame in the open segment
	voiced     int    // fused speech frames since the last finalize
	silenceRun int    // consecutive non-speech frames in Listening

	lastIndex uint64 // newest frame index observed
	lastEnd   uint64 // end of the most recently closed segment
}

// NewController validates cfg and returns a Controller in the Idle state.
func NewController(cfg Config) (*Controller, error) {
	if cfg.FrameDuration <= 0 {
		return nil, fmt.Errorf("turn: frame duration must be positive, got %v", cfg.FrameDuration)
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.SilenceDuration < cfg.FrameDuration {
		return nil, fmt.Errorf("turn: silence duration %v shorter than one frame (%v)", cfg.SilenceDuration, cfg.FrameDuration)
	}
	if cfg.Hangover == 0 {
		cfg.Hangover = DefaultHangover
	}
	if cfg.Hangover < 0 {
		return nil, fmt.Errorf("turn: hangover must not be negative, got %v", cfg.Hangover)
	}
	if cfg.MaxEmptyInputs == 0 {
		cfg.MaxEmptyInputs = DefaultMaxEmptyInputs
	}
	if cfg.MaxEmptyInputs < 1 {
		return nil, fmt.Errorf("turn: max empty inputs must be at least 1, got %d", cfg.MaxEmptyInputs)
	}

	return &Controller{
		frameDur:       cfg.FrameDuration,
		silenceFrames:  ceilFrames(cfg.SilenceDuration, cfg.FrameDuration),
		hangoverFrames: uint64(ceilFrames(cfg.Hangover, cfg.FrameDuration)),
		maxEmpty:       cfg.MaxEmptyInputs,
	}, nil
}

// ceilFrames converts a duration to frames, rounding up so that the budget is
// reached no earlier than the configured wall-clock time.
func ceilFrames(d, frame time.Duration) int {
	return int((d + frame - 1) / frame)
}

// State returns the current turn state.
func (c *Controller) State() State { return c.state }

// SuspendedListening reports whether automatic re-listening is suspended by
// the empty-input limit.
func (c *Controller) SuspendedListening() bool { return c.suspended }

// InSegment reports whether a segment is currently open.
func (c *Controller) InSegment() bool { return c.state == Listening }

// SegmentStart returns the open segment's start frame; only meaningful while
// InSegment.
func (c *Controller) SegmentStart() uint64 { return c.segStart }

// Feed advances the state machine with one fused decision. It is only
// meaningful in Idle and Listening; in other states (and in suspended
// listening) the frame is absorbed without effect.
func (c *Controller) Feed(d vad.Fused) FrameResult {
	c.lastIndex = d.Index

	switch c.state {
	case Idle:
		if c.suspended || !d.Speech {
			return FrameResult{}
		}
		c.openSegment(d.Index)
		return FrameResult{SegmentOpened: true}

	case Listening:
		if d.Speech {
			// Speech inside the silence window extends the open segment and
			// restarts the budget.
			c.lastSpeech = d.Index
			c.voiced++
			c.silenceRun = 0
			return FrameResult{}
		}
		c.silenceRun++
		if c.silenceRun < c.silenceFrames {
			return FrameResult{}
		}
		return c.finalize()

	default:
		return FrameResult{}
	}
}

// ForceFinalize finalizes the turn immediately, regardless of the silence
// budget. In Idle it emits an empty utterance; this is the path that feeds
// the consecutive empty-input counter. In Processing or Speaking it is a
// no-op.
func (c *Controller) ForceFinalize() FrameResult {
	switch c.state {
	case Listening:
		return c.finalize()
	case Idle:
		utt := &Utterance{Empty: true}
		c.recordEmpty(utt)
		c.state = Processing
		return FrameResult{Utterance: utt}
	default:
		return FrameResult{}
	}
}

// ReplyReady moves the session out of Processing: to Speaking when a reply is
// about to play, or back to Idle when the downstream pipeline produced none.
func (c *Controller) ReplyReady(hasReply bool) {
	if c.state != Processing {
		return
	}
	if hasReply {
		c.state = Speaking
	} else {
		c.state = Idle
	}
}

// PlaybackEnded returns the session to Idle after playback completes
// normally.
func (c *Controller) PlaybackEnded() {
	if c.state == Speaking {
		c.state = Idle
	}
}

// Interrupted handles a barge-in: the session leaves Speaking and re-enters
// Listening with a fresh segment opened at the start of the voiced run the
// monitor detected.
func (c *Controller) Interrupted(runStart, runEnd uint64, voiced int) FrameResult {
	if c.state != Speaking {
		return FrameResult{}
	}
	c.openSegment(runStart)
	c.lastSpeech = runEnd
	c.voiced = voiced
	if runEnd > c.lastIndex {
		c.lastIndex = runEnd
	}
	return FrameResult{SegmentOpened: true}
}

// Resume lifts the empty-input suspension and resets the consecutive empty
// counter. Sent by an external collaborator once the noise condition is
// resolved.
func (c *Controller) Resume() {
	c.suspended = false
	c.emptyCount = 0
}

func (c *Controller) openSegment(start uint64) {
	c.state = Listening
	c.segStart = start
	c.lastSpeech = start
	c.voiced = 1
	c.silenceRun = 0
}

// finalize closes the open segment with hangover padding and emits the
// utterance, landing in Processing. Passes through Finalizing atomically.
func (c *Controller) finalize() FrameResult {
	end := c.lastSpeech + c.hangoverFrames
	if end > c.lastIndex {
		// A forced finalize can outrun the frames actually seen; the segment
		// cannot extend past audio that exists.
		end = c.lastIndex
	}

	seg := &Segment{
		StartFrame: c.segStart,
		EndFrame:   end,
		Duration:   time.Duration(end-c.segStart+1) * c.frameDur,
	}
	utt := &Utterance{
		StartFrame:   c.segStart,
		EndFrame:     end,
		VoicedFrames: c.voiced,
	}
	if utt.VoicedFrames == 0 {
		utt.Empty = true
		c.recordEmpty(utt)
	} else {
		c.emptyCount = 0
	}

	c.lastEnd = end
	c.segStart, c.lastSpeech, c.voiced, c.silenceRun = 0, 0, 0, 0
	c.state = Processing

	return FrameResult{Segment: seg, Utterance: utt}
}

// recordEmpty bumps the consecutive empty-input counter and flips the
// suspension once the limit is hit.
func (c *Controller) recordEmpty(utt *Utterance) {
	c.emptyCount++
	if c.emptyCount >= c.maxEmpty {
		c.suspended = true
		utt.Suspended = true
	}
}
