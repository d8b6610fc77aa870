package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

// recentFrames is how many classified frames are retained outside a segment.
// A barge-in opens a segment at the start of the detected voiced run, so the
// run's frames must still be on hand when the interrupt fires.
const recentFrames = 32

// frameOutcome reports everything one frame (or a forced finalize) produced.
type frameOutcome struct {
	// Rejected marks a frame the pipeline refused to admit; nothing else is
	// set.
	Rejected bool

	// Degraded marks a frame classified without the confirm engine.
	Degraded bool

	// SegmentOpened and SegmentStart report a newly opened segment.
	SegmentOpened bool
	SegmentStart  uint64

	// Segment is the segment closed by this frame, if any.
	Segment *turn.Segment

	// Utterance is the finalized utterance, if the turn finalized.
	Utterance *Utterance

	// Interrupt is set when a barge-in fired on this frame.
	Interrupt *turn.Interrupt
}

// pipeline is the synchronous per-frame core: classification, fusion,
// segmentation, and barge-in monitoring for one session. It is driven only by
// the session goroutine and holds no locks.
type pipeline struct {
	sessionID string
	log       *slog.Logger

	fast    vad.Session // nil in confirm_only mode
	confirm vad.Session // nil in fast_only mode
	fuser   *vad.Fuser
	ctrl    *turn.Controller
	monitor *turn.Monitor

	frameDur time.Duration

	// collect holds the open segment's frames; recent is a short history used
	// to seed a barge-in segment that starts a few frames in the past.
	collect []audio.Frame
	recent  []audio.Frame

	degraded bool // last frame used the degraded path
}

// handleFrame runs one frame through classification, fusion, and whichever of
// the aggregator or the barge-in monitor currently owns fused decisions.
// Faults are absorbed: a bad frame is rejected, a confirm failure degrades
// fusion for that frame. The session never terminates from here.
func (p *pipeline) handleFrame(frame audio.Frame) frameOutcome {
	fused, degraded, err := p.classify(frame)
	if err != nil {
		p.log.Warn("frame rejected", "frame", frame.Index, "error", err)
		return frameOutcome{Rejected: true}
	}
	out := frameOutcome{Degraded: degraded}
	if degraded != p.degraded {
		if degraded {
			p.log.Warn("confirm engine unavailable, fusing fast filter only", "frame", frame.Index)
		} else {
			p.log.Info("confirm engine recovered", "frame", frame.Index)
		}
		p.degraded = degraded
	}

	p.remember(frame)

	if p.monitor.Active() {
		intr, fired := p.monitor.Observe(fused)
		if !fired {
			return out
		}
		res := p.ctrl.Interrupted(intr.RunStart, intr.RunEnd, intr.Voiced)
		p.monitor.End()
		p.resetEngines()
		p.seedCollect(intr.RunStart)
		out.Interrupt = &intr
		out.SegmentOpened = res.SegmentOpened
		out.SegmentStart = intr.RunStart
		return out
	}

	res := p.ctrl.Feed(fused)
	if res.SegmentOpened {
		p.collect = append(p.collect[:0], frame)
		out.SegmentOpened = true
		out.SegmentStart = p.ctrl.SegmentStart()
	} else if p.ctrl.InSegment() || res.Utterance != nil {
		p.collect = append(p.collect, frame)
	}

	p.fillOutcome(&out, res)
	return out
}

// forceFinalize closes the turn immediately (the client's commit signal).
func (p *pipeline) forceFinalize() frameOutcome {
	var out frameOutcome
	p.fillOutcome(&out, p.ctrl.ForceFinalize())
	return out
}

// fillOutcome translates a controller result into the outcome, assembling the
// utterance audio when the turn finalized.
func (p *pipeline) fillOutcome(out *frameOutcome, res turn.FrameResult) {
	if res.Segment != nil {
		seg := *res.Segment
		out.Segment = &seg
	}
	if res.Utterance != nil {
		out.Utterance = p.assemble(res.Utterance)
		p.collect = p.collect[:0]
	}
}

// assemble concatenates the collected PCM for the finalized span.
func (p *pipeline) assemble(u *turn.Utterance) *Utterance {
	utt := &Utterance{
		SessionID:    p.sessionID,
		StartFrame:   u.StartFrame,
		EndFrame:     u.EndFrame,
		VoicedFrames: u.VoicedFrames,
		Empty:        u.Empty,
	}
	for _, f := range p.collect {
		if f.Index >= u.StartFrame && f.Index <= u.EndFrame {
			utt.Samples = append(utt.Samples, f.Samples...)
		}
	}
	// A forced finalize from Idle has no span; everything else covers at
	// least its start frame.
	if u.StartFrame > 0 || u.EndFrame > 0 {
		utt.Duration = time.Duration(u.EndFrame-u.StartFrame+1) * p.frameDur
	}
	return utt
}

// classify produces the fused decision for one frame, handling every fusion
// mode and the confirm engine's failure path.
func (p *pipeline) classify(frame audio.Frame) (fused vad.Fused, degraded bool, err error) {
	var fastDec, confirmDec vad.Decision

	if p.fast != nil {
		fastDec, err = p.fast.Process(frame)
		if err != nil {
			return vad.Fused{}, false, fmt.Errorf("session: fast filter: %w", err)
		}
	}

	if p.confirm == nil {
		return p.fuser.Fuse(fastDec, vad.Decision{}), false, nil
	}

	confirmDec, err = p.confirm.Process(frame)
	if err != nil {
		if p.fast == nil {
			// confirm_only with no fast filter to fall back on: treat the
			// frame as non-speech rather than rejecting it.
			return vad.Fused{Index: frame.Index}, true, nil
		}
		if !errors.Is(err, vad.ErrUnavailable) {
			p.log.Warn("confirm engine error", "frame", frame.Index, "error", err)
		}
		return p.fuser.Degraded(fastDec), true, nil
	}
	return p.fuser.Fuse(fastDec, confirmDec), false, nil
}

// remember appends frame to the short history ring.
func (p *pipeline) remember(frame audio.Frame) {
	p.recent = append(p.recent, frame)
	if len(p.recent) > recentFrames {
		p.recent = p.recent[len(p.recent)-recentFrames:]
	}
}

// seedCollect starts a fresh collection from the history, beginning at the
// given frame index. Used when a barge-in opens a segment in the recent past.
func (p *pipeline) seedCollect(start uint64) {
	p.collect = p.collect[:0]
	for _, f := range p.recent {
		if f.Index >= start {
			p.collect = append(p.collect, f)
		}
	}
}

// resetEngines clears both engines' internal state. Called on barge-in so the
// confirm engine's recurrent state from the playback period does not bias the
// caller's next utterance.
func (p *pipeline) resetEngines() {
	if p.fast != nil {
		p.fast.Reset()
	}
	if p.confirm != nil {
		p.confirm.Reset()
	}
}

// close releases both engine sessions.
func (p *pipeline) close() error {
	var errs []error
	if p.fast != nil {
		if err := p.fast.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.confirm != nil {
		if err := p.confirm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
