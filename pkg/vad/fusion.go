package vad

import "fmt"

// Mode selects how the fast filter's and the confirm engine's per-frame
// decisions are combined into one authoritative speech flag. The mode is a
// static per-session configuration value, never changed at runtime.
type Mode string

const (
	// ModeAnd flags speech only when both engines agree. Minimises false
	// positives; used when spurious triggers (keyboard noise, breathing) are
	// costly.
	ModeAnd Mode = "and"

	// ModeOr flags speech when either engine does. Minimises missed speech;
	// used when dropped words cost more than spurious triggers.
	ModeOr Mode = "or"

	// ModeFastOnly passes the fast filter's decision through unchanged. This
	// is the explicit configuration path for deployments without the confirm
	// engine, not a silent fallback.
	ModeFastOnly Mode = "fast_only"

	// ModeConfirmOnly passes the confirm engine's decision through unchanged.
	ModeConfirmOnly Mode = "confirm_only"
)

// IsValid reports whether m is a recognised fusion mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeAnd, ModeOr, ModeFastOnly, ModeConfirmOnly:
		return true
	}
	return false
}

// NeedsConfirm reports whether the mode requires the confirm engine to be
// configured.
func (m Mode) NeedsConfirm() bool { return m != ModeFastOnly }

// NeedsFast reports whether the mode requires the fast filter to be
// configured.
func (m Mode) NeedsFast() bool { return m != ModeConfirmOnly }

// Fused is the single authoritative per-frame speech flag after fusion. It is
// consumed by both the segment aggregator and the barge-in monitor.
type Fused struct {
	Index  uint64
	Speech bool
}

// Fuser combines two engines' decisions per a fixed Mode.
type Fuser struct {
	mode Mode
}

// NewFuser returns a Fuser for the given mode. An unrecognised mode is a
// configuration error.
func NewFuser(mode Mode) (*Fuser, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("vad: unknown fusion mode %q", mode)
	}
	return &Fuser{mode: mode}, nil
}

// Mode returns the configured fusion mode.
func (f *Fuser) Mode() Mode { return f.mode }

// Fuse combines the two decisions for one frame. Both decisions must carry
// the same frame index; in single-engine modes the other decision is ignored.
func (f *Fuser) Fuse(fast, confirm Decision) Fused {
	switch f.mode {
	case ModeAnd:
		return Fused{Index: fast.Index, Speech: fast.Speech && confirm.Speech}
	case ModeOr:
		return Fused{Index: fast.Index, Speech: fast.Speech || confirm.Speech}
	case ModeConfirmOnly:
		return Fused{Index: confirm.Index, Speech: confirm.Speech}
	default: // ModeFastOnly
		return Fused{Index: fast.Index, Speech: fast.Speech}
	}
}

// Degraded produces the fused flag for a frame on which the confirm engine
// failed to deliver a decision. Fusion falls back to the fast filter alone
// for that frame; the caller is responsible for logging degraded mode.
func (f *Fuser) Degraded(fast Decision) Fused {
	return Fused{Index: fast.Index, Speech: fast.Speech}
}
