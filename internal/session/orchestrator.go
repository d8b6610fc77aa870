package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/observe"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/resilience"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

// DefaultQueueSize bounds the per-session audio chunk queue. At 20 ms frames
// this is over a second of backlog; a fuller queue means the pipeline cannot
// keep up and the newest chunk is dropped rather than reordered.
const DefaultQueueSize = 64

// storeTimeout bounds one handover persistence call.
const storeTimeout = 5 * time.Second

// persistQueueSize bounds the handover persistence queue. Transitions are
// rare (at most a handful per session), so a small buffer absorbs a store
// outage without ever blocking the state machine.
const persistQueueSize = 16

// Config assembles everything one session needs. FastEngine and ConfirmEngine
// must be set according to FusionMode; Transcriber is required, Player and
// Store are optional (without a Player, playback is driven by external
// playback-status signals).
type Config struct {
	SessionID string

	Framer     audio.FramerConfig
	FusionMode vad.Mode

	FastEngine         vad.Engine
	ConfirmEngine      vad.Engine
	FastAggressiveness int
	ConfirmThreshold   float64

	SilenceDuration time.Duration
	Hangover        time.Duration
	MaxEmptyInputs  int
	MinVoiceCount   int

	HandoverTimeout time.Duration

	QueueSize int

	Transcriber Transcriber
	Player      Player
	Store       handover.Store
	Metrics     *observe.Metrics
}

type cmdKind int

const (
	cmdPlayback cmdKind = iota
	cmdResume
	cmdCommit
)

type command struct {
	kind   cmdKind
	status PlaybackStatus
}

// Orchestrator runs one voice session: a single goroutine consumes the frame
// queue and drives VAD fusion, turn segmentation, barge-in monitoring,
// transcription, and playback. All exported methods are safe to call from
// other goroutines; handover methods go straight to the state machine and are
// linearized by its compare-and-set discipline.
type Orchestrator struct {
	id      string
	log     *slog.Logger
	metrics *observe.Metrics

	framer  *audio.Framer
	pipe    *pipeline
	guard   *resilience.GuardedSession
	machine *handover.Machine
	events  *events

	transcriber Transcriber
	player      Player
	store       handover.Store

	chunks chan []byte
	cmds   chan command

	// lifecycle guards Start/Stop so a Stop racing a concurrent Start
	// observes a consistent started flag and done is closed exactly once.
	lifecycle sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}

	persist     chan handover.Record
	persistStop chan struct{}
	persistDone chan struct{}

	// Loop-owned state, never touched from outside the run goroutine.
	playCancel context.CancelFunc
	playDone   chan error
	turnStart  time.Time
	suspended  bool
}

// New validates cfg and builds a session. Configuration faults (missing
// engines for the fusion mode, invalid thresholds, mismatched frame sizes)
// are fatal here, before any audio is admitted.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("session: session id is required")
	}
	if cfg.Transcriber == nil {
		return nil, errors.New("session: transcriber is required")
	}

	framer, err := audio.NewFramer(cfg.Framer)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	fuser, err := vad.NewFuser(cfg.FusionMode)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.FusionMode.NeedsFast() && cfg.FastEngine == nil {
		return nil, fmt.Errorf("session: fusion mode %q requires the fast filter engine", cfg.FusionMode)
	}
	if cfg.FusionMode.NeedsConfirm() && cfg.ConfirmEngine == nil {
		return nil, fmt.Errorf("session: fusion mode %q requires the confirm engine", cfg.FusionMode)
	}

	ctrl, err := turn.NewController(turn.Config{
		FrameDuration:   framer.FrameDuration(),
		SilenceDuration: cfg.SilenceDuration,
		Hangover:        cfg.Hangover,
		MaxEmptyInputs:  cfg.MaxEmptyInputs,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	monitor, err := turn.NewMonitor(cfg.MinVoiceCount)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	log := slog.Default().With("session_id", cfg.SessionID)

	o := &Orchestrator{
		id:          cfg.SessionID,
		log:         log,
		metrics:     metrics,
		framer:      framer,
		events:      newEvents(),
		transcriber: cfg.Transcriber,
		player:      cfg.Player,
		store:       cfg.Store,
		chunks:      make(chan []byte, queueSize(cfg.QueueSize)),
		cmds:        make(chan command, 16),
		done:        make(chan struct{}),
	}

	pipe := &pipeline{
		sessionID: cfg.SessionID,
		log:       log,
		fuser:     fuser,
		ctrl:      ctrl,
		monitor:   monitor,
		frameDur:  framer.FrameDuration(),
	}
	engineCfg := vad.Config{
		SampleRate:     cfg.Framer.SampleRate,
		FrameMs:        cfg.Framer.FrameMs,
		Aggressiveness: cfg.FastAggressiveness,
		Threshold:      cfg.ConfirmThreshold,
	}
	if cfg.FusionMode.NeedsFast() {
		pipe.fast, err = cfg.FastEngine.NewSession(engineCfg)
		if err != nil {
			return nil, fmt.Errorf("session: fast filter session: %w", err)
		}
	}
	if cfg.FusionMode.NeedsConfirm() {
		confirm, err := cfg.ConfirmEngine.NewSession(engineCfg)
		if err != nil {
			pipe.close()
			return nil, fmt.Errorf("session: confirm engine session: %w", err)
		}
		o.guard = resilience.Guard(confirm, resilience.BreakerConfig{Name: cfg.SessionID})
		pipe.confirm = o.guard
	}
	o.pipe = pipe

	o.machine, err = handover.NewMachine(cfg.SessionID, cfg.HandoverTimeout, o.onHandoverChange)
	if err != nil {
		pipe.close()
		return nil, fmt.Errorf("session: %w", err)
	}

	if o.store != nil {
		o.persist = make(chan handover.Record, persistQueueSize)
		o.persistStop = make(chan struct{})
		o.persistDone = make(chan struct{})
		go o.persistLoop()
	}

	return o, nil
}

func queueSize(n int) int {
	if n <= 0 {
		return DefaultQueueSize
	}
	return n
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// Attach registers a subscriber and returns a token for [Orchestrator.Detach].
func (o *Orchestrator) Attach(sub Subscriber) int { return o.events.attach(sub) }

// Detach removes a previously attached subscriber.
func (o *Orchestrator) Detach(token int) { o.events.detach(token) }

// Healthy reports whether the confirm engine path is currently serving. A
// session without a confirm engine is always healthy.
func (o *Orchestrator) Healthy() bool {
	if o.guard == nil {
		return true
	}
	return o.guard.Healthy()
}

// Start launches the session goroutine. Subsequent calls, and calls after
// Stop, are no-ops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	if o.started || o.stopped {
		return
	}
	o.started = true
	ctx, o.cancel = context.WithCancel(ctx)
	go o.run(ctx)
}

// Stop cancels the session goroutine and blocks until it has torn down.
// Stopping a session that was never started tears down its resources
// directly.
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	if !o.stopped {
		o.stopped = true
		if o.started {
			o.cancel()
		} else {
			o.teardown()
			close(o.done)
		}
	}
	o.lifecycle.Unlock()
	<-o.done
}

// PushAudio enqueues one raw audio chunk. When the queue is full the chunk is
// dropped with a warning; frames already admitted are never reordered.
func (o *Orchestrator) PushAudio(chunk []byte) {
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	select {
	case o.chunks <- buf:
	default:
		o.metrics.DroppedChunks.Add(context.Background(), 1)
		o.log.Warn("frame queue full, dropping chunk", "bytes", len(chunk))
	}
}

// Commit finalizes the current turn immediately, without waiting for the
// silence budget.
func (o *Orchestrator) Commit() {
	o.sendCmd(command{kind: cmdCommit})
}

// Resume lifts the empty-input suspension.
func (o *Orchestrator) Resume() {
	o.sendCmd(command{kind: cmdResume})
}

// NotifyPlayback reports an external playback lifecycle signal.
func (o *Orchestrator) NotifyPlayback(status PlaybackStatus) {
	o.sendCmd(command{kind: cmdPlayback, status: status})
}

func (o *Orchestrator) sendCmd(cmd command) {
	select {
	case o.cmds <- cmd:
	case <-o.done:
	}
}

// RequestHandover escalates the session to a human agent.
func (o *Orchestrator) RequestHandover(reason string) (handover.Record, error) {
	return o.machine.Request(reason)
}

// AgentAccept records an agent accepting the pending handover.
func (o *Orchestrator) AgentAccept(agentID string) (handover.Record, error) {
	return o.machine.Accept(agentID)
}

// AgentDecline records an agent declining the pending handover.
func (o *Orchestrator) AgentDecline() (handover.Record, error) {
	return o.machine.Decline()
}

// Handover returns a snapshot of the current handover record.
func (o *Orchestrator) Handover() handover.Record {
	return o.machine.Record()
}

// run is the session goroutine: the only place frames, turn state, and
// playback state are touched.
func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	defer o.teardown()

	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(context.Background(), -1)
	o.log.Info("session started")

	for {
		select {
		case <-ctx.Done():
			return

		case chunk := <-o.chunks:
			for _, frame := range o.framer.Push(chunk) {
				start := time.Now()
				out := o.pipe.handleFrame(frame)
				o.metrics.RecordVADLatency(ctx, "fused", time.Since(start).Seconds())
				o.handleOutcome(ctx, out)
			}

		case cmd := <-o.cmds:
			o.handleCommand(ctx, cmd)

		case err := <-o.playDone:
			o.finishPlayback(ctx, err)
		}
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdCommit:
		o.handleOutcome(ctx, o.pipe.forceFinalize())

	case cmdResume:
		o.pipe.ctrl.Resume()
		if o.suspended {
			o.suspended = false
			o.metrics.SuspendedSessions.Add(ctx, -1)
		}
		o.log.Info("listening resumed")

	case cmdPlayback:
		switch cmd.status {
		case PlaybackStarted:
			// The turn controller already entered Speaking when the reply
			// was dispatched; nothing to do.
		case PlaybackCompleted:
			o.finishPlayback(ctx, nil)
		case PlaybackError:
			o.finishPlayback(ctx, errors.New("external playback error"))
		}
	}
}

// handleOutcome turns one frame's pipeline outcome into events, metrics, and
// the Processing hand-off to the transcriber.
func (o *Orchestrator) handleOutcome(ctx context.Context, out frameOutcome) {
	if out.Rejected {
		return
	}
	if out.Degraded {
		o.metrics.DegradedFrames.Add(ctx, 1)
	}

	if out.Interrupt != nil {
		o.metrics.BargeIns.Add(ctx, 1)
		o.log.Info("barge-in detected",
			"run_start", out.Interrupt.RunStart,
			"voiced", out.Interrupt.Voiced,
		)
		o.stopPlayback()
		intr := *out.Interrupt
		o.events.each(func(s Subscriber) { s.BargeInDetected(o.id, intr) })
	}

	if out.SegmentOpened {
		o.turnStart = time.Now()
		start := out.SegmentStart
		o.events.each(func(s Subscriber) { s.SegmentOpened(o.id, start) })
	}

	if out.Segment != nil {
		o.metrics.RecordSegment(ctx, o.id)
		seg := *out.Segment
		o.events.each(func(s Subscriber) { s.SegmentClosed(o.id, seg) })
	}

	if out.Utterance != nil {
		o.finalizeTurn(ctx, out.Utterance)
	}
}

// finalizeTurn emits utterance_final, hands the utterance to the transcriber,
// and dispatches the reply. This is the Processing suspension point: the loop
// blocks here, other sessions are unaffected.
func (o *Orchestrator) finalizeTurn(ctx context.Context, utt *Utterance) {
	if !o.turnStart.IsZero() {
		o.metrics.TurnDuration.Record(ctx, time.Since(o.turnStart).Seconds())
		o.turnStart = time.Time{}
	}
	if utt.Empty {
		o.metrics.EmptyUtterances.Add(ctx, 1)
	}

	u := *utt
	o.events.each(func(s Subscriber) { s.UtteranceFinal(u) })

	if o.pipe.ctrl.SuspendedListening() && !o.suspended {
		o.suspended = true
		o.metrics.SuspendedSessions.Add(ctx, 1)
		o.log.Warn("listening suspended after consecutive empty inputs")
	}

	tctx, span := observe.StartSpan(ctx, "session.transcribe")
	reply, err := o.transcriber.Transcribe(tctx, u)
	span.End()
	if err != nil {
		o.log.Error("transcription failed", "error", err)
		o.pipe.ctrl.ReplyReady(false)
		return
	}
	if reply == "" {
		o.pipe.ctrl.ReplyReady(false)
		return
	}

	o.pipe.ctrl.ReplyReady(true)
	o.pipe.monitor.Begin()
	if o.player != nil {
		playCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		o.playCancel = cancel
		o.playDone = done
		go func() {
			done <- o.player.Play(playCtx, o.id, reply)
		}()
	}
	// Without a Player the reply is spoken by an external collaborator and
	// the Speaking state ends on its playback-status signal.
}

// stopPlayback cancels an in-flight internal playback, best-effort. Called on
// barge-in; the turn controller has already left Speaking.
func (o *Orchestrator) stopPlayback() {
	if o.playCancel != nil {
		o.playCancel()
		o.playCancel = nil
	}
	o.playDone = nil
}

// finishPlayback handles normal or failed playback completion.
func (o *Orchestrator) finishPlayback(ctx context.Context, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		o.log.Warn("playback ended with error", "error", err)
	}
	if o.playCancel != nil {
		o.playCancel()
		o.playCancel = nil
	}
	o.playDone = nil
	o.pipe.monitor.End()
	o.pipe.ctrl.PlaybackEnded()
}

// onHandoverChange publishes every handover transition. It runs on the
// transitioning goroutine (agent action or timer) with the machine's lock
// held, so subscribers observe transitions in order; persistence is only
// enqueued here, never awaited, so a slow store cannot stall a racing
// transition.
func (o *Orchestrator) onHandoverChange(rec handover.Record) {
	o.metrics.RecordHandoverTransition(context.Background(), rec.Status.String())

	if o.store != nil {
		select {
		case o.persist <- rec:
		default:
			o.log.Error("handover persist queue full, dropping record",
				"status", rec.Status.String())
		}
	}

	o.events.each(func(s Subscriber) { s.HandoverStatusChanged(rec) })
}

// persistLoop writes handover records to the store in transition order. At
// teardown it drains whatever onHandoverChange already enqueued before
// exiting.
func (o *Orchestrator) persistLoop() {
	defer close(o.persistDone)
	for {
		select {
		case rec := <-o.persist:
			o.saveHandover(rec)
		case <-o.persistStop:
			for {
				select {
				case rec := <-o.persist:
					o.saveHandover(rec)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) saveHandover(rec handover.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := o.store.SaveHandover(ctx, rec); err != nil {
		o.log.Error("persisting handover record failed",
			"status", rec.Status.String(), "error", err)
	}
}

func (o *Orchestrator) teardown() {
	o.stopPlayback()
	o.machine.Stop()
	if o.store != nil {
		close(o.persistStop)
		<-o.persistDone
	}
	if err := o.pipe.close(); err != nil {
		o.log.Warn("closing VAD sessions failed", "error", err)
	}
	o.log.Info("session stopped")
}
