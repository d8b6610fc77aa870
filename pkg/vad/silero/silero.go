// Package silero implements the confirm VAD: Silero VAD running through ONNX
// Runtime.
//
// Silero is sequence-aware: the model carries a recurrent state tensor across
// calls, so each audio stream must own its own state. NewSession allocates an
// independent tensor set per session; frames from concurrent sessions never
// pass through one another's state.
//
// The model consumes fixed 512-sample windows at 16 kHz (256 at 8 kHz), which
// rarely matches the pipeline's frame duration. A session buffers incoming
// frames internally, runs inference on each complete window, and reports the
// most recent smoothed probability for every frame — so the caller still gets
// exactly one decision per frame.
package silero

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

const (
	// contextSamples is the tail of the previous window prepended to each
	// model input, per the Silero v5 input layout.
	contextSamples = 64

	// stateSize is the flattened recurrent state shape (2, 1, 128).
	stateSize = 2 * 1 * 128

	defaultThreshold = 0.5
)

// windowSamples returns the model window length for a sample rate, or 0 when
// the rate is unsupported.
func windowSamples(sampleRate int) int {
	switch sampleRate {
	case 16000:
		return 512
	case 8000:
		return 256
	default:
		return 0
	}
}

// runtimeInit guards one-time ONNX Runtime environment initialisation.
var runtimeInit struct {
	once sync.Once
	err  error
}

// initRuntime initialises the ONNX Runtime environment once per process.
// libraryPath overrides the shared library location; empty uses the
// onnxruntime_go default resolution.
func initRuntime(libraryPath string) error {
	runtimeInit.once.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			runtimeInit.err = ort.InitializeEnvironment()
		}
	})
	return runtimeInit.err
}

// Engine creates Silero VAD sessions from one ONNX model file. Safe for
// concurrent use; each session owns its own tensors.
type Engine struct {
	modelPath string
}

var _ vad.Engine = (*Engine)(nil)

// Option configures an [Engine] during construction.
type Option func(*options)

type options struct {
	libraryPath string
}

// WithRuntimeLibrary sets an explicit path to the ONNX Runtime shared
// library. When unset, the onnxruntime binding's default resolution applies.
func WithRuntimeLibrary(path string) Option {
	return func(o *options) { o.libraryPath = path }
}

// New validates the model file, initialises the ONNX runtime, and returns an
// engine. A missing model or runtime is a construction error surfaced to the
// operator before any session starts.
func New(modelPath string, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path is required")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model %q: %w", modelPath, err)
	}
	if err := initRuntime(o.libraryPath); err != nil {
		return nil, fmt.Errorf("silero: initialise onnx runtime: %w", err)
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession allocates an independent inference session with its own
// recurrent state.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	window := windowSamples(cfg.SampleRate)
	if window == 0 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d Hz (supported: 8000, 16000)", cfg.SampleRate)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("silero: threshold %.2f out of range [0, 1]", cfg.Threshold)
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	frameSamples := audio.FrameSamples(cfg.SampleRate, cfg.FrameMs)
	if frameSamples == 0 {
		return nil, fmt.Errorf("silero: invalid frame duration %d ms", cfg.FrameMs)
	}

	s := &session{
		frameSamples: frameSamples,
		window:       window,
		threshold:    threshold,
	}
	if err := s.allocate(e.modelPath, cfg.SampleRate); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// session is one stream's inference state. Not safe for concurrent use.
type session struct {
	frameSamples int
	window       int
	threshold    float64

	ortSession *ort.AdvancedSession
	input      *ort.Tensor[float32] // (1, context+window)
	state      *ort.Tensor[float32] // (2, 1, 128)
	sr         *ort.Tensor[int64]   // (1,)
	output     *ort.Tensor[float32] // (1, 1)
	stateOut   *ort.Tensor[float32] // (2, 1, 128)

	context  []float32 // trailing samples carried between windows
	buf      []float32 // frame samples awaiting a full window
	lastProb float64
	closed   bool
}

func (s *session) allocate(modelPath string, sampleRate int) error {
	var err error
	inputLen := contextSamples + s.window

	if s.input, err = ort.NewTensor(ort.NewShape(1, int64(inputLen)), make([]float32, inputLen)); err != nil {
		return fmt.Errorf("silero: input tensor: %w", err)
	}
	if s.state, err = ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, stateSize)); err != nil {
		return fmt.Errorf("silero: state tensor: %w", err)
	}
	if s.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(sampleRate)}); err != nil {
		return fmt.Errorf("silero: sample-rate tensor: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("silero: output tensor: %w", err)
	}
	if s.stateOut, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("silero: state output tensor: %w", err)
	}

	s.ortSession, err = ort.NewAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateOut},
		nil)
	if err != nil {
		return fmt.Errorf("silero: create session: %w", err)
	}

	s.context = make([]float32, contextSamples)
	s.buf = make([]float32, 0, s.window+s.frameSamples)
	return nil
}

// Process buffers the frame and runs inference on each completed model
// window. The returned probability is the latest the model has produced; for
// frames that complete no window it carries over from the previous frame,
// which acts as the smoothing the segmenter expects.
func (s *session) Process(frame audio.Frame) (vad.Decision, error) {
	if s.closed {
		return vad.Decision{}, fmt.Errorf("silero: session closed")
	}
	if len(frame.Samples) != s.frameSamples {
		return vad.Decision{}, fmt.Errorf("silero: frame %d has %d samples, session expects %d",
			frame.Index, len(frame.Samples), s.frameSamples)
	}

	for _, v := range frame.Samples {
		s.buf = append(s.buf, float32(v)/32768.0)
	}
	for len(s.buf) >= s.window {
		prob, err := s.infer(s.buf[:s.window])
		if err != nil {
			return vad.Decision{}, fmt.Errorf("%w: %v", vad.ErrUnavailable, err)
		}
		s.lastProb = prob
		s.buf = s.buf[s.window:]
	}

	return vad.Decision{
		Index:          frame.Index,
		Speech:         s.lastProb >= s.threshold,
		Probability:    s.lastProb,
		HasProbability: true,
	}, nil
}

// infer runs one model window through the session tensors. The caller must
// not retain chunk.
func (s *session) infer(chunk []float32) (float64, error) {
	in := s.input.GetData()
	copy(in[:contextSamples], s.context)
	copy(in[contextSamples:], chunk)

	// Carry the trailing samples into the next window's context.
	copy(s.context, in[len(in)-contextSamples:])

	if err := s.ortSession.Run(); err != nil {
		return 0, err
	}

	// Feed the produced state back for the next run.
	copy(s.state.GetData(), s.stateOut.GetData())

	return float64(s.output.GetData()[0]), nil
}

// Reset clears the recurrent state, context, window buffer, and carried
// probability. Used after barge-in so playback-period state does not bias
// the next utterance.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.state.ZeroContents()
	for i := range s.context {
		s.context[i] = 0
	}
	s.buf = s.buf[:0]
	s.lastProb = 0
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

func (s *session) release() {
	if s.ortSession != nil {
		_ = s.ortSession.Destroy()
		s.ortSession = nil
	}
	for _, t := range []*ort.Tensor[float32]{s.input, s.state, s.output, s.stateOut} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if s.sr != nil {
		_ = s.sr.Destroy()
	}
	s.input, s.state, s.output, s.stateOut, s.sr = nil, nil, nil, nil, nil
}
