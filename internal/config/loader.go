package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

var (
	supportedSampleRates = []int{8000, 16000, 32000, 48000}
	supportedFrameMs     = []int{10, 20, 30, 40}
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Dialog
	if cfg.Dialog.TimeoutMs < 1 {
		errs = append(errs, fmt.Errorf("dialog.timeout_ms %d must be at least 1", cfg.Dialog.TimeoutMs))
	}

	// Audio
	if !slices.Contains(supportedSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: %v", cfg.Audio.SampleRate, supportedSampleRates))
	}
	if !slices.Contains(supportedFrameMs, cfg.Audio.FrameMs) {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is unsupported; valid values: %v", cfg.Audio.FrameMs, supportedFrameMs))
	}
	if !cfg.Audio.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("audio.encoding %q is invalid; valid values: pcm16le, mulaw", cfg.Audio.Encoding))
	}

	// VAD
	if !cfg.VAD.FusionMode.IsValid() {
		errs = append(errs, fmt.Errorf("vad.fusion_mode %q is invalid; valid values: and, or, fast_only, confirm_only", cfg.VAD.FusionMode))
	}
	if cfg.VAD.FastAggressiveness < 0 || cfg.VAD.FastAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.fast_aggressiveness %d is out of range [0, 3]", cfg.VAD.FastAggressiveness))
	}
	if cfg.VAD.ConfirmThreshold < 0 || cfg.VAD.ConfirmThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.confirm_threshold %.2f is out of range [0, 1]", cfg.VAD.ConfirmThreshold))
	}
	if cfg.VAD.FusionMode.IsValid() && cfg.VAD.FusionMode.NeedsConfirm() && cfg.VAD.ModelPath == "" {
		errs = append(errs, fmt.Errorf("vad.model_path is required for fusion mode %q", cfg.VAD.FusionMode))
	}

	// Turn
	if cfg.Turn.SilenceDurationMs < cfg.Audio.FrameMs {
		errs = append(errs, fmt.Errorf("turn.silence_duration_ms %d is shorter than one frame (%d ms)", cfg.Turn.SilenceDurationMs, cfg.Audio.FrameMs))
	}
	if cfg.Turn.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("turn.hangover_ms %d must not be negative", cfg.Turn.HangoverMs))
	}
	if cfg.Turn.MaxEmptyInputs < 1 {
		errs = append(errs, fmt.Errorf("turn.max_empty_inputs %d must be at least 1", cfg.Turn.MaxEmptyInputs))
	}

	// Barge-in
	if cfg.BargeIn.MinVoiceCount < 1 {
		errs = append(errs, fmt.Errorf("barge_in.min_voice_count %d must be at least 1", cfg.BargeIn.MinVoiceCount))
	}

	// Handover
	if cfg.Handover.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("handover.timeout_ms %d must not be negative", cfg.Handover.TimeoutMs))
	}

	// Session
	if cfg.Session.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("session.queue_size %d must be at least 1", cfg.Session.QueueSize))
	}

	return errors.Join(errs...)
}
