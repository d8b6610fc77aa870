// Package dialog provides the HTTP client for the dialog backend that turns
// finalized utterances into replies.
//
// The backend is opaque to this service: it runs the bank's STT, intent
// classification, and answer generation behind a single REST endpoint
// (POST /v1/respond). The client submits each utterance as a WAV file in a
// multipart form and receives the reply text as JSON. An empty reply means
// the backend has nothing to say for this turn.
//
// Usage:
//
//	c, err := dialog.New("http://dialog.internal:8080", 16000)
//	reply, err := c.Transcribe(ctx, utt)
package dialog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/session"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM the pipeline
// carries internally.
const bitsPerSample = 16

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// deployments that need custom transport settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client implements [session.Transcriber] against the dialog backend's REST
// API. Safe for concurrent use by multiple sessions.
type Client struct {
	endpoint   string
	sampleRate int
	httpClient *http.Client
}

var _ session.Transcriber = (*Client)(nil)

// New creates a Client for the backend at endpoint (e.g.
// "http://dialog.internal:8080"). sampleRate must match the PCM delivered in
// utterances.
func New(endpoint string, sampleRate int, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("dialog: endpoint must not be empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("dialog: invalid sample rate %d", sampleRate)
	}
	c := &Client{
		endpoint:   endpoint,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transcribe submits the utterance audio and returns the backend's reply.
// Utterances with no voiced audio are not submitted; they resolve to an empty
// reply locally.
func (c *Client) Transcribe(ctx context.Context, utt session.Utterance) (string, error) {
	if utt.Empty || len(utt.Samples) == 0 {
		return "", nil
	}

	wav := encodeWAV(audio.PCM16ToBytes(utt.Samples), c.sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("dialog: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("dialog: write wav data: %w", err)
	}

	// Turn metadata so the backend can correlate with the session transcript.
	fields := map[string]string{
		"session_id":  utt.SessionID,
		"start_frame": strconv.FormatUint(utt.StartFrame, 10),
		"end_frame":   strconv.FormatUint(utt.EndFrame, 10),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return "", fmt.Errorf("dialog: write %s field: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("dialog: close multipart writer: %w", err)
	}

	endpoint := c.endpoint + "/v1/respond"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("dialog: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("dialog: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dialog: backend returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("dialog: read response body: %w", err)
	}

	var result struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("dialog: parse JSON response: %w", err)
	}
	return result.Reply, nil
}

// Disabled is a [session.Transcriber] for deployments without a dialog
// backend: every utterance resolves to an empty reply, so the pipeline
// segments and reports turns but never speaks.
type Disabled struct{}

var _ session.Transcriber = Disabled{}

func (Disabled) Transcribe(context.Context, session.Utterance) (string, error) {
	return "", nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM in a RIFF/WAV
// container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
