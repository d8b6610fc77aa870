package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/session"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
	vadmock "github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad/mock"
)

const dialTimeout = 5 * time.Second

type transcriberFunc func(ctx context.Context, utt session.Utterance) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, utt session.Utterance) (string, error) {
	return f(ctx, utt)
}

// newTestEnv starts a server whose sessions use a scripted fast engine and a
// transcriber producing the given canned reply. Each connection gets its own
// mock session so frame indices start fresh.
func newTestEnv(t *testing.T, speech func(uint64) bool, reply string) (*httptest.Server, *session.Manager) {
	t.Helper()
	factory := func(string) session.Config {
		return session.Config{
			Framer: audio.FramerConfig{
				SampleRate: 16000,
				FrameMs:    20,
				Encoding:   audio.EncodingPCM16,
			},
			FusionMode: vad.ModeFastOnly,
			FastEngine: &vadmock.Engine{Session: &vadmock.Session{SpeechFn: speech}},
			Transcriber: transcriberFunc(func(context.Context, session.Utterance) (string, error) {
				return reply, nil
			}),
		}
	}
	mgr := session.NewManager()
	srv := New(mgr, factory, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func dial(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ts.URL+"/v1/sessions/"+id+"/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendText(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) eventMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("read event: message type %v, want text", typ)
	}
	var ev eventMessage
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return ev
}

func TestServerStreamsSegmentEvents(t *testing.T) {
	t.Parallel()

	// Speech on frames 1-2, then silence: the segment opens at 1, closes at
	// 17 after hangover, and the default silence budget finalizes the turn.
	ts, _ := newTestEnv(t, func(i uint64) bool { return i >= 1 && i <= 2 }, "")
	conn := dial(t, ts, "stream-1")

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	chunk := audio.PCM16ToBytes(make([]int16, 320))
	for i := 0; i < 110; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	ev := readEvent(t, conn)
	if ev.Type != "segment_opened" {
		t.Fatalf("first event %q, want segment_opened", ev.Type)
	}
	if ev.SessionID != "stream-1" || ev.StartFrame == nil || *ev.StartFrame != 1 {
		t.Errorf("segment_opened = %+v, want session stream-1 start 1", ev)
	}

	ev = readEvent(t, conn)
	if ev.Type != "segment_closed" {
		t.Fatalf("second event %q, want segment_closed", ev.Type)
	}
	if ev.EndFrame == nil || *ev.EndFrame != 17 {
		t.Errorf("segment_closed end = %+v, want 17", ev.EndFrame)
	}

	ev = readEvent(t, conn)
	if ev.Type != "utterance_final" {
		t.Fatalf("third event %q, want utterance_final", ev.Type)
	}
	if ev.VoicedFrames == nil || *ev.VoicedFrames != 2 {
		t.Errorf("utterance voiced = %+v, want 2", ev.VoicedFrames)
	}
	if ev.Empty == nil || *ev.Empty {
		t.Errorf("utterance empty = %+v, want false", ev.Empty)
	}
}

func TestServerDeliversReplyAndBargeIn(t *testing.T) {
	t.Parallel()

	// Speech on frames 1-2 finalizes into a turn with a reply; the client
	// never reports playback completion, so speech on frames 111+ while the
	// pipeline is still speaking triggers a barge-in.
	ts, _ := newTestEnv(t, func(i uint64) bool {
		return (i >= 1 && i <= 2) || i >= 111
	}, "please hold while I check that")
	conn := dial(t, ts, "reply-1")

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	chunk := audio.PCM16ToBytes(make([]int16, 320))
	for i := 0; i < 110; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	for _, wantType := range []string{"segment_opened", "segment_closed", "utterance_final", "reply"} {
		ev := readEvent(t, conn)
		if ev.Type != wantType {
			t.Fatalf("event %q, want %q", ev.Type, wantType)
		}
		if ev.Type == "reply" && ev.Text != "please hold while I check that" {
			t.Errorf("reply text = %q", ev.Text)
		}
	}

	// Playback is in flight; two voiced frames interrupt it.
	for i := 0; i < 2; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	ev := readEvent(t, conn)
	if ev.Type != "barge_in_detected" {
		t.Fatalf("event %q, want barge_in_detected", ev.Type)
	}
	if ev.RunStart == nil || *ev.RunStart != 111 {
		t.Errorf("barge-in run_start = %+v, want 111", ev.RunStart)
	}
	if ev.Voiced == nil || *ev.Voiced != 2 {
		t.Errorf("barge-in voiced = %+v, want 2", ev.Voiced)
	}
	if ev = readEvent(t, conn); ev.Type != "segment_opened" {
		t.Fatalf("event %q, want segment_opened after barge-in", ev.Type)
	}
}

func TestServerHandoverControls(t *testing.T) {
	t.Parallel()

	ts, _ := newTestEnv(t, nil, "")
	conn := dial(t, ts, "handover-1")

	sendText(t, conn, `{"type":"handover.request","reason":"fraud suspicion"}`)
	ev := readEvent(t, conn)
	if ev.Type != "handover_status_changed" || ev.Status != "pending" {
		t.Fatalf("event = %+v, want pending handover_status_changed", ev)
	}
	if ev.Reason != "fraud suspicion" {
		t.Errorf("reason = %q, want fraud suspicion", ev.Reason)
	}

	sendText(t, conn, `{"type":"agent.accept","agent_id":"agent-9"}`)
	ev = readEvent(t, conn)
	if ev.Type != "handover_status_changed" || ev.Status != "accepted" {
		t.Fatalf("event = %+v, want accepted handover_status_changed", ev)
	}
	if ev.AssignedAgentID != "agent-9" {
		t.Errorf("assigned agent = %q, want agent-9", ev.AssignedAgentID)
	}

	// Declining after acceptance loses the race and reports an error.
	sendText(t, conn, `{"type":"agent.decline"}`)
	ev = readEvent(t, conn)
	if ev.Type != "error" || ev.Message == "" {
		t.Fatalf("event = %+v, want error with message", ev)
	}
}

func TestServerRejectsMalformedControl(t *testing.T) {
	t.Parallel()

	ts, _ := newTestEnv(t, nil, "")
	conn := dial(t, ts, "bad-control")

	sendText(t, conn, `not json`)
	ev := readEvent(t, conn)
	if ev.Type != "error" {
		t.Fatalf("event type %q, want error", ev.Type)
	}

	sendText(t, conn, `{"type":"session.destroy"}`)
	ev = readEvent(t, conn)
	if ev.Type != "error" || !strings.Contains(ev.Message, "unknown control") {
		t.Fatalf("event = %+v, want unknown control error", ev)
	}

	sendText(t, conn, `{"type":"handover.request"}`)
	ev = readEvent(t, conn)
	if ev.Type != "error" || !strings.Contains(ev.Message, "reason") {
		t.Fatalf("event = %+v, want missing-reason error", ev)
	}
}

func TestServerDuplicateSessionConflict(t *testing.T) {
	t.Parallel()

	ts, _ := newTestEnv(t, nil, "")
	dial(t, ts, "dup")

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, ts.URL+"/v1/sessions/dup/stream", nil)
	if err == nil {
		conn.CloseNow()
		t.Fatal("second dial succeeded, want conflict")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("response = %+v, want status 409", resp)
	}
}

func TestServerDrainingRejectsNewSessions(t *testing.T) {
	t.Parallel()

	ts, mgr := newTestEnv(t, nil, "")
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	conn, resp, err := websocket.Dial(ctx, ts.URL+"/v1/sessions/late/stream", nil)
	if err == nil {
		conn.CloseNow()
		t.Fatal("dial succeeded during drain, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response = %+v, want status 503", resp)
	}
}
