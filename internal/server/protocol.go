package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/session"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
)

// Control message types accepted as WebSocket text frames. Binary frames are
// raw audio chunks and carry no envelope.
const (
	ctrlHandoverRequest   = "handover.request"
	ctrlAgentAccept       = "agent.accept"
	ctrlAgentDecline      = "agent.decline"
	ctrlPlaybackStarted   = "playback.started"
	ctrlPlaybackCompleted = "playback.completed"
	ctrlPlaybackError     = "playback.error"
	ctrlResume            = "resume"
	ctrlCommit            = "commit"
)

// controlMessage is the envelope of every inbound text frame.
type controlMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// parseControl decodes and validates one control frame.
func parseControl(data []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlMessage{}, fmt.Errorf("server: malformed control message: %w", err)
	}
	switch msg.Type {
	case ctrlHandoverRequest:
		if msg.Reason == "" {
			return controlMessage{}, fmt.Errorf("server: %s requires a reason", msg.Type)
		}
	case ctrlAgentAccept:
		if msg.AgentID == "" {
			return controlMessage{}, fmt.Errorf("server: %s requires an agent_id", msg.Type)
		}
	case ctrlAgentDecline, ctrlPlaybackStarted, ctrlPlaybackCompleted,
		ctrlPlaybackError, ctrlResume, ctrlCommit:
	default:
		return controlMessage{}, fmt.Errorf("server: unknown control message type %q", msg.Type)
	}
	return msg, nil
}

// eventMessage is the envelope of every outbound text frame.
type eventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	// Segment / utterance fields.
	StartFrame   *uint64 `json:"start_frame,omitempty"`
	EndFrame     *uint64 `json:"end_frame,omitempty"`
	DurationMs   *int64  `json:"duration_ms,omitempty"`
	VoicedFrames *int    `json:"voiced_frames,omitempty"`
	Empty        *bool   `json:"empty,omitempty"`

	// Barge-in fields.
	RunStart *uint64 `json:"run_start,omitempty"`
	Voiced   *int    `json:"voiced,omitempty"`

	// Handover fields.
	Status          string     `json:"status,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	RequestedAt     *time.Time `json:"requested_at,omitempty"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	AssignedAgentID string     `json:"assigned_agent_id,omitempty"`

	// Reply text for the client to play back.
	Text string `json:"text,omitempty"`

	// Error reporting.
	Message string `json:"message,omitempty"`
}

// replyEvent carries the reply produced for a finalized utterance. The client
// plays it and reports back with playback.completed or playback.error.
func replyEvent(sessionID, text string) eventMessage {
	return eventMessage{Type: "reply", SessionID: sessionID, Text: text}
}

func segmentOpenedEvent(sessionID string, start uint64) eventMessage {
	return eventMessage{Type: "segment_opened", SessionID: sessionID, StartFrame: &start}
}

func segmentClosedEvent(sessionID string, seg turn.Segment) eventMessage {
	ms := seg.Duration.Milliseconds()
	return eventMessage{
		Type:       "segment_closed",
		SessionID:  sessionID,
		StartFrame: &seg.StartFrame,
		EndFrame:   &seg.EndFrame,
		DurationMs: &ms,
	}
}

func utteranceFinalEvent(utt session.Utterance) eventMessage {
	ms := utt.Duration.Milliseconds()
	return eventMessage{
		Type:         "utterance_final",
		SessionID:    utt.SessionID,
		StartFrame:   &utt.StartFrame,
		EndFrame:     &utt.EndFrame,
		DurationMs:   &ms,
		VoicedFrames: &utt.VoicedFrames,
		Empty:        &utt.Empty,
	}
}

func bargeInEvent(sessionID string, intr turn.Interrupt) eventMessage {
	return eventMessage{
		Type:      "barge_in_detected",
		SessionID: sessionID,
		RunStart:  &intr.RunStart,
		Voiced:    &intr.Voiced,
	}
}

func handoverEvent(rec handover.Record) eventMessage {
	ev := eventMessage{
		Type:            "handover_status_changed",
		SessionID:       rec.SessionID,
		Status:          rec.Status.String(),
		AssignedAgentID: rec.AssignedAgentID,
		Reason:          rec.Reason,
	}
	if !rec.RequestedAt.IsZero() {
		t := rec.RequestedAt
		ev.RequestedAt = &t
	}
	if !rec.AcceptedAt.IsZero() {
		t := rec.AcceptedAt
		ev.AcceptedAt = &t
	}
	return ev
}

func errorEvent(sessionID, message string) eventMessage {
	return eventMessage{Type: "error", SessionID: sessionID, Message: message}
}
