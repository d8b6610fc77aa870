// Package server exposes the voice session pipeline over WebSocket. One
// connection carries one session: binary frames are raw audio chunks pushed
// into the session queue, text frames are JSON control messages, and session
// events stream back as JSON text frames. The transport stays thin; all
// pipeline semantics live in the session package.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/session"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/turn"
)

// eventBuffer bounds the per-connection outbound queue. A client that cannot
// keep up loses events rather than stalling the session goroutine.
const eventBuffer = 64

// SessionFactory builds the session configuration for a new connection. The
// returned Config's SessionID is overwritten with the connection's id.
type SessionFactory func(sessionID string) session.Config

// Server accepts WebSocket connections and binds each to a session owned by
// the manager.
type Server struct {
	manager *session.Manager
	factory SessionFactory
	log     *slog.Logger
}

func New(manager *session.Manager, factory SessionFactory, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{manager: manager, factory: factory, log: log}
}

// Register installs the streaming route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	sub := &wsSubscriber{
		out: make(chan eventMessage, eventBuffer),
		log: s.log.With("session_id", id),
	}

	cfg := s.factory(id)
	cfg.SessionID = id
	if cfg.Player == nil {
		// Replies are played by the client: deliver the text as an event and
		// hold the Speaking state until the client reports playback status or
		// a barge-in cancels it.
		cfg.Player = &wsPlayer{sub: sub}
	}

	// The session's lifetime is the connection's, enforced by the deferred
	// Remove below, not by the request context.
	orc, err := s.manager.Create(context.Background(), cfg)
	switch {
	case errors.Is(err, session.ErrDraining):
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	case errors.Is(err, session.ErrDuplicateSession):
		http.Error(w, "session already connected", http.StatusConflict)
		return
	case err != nil:
		s.log.Error("session create failed", "session_id", id, "error", err)
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}
	defer s.manager.Remove(id)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "session_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	token := orc.Attach(sub)
	defer orc.Detach(token)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, sub.out)
	}()

	err = s.readLoop(ctx, conn, orc, sub)
	cancel()
	<-writerDone

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if err != nil && ctx.Err() == nil {
		s.log.Warn("connection closed", "session_id", id, "error", err)
	}
}

// readLoop consumes client frames until the connection errors or closes.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, orc *session.Orchestrator, sub *wsSubscriber) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			orc.PushAudio(data)
		case websocket.MessageText:
			s.handleControl(orc, sub, data)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan eventMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-out:
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("event marshal failed", "type", ev.Type, "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// handleControl dispatches one control frame. Handover transitions emit their
// status-change events through the subscriber; only failures are reported
// back directly.
func (s *Server) handleControl(orc *session.Orchestrator, sub *wsSubscriber, data []byte) {
	msg, err := parseControl(data)
	if err != nil {
		sub.send(errorEvent(orc.ID(), err.Error()))
		return
	}

	switch msg.Type {
	case ctrlHandoverRequest:
		_, err = orc.RequestHandover(msg.Reason)
	case ctrlAgentAccept:
		_, err = orc.AgentAccept(msg.AgentID)
	case ctrlAgentDecline:
		_, err = orc.AgentDecline()
	case ctrlPlaybackStarted:
		orc.NotifyPlayback(session.PlaybackStarted)
	case ctrlPlaybackCompleted:
		orc.NotifyPlayback(session.PlaybackCompleted)
	case ctrlPlaybackError:
		orc.NotifyPlayback(session.PlaybackError)
	case ctrlResume:
		orc.Resume()
	case ctrlCommit:
		orc.Commit()
	}
	if err != nil {
		sub.send(errorEvent(orc.ID(), err.Error()))
	}
}

// wsSubscriber forwards session events to the connection's writer goroutine.
// Sends never block: the session goroutine must not stall on a slow client.
type wsSubscriber struct {
	out chan eventMessage
	log *slog.Logger
}

var _ session.Subscriber = (*wsSubscriber)(nil)

func (w *wsSubscriber) send(ev eventMessage) {
	select {
	case w.out <- ev:
	default:
		w.log.Warn("event dropped, client too slow", "type", ev.Type)
	}
}

func (w *wsSubscriber) SegmentOpened(sessionID string, startFrame uint64) {
	w.send(segmentOpenedEvent(sessionID, startFrame))
}

func (w *wsSubscriber) SegmentClosed(sessionID string, seg turn.Segment) {
	w.send(segmentClosedEvent(sessionID, seg))
}

func (w *wsSubscriber) UtteranceFinal(utt session.Utterance) {
	w.send(utteranceFinalEvent(utt))
}

func (w *wsSubscriber) BargeInDetected(sessionID string, intr turn.Interrupt) {
	w.send(bargeInEvent(sessionID, intr))
}

func (w *wsSubscriber) HandoverStatusChanged(rec handover.Record) {
	w.send(handoverEvent(rec))
}

// wsPlayer delegates reply playback to the client. Play blocks until the
// session cancels the playback context, which happens on a barge-in or when
// the client reports playback.completed or playback.error.
type wsPlayer struct {
	sub *wsSubscriber
}

var _ session.Player = (*wsPlayer)(nil)

func (p *wsPlayer) Play(ctx context.Context, sessionID, reply string) error {
	p.sub.send(replyEvent(sessionID, reply))
	<-ctx.Done()
	return ctx.Err()
}
