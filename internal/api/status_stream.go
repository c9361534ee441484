// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ManuGH/tvscribe/internal/status"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

// streamMessage is one websocket frame: a full snapshot first, then events.
type streamMessage struct {
	Type     string           `json:"type"` // snapshot|event
	Snapshot *status.Snapshot `json:"snapshot,omitempty"`
	Event    *status.Event    `json:"event,omitempty"`
}

// handleStatusStream pushes status changes over a websocket until the client
// leaves or the server closes.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debug().Err(err).Str("event", "api.ws_accept_failed").Msg("websocket accept failed")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	events, unsubscribe := s.deps.Status.Subscribe(streamBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()
	// The client sends nothing; CloseRead handles its close frame.
	ctx = conn.CloseRead(ctx)

	snap := s.deps.Status.Snapshot()
	if err := write(ctx, conn, streamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}
	s.logger.Debug().Str("event", "api.ws_connected").Str("remote", r.RemoteAddr).Msg("status stream opened")

	for {
		select {
		case <-ctx.Done():
			if errors.Is(s.base.Err(), context.Canceled) {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := write(ctx, conn, streamMessage{Type: "event", Event: &e}); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
