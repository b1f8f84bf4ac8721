// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4096
)

// SnapshotMessage is pushed to WebSocket clients after every change.
type SnapshotMessage struct {
	Type     string `json:"type"`
	Snapshot any    `json:"snapshot"`
}

// checkOrigin applies the CORS allow-list to WebSocket upgrades. Requests
// without an Origin header come from non-browser clients and are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.cors.isOriginAllowed(origin)
}

// handleWebSocket pushes a snapshot on connect and after each change until
// the client disconnects or the session ends. Inbound messages are ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("WS_UPGRADE_FAILED")
		return
	}
	defer conn.Close()

	changes, cancel := ctrl.Subscribe()
	defer cancel()

	log := s.logger.With().Str("session", ctrl.ID()).Logger()
	log.Debug().Msg("WS_CONNECTED")

	// The read loop only tracks liveness; it exits on close or error.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(wsMaxMessage)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		s.sessions.Touch(ctrl.ID())
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(SnapshotMessage{Type: "snapshot", Snapshot: ctrl.Snapshot()})
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case _, open := <-changes:
			if !open {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"))
				log.Debug().Msg("WS_SESSION_ENDED")
				return
			}
			if err := send(); err != nil {
				log.Debug().Err(err).Msg("WS_WRITE_FAILED")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug().Msg("WS_DISCONNECTED")
			return
		}
	}
}
