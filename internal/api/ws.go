/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// wsHeartbeat is the only text frame the voice stream accepts.
type wsHeartbeat struct {
	User string `json:"user"`
}

// handleRealtimeStream is the WebSocket twin of the speak endpoint.
// Binary frames carry raw PCM chunks and skip the base64 round trip;
// text frames are JSON heartbeats keeping the watchdog fed without a
// second HTTP connection.
func (a *API) handleRealtimeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	a.logger.Debug().Str("remote", r.RemoteAddr).Msg("voice stream connected")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) == ws.StatusNormalClosure {
				conn.Close(ws.StatusNormalClosure, "")
				return
			}
			a.logger.Debug().Err(err).Msg("voice stream read error")
			return
		}

		switch typ {
		case ws.MessageBinary:
			a.ctrl.FeedVoiceChunk(data)
		case ws.MessageText:
			var hb wsHeartbeat
			if err := json.Unmarshal(data, &hb); err != nil {
				a.logger.Warn().Err(err).Msg("invalid voice stream heartbeat")
				continue
			}
			if hb.User != "" {
				a.ctrl.RegisterHeartbeat(hb.User)
			}
		}
	}
}
