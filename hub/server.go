/*
Copyright (C) 2025  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package hub

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/launix-de/scenesync/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns the HTTP handler that upgrades every request to a
// websocket session and joins it to the channel named by the request
// path (§6.2's `{scheme}://{host}[:port]/{channel}[?user=id]`).
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.serveHTTP)
}

// ListenAndServe starts the hub's HTTP server on cfg.Addr, bounding
// concurrent connection handlers to cfg.Workers the way the original
// server shares a fixed-size executor across accepted connections.
func (h *Hub) ListenAndServe() error {
	sem := make(chan struct{}, h.cfg.Workers)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sem <- struct{}{}
		defer func() { <-sem }()
		h.serveHTTP(w, r)
	})
	h.logger.Info("hub listening", "addr", h.cfg.Addr, "workers", h.cfg.Workers)
	return http.ListenAndServe(h.cfg.Addr, handler)
}

func (h *Hub) serveHTTP(w http.ResponseWriter, r *http.Request) {
	channelName := strings.Trim(r.URL.Path, "/")
	if channelName == "" {
		http.Error(w, "missing channel in path", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", "error", err)
		return
	}
	defer ws.Close()

	c := newConnection()
	h.join(channelName, c)
	defer h.leave(channelName, c)
	defer c.close()

	go c.writeLoop(func(msg []byte) error {
		return ws.WriteMessage(websocket.TextMessage, msg)
	}, func(err error) {
		h.logger.Error("websocket write", "connection", c.debugName, "error", err)
	})

	h.readLoop(channelName, c, ws)
}

func (h *Hub) readLoop(channelName string, c *connection, ws *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in websocket read loop", "connection", c.debugName, "recovered", fmt.Sprint(r))
		}
	}()
	for {
		messageType, raw, err := ws.ReadMessage()
		if err != nil {
			if _, ok := err.(*websocket.CloseError); ok {
				return
			}
			h.logger.Warn("websocket read", "connection", c.debugName, "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if string(raw) == wire.PingPayload {
			c.enqueue([]byte(wire.PongPayload))
			continue
		}
		frame, err := wire.Decode(raw)
		if err != nil {
			h.logger.Warn("malformed frame", "connection", c.debugName, "error", err)
			continue
		}
		h.dispatch(channelName, c, frame)
	}
}
