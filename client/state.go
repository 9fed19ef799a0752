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

// Package client implements the websocket session state machine, the
// single-writer send queue, keepalive and reconnect, and the
// tick-based push/pull loop the host scene framework drives
// (component C4).
package client

// State is one step of the connection lifecycle (§4.4).
type State int

const (
	Disconnected State = iota
	Resolving
	Connecting
	TlsHandshake
	WsHandshake
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Resolving:
		return "Resolving"
	case Connecting:
		return "Connecting"
	case TlsHandshake:
		return "TlsHandshake"
	case WsHandshake:
		return "WsHandshake"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}
