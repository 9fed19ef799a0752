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

// Command scenesync-hubd runs the channel hub server: the process that
// sequences and replays collaborative scene edits for every connected
// client (component C5).
package main

import (
	"flag"
	"fmt"

	"github.com/dc0d/onexit"

	"github.com/launix-de/scenesync/hub"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	workers := flag.Int("workers", 10, "bounded worker pool size for accepted connections")
	pingInterval := flag.Int("ping-interval", 5, "informational keepalive interval advertised to operators, in seconds")
	flag.Parse()

	cfg := hub.Config{Addr: *addr, Workers: *workers, PingInterval: *pingInterval}
	h := hub.New(cfg)

	onexit.Register(func() {
		fmt.Println("scenesync-hubd: shutting down")
	})

	if err := h.ListenAndServe(); err != nil {
		fmt.Println("scenesync-hubd:", err)
	}
}
