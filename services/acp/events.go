// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package acp

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event types published on the /v1/acp/events stream.
const (
	EventIndexBuilt   = "index_built"
	EventIndexUpdated = "index_updated"
)

// subscriberBuffer is how many events a slow subscriber may fall behind
// before the hub starts dropping its events.
const subscriberBuffer = 16

// Event is one message on the events stream. Subscribers that fall behind
// miss events rather than stall the indexer, so consumers must treat the
// stream as advisory and re-query for authoritative state.
type Event struct {
	Type         string   `json:"type"`
	Project      string   `json:"project"`
	Paths        []string `json:"paths,omitempty"`
	FilesIndexed int      `json:"files_indexed"`
	FilesRemoved int      `json:"files_removed,omitempty"`
	Symbols      int      `json:"symbols"`
	AtMilli      int64    `json:"at_milli"`
}

// Hub fans index events out to subscribers.
//
// Thread Safety: all methods are safe for concurrent use.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel. The
// channel is buffered; the hub never blocks on it. Callers must Unsubscribe
// when done or the channel leaks.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once with the same channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every subscriber that has buffer room.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is subscriberBuffer events behind; drop.
		}
	}
	h.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tooling endpoint; editor plugins and CLIs connect without an
	// Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleEvents upgrades GET /v1/acp/events to a websocket and streams index
// events until the client disconnects.
func (h *Handlers) HandleEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleEvents")

	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := h.svc.Events().Subscribe()
	defer h.svc.Events().Unsubscribe(ch)
	defer conn.Close()

	logger.Debug("events subscriber connected", "remote", conn.RemoteAddr().String())

	// The read pump exists only to observe the close handshake; the
	// stream is one-way.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("events subscriber dropped", "error", err)
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
