// Package ws exposes the scheduler's event bus over the /scheduler/ws
// WebSocket endpoint (spec.md §4.6's wire format). Grounded on
// gorilla/websocket (already a pack dependency per SPEC_FULL's domain
// stack) in place of the teacher's SSE-based internal/clients/redis
// fan-out, since spec.md requires a WebSocket transport specifically.
package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/realtime/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent and wireLag are the two JSON shapes spec.md §4.6 puts on the
// wire: {"event": {...}} for a delivered event, {"lag": n} when a
// subscriber fell behind.
type wireEvent struct {
	Event any `json:"event"`
}

type wireLag struct {
	Lag int64 `json:"lag"`
}

type SchedulerHandler struct {
	eventBus bus.Bus
	log      *logger.Logger
}

func NewSchedulerHandler(eventBus bus.Bus, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{eventBus: eventBus, log: log.With("component", "SchedulerWS")}
}

// ServeWS handles GET /scheduler/ws: upgrades the connection, subscribes
// to the event bus, and pushes every event (or lag notice) until the
// client disconnects.
func (h *SchedulerHandler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.eventBus.Subscribe()
	ctx := c.Request.Context()

	for {
		evt, lag, ok, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if !ok {
			if lag > 0 {
				if writeErr := conn.WriteJSON(wireLag{Lag: lag}); writeErr != nil {
					return
				}
				continue
			}
			// bus closed
			return
		}
		if writeErr := conn.WriteJSON(wireEvent{Event: evt}); writeErr != nil {
			return
		}
	}
}
