package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kelvana/presetsmith/internal/models"
	"github.com/kelvana/presetsmith/internal/services"
	"github.com/kelvana/presetsmith/internal/utils"
)

// StreamHandler pushes live status events to subscribers, over SSE or a
// WebSocket. The stream ends once a terminal status has been delivered; a
// subscriber attaching after completion gets the terminal value once and an
// immediate end of stream.
type StreamHandler struct {
	svc services.InferenceService

	upgrader websocket.Upgrader
}

func NewStreamHandler(svc services.InferenceService) *StreamHandler {
	return &StreamHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type statusEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusSSE serves GET .../status/:id/stream as server-sent events named
// "status".
func (h *StreamHandler) StatusSSE(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler.StatusSSE", "missing request id", nil))
		return
	}

	ch, cancel := h.svc.Subscribe(id)
	defer cancel()

	// Hub-unknown id: the ledger may still know it after a restart. Feed the
	// durable status as the opening event so the subscriber is not left
	// hanging on a request that already finished elsewhere.
	seed, seeded := h.durableSeed(c, id, ch)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if seeded {
		c.SSEvent("status", statusEvent{Status: string(seed), Timestamp: time.Now().UTC()})
		c.Writer.Flush()
		if seed.IsTerminal() {
			return
		}
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case st, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", statusEvent{Status: string(st), Timestamp: time.Now().UTC()})
			return !st.IsTerminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// StatusWS is the WebSocket variant: one JSON status event per message,
// closing after the terminal event.
func (h *StreamHandler) StatusWS(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler.StatusWS", "missing request id", nil))
		return
	}

	ch, cancel := h.svc.Subscribe(id)
	defer cancel()

	seed, seeded := h.durableSeed(c, id, ch)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}

	if seeded {
		if wc.writeEvent(statusEvent{Status: string(seed), Timestamp: time.Now().UTC()}) != nil || seed.IsTerminal() {
			return
		}
	}

	// drain reads so close frames and pings are processed
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return
			}
			if wc.writeEvent(statusEvent{Status: string(st), Timestamp: time.Now().UTC()}) != nil {
				return
			}
			if st.IsTerminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
		case <-readDone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// durableSeed decides the opening event for a subscriber whose id the hub
// does not know. When the subscription channel already holds the hub's
// current status nothing is seeded; otherwise the ledger's view, if any, is.
func (h *StreamHandler) durableSeed(c *gin.Context, id string, ch <-chan models.RequestStatus) (models.RequestStatus, bool) {
	if len(ch) > 0 {
		return "", false
	}
	st, err := h.svc.GetStatus(c.Request.Context(), id)
	if err != nil {
		return "", false
	}
	return st, true
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeEvent(ev statusEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}
