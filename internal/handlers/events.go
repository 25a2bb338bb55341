package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"jardav/internal/events"
	"jardav/pkg/types"
)

const (
	eventsWriteWait = 10 * time.Second
	eventsPongWait  = 60 * time.Second
	eventsPingEvery = (eventsPongWait * 9) / 10
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// EventBatch is one websocket message.
type EventBatch struct {
	Events []types.ChangeEvent `json:"events"`
}

// EventsHandler streams change events over a websocket. The optional
// prefix query parameter narrows the stream to addresses starting with it.
type EventsHandler struct {
	hub       *events.Hub
	logger    *zap.Logger
	pingEvery time.Duration
}

func NewEventsHandler(hub *events.Hub, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{hub: hub, logger: logger, pingEvery: eventsPingEvery}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(eventsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	batches, unsubscribe := h.hub.Subscribe(ctx, prefix)
	defer unsubscribe()

	// Client messages are ignored; reading keeps pongs and close frames
	// flowing.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("Event stream opened", zap.String("prefix", prefix))

	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-readerDone
			return
		case batch, ok := <-batches:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event hub closed"),
					time.Now().Add(eventsWriteWait))
				conn.Close()
				<-readerDone
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(EventBatch{Events: batch}); err != nil {
				h.logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
