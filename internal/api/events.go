package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/sync"
)

const eventWriteTimeout = 5 * time.Second

// SyncEvents streams sync and connectivity events over a websocket. The
// first message is the current status.
func (h *Handler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.serverCfg.CorsOrigins,
	})
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, unsubscribe := h.syncManager.Events().Subscribe(64)
	defer unsubscribe()

	// Client messages are ignored; CloseRead cancels ctx when the peer leaves.
	ctx := conn.CloseRead(r.Context())

	status, err := h.syncManager.Status(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "status unavailable")
		return
	}
	if err := writeEvent(ctx, conn, sync.Event{Type: sync.EventStatus, At: time.Now().UTC(), Data: status}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				logger.Log.Debug("Event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev sync.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
