package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/server/http/interceptors"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/registry"
	wsmarshaller "github.com/osrs-friend-monitor/friend-monitor-server/internal/handler/marshaller/ws"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 4096
)

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Game clients are not browsers; the token is the access control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY (set by the auth interceptor)
	userID, ok := interceptors.GetAuthUser(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	hash, err := model.ParseAccountHash(chi.URLParam(r, "accountHash"))
	if err != nil {
		http.Error(w, "invalid account hash", http.StatusBadRequest)
		return
	}

	// 2. SUBSCRIBE FIRST so ownership failures are still plain HTTP errors
	conn, err := h.deliverer.Subscribe(r.Context(), userID, hash)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			http.Error(w, "account not found", http.StatusNotFound)
		case errors.Is(err, service.ErrUnauthorized):
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			h.logger.Error("WS_SUBSCRIBE_FAILED", "account_hash", hash, "err", err)
			http.Error(w, "subscribe failed", http.StatusInternalServerError)
		}
		return
	}
	defer h.deliverer.Unsubscribe(conn)

	// 3. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "account_hash", hash, "err", err)
		return
	}
	defer ws.Close()

	go h.readPump(ws, conn)
	h.writePump(ws, conn)
}

// readPump applies client requests until the socket fails, then closes conn so the
// write pump exits too.
func (h *WSHandler) readPump(ws *websocket.Conn, conn registry.Connector) {
	defer conn.Close()

	ws.SetReadLimit(maxClientFrame)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	hash := conn.GetAccountHash()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WS_READ_FAILED", "account_hash", hash, "err", err)
			}
			return
		}

		msg, err := wsmarshaller.UnmarshallClientMessage(data)
		if err != nil {
			h.logger.Debug("CLIENT_MESSAGE_MALFORMED", "account_hash", hash, "err", err)
			continue
		}
		h.deliverer.HandleClientMessage(hash, msg)
	}
}

// [MAIN WS PUMP LOOP] The only writer of ws.
func (h *WSHandler) writePump(ws *websocket.Conn, conn registry.Connector) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			// Replaced by a newer session, closed on shutdown, or the reader failed.
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case msg := <-conn.Outbound():
			data, err := wsmarshaller.MarshallServerMessage(msg)
			if err != nil {
				h.logger.Error("WS_MARSHAL_FAILED", "err", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WS_SEND_FAILED", "account_hash", conn.GetAccountHash(), "err", err)
				return
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
