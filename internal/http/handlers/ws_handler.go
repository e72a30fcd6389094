package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/auth"
	"github.com/swap-desk/backend/internal/events"
	"github.com/swap-desk/backend/internal/metrics"
	"go.uber.org/zap"
)

// WSHub fans swap events out to websocket clients. Every authenticated
// client receives every market event.
type WSHub struct {
	secret      string
	subscriber  events.Subscriber
	metrics     *metrics.HTTPMetrics
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[common.Address][]*websocket.Conn
}

func NewWSHub(secret string, subscriber events.Subscriber, m *metrics.HTTPMetrics, log *zap.Logger) *WSHub {
	return &WSHub{
		secret:      secret,
		subscriber:  subscriber,
		metrics:     m,
		log:         log,
		connections: make(map[common.Address][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.SwapStream, func(event events.Event) {
		h.broadcast(event)
	})
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.connections {
		for _, conn := range conns {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// Connections reports how many sockets are open.
func (h *WSHub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := strings.TrimSpace(conn.Query("token"))
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.secret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	addr := claims.Caller()
	h.register(addr, conn)
	defer h.unregister(addr, conn)

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *WSHub) register(addr common.Address, conn *websocket.Conn) {
	h.mu.Lock()
	h.connections[addr] = append(h.connections[addr], conn)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.log.Debug("ws connected", zap.String("address", addr.Hex()))
}

func (h *WSHub) unregister(addr common.Address, conn *websocket.Conn) {
	h.mu.Lock()
	conns := h.connections[addr]
	for i, c := range conns {
		if c == conn {
			h.connections[addr] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[addr]) == 0 {
		delete(h.connections, addr)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	conn.Close()
}
