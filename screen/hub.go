// Package screen receives screen snapshots pushed by the device over a
// websocket and fans them out to in-process subscribers.
package screen

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
}

// Hub keeps the latest ScreenContext and notifies subscribers of every new one.
type Hub struct {
	mu     sync.RWMutex
	latest *models.ScreenContext
	subs   map[uint64]func(*models.ScreenContext)
	nextID uint64
	conns  map[*websocket.Conn]struct{}
	closed bool

	logger *zap.Logger
	now    func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uint64]func(*models.ScreenContext)),
		conns:  make(map[*websocket.Conn]struct{}),
		logger: logger.Named("screen"),
		now:    time.Now,
	}
}

// GetScreenContext returns the most recent snapshot, or nil if the device
// has not reported one yet.
func (h *Hub) GetScreenContext(_ context.Context) *models.ScreenContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return nil
	}
	sc := *h.latest
	return &sc
}

// StartRealtimeMonitoring registers onContext for every future snapshot and
// returns the function that unregisters it. The stop function may be called
// more than once.
func (h *Hub) StartRealtimeMonitoring(onContext func(*models.ScreenContext)) (stop func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = onContext

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish records sc as the latest snapshot and calls every subscriber.
// A context without an ID keeps it empty so its identity stays structural.
// Subscribers run on the caller's goroutine and must not block.
func (h *Hub) Publish(sc models.ScreenContext) {
	if sc.CapturedAt.IsZero() {
		sc.CapturedAt = h.now()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.latest = &sc
	subs := make([]func(*models.ScreenContext), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		event := sc
		fn(&event)
	}
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades a device connection and publishes every ScreenContext
// it sends until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	logger := h.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("Device connected")

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
		logger.Info("Device disconnected")
	}()

	for {
		var sc models.ScreenContext
		if err := conn.ReadJSON(&sc); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Device websocket error", zap.Error(err))
			}
			return
		}
		logger.Debug("Screen context received", zap.String("package", sc.PackageName))
		h.Publish(sc)
	}
}

// Cleanup drops all subscribers and closes device connections. Later
// publishes are ignored.
func (h *Hub) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.subs = make(map[uint64]func(*models.ScreenContext))
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}
