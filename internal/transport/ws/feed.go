// Package ws bridges the redis violation channel to websocket clients so
// dashboards see violations the moment the engine emits them.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleet-telemetry/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is consumed by operator dashboards on other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type ViolationFeed struct {
	redis *store.RedisStore
}

func NewViolationFeed(redis *store.RedisStore) *ViolationFeed {
	return &ViolationFeed{redis: redis}
}

// HandleFeed upgrades the connection and pumps the fleet's violation channel
// to the client until either side goes away.
func (f *ViolationFeed) HandleFeed(w http.ResponseWriter, r *http.Request) {
	fleetID := r.URL.Query().Get("fleet")
	if fleetID == "" {
		http.Error(w, "fleet query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := f.redis.SubscribeViolations(ctx, fleetID)
	defer sub.Close()

	// Reader goroutine exists only to notice the client closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
