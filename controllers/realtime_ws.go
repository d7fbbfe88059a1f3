package controller

import (
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"leadline/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// HandleRealtimeWS serves one dashboard realtime session. The client's first
// frame declares its topics, e.g. {"topics": ["conversations"]} for the
// inbox list or {"topics": ["messages:42"]} for one thread; change events
// are then pushed until the client disconnects or falls behind. A client
// that reconnects must re-fetch full state first: the hub does not replay.
func HandleRealtimeWS(hub *realtime.Hub, logger *log.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			Topics []string `json:"topics"`
		}
		if err := c.ReadJSON(&input); err != nil {
			logger.Printf("realtime: failed to read subscribe frame: %v", err)
			return
		}
		if len(input.Topics) == 0 {
			input.Topics = []string{realtime.TopicConversations}
		}

		sub := hub.Subscribe(input.Topics...)
		defer sub.Close()

		// Reader goroutine: its only job is to notice the peer going away.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					// Evicted as a slow consumer; the client reconnects
					// and re-fetches.
					return
				}
				c.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := c.WriteJSON(ev); err != nil {
					logger.Printf("realtime: write failed: %v", err)
					return
				}
			case <-ping.C:
				c.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}
