package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterFeedRoutes streams bus events to dashboards over a websocket.
// Clients refetch the affected resource when an event arrives.
func RegisterFeedRoutes(r *gin.Engine, deps Dependencies) {
	r.GET("/ws", func(c *gin.Context) {
		events, cancel := deps.Bus.Subscribe(64)
		defer cancel()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WEB: Websocket upgrade failed: %v", err)
			return
		}
		defer ws.Close()
		log.Printf("WEB: Websocket client %s connected", c.ClientIP())

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			ws.SetReadDeadline(time.Now().Add(pongWait))
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				log.Printf("WEB: Websocket client %s disconnected", c.ClientIP())
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					log.Printf("WEB: Websocket write failed: %v", err)
					return
				}
			case <-ping.C:
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
