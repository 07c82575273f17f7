package console

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bulsupms/pmsinbox/internal/auth"
	"github.com/bulsupms/pmsinbox/internal/httpx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The console is served on a local address.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterWS mounts GET /ws, a feed of inbox snapshots. Browsers pass the
// console token as ?token=.
func RegisterWS(rg *gin.RouterGroup, hub *Hub, jwtSecret string) {
	rg.GET("/ws", func(c *gin.Context) {
		claims, err := auth.Authenticate(c, jwtSecret)
		if err != nil {
			httpx.Err(c, http.StatusUnauthorized, err.Error())
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Debug("websocket upgrade failed", "err", err)
			return
		}

		viewer := &Client{
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, 8),
			Operator: claims.Email,
		}
		select {
		case hub.register <- viewer:
		case <-hub.done:
			conn.Close()
			return
		}

		go viewer.writePump()
		go viewer.readPump()
	})
}
