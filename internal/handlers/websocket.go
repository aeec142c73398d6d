package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roomhub/groupcall/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin filtering happens in middleware
		return true
	},
}

// Signaling upgrades the connection and hands it to the signaling router.
// Joining a room happens in-band via the joinRoom message.
func Signaling(router *signaling.Router, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnw("websocket upgrade failed", "error", err)
			return
		}
		// The connection outlives the HTTP request.
		router.Serve(context.Background(), conn)
	}
}
