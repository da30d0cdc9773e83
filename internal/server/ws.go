package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"weave/internal/canvas"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// canvasSocket upgrades the request and hands the connection to the fabric.
// The read loop feeds client frames (acks, mostly) back in; any read error
// releases the connection.
func (s *Server) canvasSocket(c *gin.Context) {
	workflowID := c.Param("id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade for %s: %v", workflowID, err)
		return
	}
	conn := canvas.NewWSConn(c.Query("client_id"), ws)

	snapshot, _ := s.deps.Workflows.Get(c.Request.Context(), workflowID)
	sendInitial := c.DefaultQuery("send_initial_state", "true") == "true"
	if err := s.deps.Fabric.Subscribe(workflowID, conn, snapshot, sendInitial); err != nil {
		s.logger.Warn("canvas subscribe %s/%s: %v", workflowID, conn.ID(), err)
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			s.deps.Fabric.Unsubscribe(workflowID, conn.ID())
			return
		}
		if err := s.deps.Fabric.HandleInbound(conn.ID(), raw); err != nil {
			s.logger.Debug("canvas inbound from %s: %v", conn.ID(), err)
		}
	}
}
