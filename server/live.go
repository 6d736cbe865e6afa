package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"webforge/projects"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// liveMessage is one frame of the project feed.
type liveMessage struct {
	Projects []projects.Project `json:"projects"`
	Current  *projects.Project  `json:"current,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.origins) == 0 {
				return true
			}
			for _, o := range s.origins {
				if o == origin || o == "*" {
					return true
				}
			}
			return false
		},
	}
}

// handleLive streams the dashboard's project list after every change.
func (s *Server) handleLive(c *gin.Context) {
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered the request.
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.readPump(conn, cancel)
	s.writePump(conn, s.dashboard.Watch(ctx))
}

// readPump only handles control frames; it cancels the feed when the peer
// goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, lists <-chan []projects.Project) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case list, ok := <-lists:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			msg := liveMessage{Projects: list}
			if cur, open := s.dashboard.Current(); open {
				msg.Current = &cur
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
