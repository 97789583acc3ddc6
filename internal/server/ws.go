package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleWebSocket streams debate_state messages for one debate until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	debateID := r.URL.Query().Get("debate_id")
	if debateID == "" {
		http.Error(w, "missing debate_id", http.StatusBadRequest)
		return
	}
	sess, err := s.manager.Get(debateID)
	if err != nil {
		http.Error(w, "debate not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	log := s.log.WithField("debate_id", debateID)
	log.WithField("remote", conn.RemoteAddr().String()).Info("Frontend subscribed")

	updates, cancel := s.manager.Subscribe(debateID)
	defer cancel()

	// replies to client pings are written by the writer goroutine only
	pongs := make(chan struct{}, 4)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		write := func(msg Message) bool {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("Error writing to frontend")
				return false
			}
			return true
		}

		if !write(createMessage("debate_state", sess.State())) {
			return
		}
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				if !write(createMessage("debate_state", u.State)) {
					return
				}
			case <-pongs:
				if !write(createMessage("pong", map[string]string{"server_time": time.Now().Format(time.RFC3339)})) {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("Frontend connection closed unexpectedly")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}

	cancel()
	<-done
	log.Info("Frontend disconnected")
}
