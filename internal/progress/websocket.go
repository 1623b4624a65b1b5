package progress

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is the frame written to websocket clients
type Event struct {
	Event string `json:"event"`
	Data  Update `json:"data"`
}

// Handler upgrades the request and streams updates until the client leaves.
// ?job_id=X restricts the stream to one job.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("failed to upgrade websocket", map[string]interface{}{"error": err})
			return
		}
		defer conn.Close()

		jobID := r.URL.Query().Get("job_id")
		sub := h.Subscribe(jobID, DefaultBuffer)
		defer h.Unsubscribe(sub)

		h.logger.Info("progress client connected", map[string]interface{}{"job_id": jobID, "remote": r.RemoteAddr})

		// Reader drains control frames and notices disconnects.
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				h.logger.Info("progress client disconnected", map[string]interface{}{"job_id": jobID})
				return
			case u, ok := <-sub.C:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(Event{Event: "progress", Data: u}); err != nil {
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
}
