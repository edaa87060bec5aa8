package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"strategy-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope tags bus payloads with their topic for the feed.
type envelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// websocket streams engine events to the connected client. One merged
// feed; slow clients drop the connection, not the engines, because the
// bus publishes non-blocking.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	topics := []events.Topic{
		events.TopicSignal,
		events.TopicOrderPlaced,
		events.TopicOrderRejected,
		events.TopicFill,
		events.TopicPositionOpened,
		events.TopicPositionClosed,
		events.TopicStreamChange,
	}

	merged := make(chan envelope, 256)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range topics {
		ch, unsub := s.bus.Subscribe(topic, 64)
		defer unsub()
		go func(topic events.Topic, ch <-chan any) {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- envelope{Topic: string(topic), Payload: msg}:
					default:
					}
				}
			}
		}(topic, ch)
	}

	for ev := range merged {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug("ws client gone", zap.Error(err))
			return
		}
	}
}
