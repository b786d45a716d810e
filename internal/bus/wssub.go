package bus

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket subscriber — delivers broadcast events to a connected client
// ---------------------------------------------------------------------------

const wsWriteTimeout = 5 * time.Second

// WSSubscriber adapts a websocket connection to the Subscriber interface.
// Writes carry a deadline so a stalled client surfaces as a delivery error
// and gets dropped by the broadcaster.
type WSSubscriber struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSubscriber wraps an established websocket connection.
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{
		id:   uuid.New().String(),
		conn: conn,
	}
}

func (s *WSSubscriber) ID() string { return s.id }

// Deliver writes the event as a JSON text message with a write deadline.
func (s *WSSubscriber) Deliver(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// WSHandler returns an http.HandlerFunc that upgrades connections and
// registers them as broadcast subscribers. The read loop only detects
// disconnects; clients are not expected to send anything.
func WSHandler(b *Broadcaster) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("broadcast: websocket upgrade failed")
			return
		}

		sub := NewWSSubscriber(conn)
		b.Subscribe(sub)
		log.Info().Str("subscriber", sub.ID()).Str("remote", r.RemoteAddr).
			Msg("broadcast: websocket client connected")

		go func() {
			defer b.Unsubscribe(sub.ID())
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
