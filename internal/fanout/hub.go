// Package fanout delivers committed auction events to live observers.
//
// The Hub holds per-auction sets of websocket sessions and pushes each
// event to every session watching that auction. Delivery is best effort:
// a session whose send buffer is full is evicted rather than allowed to
// block the rest, and clients reconcile by re-reading the snapshot.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkrogh/auctiond/internal/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans auction events out to websocket subscribers. It implements
// event.Publisher so the arbitration engine can hand it committed events
// directly when no external broker is configured.
type Hub struct {
	logger *slog.Logger

	register   chan *session
	unregister chan *session
	broadcast  chan frame
	counts     chan countReq
	stopped    chan struct{}
}

// frame is one serialized event bound for every watcher of an auction.
type frame struct {
	auctionID string
	payload   []byte
}

type countReq struct {
	auctionID string
	reply     chan int
}

type session struct {
	id        string
	auctionID string
	conn      *websocket.Conn
	send      chan []byte
}

// NewHub returns a Hub. Run must be started before sessions attach.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *session),
		unregister: make(chan *session),
		broadcast:  make(chan frame, 256),
		counts:     make(chan countReq),
		stopped:    make(chan struct{}),
	}
}

// Run owns the subscriber table and serializes all membership changes and
// broadcasts. It returns when ctx is cancelled, closing every session and
// releasing any goroutine still trying to register or unregister.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	sessions := make(map[string]map[*session]struct{})

	for {
		select {
		case <-ctx.Done():
			for _, set := range sessions {
				for s := range set {
					close(s.send)
					s.conn.Close()
				}
			}
			return

		case s := <-h.register:
			set, ok := sessions[s.auctionID]
			if !ok {
				set = make(map[*session]struct{})
				sessions[s.auctionID] = set
			}
			set[s] = struct{}{}
			h.logger.DebugContext(ctx, "websocket session attached",
				"session_id", s.id, "auction_id", s.auctionID)

		case s := <-h.unregister:
			if set, ok := sessions[s.auctionID]; ok {
				if _, ok := set[s]; ok {
					delete(set, s)
					if len(set) == 0 {
						delete(sessions, s.auctionID)
					}
					close(s.send)
				}
			}
			s.conn.Close()
			h.logger.DebugContext(ctx, "websocket session detached",
				"session_id", s.id, "auction_id", s.auctionID)

		case f := <-h.broadcast:
			for s := range sessions[f.auctionID] {
				select {
				case s.send <- f.payload:
				default:
					// Slow consumer; drop it rather than stall the rest.
					delete(sessions[f.auctionID], s)
					close(s.send)
					s.conn.Close()
					h.logger.WarnContext(ctx, "evicting slow websocket session",
						"session_id", s.id, "auction_id", s.auctionID)
				}
			}

		case req := <-h.counts:
			req.reply <- len(sessions[req.auctionID])
		}
	}
}

// Publish implements event.Publisher. The event is serialized once and
// queued for every watcher of its auction. If the broadcast queue is full
// the event is dropped; observers are a read model, not a ledger.
func (h *Hub) Publish(ctx context.Context, e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.ErrorContext(ctx, "marshaling event for fanout", "error", err)
		return
	}
	h.Broadcast(ctx, e.AuctionID, payload)
}

// Broadcast queues an already-serialized payload for every watcher of the
// auction. It never blocks.
func (h *Hub) Broadcast(ctx context.Context, auctionID string, payload []byte) {
	select {
	case h.broadcast <- frame{auctionID: auctionID, payload: payload}:
	default:
		h.logger.WarnContext(ctx, "fanout queue full, dropping event",
			"auction_id", auctionID)
	}
}

// SubscriberCount returns how many sessions watch the auction.
func (h *Hub) SubscriberCount(auctionID string) int {
	req := countReq{auctionID: auctionID, reply: make(chan int, 1)}
	h.counts <- req
	return <-req.reply
}

// ServeWS upgrades the request to a websocket and attaches the connection
// as a watcher of the given auction until the peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, auctionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"auction_id", auctionID, "error", err)
		return
	}

	s := &session{
		id:        uuid.New().String(),
		auctionID: auctionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- s:
	case <-h.stopped:
		// Upgraded after shutdown; nobody will ever serve this session.
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go s.writePump()
	go s.readPump(h)
}

// writePump drains the send buffer to the connection and keeps it alive
// with periodic pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames. Its job is to notice the peer closing
// the connection and to answer pongs so the read deadline keeps sliding.
func (s *session) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.stopped:
		}
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
