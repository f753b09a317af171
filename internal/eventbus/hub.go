package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/matthewbaird/rentflow/internal/event"
)

// subscriberBuffer bounds the messages queued for one slow socket.
const subscriberBuffer = 64

// Message is the envelope pushed to dashboard sockets.
type Message struct {
	Type string `json:"type"` // "hello", "event", "notification", "pong"
	Data any    `json:"data,omitempty"`
}

// EventData is the payload of "event" and "notification" messages.
type EventData struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Summary    string          `json:"summary"`
	Category   string          `json:"category"`
	Stale      []string        `json:"stale,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type subscriber struct {
	agencyID string
	msgs     chan Message
}

// Hub pushes committed domain events to the websocket clients of the
// agency that owns them, so dashboards can refresh their stale views.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// HandleEvent implements Handler.
func (h *Hub) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	msgType := "event"
	if evt.EventType == "notification_created" {
		msgType = "notification"
	}
	msg := Message{Type: msgType, Data: EventData{
		EventID:    evt.ID,
		EventType:  evt.EventType,
		OccurredAt: evt.OccurredAt,
		Summary:    evt.Summary,
		Category:   evt.Category,
		Stale:      evt.Stale,
		Payload:    evt.Payload,
	}}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[evt.AgencyID] {
		select {
		case s.msgs <- msg:
		default:
			log.Printf("hub: subscriber queue full for agency %s, dropping %s", s.agencyID, evt.EventType)
		}
	}
	return nil
}

// Subscribers returns the number of open sockets for an agency.
func (h *Hub) Subscribers(agencyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[agencyID])
}

func (h *Hub) add(agencyID string) *subscriber {
	s := &subscriber{agencyID: agencyID, msgs: make(chan Message, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[agencyID] == nil {
		h.subs[agencyID] = make(map[*subscriber]struct{})
	}
	h.subs[agencyID][s] = struct{}{}
	return s
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[s.agencyID], s)
	if len(h.subs[s.agencyID]) == 0 {
		delete(h.subs, s.agencyID)
	}
}

// Serve upgrades the request to a websocket and streams the agency's events
// until the client goes away. The caller has already authenticated the
// request and resolved agencyID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, agencyID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("hub: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	sub := h.add(agencyID)
	defer h.remove(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: answers pings and notices the client closing.
	go func() {
		defer cancel()
		for {
			var msg Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					log.Printf("hub: read: %v", err)
				}
				return
			}
			if msg.Type == "ping" {
				select {
				case sub.msgs <- Message{Type: "pong"}:
				default:
				}
			}
		}
	}()

	if err := h.write(ctx, conn, Message{Type: "hello", Data: map[string]string{"agency_id": agencyID}}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-sub.msgs:
			if err := h.write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
