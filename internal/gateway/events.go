package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/syntrixbase/syntrix-offline/internal/cache"
	"github.com/syntrixbase/syntrix-offline/internal/replication"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512

	sendBuffer = 256
)

var allEvents = []replication.EventName{
	replication.EventChange,
	replication.EventUpToDate,
	replication.EventError,
	replication.EventComplete,
}

// EventMessage is the websocket frame for one replication event.
type EventMessage struct {
	Event       replication.EventName `json:"event"`
	ID          string                `json:"id,omitempty"`
	Deleted     bool                  `json:"deleted,omitempty"`
	Document    *model.Document       `json:"doc,omitempty"`
	DocsWritten int64                 `json:"docs_written"`
	Error       string                `json:"error,omitempty"`
}

func newEventMessage(info replication.Info) EventMessage {
	msg := EventMessage{
		Event:       info.Event,
		ID:          info.ID,
		Deleted:     info.Deleted,
		Document:    info.Document,
		DocsWritten: info.DocsWritten,
	}
	if info.Err != nil {
		msg.Error = info.Err.Error()
	}
	return msg
}

// eventHub fans replication events out to websocket clients.
type eventHub struct {
	clients  *xsync.MapOf[*eventClient, struct{}]
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type eventClient struct {
	conn   *websocket.Conn
	send   chan EventMessage
	events map[replication.EventName]bool
	done   chan struct{}
	once   sync.Once
}

func newEventHub(logger *slog.Logger, originAllowed func(string) bool) *eventHub {
	return &eventHub{
		clients: xsync.NewMapOf[*eventClient, struct{}](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin)
			},
		},
		logger: logger,
	}
}

// watch registers the hub on the router's active replication.
func (h *eventHub) watch(router *cache.Router) error {
	for _, name := range allEvents {
		if err := router.On(name, h.broadcast); err != nil {
			return err
		}
	}
	return nil
}

// broadcast runs on the replication goroutine and never blocks: clients
// whose buffer is full miss the event.
func (h *eventHub) broadcast(info replication.Info) {
	msg := newEventMessage(info)
	h.clients.Range(func(c *eventClient, _ struct{}) bool {
		if !c.events[info.Event] {
			return true
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping replication event for slow client", "event", info.Event)
		}
		return true
	})
}

func (h *eventHub) close() {
	h.clients.Range(func(c *eventClient, _ struct{}) bool {
		c.stop()
		return true
	})
}

func (c *eventClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// parseEventFilter parses ?events=change,error. Empty means every event.
func parseEventFilter(raw string) (map[replication.EventName]bool, error) {
	filter := make(map[replication.EventName]bool, len(allEvents))
	if raw == "" {
		for _, name := range allEvents {
			filter[name] = true
		}
		return filter, nil
	}
	for _, part := range strings.Split(raw, ",") {
		name, err := replication.ParseEventName(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		filter[name] = true
	}
	return filter, nil
}

// handleReplicationEvents upgrades to a websocket that streams replication
// events until either side closes.
func (s *Server) handleReplicationEvents(w http.ResponseWriter, r *http.Request) {
	if !s.router.Replicating() {
		s.writeModelError(w, r, model.ErrNoReplication)
		return
	}
	filter, err := parseEventFilter(r.URL.Query().Get("events"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	conn, err := s.events.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &eventClient{
		conn:   conn,
		send:   make(chan EventMessage, sendBuffer),
		events: filter,
		done:   make(chan struct{}),
	}
	s.events.clients.Store(c, struct{}{})
	s.logger.Info("Replication event client connected", "clients", s.events.clients.Size())

	go s.events.writePump(c)
	s.events.readPump(c)
}

// readPump consumes control frames until the connection fails.
func (h *eventHub) readPump(c *eventClient) {
	defer func() {
		h.clients.Delete(c)
		c.stop()
		h.logger.Info("Replication event client disconnected")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (h *eventHub) writePump(c *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.logger.Debug("WebSocket write failed", "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
