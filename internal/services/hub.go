package services

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/shanehokw/ranker/internal/config"
	"github.com/shanehokw/ranker/internal/models"
)

// Hub tracks which connections are subscribed to which poll and fans server
// messages out to them. Broadcasts, kicks and cancellations flow through a
// single event channel consumed by Run, so subscribers of one poll always see
// events in the order the corresponding mutations were committed.
type Hub struct {
	// Poll connections: pollID -> set of clients
	polls map[string]map[*Client]bool

	events     chan *hubEvent
	register   chan *Client
	unregister chan *Client

	metrics *Metrics
	log     *slog.Logger
	mu      sync.RWMutex
}

type eventKind int

const (
	eventBroadcast eventKind = iota
	eventKick
	eventCancel
)

type hubEvent struct {
	kind          eventKind
	pollID        string
	participantID string
	message       *models.ServerMessage
}

func NewHub(metrics *Metrics, log *slog.Logger) *Hub {
	return &Hub{
		polls:      make(map[string]map[*Client]bool),
		events:     make(chan *hubEvent, config.HubBroadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		metrics:    metrics,
		log:        log.With("component", "hub"),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case ev := <-h.events:
			switch ev.kind {
			case eventBroadcast:
				h.broadcastToPoll(ev.pollID, ev.message)
			case eventKick:
				h.kickParticipant(ev.pollID, ev.participantID)
			case eventCancel:
				h.cancelPoll(ev.pollID)
			}
		}
	}
}

// Register subscribes a client to its poll.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister drops a client from its poll. The participant stays in the poll
// record; a dropped connection is not a leave.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastPoll sends the canonical snapshot to every subscriber of a poll.
func (h *Hub) BroadcastPoll(pollID string, snapshot models.Snapshot) {
	h.events <- &hubEvent{
		kind:   eventBroadcast,
		pollID: pollID,
		message: &models.ServerMessage{
			Type:    models.MsgTypePollUpdated,
			Payload: models.PollUpdatedPayload{Poll: snapshot},
		},
	}
}

// KickParticipant force-disconnects every connection a participant holds on a
// poll. Queued after the removal broadcast so the kicked participant sees the
// updated poll before the close.
func (h *Hub) KickParticipant(pollID, participantID string) {
	h.events <- &hubEvent{
		kind:          eventKick,
		pollID:        pollID,
		participantID: participantID,
	}
}

// CancelPoll notifies every subscriber that the poll is gone, then
// disconnects them all.
func (h *Hub) CancelPoll(pollID string) {
	h.events <- &hubEvent{
		kind:   eventCancel,
		pollID: pollID,
	}
}

// SendToClient delivers a message to one connection only. Used for error
// replies, which are never broadcast.
func (h *Hub) SendToClient(client *Client, message *models.ServerMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal message", "error", err)
		return
	}
	if client.Send(data) {
		h.metrics.IncrementMessagesSent()
	}
}

// GetMetrics returns a snapshot of hub metrics.
func (h *Hub) GetMetrics() MetricsSnapshot {
	return h.metrics.Snapshot()
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.polls[client.pollID] == nil {
		h.polls[client.pollID] = make(map[*Client]bool)
		h.metrics.IncrementPolls()
	}
	h.polls[client.pollID][client] = true
	h.metrics.IncrementConnections()

	h.log.Debug("client registered",
		"pollID", client.pollID,
		"participantID", client.participantID,
		"subscribers", len(h.polls[client.pollID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.polls[client.pollID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	delete(clients, client)
	client.Close(websocket.StatusNormalClosure, "")
	h.metrics.DecrementConnections()

	if len(clients) == 0 {
		delete(h.polls, client.pollID)
		h.metrics.DecrementPolls()
	}
}

func (h *Hub) broadcastToPoll(pollID string, message *models.ServerMessage) {
	clients := h.subscribers(pollID)
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal broadcast", "pollID", pollID, "error", err)
		return
	}

	h.log.Debug("broadcasting", "pollID", pollID, "type", message.Type, "subscribers", len(clients))

	for _, client := range clients {
		if client.Send(data) {
			h.metrics.IncrementMessagesSent()
		} else {
			h.metrics.IncrementBroadcastErrors()
		}
	}
}

func (h *Hub) kickParticipant(pollID, participantID string) {
	for _, client := range h.subscribers(pollID) {
		if client.participantID == participantID {
			client.Close(websocket.StatusNormalClosure, "removed from poll")
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) cancelPoll(pollID string) {
	clients := h.subscribers(pollID)
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(&models.ServerMessage{Type: models.MsgTypePollCancelled})
	if err != nil {
		h.log.Error("failed to marshal cancellation", "pollID", pollID, "error", err)
		return
	}

	for _, client := range clients {
		client.Send(data)
	}
	for _, client := range clients {
		client.Close(websocket.StatusNormalClosure, "poll cancelled")
		h.unregisterClient(client)
	}
}

// subscribers returns a stable copy of a poll's client set so callers can
// iterate without holding the hub lock.
func (h *Hub) subscribers(pollID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.polls[pollID]))
	for client := range h.polls[pollID] {
		clients = append(clients, client)
	}
	return clients
}
