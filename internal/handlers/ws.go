package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/shanehokw/ranker/internal/auth"
	"github.com/shanehokw/ranker/internal/config"
	"github.com/shanehokw/ranker/internal/models"
	"github.com/shanehokw/ranker/internal/security"
	"github.com/shanehokw/ranker/internal/services"
)

// WSHandler is the realtime gateway: it authenticates the connection, joins
// the participant to their poll, and translates inbound frames into
// coordinator calls. Errors go back to the originating connection only;
// successful mutations are broadcast by the coordinator through the hub.
type WSHandler struct {
	hub         *services.Hub
	coordinator *services.Coordinator
	issuer      *auth.Issuer
	origins     *security.OriginValidator
	metrics     *services.Metrics
	log         *slog.Logger
}

func NewWSHandler(hub *services.Hub, coordinator *services.Coordinator, issuer *auth.Issuer, origins *security.OriginValidator, metrics *services.Metrics, log *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:         hub,
		coordinator: coordinator,
		issuer:      issuer,
		origins:     origins,
		metrics:     metrics,
		log:         log.With("component", "ws_gateway"),
	}
}

// HandleWebSocket upgrades GET /polls/ws. The access token rides in the
// "token" query parameter because browsers cannot set headers on WebSocket
// dials.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := h.issuer.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, h.origins.GetAcceptOptions())
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}

	client := services.NewClient(conn, h.hub, claims.PollID, claims.Subject)
	client.Start()
	h.hub.Register(client)

	defer func() {
		// A dropped connection is not a leave: the participant stays in
		// the poll record and may reconnect with the same credential.
		h.hub.Unregister(client)
	}()

	// Joining is idempotent; a reconnect lands here too. Registration has
	// already completed by the time Join broadcasts, so this connection
	// receives its own join snapshot through the ordered fan-out.
	if _, err := h.coordinator.Join(client.Context(), claims.PollID, claims.Subject, claims.Name); err != nil {
		h.sendError(client, err)
		client.Close(websocket.StatusPolicyViolation, "join rejected")
		return
	}

	h.readLoop(client, conn, claims)
}

func (h *WSHandler) readLoop(client *services.Client, conn *websocket.Conn, claims *auth.Claims) {
	for {
		readCtx, cancel := context.WithTimeout(client.Context(), config.PongTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()

		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && client.Context().Err() == nil {
				h.log.Debug("read failed", "pollID", claims.PollID, "error", err)
				h.metrics.IncrementConnectionErrors()
			}
			return
		}

		if !client.AllowMessage() {
			h.metrics.IncrementRateLimitViolations()
			h.sendError(client, services.ValidationFailed("rate limit exceeded, please slow down"))
			continue
		}
		h.metrics.IncrementMessagesReceived()

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(client, services.ValidationFailed("malformed message"))
			continue
		}
		if !security.IsValidMessageType(msg.Type) {
			h.sendError(client, services.ValidationFailed("unknown message type"))
			continue
		}

		h.dispatch(client, claims, &msg)
	}
}

// dispatch routes one inbound frame to the coordinator. Each connection's
// frames are processed in order; cross-connection serialization is the
// coordinator's per-poll critical section.
func (h *WSHandler) dispatch(client *services.Client, claims *auth.Claims, msg *models.ClientMessage) {
	ctx := client.Context()
	pollID := claims.PollID
	userID := claims.Subject

	var err error
	switch msg.Type {
	case models.MsgTypeJoin:
		// The connection already joined on upgrade; an explicit join is an
		// idempotent re-join that rebroadcasts the current poll.
		_, err = h.coordinator.Join(ctx, pollID, userID, claims.Name)

	case models.MsgTypeNominate:
		var payload models.NominatePayload
		if err = json.Unmarshal(msg.Payload, &payload); err != nil {
			err = services.ValidationFailed("nominate payload must have a text field")
			break
		}
		_, err = h.coordinator.Nominate(ctx, pollID, userID, payload.Text)

	case models.MsgTypeRemoveNomination:
		var payload models.RemoveNominationPayload
		if err = json.Unmarshal(msg.Payload, &payload); err != nil || payload.ID == "" {
			err = services.ValidationFailed("remove_nomination payload must have an id field")
			break
		}
		_, err = h.coordinator.RemoveNomination(ctx, pollID, userID, payload.ID)

	case models.MsgTypeRemoveParticipant:
		var payload models.RemoveParticipantPayload
		if err = json.Unmarshal(msg.Payload, &payload); err != nil || payload.ID == "" {
			err = services.ValidationFailed("remove_participant payload must have an id field")
			break
		}
		_, err = h.coordinator.RemoveParticipant(ctx, pollID, userID, payload.ID)

	case models.MsgTypeStartVote:
		_, err = h.coordinator.StartVote(ctx, pollID, userID)

	case models.MsgTypeSubmitRankings:
		var payload models.SubmitRankingsPayload
		if err = json.Unmarshal(msg.Payload, &payload); err != nil {
			err = services.ValidationFailed("submit_rankings payload must have a rankings field")
			break
		}
		_, err = h.coordinator.SubmitRankings(ctx, pollID, userID, payload.Rankings)

	case models.MsgTypeClosePoll:
		_, err = h.coordinator.ClosePoll(ctx, pollID, userID)

	case models.MsgTypeCancelPoll:
		err = h.coordinator.CancelPoll(ctx, pollID, userID)

	case models.MsgTypeLeavePoll:
		err = h.coordinator.Leave(ctx, pollID, userID)
	}

	if err != nil {
		h.sendError(client, err)
		return
	}

	// Leaving (or cancelling) ends this connection's session; the hub has
	// already handled everyone else.
	if msg.Type == models.MsgTypeLeavePoll || msg.Type == models.MsgTypeCancelPoll {
		client.Close(websocket.StatusNormalClosure, "left poll")
	}
}

func (h *WSHandler) sendError(client *services.Client, err error) {
	h.hub.SendToClient(client, &models.ServerMessage{
		Type: models.MsgTypeError,
		Payload: models.ErrorPayload{
			Type:    string(services.TypeOf(err)),
			Message: services.ClientMessageOf(err),
		},
	})
}
