package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shanehokw/ranker/internal/auth"
	"github.com/shanehokw/ranker/internal/models"
	"github.com/shanehokw/ranker/internal/security"
	"github.com/shanehokw/ranker/internal/services"
)

// PollHandlers serves the REST endpoints that bootstrap a session: create,
// join, rejoin. Everything after that happens over the WebSocket gateway.
type PollHandlers struct {
	coordinator *services.Coordinator
	issuer      *auth.Issuer
	log         *slog.Logger
}

func NewPollHandlers(coordinator *services.Coordinator, issuer *auth.Issuer, log *slog.Logger) *PollHandlers {
	return &PollHandlers{
		coordinator: coordinator,
		issuer:      issuer,
		log:         log.With("component", "poll_handlers"),
	}
}

type createPollRequest struct {
	Topic         string `json:"topic" binding:"required"`
	VotesPerVoter int    `json:"votesPerVoter" binding:"required"`
	Name          string `json:"name" binding:"required"`
}

type joinPollRequest struct {
	PollID string `json:"pollID" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

type pollResponse struct {
	Poll        models.Snapshot `json:"poll"`
	AccessToken string          `json:"accessToken,omitempty"`
}

// CreatePoll handles POST /polls. The creator becomes the admin and receives
// a credential bound to the new poll.
func (h *PollHandlers) CreatePoll(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic, votesPerVoter and name are required"})
		return
	}

	poll, userID, err := h.coordinator.CreatePoll(c.Request.Context(), services.CreatePollParams{
		Topic:         req.Topic,
		VotesPerVoter: req.VotesPerVoter,
		Name:          req.Name,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.issuer.Sign(poll.ID, userID, strings.TrimSpace(req.Name))
	if err != nil {
		h.log.Error("failed to sign token", "pollID", poll.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credential"})
		return
	}

	c.JSON(http.StatusCreated, pollResponse{
		Poll:        poll.Snapshot(),
		AccessToken: token,
	})
}

// JoinPoll handles POST /polls/join. It validates the poll and issues a
// credential; the participant entry itself is written when the client
// connects and joins over the gateway.
func (h *PollHandlers) JoinPoll(c *gin.Context) {
	var req joinPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pollID and name are required"})
		return
	}

	pollID := strings.ToUpper(strings.TrimSpace(req.PollID))
	if err := security.ValidatePollID(pollID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name, err := security.ValidateParticipantName(req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	poll, err := h.coordinator.GetPoll(c.Request.Context(), pollID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if poll.HasStarted {
		c.JSON(http.StatusConflict, gin.H{"error": "voting has already started, new participants cannot join"})
		return
	}

	token, err := h.issuer.Sign(pollID, services.NewParticipantID(), name)
	if err != nil {
		h.log.Error("failed to sign token", "pollID", pollID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credential"})
		return
	}

	c.JSON(http.StatusOK, pollResponse{
		Poll:        poll.Snapshot(),
		AccessToken: token,
	})
}

// RejoinPoll handles POST /polls/rejoin. A participant presenting a valid
// credential gets the current poll back; useful after a page refresh.
func (h *PollHandlers) RejoinPoll(c *gin.Context) {
	claims, ok := h.bearerClaims(c)
	if !ok {
		return
	}

	poll, err := h.coordinator.GetPoll(c.Request.Context(), claims.PollID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pollResponse{Poll: poll.Snapshot()})
}

func (h *PollHandlers) bearerClaims(c *gin.Context) (*auth.Claims, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return nil, false
	}

	claims, err := h.issuer.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	return claims, true
}

func (h *PollHandlers) respondError(c *gin.Context, err error) {
	var status int
	switch services.TypeOf(err) {
	case services.ErrTypeNotFound:
		status = http.StatusNotFound
	case services.ErrTypeUnauthorized:
		status = http.StatusForbidden
	case services.ErrTypePhaseConflict:
		status = http.StatusConflict
	case services.ErrTypeValidationFailed:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	var domainErr *services.Error
	if !errors.As(err, &domainErr) {
		h.log.Error("unclassified handler error", "error", err)
	}

	c.JSON(status, gin.H{"error": services.ClientMessageOf(err)})
}
