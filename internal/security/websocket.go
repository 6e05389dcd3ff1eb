package security

import (
	"github.com/coder/websocket"

	"github.com/shanehokw/ranker/internal/models"
)

// WebSocket message type validation
var validMessageTypes = map[string]bool{
	models.MsgTypeJoin:              true,
	models.MsgTypeNominate:          true,
	models.MsgTypeRemoveNomination:  true,
	models.MsgTypeRemoveParticipant: true,
	models.MsgTypeStartVote:         true,
	models.MsgTypeSubmitRankings:    true,
	models.MsgTypeClosePoll:         true,
	models.MsgTypeCancelPoll:        true,
	models.MsgTypeLeavePoll:         true,
}

// IsValidMessageType checks if a WebSocket message type is valid
func IsValidMessageType(msgType string) bool {
	return validMessageTypes[msgType]
}

// OriginValidator validates WebSocket connection origins
type OriginValidator struct {
	allowedPatterns []string
}

// NewOriginValidator creates a new origin validator
func NewOriginValidator(patterns []string) *OriginValidator {
	return &OriginValidator{
		allowedPatterns: patterns,
	}
}

// GetAcceptOptions returns websocket.AcceptOptions with origin patterns
func (ov *OriginValidator) GetAcceptOptions() *websocket.AcceptOptions {
	return &websocket.AcceptOptions{
		OriginPatterns: ov.allowedPatterns,
	}
}
