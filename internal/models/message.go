package models

import "encoding/json"

// Client → Server message types
const (
	MsgTypeJoin              = "join"
	MsgTypeNominate          = "nominate"
	MsgTypeRemoveNomination  = "remove_nomination"
	MsgTypeRemoveParticipant = "remove_participant"
	MsgTypeStartVote         = "start_vote"
	MsgTypeSubmitRankings    = "submit_rankings"
	MsgTypeClosePoll         = "close_poll"
	MsgTypeCancelPoll        = "cancel_poll"
	MsgTypeLeavePoll         = "leave_poll"
)

// Server → Client message types
const (
	MsgTypePollUpdated   = "poll_updated"
	MsgTypePollCancelled = "poll_cancelled"
	MsgTypeError         = "error"
)

// ClientMessage is an inbound frame. Payload stays raw until the message type
// is known.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is an outbound frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type NominatePayload struct {
	Text string `json:"text"`
}

type RemoveNominationPayload struct {
	ID string `json:"id"`
}

type RemoveParticipantPayload struct {
	ID string `json:"id"`
}

type SubmitRankingsPayload struct {
	Rankings []string `json:"rankings"`
}

type PollUpdatedPayload struct {
	Poll Snapshot `json:"poll"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
