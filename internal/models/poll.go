package models

// Participants maps a participant ID to that participant's display name.
type Participants map[string]string

// Nomination is a candidate option proposed during the lobby phase.
// Order is a per-poll monotonic sequence assigned when the nomination is
// created; the aggregator uses it to break score ties, since the nominations
// map itself carries no ordering once serialized.
type Nomination struct {
	UserID string `json:"userID"`
	Text   string `json:"text"`
	Order  int    `json:"order"`
}

// Nominations maps a nomination ID to the nomination itself.
type Nominations map[string]Nomination

// Rankings maps a participant ID to that participant's ordered ballot of
// nomination IDs. Ballots are secret: they are persisted but never broadcast.
type Rankings map[string][]string

// Result is one entry of the final tally.
type Result struct {
	NominationID   string `json:"nominationID"`
	NominationText string `json:"nominationText"`
	Score          int    `json:"score"`
}

// Poll is the aggregate root, one per session code.
type Poll struct {
	ID            string       `json:"id"`
	Topic         string       `json:"topic"`
	VotesPerVoter int          `json:"votesPerVoter"`
	Participants  Participants `json:"participants"`
	AdminID       string       `json:"adminID"`
	Nominations   Nominations  `json:"nominations"`
	Rankings      Rankings     `json:"rankings"`
	Results       []Result     `json:"results"`
	HasStarted    bool         `json:"hasStarted"`
}

// Phase is the poll's lifecycle state, derived from HasStarted and Results.
// A nil Results slice means the poll was never closed; a non-nil (possibly
// empty) slice is a published tally, so closing with zero ballots still
// transitions to Closed. A deleted poll has no phase; callers see a not-found
// error instead.
type Phase string

const (
	PhaseLobby  Phase = "lobby"
	PhaseVoting Phase = "voting"
	PhaseClosed Phase = "closed"
)

func (p *Poll) Phase() Phase {
	switch {
	case !p.HasStarted:
		return PhaseLobby
	case p.Results == nil:
		return PhaseVoting
	default:
		return PhaseClosed
	}
}

// IsClosed reports whether the tally has been published.
func (p *Poll) IsClosed() bool {
	return p.Results != nil
}

func (p *Poll) IsAdmin(participantID string) bool {
	return participantID != "" && participantID == p.AdminID
}

func (p *Poll) HasParticipant(participantID string) bool {
	_, ok := p.Participants[participantID]
	return ok
}

// NextNominationOrder returns the order value for the next nomination.
// Orders are never reused even after removals, so ties always break on true
// creation order.
func (p *Poll) NextNominationOrder() int {
	max := 0
	for _, n := range p.Nominations {
		if n.Order > max {
			max = n.Order
		}
	}
	return max + 1
}

// Snapshot is the wire shape broadcast to subscribers. It mirrors Poll except
// that individual ballots are replaced by an aggregate vote count, keeping
// ballot contents server-side until the tally is published.
type Snapshot struct {
	ID            string       `json:"id"`
	Topic         string       `json:"topic"`
	VotesPerVoter int          `json:"votesPerVoter"`
	Participants  Participants `json:"participants"`
	AdminID       string       `json:"adminID"`
	Nominations   Nominations  `json:"nominations"`
	VotesCast     int          `json:"votesCast"`
	Results       []Result     `json:"results"`
	HasStarted    bool         `json:"hasStarted"`
}

func (p *Poll) Snapshot() Snapshot {
	return Snapshot{
		ID:            p.ID,
		Topic:         p.Topic,
		VotesPerVoter: p.VotesPerVoter,
		Participants:  p.Participants,
		AdminID:       p.AdminID,
		Nominations:   p.Nominations,
		VotesCast:     len(p.Rankings),
		Results:       p.Results,
		HasStarted:    p.HasStarted,
	}
}
