package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shanehokw/ranker/internal/models"
	"github.com/shanehokw/ranker/internal/repository"
	"github.com/shanehokw/ranker/internal/security"
)

// Broadcaster is what the coordinator needs from the realtime layer. The Hub
// implements it; tests substitute a recorder.
type Broadcaster interface {
	// BroadcastPoll delivers the canonical snapshot to every subscriber.
	BroadcastPoll(pollID string, snapshot models.Snapshot)
	// KickParticipant force-disconnects one participant's connections.
	KickParticipant(pollID, participantID string)
	// CancelPoll notifies subscribers of termination and disconnects them.
	CancelPoll(pollID string)
}

// Coordinator validates and sequences every participant action against the
// current poll phase, drives the repository and aggregator, and decides what
// to broadcast. All mutations of one poll run inside a per-poll critical
// section held across the full read-validate-mutate-broadcast sequence, so
// check-then-act steps (nomination count before start, results check before
// close) can never interleave. Operations on different polls do not block
// each other.
type Coordinator struct {
	repo        *repository.PollsRepository
	broadcaster Broadcaster
	locks       keyedMutex
	log         *slog.Logger
}

func NewCoordinator(repo *repository.PollsRepository, broadcaster Broadcaster, log *slog.Logger) *Coordinator {
	return &Coordinator{
		repo:        repo,
		broadcaster: broadcaster,
		log:         log.With("component", "coordinator"),
	}
}

type CreatePollParams struct {
	Topic         string
	VotesPerVoter int
	Name          string
}

// CreatePoll creates a poll and returns it together with the creator's
// participant ID. The creator becomes the admin; their participant entry is
// added when they connect and join.
func (c *Coordinator) CreatePoll(ctx context.Context, params CreatePollParams) (*models.Poll, string, error) {
	topic, err := security.ValidateTopic(params.Topic)
	if err != nil {
		return nil, "", ValidationFailed(err.Error())
	}
	if err := security.ValidateVotesPerVoter(params.VotesPerVoter); err != nil {
		return nil, "", ValidationFailed(err.Error())
	}
	if _, err := security.ValidateParticipantName(params.Name); err != nil {
		return nil, "", ValidationFailed(err.Error())
	}

	pollID := NewPollID()
	userID := NewParticipantID()

	poll, err := c.repo.CreatePoll(ctx, repository.CreatePollParams{
		PollID:        pollID,
		Topic:         topic,
		VotesPerVoter: params.VotesPerVoter,
		UserID:        userID,
	})
	if err != nil {
		return nil, "", c.mapRepoError(err)
	}

	c.log.Info("poll created", "pollID", pollID, "adminID", userID)
	return poll, userID, nil
}

// GetPoll returns the current poll record without mutating anything.
func (c *Coordinator) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, err := c.repo.GetPoll(ctx, pollID)
	if err != nil {
		return nil, c.mapRepoError(err)
	}
	return poll, nil
}

// Join adds a participant (or confirms an existing one, making reconnection
// idempotent) and broadcasts the updated poll. New participants are only
// admitted while the poll is in the lobby; known participants may rejoin in
// any phase.
func (c *Coordinator) Join(ctx context.Context, pollID, userID, name string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.repo.GetPoll(ctx, pollID)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	if !poll.HasParticipant(userID) && poll.HasStarted && !poll.IsAdmin(userID) {
		return nil, PhaseConflict("voting has already started, new participants cannot join")
	}

	sanitizedName, err := security.ValidateParticipantName(name)
	if err != nil {
		return nil, ValidationFailed(err.Error())
	}

	updated, err := c.repo.AddParticipant(ctx, pollID, userID, sanitizedName)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.log.Info("participant joined", "pollID", pollID, "participantID", userID)
	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return updated, nil
}

// Nominate adds a nomination during the lobby phase.
func (c *Coordinator) Nominate(ctx context.Context, pollID, userID, text string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, userID)
	if err != nil {
		return nil, err
	}
	if poll.HasStarted {
		return nil, PhaseConflict("nominations are closed once voting has started")
	}

	sanitized, err := security.ValidateNominationText(text)
	if err != nil {
		return nil, ValidationFailed(err.Error())
	}

	nomination := models.Nomination{
		UserID: userID,
		Text:   sanitized,
		Order:  poll.NextNominationOrder(),
	}

	updated, err := c.repo.AddNomination(ctx, pollID, NewNominationID(), nomination)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return updated, nil
}

// RemoveNomination removes a nomination during the lobby phase. Only the
// nomination's author or the admin may remove it.
func (c *Coordinator) RemoveNomination(ctx context.Context, pollID, actingID, nominationID string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, actingID)
	if err != nil {
		return nil, err
	}
	if poll.HasStarted {
		return nil, PhaseConflict("nominations cannot be removed once voting has started")
	}

	nomination, ok := poll.Nominations[nominationID]
	if !ok {
		return nil, NotFound("nomination not found")
	}
	if nomination.UserID != actingID && !poll.IsAdmin(actingID) {
		return nil, Unauthorized("only the nomination's author or the admin can remove it")
	}

	updated, err := c.repo.RemoveNomination(ctx, pollID, nominationID)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return updated, nil
}

// RemoveParticipant kicks a participant. Admin only; the admin cannot be
// removed. The target's connections are force-closed after the broadcast, so
// they see the updated poll before the disconnect.
func (c *Coordinator) RemoveParticipant(ctx context.Context, pollID, actingID, targetID string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, actingID)
	if err != nil {
		return nil, err
	}
	if !poll.IsAdmin(actingID) {
		return nil, Unauthorized("only the admin can remove participants")
	}
	if poll.IsClosed() {
		return nil, PhaseConflict("the poll has already been closed")
	}
	if targetID == poll.AdminID {
		return nil, Unauthorized("the admin cannot be removed from the poll")
	}
	if !poll.HasParticipant(targetID) {
		return nil, NotFound("participant not found")
	}

	updated, err := c.repo.RemoveParticipant(ctx, pollID, targetID)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.log.Info("participant removed", "pollID", pollID, "targetID", targetID, "by", actingID)
	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	c.broadcaster.KickParticipant(pollID, targetID)
	return updated, nil
}

// StartVote transitions the poll from lobby to voting. Admin only; requires
// at least votesPerVoter nominations so every ballot can be filled.
func (c *Coordinator) StartVote(ctx context.Context, pollID, actingID string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, actingID)
	if err != nil {
		return nil, err
	}
	if !poll.IsAdmin(actingID) {
		return nil, Unauthorized("only the admin can start the vote")
	}
	if poll.HasStarted {
		return nil, PhaseConflict("voting has already started")
	}
	if len(poll.Nominations) < poll.VotesPerVoter {
		return nil, ValidationFailed(fmt.Sprintf(
			"not enough nominations to start: need at least %d, have %d",
			poll.VotesPerVoter, len(poll.Nominations)))
	}

	updated, err := c.repo.StartPoll(ctx, pollID)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.log.Info("voting started", "pollID", pollID)
	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return updated, nil
}

// SubmitRankings stores a participant's ballot, overwriting any previous
// submission. The broadcast that follows carries the updated vote count, not
// the ballot itself.
func (c *Coordinator) SubmitRankings(ctx context.Context, pollID, userID string, ballot []string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, userID)
	if err != nil {
		return nil, err
	}
	if !poll.HasStarted {
		return nil, PhaseConflict("voting has not started yet")
	}
	if poll.IsClosed() {
		return nil, PhaseConflict("the poll has already been closed")
	}

	if len(ballot) == 0 {
		return nil, ValidationFailed("ballot cannot be empty")
	}
	if len(ballot) > poll.VotesPerVoter {
		return nil, ValidationFailed(fmt.Sprintf(
			"ballot too long: at most %d choices allowed", poll.VotesPerVoter))
	}
	seen := make(map[string]bool, len(ballot))
	for _, nominationID := range ballot {
		if seen[nominationID] {
			return nil, ValidationFailed("ballot contains duplicate nominations")
		}
		seen[nominationID] = true
		if _, ok := poll.Nominations[nominationID]; !ok {
			return nil, ValidationFailed("ballot references an unknown nomination")
		}
	}

	updated, err := c.repo.AddRanking(ctx, pollID, userID, ballot)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return updated, nil
}

// ClosePoll computes and persists the final tally. Admin only; rejected if
// results already exist, so aggregation runs exactly once.
func (c *Coordinator) ClosePoll(ctx context.Context, pollID, actingID string) (*models.Poll, error) {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, actingID)
	if err != nil {
		return nil, err
	}
	if !poll.IsAdmin(actingID) {
		return nil, Unauthorized("only the admin can close the poll")
	}
	if !poll.HasStarted {
		return nil, PhaseConflict("voting has not started yet")
	}
	if poll.IsClosed() {
		return nil, PhaseConflict("the poll has already been closed")
	}

	results := ComputeResults(poll.Nominations, poll.Rankings)

	updated, err := c.repo.AddResults(ctx, pollID, results)
	if err != nil {
		return nil, c.mapRepoError(err)
	}

	c.log.Info("poll closed", "pollID", pollID, "ballots", len(poll.Rankings), "results", len(results))
	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return updated, nil
}

// CancelPoll deletes the poll and disconnects every subscriber. Admin only.
func (c *Coordinator) CancelPoll(ctx context.Context, pollID, actingID string) error {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, actingID)
	if err != nil {
		return err
	}
	if !poll.IsAdmin(actingID) {
		return Unauthorized("only the admin can cancel the poll")
	}

	return c.terminate(ctx, pollID)
}

// Leave removes a participant on their own initiative. The admin leaving
// cancels the poll; the last participant leaving deletes it.
func (c *Coordinator) Leave(ctx context.Context, pollID, userID string) error {
	unlock := c.locks.lock(pollID)
	defer unlock()

	poll, err := c.requireParticipant(ctx, pollID, userID)
	if err != nil {
		return err
	}

	if poll.IsAdmin(userID) {
		c.log.Info("admin left, cancelling poll", "pollID", pollID)
		return c.terminate(ctx, pollID)
	}

	updated, err := c.repo.RemoveParticipant(ctx, pollID, userID)
	if err != nil {
		return c.mapRepoError(err)
	}

	if len(updated.Participants) == 0 {
		c.log.Info("last participant left, deleting poll", "pollID", pollID)
		return c.terminate(ctx, pollID)
	}

	c.broadcaster.BroadcastPoll(pollID, updated.Snapshot())
	return nil
}

// terminate deletes the poll record and tears down its subscribers. Caller
// holds the poll lock.
func (c *Coordinator) terminate(ctx context.Context, pollID string) error {
	if err := c.repo.DeletePoll(ctx, pollID); err != nil {
		return c.mapRepoError(err)
	}
	c.broadcaster.CancelPoll(pollID)
	return nil
}

// requireParticipant loads the poll and checks the caller belongs to it. The
// admin always counts as a member, whether or not their participant entry has
// been written yet.
func (c *Coordinator) requireParticipant(ctx context.Context, pollID, userID string) (*models.Poll, error) {
	poll, err := c.repo.GetPoll(ctx, pollID)
	if err != nil {
		return nil, c.mapRepoError(err)
	}
	if !poll.HasParticipant(userID) && !poll.IsAdmin(userID) {
		return nil, Unauthorized("you are not a participant of this poll")
	}
	return poll, nil
}

func (c *Coordinator) mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrPollNotFound):
		return NotFound("poll not found")
	case errors.Is(err, repository.ErrStoreUnavailable):
		c.log.Error("store unavailable", "error", err)
		return Internal("the poll could not be reached, please try again")
	default:
		c.log.Error("repository error", "error", err)
		return Internal("an internal error occurred while processing your request")
	}
}

// keyedMutex serializes operations per poll ID. Lock entries are reference
// counted and removed when the last holder releases, so the map does not grow
// with every poll ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*pollLock
}

type pollLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*pollLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &pollLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
