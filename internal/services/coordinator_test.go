package services_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanehokw/ranker/internal/models"
	"github.com/shanehokw/ranker/internal/repository"
	"github.com/shanehokw/ranker/internal/services"
	"github.com/shanehokw/ranker/internal/store"
)

// recorderBroadcaster captures what the coordinator would have fanned out.
type recorderBroadcaster struct {
	mu        sync.Mutex
	snapshots []models.Snapshot
	kicked    []string
	cancelled []string
}

func (r *recorderBroadcaster) BroadcastPoll(_ string, snapshot models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *recorderBroadcaster) KickParticipant(_, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicked = append(r.kicked, participantID)
}

func (r *recorderBroadcaster) CancelPoll(pollID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, pollID)
}

func (r *recorderBroadcaster) lastSnapshot() *models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	snapshot := r.snapshots[len(r.snapshots)-1]
	return &snapshot
}

func (r *recorderBroadcaster) broadcastCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func newTestCoordinator(t *testing.T) (*services.Coordinator, *recorderBroadcaster) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewPollsRepository(store.NewMemoryStore(), time.Minute, log)
	broadcaster := &recorderBroadcaster{}
	return services.NewCoordinator(repo, broadcaster, log), broadcaster
}

// setupPoll creates a poll with the admin joined and n extra participants.
func setupPoll(t *testing.T, c *services.Coordinator, votesPerVoter, extras int) (pollID, adminID string, participantIDs []string) {
	t.Helper()
	ctx := context.Background()

	poll, adminID, err := c.CreatePoll(ctx, services.CreatePollParams{
		Topic:         "Where should we eat",
		VotesPerVoter: votesPerVoter,
		Name:          "Alice",
	})
	require.NoError(t, err)

	_, err = c.Join(ctx, poll.ID, adminID, "Alice")
	require.NoError(t, err)

	for i := 0; i < extras; i++ {
		userID := services.NewParticipantID()
		_, err = c.Join(ctx, poll.ID, userID, fmt.Sprintf("Guest %d", i+1))
		require.NoError(t, err)
		participantIDs = append(participantIDs, userID)
	}

	return poll.ID, adminID, participantIDs
}

func errType(t *testing.T, err error) services.ErrorType {
	t.Helper()
	require.Error(t, err)
	return services.TypeOf(err)
}

func TestCoordinator_CreatePoll(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	t.Run("creates poll with creator as admin", func(t *testing.T) {
		poll, adminID, err := c.CreatePoll(ctx, services.CreatePollParams{
			Topic:         "Movie night",
			VotesPerVoter: 2,
			Name:          "Alice",
		})

		require.NoError(t, err)
		assert.Len(t, poll.ID, 6)
		assert.Equal(t, adminID, poll.AdminID)
		assert.Equal(t, "Movie night", poll.Topic)
		assert.False(t, poll.HasStarted)
		assert.Empty(t, poll.Participants)
	})

	t.Run("rejects empty topic", func(t *testing.T) {
		_, _, err := c.CreatePoll(ctx, services.CreatePollParams{
			Topic:         "   ",
			VotesPerVoter: 2,
			Name:          "Alice",
		})

		assert.Equal(t, services.ErrTypeValidationFailed, errType(t, err))
	})

	t.Run("rejects non-positive votesPerVoter", func(t *testing.T) {
		_, _, err := c.CreatePoll(ctx, services.CreatePollParams{
			Topic:         "Movie night",
			VotesPerVoter: 0,
			Name:          "Alice",
		})

		assert.Equal(t, services.ErrTypeValidationFailed, errType(t, err))
	})
}

func TestCoordinator_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("adds participant and broadcasts", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, adminID, _ := setupPoll(t, c, 1, 0)

		userID := services.NewParticipantID()
		poll, err := c.Join(ctx, pollID, userID, "Bob")

		require.NoError(t, err)
		assert.Equal(t, "Bob", poll.Participants[userID])
		assert.Equal(t, "Alice", poll.Participants[adminID])

		last := broadcaster.lastSnapshot()
		require.NotNil(t, last)
		assert.Equal(t, "Bob", last.Participants[userID])
	})

	t.Run("is idempotent on reconnection", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 1)

		poll, err := c.Join(ctx, pollID, participants[0], "Guest 1")

		require.NoError(t, err)
		assert.Len(t, poll.Participants, 2)
	})

	t.Run("rejects new participants after voting starts", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 1)

		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)
		_, err = c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)

		_, err = c.Join(ctx, pollID, services.NewParticipantID(), "Late Larry")
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))

		// existing participants may still rejoin
		_, err = c.Join(ctx, pollID, participants[0], "Guest 1")
		assert.NoError(t, err)
	})

	t.Run("unknown poll is not found", func(t *testing.T) {
		c, _ := newTestCoordinator(t)

		_, err := c.Join(ctx, "ZZZZZZ", services.NewParticipantID(), "Bob")
		assert.Equal(t, services.ErrTypeNotFound, errType(t, err))
	})
}

func TestCoordinator_Nominate(t *testing.T) {
	ctx := context.Background()

	t.Run("n nominations yield n distinct ids", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 1)

		var poll *models.Poll
		var err error
		for i := 0; i < 5; i++ {
			poll, err = c.Nominate(ctx, pollID, participants[0], fmt.Sprintf("Option %d", i))
			require.NoError(t, err)
		}

		assert.Len(t, poll.Nominations, 5)

		orders := make(map[int]bool)
		for _, n := range poll.Nominations {
			assert.False(t, orders[n.Order], "orders must be distinct")
			orders[n.Order] = true
		}
	})

	t.Run("rejected after voting starts", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 1)

		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)
		_, err = c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)

		_, err = c.Nominate(ctx, pollID, participants[0], "Too late")
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))
	})

	t.Run("rejected from non-participants", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, _ := setupPoll(t, c, 1, 0)

		_, err := c.Nominate(ctx, pollID, "stranger", "Tacos")
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))
	})
}

func TestCoordinator_RemoveNomination(t *testing.T) {
	ctx := context.Background()

	t.Run("author and admin can remove, others cannot", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 2)

		poll, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)
		var nominationID string
		for id := range poll.Nominations {
			nominationID = id
		}

		// another participant may not remove it
		_, err = c.RemoveNomination(ctx, pollID, participants[1], nominationID)
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))

		// the author may
		poll, err = c.RemoveNomination(ctx, pollID, participants[0], nominationID)
		require.NoError(t, err)
		assert.Empty(t, poll.Nominations)

		// and the admin may remove someone else's
		poll, err = c.Nominate(ctx, pollID, participants[0], "Pizza")
		require.NoError(t, err)
		for id := range poll.Nominations {
			nominationID = id
		}
		poll, err = c.RemoveNomination(ctx, pollID, adminID, nominationID)
		require.NoError(t, err)
		assert.Empty(t, poll.Nominations)
	})

	t.Run("missing nomination is not found", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, _ := setupPoll(t, c, 1, 0)

		_, err := c.RemoveNomination(ctx, pollID, adminID, "missing")
		assert.Equal(t, services.ErrTypeNotFound, errType(t, err))
	})
}

func TestCoordinator_StartVote(t *testing.T) {
	ctx := context.Background()

	t.Run("fails while nominations are below votesPerVoter", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 2, 1)

		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)

		_, err = c.StartVote(ctx, pollID, adminID)
		assert.Equal(t, services.ErrTypeValidationFailed, errType(t, err))
	})

	t.Run("admin only", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 1)

		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)

		_, err = c.StartVote(ctx, pollID, participants[0])
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))
	})

	t.Run("transitions exactly once", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 1)

		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)

		poll, err := c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)
		assert.True(t, poll.HasStarted)
		assert.Equal(t, models.PhaseVoting, poll.Phase())

		_, err = c.StartVote(ctx, pollID, adminID)
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))
	})
}

func TestCoordinator_SubmitRankings(t *testing.T) {
	ctx := context.Background()

	// votingPoll returns a started poll with three nominations.
	votingPoll := func(t *testing.T, c *services.Coordinator) (pollID, adminID string, participants, nominationIDs []string) {
		pollID, adminID, participants = setupPoll(t, c, 2, 2)

		texts := []string{"Tacos", "Pizza", "Sushi"}
		var poll *models.Poll
		var err error
		for _, text := range texts {
			poll, err = c.Nominate(ctx, pollID, participants[0], text)
			require.NoError(t, err)
		}
		byText := make(map[string]string)
		for id, n := range poll.Nominations {
			byText[n.Text] = id
		}
		for _, text := range texts {
			nominationIDs = append(nominationIDs, byText[text])
		}

		_, err = c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)
		return pollID, adminID, participants, nominationIDs
	}

	t.Run("stores ballot and broadcasts count, not contents", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, _, participants, nominations := votingPoll(t, c)

		poll, err := c.SubmitRankings(ctx, pollID, participants[0], []string{nominations[0], nominations[1]})
		require.NoError(t, err)
		assert.Equal(t, []string{nominations[0], nominations[1]}, poll.Rankings[participants[0]])

		last := broadcaster.lastSnapshot()
		require.NotNil(t, last)
		assert.Equal(t, 1, last.VotesCast)
	})

	t.Run("resubmission overwrites", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants, nominations := votingPoll(t, c)

		_, err := c.SubmitRankings(ctx, pollID, participants[0], []string{nominations[0]})
		require.NoError(t, err)
		poll, err := c.SubmitRankings(ctx, pollID, participants[0], []string{nominations[1], nominations[2]})
		require.NoError(t, err)

		assert.Len(t, poll.Rankings, 1)
		assert.Equal(t, []string{nominations[1], nominations[2]}, poll.Rankings[participants[0]])
	})

	t.Run("rejects oversized, duplicate and unknown ballots", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants, nominations := votingPoll(t, c)

		_, err := c.SubmitRankings(ctx, pollID, participants[0], nominations) // 3 > votesPerVoter 2
		assert.Equal(t, services.ErrTypeValidationFailed, errType(t, err))

		_, err = c.SubmitRankings(ctx, pollID, participants[0], []string{nominations[0], nominations[0]})
		assert.Equal(t, services.ErrTypeValidationFailed, errType(t, err))

		_, err = c.SubmitRankings(ctx, pollID, participants[0], []string{"ghost"})
		assert.Equal(t, services.ErrTypeValidationFailed, errType(t, err))
	})

	t.Run("rejected before voting starts", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 1)

		_, err := c.SubmitRankings(ctx, pollID, participants[0], []string{"anything"})
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))
	})

	t.Run("concurrent submissions from two participants both persist", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants, nominations := votingPoll(t, c)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, userID := range []string{participants[0], participants[1]} {
			wg.Add(1)
			go func(i int, userID string) {
				defer wg.Done()
				_, errs[i] = c.SubmitRankings(ctx, pollID, userID, []string{nominations[i]})
			}(i, userID)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		poll, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.Len(t, poll.Rankings, 2)
		assert.Contains(t, poll.Rankings, participants[0])
		assert.Contains(t, poll.Rankings, participants[1])
	})

	t.Run("rejected after close", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants, nominations := votingPoll(t, c)

		_, err := c.SubmitRankings(ctx, pollID, participants[0], []string{nominations[0]})
		require.NoError(t, err)
		_, err = c.ClosePoll(ctx, pollID, adminID)
		require.NoError(t, err)

		_, err = c.SubmitRankings(ctx, pollID, participants[1], []string{nominations[1]})
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))
	})
}

func TestCoordinator_ClosePoll(t *testing.T) {
	ctx := context.Background()

	startedPoll := func(t *testing.T, c *services.Coordinator) (pollID, adminID string, participants []string) {
		pollID, adminID, participants = setupPoll(t, c, 1, 2)
		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)
		_, err = c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)
		return pollID, adminID, participants
	}

	t.Run("computes results once, second close conflicts", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := startedPoll(t, c)

		poll, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		var nominationID string
		for id := range poll.Nominations {
			nominationID = id
		}

		_, err = c.SubmitRankings(ctx, pollID, participants[0], []string{nominationID})
		require.NoError(t, err)

		closed, err := c.ClosePoll(ctx, pollID, adminID)
		require.NoError(t, err)
		require.Len(t, closed.Results, 1)
		assert.Equal(t, models.PhaseClosed, closed.Phase())
		firstResults := closed.Results

		_, err = c.ClosePoll(ctx, pollID, adminID)
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))

		after, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.Equal(t, firstResults, after.Results)
	})

	t.Run("admin only", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := startedPoll(t, c)

		_, err := c.ClosePoll(ctx, pollID, participants[0])
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))
	})

	t.Run("no ballots produce empty results", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, _ := startedPoll(t, c)

		closed, err := c.ClosePoll(ctx, pollID, adminID)
		require.NoError(t, err)
		assert.Empty(t, closed.Results)
		// closing still transitions the phase
		assert.Equal(t, models.PhaseClosed, closed.Phase())
	})
}

func TestCoordinator_RemoveParticipant(t *testing.T) {
	ctx := context.Background()

	t.Run("admin removes a participant and kicks their connection", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 1)

		poll, err := c.RemoveParticipant(ctx, pollID, adminID, participants[0])
		require.NoError(t, err)
		assert.NotContains(t, poll.Participants, participants[0])
		assert.Equal(t, []string{participants[0]}, broadcaster.kicked)
	})

	t.Run("admin cannot remove themselves", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, _ := setupPoll(t, c, 1, 1)

		_, err := c.RemoveParticipant(ctx, pollID, adminID, adminID)
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))
	})

	t.Run("non-admin cannot remove anyone", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 2)

		_, err := c.RemoveParticipant(ctx, pollID, participants[0], participants[1])
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))
	})

	t.Run("rejected once the poll is closed", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 1)

		_, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)
		_, err = c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)
		_, err = c.ClosePoll(ctx, pollID, adminID)
		require.NoError(t, err)

		_, err = c.RemoveParticipant(ctx, pollID, adminID, participants[0])
		assert.Equal(t, services.ErrTypePhaseConflict, errType(t, err))

		poll, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.Contains(t, poll.Participants, participants[0])
		assert.Empty(t, broadcaster.kicked)
	})

	t.Run("does not strike an existing ballot", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, adminID, participants := setupPoll(t, c, 1, 1)

		poll, err := c.Nominate(ctx, pollID, participants[0], "Tacos")
		require.NoError(t, err)
		var nominationID string
		for id := range poll.Nominations {
			nominationID = id
		}
		_, err = c.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)
		_, err = c.SubmitRankings(ctx, pollID, participants[0], []string{nominationID})
		require.NoError(t, err)

		poll, err = c.RemoveParticipant(ctx, pollID, adminID, participants[0])
		require.NoError(t, err)
		assert.Contains(t, poll.Rankings, participants[0])
	})
}

func TestCoordinator_LeaveAndCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("admin leaving cancels the poll", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, adminID, _ := setupPoll(t, c, 1, 1)

		err := c.Leave(ctx, pollID, adminID)
		require.NoError(t, err)

		_, err = c.GetPoll(ctx, pollID)
		assert.Equal(t, services.ErrTypeNotFound, errType(t, err))
		assert.Equal(t, []string{pollID}, broadcaster.cancelled)
	})

	t.Run("participant leaving broadcasts the smaller poll", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 1)

		err := c.Leave(ctx, pollID, participants[0])
		require.NoError(t, err)

		last := broadcaster.lastSnapshot()
		require.NotNil(t, last)
		assert.NotContains(t, last.Participants, participants[0])
		assert.Empty(t, broadcaster.cancelled)
	})

	t.Run("last participant leaving deletes the poll", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		ctx := context.Background()

		poll, _, err := c.CreatePoll(ctx, services.CreatePollParams{
			Topic:         "Solo poll",
			VotesPerVoter: 1,
			Name:          "Alice",
		})
		require.NoError(t, err)

		userID := services.NewParticipantID()
		_, err = c.Join(ctx, poll.ID, userID, "Bob")
		require.NoError(t, err)

		err = c.Leave(ctx, poll.ID, userID)
		require.NoError(t, err)

		_, err = c.GetPoll(ctx, poll.ID)
		assert.Equal(t, services.ErrTypeNotFound, errType(t, err))
	})

	t.Run("cancel is admin only", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pollID, _, participants := setupPoll(t, c, 1, 1)

		err := c.CancelPoll(ctx, pollID, participants[0])
		assert.Equal(t, services.ErrTypeUnauthorized, errType(t, err))
	})

	t.Run("cancel deletes and notifies", func(t *testing.T) {
		c, broadcaster := newTestCoordinator(t)
		pollID, adminID, _ := setupPoll(t, c, 1, 1)

		err := c.CancelPoll(ctx, pollID, adminID)
		require.NoError(t, err)

		_, err = c.GetPoll(ctx, pollID)
		assert.Equal(t, services.ErrTypeNotFound, errType(t, err))
		assert.Equal(t, []string{pollID}, broadcaster.cancelled)
	})
}

func TestCoordinator_ErrorsProduceNoBroadcast(t *testing.T) {
	c, broadcaster := newTestCoordinator(t)
	ctx := context.Background()
	pollID, _, participants := setupPoll(t, c, 1, 1)

	before := broadcaster.broadcastCount()

	_, err := c.StartVote(ctx, pollID, participants[0]) // unauthorized
	require.Error(t, err)
	_, err = c.Nominate(ctx, pollID, "stranger", "Tacos") // unauthorized
	require.Error(t, err)
	_, err = c.SubmitRankings(ctx, pollID, participants[0], []string{"x"}) // phase conflict
	require.Error(t, err)

	assert.Equal(t, before, broadcaster.broadcastCount())
}
