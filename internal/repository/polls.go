// Package repository translates poll domain operations into field-level store
// operations and owns the on-disk shape of a poll record.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shanehokw/ranker/internal/config"
	"github.com/shanehokw/ranker/internal/models"
	"github.com/shanehokw/ranker/internal/store"
)

type PollsRepository struct {
	store store.Store
	ttl   time.Duration
	log   *slog.Logger
}

func NewPollsRepository(s store.Store, ttl time.Duration, log *slog.Logger) *PollsRepository {
	return &PollsRepository{
		store: s,
		ttl:   ttl,
		log:   log.With("component", "polls_repository"),
	}
}

type CreatePollParams struct {
	PollID        string
	Topic         string
	VotesPerVoter int
	UserID        string
}

// CreatePoll writes the initial poll document with its TTL. Document and
// expiry are a single atomic store operation, so a poll is never visible
// without an expiry.
func (r *PollsRepository) CreatePoll(ctx context.Context, params CreatePollParams) (*models.Poll, error) {
	initial := models.Poll{
		ID:            params.PollID,
		Topic:         params.Topic,
		VotesPerVoter: params.VotesPerVoter,
		Participants:  models.Participants{},
		AdminID:       params.UserID,
		Nominations:   models.Nominations{},
		Rankings:      models.Rankings{},
		// nil until the poll is closed; an empty tally is still a tally
		Results:    nil,
		HasStarted: false,
	}

	doc, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal poll: %w", err)
	}

	r.log.Info("creating poll", "pollID", params.PollID, "ttl", r.ttl)

	err = r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.SetPoll(ctx, params.PollID, doc, r.ttl)
	})
	if err != nil {
		return nil, r.mapError(err)
	}
	return &initial, nil
}

// GetPoll reads the full poll document. A missing poll is ErrPollNotFound,
// never silently created.
func (r *PollsRepository) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	var doc []byte
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		doc, err = r.store.GetPoll(ctx, pollID)
		return err
	})
	if err != nil {
		return nil, r.mapError(err)
	}

	var poll models.Poll
	if err := json.Unmarshal(doc, &poll); err != nil {
		return nil, fmt.Errorf("corrupt poll record %s: %w", pollID, err)
	}
	return &poll, nil
}

func (r *PollsRepository) AddParticipant(ctx context.Context, pollID, userID, name string) (*models.Poll, error) {
	return r.setField(ctx, pollID, ".participants."+userID, name)
}

func (r *PollsRepository) RemoveParticipant(ctx context.Context, pollID, userID string) (*models.Poll, error) {
	return r.delField(ctx, pollID, ".participants."+userID)
}

func (r *PollsRepository) AddNomination(ctx context.Context, pollID, nominationID string, nomination models.Nomination) (*models.Poll, error) {
	return r.setField(ctx, pollID, ".nominations."+nominationID, nomination)
}

func (r *PollsRepository) RemoveNomination(ctx context.Context, pollID, nominationID string) (*models.Poll, error) {
	return r.delField(ctx, pollID, ".nominations."+nominationID)
}

func (r *PollsRepository) StartPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	return r.setField(ctx, pollID, ".hasStarted", true)
}

func (r *PollsRepository) AddRanking(ctx context.Context, pollID, userID string, ballot []string) (*models.Poll, error) {
	return r.setField(ctx, pollID, ".rankings."+userID, ballot)
}

func (r *PollsRepository) AddResults(ctx context.Context, pollID string, results []models.Result) (*models.Poll, error) {
	return r.setField(ctx, pollID, ".results", results)
}

func (r *PollsRepository) DeletePoll(ctx context.Context, pollID string) error {
	r.log.Info("deleting poll", "pollID", pollID)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.DelPoll(ctx, pollID)
	})
	if err != nil {
		return r.mapError(err)
	}
	return nil
}

// setField writes one field path and reads the document back, so callers
// always see the post-write canonical state rather than a locally
// reconstructed one. Existence is checked via the read; a vanished poll
// surfaces as ErrPollNotFound.
func (r *PollsRepository) setField(ctx context.Context, pollID, path string, value any) (*models.Poll, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	// Existence check first: a field write must never materialize a record
	// the store no longer has.
	if _, err := r.GetPoll(ctx, pollID); err != nil {
		return nil, err
	}

	err = r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.SetPath(ctx, pollID, path, data)
	})
	if err != nil {
		return nil, r.mapError(err)
	}

	return r.GetPoll(ctx, pollID)
}

func (r *PollsRepository) delField(ctx context.Context, pollID, path string) (*models.Poll, error) {
	if _, err := r.GetPoll(ctx, pollID); err != nil {
		return nil, err
	}

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.DelPath(ctx, pollID, path)
	})
	if err != nil {
		return nil, r.mapError(err)
	}

	return r.GetPoll(ctx, pollID)
}

// withRetry retries transient store failures a bounded number of times with
// backoff. Anything other than store.ErrUnavailable fails immediately.
func (r *PollsRepository) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= config.StoreRetries; attempt++ {
		if attempt > 0 {
			r.log.Warn("retrying store operation", "attempt", attempt, "error", err)
			select {
			case <-time.After(config.StoreRetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", store.ErrUnavailable, ctx.Err())
			}
		}

		err = op(ctx)
		if err == nil || !errors.Is(err, store.ErrUnavailable) {
			return err
		}
	}
	return err
}

func (r *PollsRepository) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrPollNotFound
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return err
	}
}
