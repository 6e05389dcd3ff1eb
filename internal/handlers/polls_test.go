package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanehokw/ranker/internal/auth"
	"github.com/shanehokw/ranker/internal/handlers"
	"github.com/shanehokw/ranker/internal/models"
	"github.com/shanehokw/ranker/internal/repository"
	"github.com/shanehokw/ranker/internal/services"
	"github.com/shanehokw/ranker/internal/store"
)

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastPoll(string, models.Snapshot) {}
func (nopBroadcaster) KickParticipant(string, string)        {}
func (nopBroadcaster) CancelPoll(string)                     {}

type restFixture struct {
	router      *gin.Engine
	coordinator *services.Coordinator
	issuer      *auth.Issuer
}

func newRESTFixture(t *testing.T) *restFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewPollsRepository(store.NewMemoryStore(), time.Hour, log)
	coordinator := services.NewCoordinator(repo, nopBroadcaster{}, log)
	issuer := auth.NewIssuer("test-secret", time.Hour)
	ph := handlers.NewPollHandlers(coordinator, issuer, log)

	router := gin.New()
	router.POST("/polls", ph.CreatePoll)
	router.POST("/polls/join", ph.JoinPoll)
	router.POST("/polls/rejoin", ph.RejoinPoll)

	return &restFixture{router: router, coordinator: coordinator, issuer: issuer}
}

func (f *restFixture) post(t *testing.T, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type pollResponseBody struct {
	Poll        models.Snapshot `json:"poll"`
	AccessToken string          `json:"accessToken"`
}

func decodePollResponse(t *testing.T, w *httptest.ResponseRecorder) pollResponseBody {
	t.Helper()
	var body pollResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreatePoll(t *testing.T) {
	f := newRESTFixture(t)

	t.Run("creates a poll and issues a credential", func(t *testing.T) {
		w := f.post(t, "/polls", gin.H{"topic": "Where to eat?", "votesPerVoter": 3, "name": "Alice"}, nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		body := decodePollResponse(t, w)
		assert.Regexp(t, `^[A-Z0-9]{6}$`, body.Poll.ID)
		assert.Equal(t, "Where to eat?", body.Poll.Topic)
		assert.Equal(t, 3, body.Poll.VotesPerVoter)
		assert.False(t, body.Poll.HasStarted)
		require.NotEmpty(t, body.AccessToken)

		claims, err := f.issuer.Verify(body.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, body.Poll.ID, claims.PollID)
		assert.Equal(t, body.Poll.AdminID, claims.Subject)
		assert.Equal(t, "Alice", claims.Name)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		w := f.post(t, "/polls", gin.H{"topic": "no name"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects invalid votesPerVoter", func(t *testing.T) {
		w := f.post(t, "/polls", gin.H{"topic": "t", "votesPerVoter": 99, "name": "Alice"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects injection in topic", func(t *testing.T) {
		w := f.post(t, "/polls", gin.H{"topic": "<script>x</script>", "votesPerVoter": 2, "name": "Alice"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJoinPoll(t *testing.T) {
	f := newRESTFixture(t)

	created := decodePollResponse(t, f.post(t, "/polls", gin.H{"topic": "lunch", "votesPerVoter": 2, "name": "Alice"}, nil))
	pollID := created.Poll.ID

	t.Run("issues a credential for an open poll", func(t *testing.T) {
		w := f.post(t, "/polls/join", gin.H{"pollID": pollID, "name": "Bob"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodePollResponse(t, w)
		assert.Equal(t, pollID, body.Poll.ID)
		require.NotEmpty(t, body.AccessToken)

		claims, err := f.issuer.Verify(body.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, pollID, claims.PollID)
		assert.NotEqual(t, created.Poll.AdminID, claims.Subject, "joiner gets a fresh identity")
	})

	t.Run("normalizes the poll code", func(t *testing.T) {
		lower := " " + string(bytes.ToLower([]byte(pollID))) + " "
		w := f.post(t, "/polls/join", gin.H{"pollID": lower, "name": "Cara"}, nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("unknown poll is 404", func(t *testing.T) {
		w := f.post(t, "/polls/join", gin.H{"pollID": "ZZZ999", "name": "Bob"}, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed poll code is 400", func(t *testing.T) {
		w := f.post(t, "/polls/join", gin.H{"pollID": "nope", "name": "Bob"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("started poll rejects new joiners", func(t *testing.T) {
		// start the poll as admin through the coordinator
		ctx := context.Background()
		adminID := created.Poll.AdminID
		_, err := f.coordinator.Join(ctx, pollID, adminID, "Alice")
		require.NoError(t, err)
		for _, text := range []string{"Tacos", "Sushi"} {
			_, err = f.coordinator.Nominate(ctx, pollID, adminID, text)
			require.NoError(t, err)
		}
		_, err = f.coordinator.StartVote(ctx, pollID, adminID)
		require.NoError(t, err)

		w := f.post(t, "/polls/join", gin.H{"pollID": pollID, "name": "Late"}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestRejoinPoll(t *testing.T) {
	f := newRESTFixture(t)

	created := decodePollResponse(t, f.post(t, "/polls", gin.H{"topic": "lunch", "votesPerVoter": 2, "name": "Alice"}, nil))

	t.Run("valid credential returns the current poll", func(t *testing.T) {
		w := f.post(t, "/polls/rejoin", gin.H{}, map[string]string{
			"Authorization": "Bearer " + created.AccessToken,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodePollResponse(t, w)
		assert.Equal(t, created.Poll.ID, body.Poll.ID)
		assert.Empty(t, body.AccessToken, "rejoin does not mint a new credential")
	})

	t.Run("missing credential is 401", func(t *testing.T) {
		w := f.post(t, "/polls/rejoin", gin.H{}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("forged credential is 401", func(t *testing.T) {
		other := auth.NewIssuer("wrong-secret", time.Hour)
		token, err := other.Sign(created.Poll.ID, "user-x", "Eve")
		require.NoError(t, err)

		w := f.post(t, "/polls/rejoin", gin.H{}, map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("credential for an expired poll is 404", func(t *testing.T) {
		token, err := f.issuer.Sign("GONE01", "user-x", "Eve")
		require.NoError(t, err)

		w := f.post(t, "/polls/rejoin", gin.H{}, map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
