package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/locks"
	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/utils"
)

func newGameFixture(t *testing.T) (SessionService, GameService) {
	t.Helper()
	repo := newFakeSessionRepo()
	km := locks.NewKeyedMutex()
	return NewSessionService(repo, km, events.NopPublisher{}, testLogger()),
		NewGameService(repo, km, events.NopPublisher{})
}

func twoQuestionGame(t *testing.T, svc SessionService) *models.Session {
	t.Helper()
	sess, err := svc.Create(context.Background(), CreateSessionParams{
		Kind:   models.KindGame,
		HostID: "alice",
		Questions: []models.GameQuestion{
			{Prompt: "capital of France?", Options: []string{"Paris", "Lyon"}, CorrectIndex: 0, Points: 10},
			{Prompt: "2+2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1, Points: 20},
		},
	})
	require.NoError(t, err)
	return sess
}

func TestRecordAnswer_ScoresAndAdvances(t *testing.T) {
	svc, game := newGameFixture(t)
	ctx := context.Background()
	sess := twoQuestionGame(t, svc)

	res, err := game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "  paris ")
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 10, res.Score)
	assert.Equal(t, models.StatusActive, res.SessionStatus)

	after, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Game.CurrentQuestionIndex)
	require.Len(t, after.Game.Answers, 1)
	assert.True(t, after.Game.Answers[0].IsCorrect)
}

func TestRecordAnswer_WrongAnswerStillAdvances(t *testing.T) {
	svc, game := newGameFixture(t)
	ctx := context.Background()
	sess := twoQuestionGame(t, svc)

	res, err := game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "Lyon")
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Equal(t, 0, res.Score)

	after, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Game.CurrentQuestionIndex)
}

func TestRecordAnswer_OutOfOrderRejected(t *testing.T) {
	svc, game := newGameFixture(t)
	ctx := context.Background()
	sess := twoQuestionGame(t, svc)

	_, err := game.RecordAnswer(ctx, sess.SessionID, "alice", 1, "4")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	// replaying an answered question is also out of order
	_, err = game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "Paris")
	require.NoError(t, err)
	_, err = game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "Paris")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestRecordAnswer_LastQuestionCompletesSession(t *testing.T) {
	svc, game := newGameFixture(t)
	ctx := context.Background()
	sess := twoQuestionGame(t, svc)

	_, err := game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "Paris")
	require.NoError(t, err)

	res, err := game.RecordAnswer(ctx, sess.SessionID, "alice", 1, "4")
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 30, res.Score)
	assert.Equal(t, models.StatusCompleted, res.SessionStatus)

	after, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.GameCompleted, after.Game.Status)
	require.NotNil(t, after.EndedAt)
	assert.Equal(t, 0, after.ActiveCount())

	// the completed game refuses further answers
	_, err = game.RecordAnswer(ctx, sess.SessionID, "alice", 2, "whatever")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestRecordAnswer_PausedGameRejected(t *testing.T) {
	svc, game := newGameFixture(t)
	ctx := context.Background()
	sess := twoQuestionGame(t, svc)

	_, err := svc.Pause(ctx, sess.SessionID, "alice")
	require.NoError(t, err)

	_, err = game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "Paris")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	_, err = svc.Resume(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	_, err = game.RecordAnswer(ctx, sess.SessionID, "alice", 0, "Paris")
	require.NoError(t, err)
}

func TestRecordAnswer_WrongKindAndMembership(t *testing.T) {
	svc, game := newGameFixture(t)
	ctx := context.Background()

	chat, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice"})
	require.NoError(t, err)
	_, err = game.RecordAnswer(ctx, chat.SessionID, "alice", 0, "x")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	sess := twoQuestionGame(t, svc)
	_, err = game.RecordAnswer(ctx, sess.SessionID, "mallory", 0, "Paris")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}
