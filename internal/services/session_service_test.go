package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/locks"
	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/utils"
)

func newTestEngine(t *testing.T) (SessionService, *fakeSessionRepo) {
	t.Helper()
	repo := newFakeSessionRepo()
	svc := NewSessionService(repo, locks.NewKeyedMutex(), events.NopPublisher{}, testLogger())
	return svc, repo
}

func hostCount(s *models.Session) int {
	n := 0
	for i := range s.Participants {
		if s.Participants[i].Role == models.RoleHost {
			n++
		}
	}
	return n
}

func TestCreate_VariantValidation(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateSessionParams
	}{
		{"unknown kind", CreateSessionParams{Kind: "karaoke", HostID: "u1"}},
		{"missing host", CreateSessionParams{Kind: models.KindChat}},
		{"group chat without capacity", CreateSessionParams{Kind: models.KindGroupChat, HostID: "u1"}},
		{"group call without capacity", CreateSessionParams{Kind: models.KindGroupVoiceCall, HostID: "u1"}},
		{"game without questions", CreateSessionParams{Kind: models.KindGame, HostID: "u1"}},
		{"game with malformed question", CreateSessionParams{
			Kind: models.KindGame, HostID: "u1",
			Questions: []models.GameQuestion{{Prompt: "q", Options: []string{"a", "b"}, CorrectIndex: 5}},
		}},
		{"lecture without duration", CreateSessionParams{Kind: models.KindLecture, HostID: "u1", LectureID: "lec-1"}},
		{"private non-group", CreateSessionParams{Kind: models.KindChat, HostID: "u1", IsPrivate: true, AccessSecret: "s"}},
		{"private without secret", CreateSessionParams{Kind: models.KindGroupChat, HostID: "u1", MaxParticipants: 4, IsPrivate: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.params)
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
		})
	}
}

func TestCreate_ChatStartsScheduledWithSingleHost(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{
		Kind:                models.KindChat,
		HostID:              "alice",
		InitialParticipants: []string{"bob", "bob", "alice"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusScheduled, sess.Status)
	assert.Nil(t, sess.StartedAt)
	assert.Equal(t, "alice", sess.HostID)
	require.Len(t, sess.Participants, 2) // duplicates and the host collapse
	assert.Equal(t, 1, hostCount(sess))
	assert.False(t, sess.Participants[1].IsActive)
	require.NotNil(t, sess.Chat)
	assert.Nil(t, sess.Call)
}

func TestCreate_SoloKindsStartActive(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, CreateSessionParams{
		Kind:   models.KindGame,
		HostID: "alice",
		Questions: []models.GameQuestion{
			{Prompt: "2+2?", Options: []string{"3", "4"}, CorrectIndex: 1, Points: 10},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, game.Status)
	require.NotNil(t, game.StartedAt)
	assert.Equal(t, models.GameInProgress, game.Game.Status)

	lecture, err := svc.Create(ctx, CreateSessionParams{
		Kind:                   models.KindLecture,
		HostID:                 "alice",
		LectureID:              "lec-1",
		LectureDurationSeconds: 600,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, lecture.Status)
	require.NotNil(t, lecture.Lecture)
	assert.EqualValues(t, 600, lecture.Lecture.TotalDurationSeconds)
}

func TestCreate_GroupChatGetsJoinCode(t *testing.T) {
	svc, _ := newTestEngine(t)

	sess, err := svc.Create(context.Background(), CreateSessionParams{
		Kind:            models.KindGroupChat,
		HostID:          "alice",
		MaxParticipants: 4,
		Level:           "intermediate",
	})
	require.NoError(t, err)
	require.NotNil(t, sess.Group)
	assert.Len(t, sess.Group.JoinCode, 8)
	assert.Equal(t, "intermediate", sess.Group.Level)
}

func TestJoin_SecondParticipantActivates(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindVoiceCall, HostID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, sess.Status)

	joined, err := svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, joined.Status)
	require.NotNil(t, joined.StartedAt)
	assert.Equal(t, 2, joined.ActiveCount())
	assert.Equal(t, 1, hostCount(joined))

	// mic defaults on for a voice call without mute-on-entry
	p := joined.FindParticipant("bob")
	require.NotNil(t, p)
	assert.True(t, p.CallState.MicEnabled)
	assert.False(t, p.CallState.CameraEnabled)
}

func TestJoin_DuplicateActiveRejected(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice"})
	require.NoError(t, err)

	_, err = svc.Join(ctx, sess.SessionID, "alice", "", "")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestJoin_CapacityEnforced(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{
		Kind:            models.KindGroupChat,
		HostID:          "alice",
		MaxParticipants: 3,
	})
	require.NoError(t, err)

	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.SessionID, "carol", "", "")
	require.NoError(t, err)

	_, err = svc.Join(ctx, sess.SessionID, "dave", "", "")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestJoin_PrivateGroupSecret(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{
		Kind:            models.KindGroupChat,
		HostID:          "alice",
		MaxParticipants: 4,
		IsPrivate:       true,
		AccessSecret:    "hunter2",
	})
	require.NoError(t, err)

	_, err = svc.Join(ctx, sess.SessionID, "bob", "wrong", "")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	_, err = svc.Join(ctx, sess.SessionID, "bob", "hunter2", "")
	require.NoError(t, err)
}

func TestJoin_TerminalSessionRejected(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice"})
	require.NoError(t, err)

	_, err = svc.End(ctx, sess.SessionID, "alice")
	require.NoError(t, err)

	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestJoin_UnknownSession(t *testing.T) {
	svc, _ := newTestEngine(t)

	_, err := svc.Join(context.Background(), "nope", "bob", "", "")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestLeave_HostFailoverPicksEarliestJoiner(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := base
	repo.seed(&models.Session{
		SessionID: "s1",
		Kind:      models.KindGroupVoiceCall,
		HostID:    "alice",
		Status:    models.StatusActive,
		StartedAt: &started,
		CreatedAt: base,
		Call:      &models.CallDetail{CallType: "voice", IsGroupCall: true, MaxParticipants: 5},
		Participants: []models.Participant{
			{UserID: "alice", Role: models.RoleHost, IsActive: true, JoinedAt: base},
			{UserID: "bob", Role: models.RoleParticipant, IsActive: true, JoinedAt: base.Add(time.Second)},
			{UserID: "carol", Role: models.RoleParticipant, IsActive: true, JoinedAt: base.Add(2 * time.Second)},
		},
	})

	res, err := svc.Leave(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, res.Status)

	after, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "bob", after.HostID)
	assert.Equal(t, models.RoleHost, after.FindParticipant("bob").Role)
	assert.Equal(t, models.RoleParticipant, after.FindParticipant("alice").Role)
	assert.Equal(t, 1, hostCount(after))
}

func TestLeave_LastDepartureCompletes(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindVoiceCall, HostID: "alice"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	res, err := svc.Leave(ctx, sess.SessionID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, res.Status)

	res, err = svc.Leave(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)

	after, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	require.NotNil(t, after.EndedAt)
	require.NotNil(t, after.StartedAt)
	assert.Equal(t, after.DurationSeconds, int64(after.EndedAt.Sub(*after.StartedAt).Seconds()))
	assert.Equal(t, 0, after.ActiveCount())
	assert.Equal(t, 0, hostCount(after))
	assert.Empty(t, after.HostID)
}

func TestLeave_MembershipErrors(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindGroupChat, HostID: "alice", MaxParticipants: 4})
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	_, err = svc.Leave(ctx, sess.SessionID, "mallory")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	_, err = svc.Leave(ctx, sess.SessionID, "bob")
	require.NoError(t, err)
	_, err = svc.Leave(ctx, sess.SessionID, "bob")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestEnd_HostOnlyAndIdempotent(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice", InitialParticipants: []string{"bob"}})
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	_, err = svc.End(ctx, sess.SessionID, "bob")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	ended, err := svc.End(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, ended.Status)
	require.NotNil(t, ended.EndedAt)

	// ending again returns the terminal record without error
	again, err := svc.End(ctx, sess.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, ended.EndedAt.Unix(), again.EndedAt.Unix())
}

func TestUpdateParticipantState(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindVideoCall, HostID: "alice"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	mic := false
	speaking := true
	level := 0.75
	p, err := svc.UpdateParticipantState(ctx, sess.SessionID, "bob", ParticipantStateDelta{
		MicEnabled: &mic,
		IsSpeaking: &speaking,
		AudioLevel: &level,
	})
	require.NoError(t, err)
	assert.False(t, p.CallState.MicEnabled)
	assert.True(t, p.CallState.IsSpeaking)
	assert.InDelta(t, 0.75, p.CallState.AudioLevel, 1e-9)
	assert.True(t, p.CallState.CameraEnabled) // untouched video default

	chat, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice"})
	require.NoError(t, err)
	_, err = svc.UpdateParticipantState(ctx, chat.SessionID, "alice", ParticipantStateDelta{MicEnabled: &mic})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestPauseResume(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, CreateSessionParams{
		Kind:   models.KindGame,
		HostID: "alice",
		Questions: []models.GameQuestion{
			{Prompt: "q", Options: []string{"a", "b"}, CorrectIndex: 0, Points: 5},
		},
	})
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, game.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, paused.Status)
	assert.Equal(t, models.GamePaused, paused.Game.Status)

	// pausing twice is an invalid transition
	_, err = svc.Pause(ctx, game.SessionID, "alice")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	resumed, err := svc.Resume(ctx, game.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, resumed.Status)
	assert.Equal(t, models.GameInProgress, resumed.Game.Status)

	_, err = svc.Pause(ctx, game.SessionID, "bob")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	chat, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice"})
	require.NoError(t, err)
	_, err = svc.Pause(ctx, chat.SessionID, "alice")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestUpgradeToCall(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "alice"})
	require.NoError(t, err)

	// not enough active participants yet
	_, err = svc.UpgradeToCall(ctx, sess.SessionID, "alice", "video")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	_, err = svc.UpgradeToCall(ctx, sess.SessionID, "bob", "video")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	_, err = svc.UpgradeToCall(ctx, sess.SessionID, "alice", "screaming")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	upgraded, err := svc.UpgradeToCall(ctx, sess.SessionID, "alice", "video")
	require.NoError(t, err)
	assert.Equal(t, models.KindVideoCall, upgraded.Kind)
	require.NotNil(t, upgraded.Call)
	assert.Equal(t, "video", upgraded.Call.CallType)
	assert.Equal(t, 2, upgraded.Call.MaxParticipants)
	assert.Nil(t, upgraded.Chat)

	for i := range upgraded.Participants {
		p := &upgraded.Participants[i]
		assert.True(t, p.CallState.MicEnabled)
		assert.True(t, p.CallState.CameraEnabled)
	}

	// a game session can never be upgraded
	game, err := svc.Create(ctx, CreateSessionParams{
		Kind:   models.KindGame,
		HostID: "alice",
		Questions: []models.GameQuestion{
			{Prompt: "q", Options: []string{"a", "b"}, CorrectIndex: 0, Points: 5},
		},
	})
	require.NoError(t, err)
	_, err = svc.UpgradeToCall(ctx, game.SessionID, "alice", "voice")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestUpgradeToCall_GroupPreservesHistoryAndCapacity(t *testing.T) {
	repo := newFakeSessionRepo()
	km := locks.NewKeyedMutex()
	svc := NewSessionService(repo, km, events.NopPublisher{}, testLogger())
	chat := NewChatService(repo, km, events.NopPublisher{})
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindGroupChat, HostID: "alice", MaxParticipants: 6})
	require.NoError(t, err)
	_, err = svc.Join(ctx, sess.SessionID, "bob", "", "")
	require.NoError(t, err)

	_, err = chat.AppendMessage(ctx, sess.SessionID, "alice", "hello", models.MessageText)
	require.NoError(t, err)
	_, err = chat.AppendMessage(ctx, sess.SessionID, "bob", "hi", models.MessageText)
	require.NoError(t, err)

	upgraded, err := svc.UpgradeToCall(ctx, sess.SessionID, "alice", "voice")
	require.NoError(t, err)
	assert.Equal(t, models.KindGroupVoiceCall, upgraded.Kind)
	assert.Equal(t, 6, upgraded.Call.MaxParticipants)
	assert.True(t, upgraded.Call.IsGroupCall)
	assert.Nil(t, upgraded.Group)
	require.NotNil(t, upgraded.ArchivedChat)
	assert.EqualValues(t, 2, upgraded.ArchivedChat.TotalMessages)
	assert.Len(t, upgraded.ArchivedChat.Messages, 2)
}

func TestExpireScheduled(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	repo.seed(&models.Session{
		SessionID: "stale",
		Kind:      models.KindChat,
		HostID:    "alice",
		Status:    models.StatusScheduled,
		CreatedAt: old,
		Chat:      &models.ChatDetail{},
		Participants: []models.Participant{
			{UserID: "alice", Role: models.RoleHost, IsActive: true, JoinedAt: old},
		},
	})

	cutoff := time.Now().UTC().Add(-time.Hour)
	ok, err := svc.ExpireScheduled(ctx, "stale", cutoff)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := svc.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, after.Status)
	require.NotNil(t, after.EndedAt)
	assert.Equal(t, 0, hostCount(after))

	// fresh sessions are left alone
	fresh, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindChat, HostID: "bob"})
	require.NoError(t, err)
	ok, err = svc.ExpireScheduled(ctx, fresh.SessionID, cutoff)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Invariant: at every step of a join/leave sequence, the session is either
// terminal or has exactly one host.
func TestInvariant_SingleHostUntilTerminal(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionParams{Kind: models.KindGroupChat, HostID: "u0", MaxParticipants: 10})
	require.NoError(t, err)
	id := sess.SessionID

	check := func() {
		cur, err := svc.Get(ctx, id)
		require.NoError(t, err)
		if cur.Status.Terminal() {
			assert.Equal(t, 0, hostCount(cur))
		} else {
			assert.Equal(t, 1, hostCount(cur))
			assert.GreaterOrEqual(t, cur.ActiveCount(), 1, "non-terminal session must keep an active participant")
		}
	}

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := svc.Join(ctx, id, u, "", "")
		require.NoError(t, err)
		check()
	}
	for _, u := range []string{"u0", "u2", "u1", "u3"} {
		_, err := svc.Leave(ctx, id, u)
		require.NoError(t, err)
		check()
	}

	final, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
}
