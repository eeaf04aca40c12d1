package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/locks"
	"github.com/yoockh/talkspace/internal/models"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	"github.com/yoockh/talkspace/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// errSkipWrite lets a mutation callback finish without persisting. Used for
// idempotent no-op paths (e.g. progress on an already completed lecture).
var errSkipWrite = errors.New("skip write")

// recordMutator owns the single-writer-per-record discipline: every mutation
// runs as lock -> read -> validate/mutate -> replace, with the per-session
// lock held for the whole span. Unrelated sessions never contend.
type recordMutator struct {
	sessions mongorepo.SessionRepository
	locks    *locks.KeyedMutex
}

func (m *recordMutator) mutate(ctx context.Context, op, sessionID string, fn func(s *models.Session) error) (*models.Session, error) {
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load session", err)
	}

	if err := fn(sess); err != nil {
		if errors.Is(err, errSkipWrite) {
			return sess, nil
		}
		return nil, err
	}

	if err := m.sessions.Replace(ctx, sess); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist session", err)
	}
	return sess, nil
}

// finishSession applies the terminal transition: ended timestamps, duration,
// frozen participant elapsed times, and zero hosts.
func finishSession(s *models.Session, now time.Time, to models.SessionStatus) {
	s.Status = to
	s.EndedAt = &now
	if s.StartedAt != nil {
		s.DurationSeconds = clampSeconds(now.Sub(*s.StartedAt))
	}

	for i := range s.Participants {
		p := &s.Participants[i]
		if p.IsActive {
			p.IsActive = false
			left := now
			p.LeftAt = &left
			p.ElapsedSeconds = clampSeconds(now.Sub(p.JoinedAt))
		}
		if p.Role == models.RoleHost {
			p.Role = models.RoleParticipant
		}
	}
	s.HostID = ""

	if to == models.StatusCompleted && s.Game != nil {
		s.Game.Status = models.GameCompleted
	}
}

func clampSeconds(d time.Duration) int64 {
	sec := int64(d.Seconds())
	if sec < 0 {
		return 0
	}
	return sec
}

type CreateSessionParams struct {
	Kind        models.SessionKind
	HostID      string
	Title       string
	Description string
	Region      string

	// invited members, added inactive; they activate on join
	InitialParticipants []string

	IsPrivate    bool
	AccessSecret string

	// call kinds
	MaxParticipants int
	CallSettings    models.CallSettings

	// group kinds
	Level string

	// game
	Questions        []models.GameQuestion
	TimeLimitSeconds int

	// lecture
	LectureID              string
	LectureDurationSeconds int64
}

type ParticipantStateDelta struct {
	MicEnabled    *bool    `json:"mic_enabled,omitempty"`
	CameraEnabled *bool    `json:"camera_enabled,omitempty"`
	IsSpeaking    *bool    `json:"is_speaking,omitempty"`
	AudioLevel    *float64 `json:"audio_level,omitempty"`
	ScreenSharing *bool    `json:"screen_sharing,omitempty"`
}

type LeaveResult struct {
	Status         models.SessionStatus `json:"status"`
	ElapsedSeconds int64                `json:"elapsed_seconds"`
}

type SessionService interface {
	Create(ctx context.Context, p CreateSessionParams) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error)
	Join(ctx context.Context, sessionID, userID, secret string, roleHint models.ParticipantRole) (*models.Session, error)
	Leave(ctx context.Context, sessionID, userID string) (*LeaveResult, error)
	UpdateParticipantState(ctx context.Context, sessionID, userID string, delta ParticipantStateDelta) (*models.Participant, error)
	Pause(ctx context.Context, sessionID, callerID string) (*models.Session, error)
	Resume(ctx context.Context, sessionID, callerID string) (*models.Session, error)
	End(ctx context.Context, sessionID, callerID string) (*models.Session, error)
	UpgradeToCall(ctx context.Context, sessionID, callerID, callType string) (*models.Session, error)
	// ExpireScheduled cancels a scheduled session created before cutoff.
	// Reports false without error when the session moved on in the meantime.
	ExpireScheduled(ctx context.Context, sessionID string, cutoff time.Time) (bool, error)
}

type sessionService struct {
	recordMutator
	events events.Publisher
	log    *logrus.Logger
}

func NewSessionService(sessions mongorepo.SessionRepository, km *locks.KeyedMutex, pub events.Publisher, log *logrus.Logger) SessionService {
	return &sessionService{
		recordMutator: recordMutator{sessions: sessions, locks: km},
		events:        pub,
		log:           log,
	}
}

func (s *sessionService) Create(ctx context.Context, p CreateSessionParams) (*models.Session, error) {
	const op = "SessionService.Create"

	if !p.Kind.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "unknown session kind", nil)
	}
	if p.HostID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "host_id is required", nil)
	}
	if p.IsPrivate && !p.Kind.IsGroup() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "only group sessions can be private", nil)
	}
	if p.IsPrivate && p.AccessSecret == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "private sessions require an access secret", nil)
	}

	now := time.Now().UTC()
	sess := &models.Session{
		SessionID:   uuid.NewString(),
		Kind:        p.Kind,
		Title:       p.Title,
		Description: p.Description,
		HostID:      p.HostID,
		Status:      models.StatusScheduled,
		Region:      p.Region,
		IsPrivate:   p.IsPrivate,
		ScheduledAt: now,
		CreatedAt:   now,
	}

	if err := buildVariantPayload(op, sess, p); err != nil {
		return nil, err
	}

	if p.IsPrivate {
		hash, err := utils.HashSecret(p.AccessSecret)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to hash access secret", err)
		}
		sess.AccessSecretHash = hash
	}

	host := models.Participant{
		UserID:    p.HostID,
		Role:      models.RoleHost,
		IsActive:  true,
		JoinedAt:  now,
		CallState: defaultCallState(sess),
	}
	sess.Participants = []models.Participant{host}

	seen := map[string]struct{}{p.HostID: {}}
	for _, id := range p.InitialParticipants {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sess.Participants = append(sess.Participants, models.Participant{
			UserID:   id,
			Role:     models.DefaultRole(p.Kind),
			IsActive: false,
		})
	}
	if len(sess.Participants) > sess.Capacity() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "participant list exceeds session capacity", nil)
	}

	if p.Kind.StartsImmediately() {
		sess.Status = models.StatusActive
		started := now
		sess.StartedAt = &started
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create session", err)
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sess.SessionID,
		"kind":       sess.Kind,
		"host_id":    sess.HostID,
	}).Info("session created")
	return sess, nil
}

// buildVariantPayload populates exactly one payload for the kind, rejecting
// missing kind-specific config.
func buildVariantPayload(op string, sess *models.Session, p CreateSessionParams) error {
	switch p.Kind {
	case models.KindVoiceCall, models.KindVideoCall:
		sess.Call = &models.CallDetail{
			CallType:        callTypeOf(p.Kind),
			IsGroupCall:     false,
			MaxParticipants: 2,
			Settings:        p.CallSettings,
		}

	case models.KindGroupVoiceCall, models.KindGroupVideoCall:
		if p.MaxParticipants < 2 {
			return utils.E(utils.CodeInvalidArgument, op, "group calls require max_participants >= 2", nil)
		}
		sess.Call = &models.CallDetail{
			CallType:        callTypeOf(p.Kind),
			IsGroupCall:     true,
			MaxParticipants: p.MaxParticipants,
			Settings:        p.CallSettings,
		}

	case models.KindChat:
		sess.Chat = &models.ChatDetail{}

	case models.KindGroupChat:
		if p.MaxParticipants < 2 {
			return utils.E(utils.CodeInvalidArgument, op, "group chats require max_participants >= 2", nil)
		}
		code, err := utils.NewJoinCode()
		if err != nil {
			return utils.E(utils.CodeInternal, op, "failed to generate join code", err)
		}
		sess.Group = &models.GroupDetail{
			JoinCode:        code,
			Level:           p.Level,
			MaxParticipants: p.MaxParticipants,
		}

	case models.KindGame:
		if len(p.Questions) == 0 {
			return utils.E(utils.CodeInvalidArgument, op, "game sessions require questions", nil)
		}
		for _, q := range p.Questions {
			if len(q.Options) < 2 || q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
				return utils.E(utils.CodeInvalidArgument, op, "malformed game question", nil)
			}
		}
		sess.Game = &models.GameDetail{
			Questions:       p.Questions,
			TimeLeftSeconds: p.TimeLimitSeconds,
			Status:          models.GameInProgress,
		}

	case models.KindLecture:
		if p.LectureID == "" || p.LectureDurationSeconds <= 0 {
			return utils.E(utils.CodeInvalidArgument, op, "lecture sessions require lecture_id and a positive duration", nil)
		}
		sess.Lecture = &models.LectureDetail{
			LectureID:            p.LectureID,
			TotalDurationSeconds: p.LectureDurationSeconds,
		}
	}
	return nil
}

func callTypeOf(k models.SessionKind) string {
	if k == models.KindVideoCall || k == models.KindGroupVideoCall {
		return "video"
	}
	return "voice"
}

// defaultCallState is the kind-appropriate initial flag set for a joiner.
func defaultCallState(s *models.Session) models.CallParticipantState {
	if !s.Kind.IsCall() || s.Call == nil {
		return models.CallParticipantState{}
	}
	return models.CallParticipantState{
		MicEnabled:    !s.Call.Settings.MuteOnEntry,
		CameraEnabled: s.Call.CallType == "video",
	}
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	out, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	const op = "SessionService.ListByUser"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	out, err := s.sessions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list sessions", err)
	}
	return out, nil
}

func (s *sessionService) Join(ctx context.Context, sessionID, userID, secret string, roleHint models.ParticipantRole) (*models.Session, error) {
	const op = "SessionService.Join"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	sess, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if sess.Status != models.StatusScheduled && sess.Status != models.StatusActive {
			return utils.E(utils.CodeConflict, op, "session is not joinable", nil)
		}

		p := sess.FindParticipant(userID)
		if p != nil && p.IsActive {
			return utils.E(utils.CodeConflict, op, "already an active participant", nil)
		}
		if sess.ActiveCount() >= sess.Capacity() {
			return utils.E(utils.CodeConflict, op, "session is full", nil)
		}
		if sess.IsPrivate {
			if secret == "" || utils.CheckSecret(sess.AccessSecretHash, secret) != nil {
				return utils.E(utils.CodeConflict, op, "access secret mismatch", nil)
			}
		}

		role := models.DefaultRole(sess.Kind)
		if roleHint != "" && roleHint.Valid() && roleHint != models.RoleHost {
			role = roleHint
		}

		now := time.Now().UTC()
		if p != nil {
			// rejoin after an earlier departure
			p.IsActive = true
			p.JoinedAt = now
			p.LeftAt = nil
			p.CallState = defaultCallState(sess)
		} else {
			sess.Participants = append(sess.Participants, models.Participant{
				UserID:    userID,
				Role:      role,
				IsActive:  true,
				JoinedAt:  now,
				CallState: defaultCallState(sess),
			})
		}

		// second active participant brings a scheduled session up
		if sess.Status == models.StatusScheduled && sess.ActiveCount() >= 2 {
			sess.Status = models.StatusActive
			if sess.StartedAt == nil {
				started := now
				sess.StartedAt = &started
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.Event{Type: events.TypeParticipantJoined, SessionID: sessionID, UserID: userID})
	return sess, nil
}

func (s *sessionService) Leave(ctx context.Context, sessionID, userID string) (*LeaveResult, error) {
	const op = "SessionService.Leave"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var out LeaveResult
	var ended bool

	_, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if sess.Status.Terminal() {
			return utils.E(utils.CodeConflict, op, "session already ended", nil)
		}

		p := sess.FindParticipant(userID)
		if p == nil {
			return utils.E(utils.CodeNotFound, op, "not a participant of this session", nil)
		}
		if !p.IsActive {
			return utils.E(utils.CodeConflict, op, "not an active participant", nil)
		}

		now := time.Now().UTC()
		p.IsActive = false
		left := now
		p.LeftAt = &left
		p.ElapsedSeconds = clampSeconds(now.Sub(p.JoinedAt))

		// Host failover and zero-active completion are the two mutually
		// exclusive outcomes of this departure, decided here under the lock.
		if p.Role == models.RoleHost {
			p.Role = models.RoleParticipant
			if next := earliestActive(sess); next != nil {
				next.Role = models.RoleHost
				sess.HostID = next.UserID
			} else {
				finishSession(sess, now, models.StatusCompleted)
				ended = true
			}
		} else if sess.ActiveCount() == 0 {
			finishSession(sess, now, models.StatusCompleted)
			ended = true
		}

		out = LeaveResult{Status: sess.Status, ElapsedSeconds: p.ElapsedSeconds}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.Event{Type: events.TypeParticipantLeft, SessionID: sessionID, UserID: userID})
	if ended {
		s.events.Publish(ctx, events.Event{Type: events.TypeSessionEnded, SessionID: sessionID})
	}
	return &out, nil
}

// earliestActive picks the failover host: earliest joined among the remaining
// active participants.
func earliestActive(s *models.Session) *models.Participant {
	var best *models.Participant
	for i := range s.Participants {
		p := &s.Participants[i]
		if !p.IsActive {
			continue
		}
		if best == nil || p.JoinedAt.Before(best.JoinedAt) {
			best = p
		}
	}
	return best
}

func (s *sessionService) UpdateParticipantState(ctx context.Context, sessionID, userID string, delta ParticipantStateDelta) (*models.Participant, error) {
	const op = "SessionService.UpdateParticipantState"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var out models.Participant
	_, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if !sess.Kind.IsCall() {
			return utils.E(utils.CodeInvalidArgument, op, "state updates apply to call sessions only", nil)
		}
		if sess.Status.Terminal() {
			return utils.E(utils.CodeConflict, op, "session already ended", nil)
		}

		p := sess.FindParticipant(userID)
		if p == nil {
			return utils.E(utils.CodeNotFound, op, "not a participant of this session", nil)
		}
		if !p.IsActive {
			return utils.E(utils.CodeConflict, op, "not an active participant", nil)
		}

		if delta.MicEnabled != nil {
			p.CallState.MicEnabled = *delta.MicEnabled
		}
		if delta.CameraEnabled != nil {
			p.CallState.CameraEnabled = *delta.CameraEnabled
		}
		if delta.IsSpeaking != nil {
			p.CallState.IsSpeaking = *delta.IsSpeaking
		}
		if delta.AudioLevel != nil {
			p.CallState.AudioLevel = *delta.AudioLevel
		}
		if delta.ScreenSharing != nil {
			p.CallState.ScreenSharing = *delta.ScreenSharing
		}

		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.Event{Type: events.TypeStateUpdated, SessionID: sessionID, UserID: userID})
	return &out, nil
}

func (s *sessionService) Pause(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	const op = "SessionService.Pause"
	return s.setPaused(ctx, op, sessionID, callerID, true)
}

func (s *sessionService) Resume(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	const op = "SessionService.Resume"
	return s.setPaused(ctx, op, sessionID, callerID, false)
}

func (s *sessionService) setPaused(ctx context.Context, op, sessionID, callerID string, pause bool) (*models.Session, error) {
	if callerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "caller_id is required", nil)
	}

	return s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if !sess.Kind.Resumable() {
			return utils.E(utils.CodeInvalidArgument, op, "session kind does not support pause", nil)
		}
		if callerID != sess.HostID {
			return utils.E(utils.CodeForbidden, op, "only the host may pause or resume", nil)
		}

		target := models.StatusActive
		if pause {
			target = models.StatusPaused
		}
		if !models.CanTransition(sess.Status, target) {
			return utils.E(utils.CodeConflict, op, "invalid state transition", nil)
		}

		sess.Status = target
		if sess.Game != nil {
			if pause {
				sess.Game.Status = models.GamePaused
			} else {
				sess.Game.Status = models.GameInProgress
			}
		}
		return nil
	})
}

func (s *sessionService) End(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	const op = "SessionService.End"

	if callerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "caller_id is required", nil)
	}

	var ended bool
	sess, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if sess.Status.Terminal() {
			// idempotent: ending an ended session returns its current state
			return errSkipWrite
		}
		if callerID != sess.HostID {
			return utils.E(utils.CodeForbidden, op, "only the host may end the session", nil)
		}
		finishSession(sess, time.Now().UTC(), models.StatusCompleted)
		ended = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ended {
		s.events.Publish(ctx, events.Event{Type: events.TypeSessionEnded, SessionID: sessionID, UserID: callerID})
	}
	return sess, nil
}

func (s *sessionService) UpgradeToCall(ctx context.Context, sessionID, callerID, callType string) (*models.Session, error) {
	const op = "SessionService.UpgradeToCall"

	if callerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "caller_id is required", nil)
	}
	if callType != "voice" && callType != "video" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_type must be voice or video", nil)
	}

	sess, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if !sess.Kind.IsChat() {
			return utils.E(utils.CodeInvalidArgument, op, "only chat sessions can be upgraded", nil)
		}
		if sess.Status.Terminal() {
			return utils.E(utils.CodeConflict, op, "session already ended", nil)
		}
		if callerID != sess.HostID {
			return utils.E(utils.CodeForbidden, op, "only the host may upgrade the session", nil)
		}
		if sess.ActiveCount() < 2 {
			return utils.E(utils.CodeConflict, op, "upgrade requires at least two active participants", nil)
		}

		group := sess.Kind == models.KindGroupChat
		maxParticipants := 2
		if group && sess.Group != nil {
			maxParticipants = sess.Group.MaxParticipants
		}

		// preserve the chat history, detached from the live payload
		if log := sess.ChatLog(); log != nil && log.TotalMessages > 0 {
			archived := *log
			sess.ArchivedChat = &archived
		}

		newKind := models.KindVoiceCall
		switch {
		case group && callType == "video":
			newKind = models.KindGroupVideoCall
		case group:
			newKind = models.KindGroupVoiceCall
		case callType == "video":
			newKind = models.KindVideoCall
		}

		sess.Kind = newKind
		sess.Chat = nil
		sess.Group = nil
		sess.Call = &models.CallDetail{
			CallType:        callType,
			IsGroupCall:     group,
			MaxParticipants: maxParticipants,
			Settings:        models.CallSettings{ChatEnabled: true},
		}

		for i := range sess.Participants {
			p := &sess.Participants[i]
			if p.IsActive {
				p.CallState = defaultCallState(sess)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.Event{Type: events.TypeSessionUpgraded, SessionID: sessionID, UserID: callerID})
	return sess, nil
}

func (s *sessionService) ExpireScheduled(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	const op = "SessionService.ExpireScheduled"

	var expired bool
	_, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if sess.Status != models.StatusScheduled || sess.CreatedAt.After(cutoff) {
			// a join or an explicit end won the race; nothing to do
			return errSkipWrite
		}
		finishSession(sess, time.Now().UTC(), models.StatusCancelled)
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if expired {
		s.log.WithField("session_id", sessionID).Info("stale scheduled session cancelled")
	}
	return expired, nil
}
