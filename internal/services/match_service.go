package services

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/yoockh/talkspace/internal/cache"
	"github.com/yoockh/talkspace/internal/models"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	pgrepo "github.com/yoockh/talkspace/internal/repositories/postgres"
	"github.com/yoockh/talkspace/internal/utils"

	"github.com/sirupsen/logrus"
)

const (
	// matchWindowSize bounds the random pick to the most recently active
	// candidates, so reachable users are favored without always selecting
	// the single most active one.
	matchWindowSize = 10

	candidateScanLimit = 50

	groupListTTL = 10 * time.Second
)

type MatchResult struct {
	PartnerID  string          `json:"partner_id,omitempty"`
	Session    *models.Session `json:"session,omitempty"`
	ShouldWait bool            `json:"should_wait"`
}

type GroupSummary struct {
	SessionID       string             `json:"session_id"`
	Kind            models.SessionKind `json:"kind"`
	Title           string             `json:"title,omitempty"`
	Region          string             `json:"region,omitempty"`
	Level           string             `json:"level,omitempty"`
	JoinCode        string             `json:"join_code"`
	ActiveCount     int                `json:"active_count"`
	MaxParticipants int                `json:"max_participants"`
	IsFull          bool               `json:"is_full"`
}

type MatchService interface {
	FindMatch(ctx context.Context, userID, region string, sessionType models.SessionKind, levelFilter string) (*MatchResult, error)
	ListGroups(ctx context.Context, region string) ([]GroupSummary, error)
	GetGroupByCode(ctx context.Context, joinCode string) (*models.Session, error)
}

type matchService struct {
	profiles   pgrepo.ProfileRepository
	sessions   mongorepo.SessionRepository
	sessionSvc SessionService
	cache      cache.Cache
	log        *logrus.Logger
}

func NewMatchService(profiles pgrepo.ProfileRepository, sessions mongorepo.SessionRepository, sessionSvc SessionService, c cache.Cache, log *logrus.Logger) MatchService {
	return &matchService{
		profiles:   profiles,
		sessions:   sessions,
		sessionSvc: sessionSvc,
		cache:      c,
		log:        log,
	}
}

func (s *matchService) FindMatch(ctx context.Context, userID, region string, sessionType models.SessionKind, levelFilter string) (*MatchResult, error) {
	const op = "MatchService.FindMatch"

	if userID == "" || region == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and region are required", nil)
	}
	if !sessionType.IsCommunication() || sessionType.IsGroup() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "matchmaking supports 1:1 communication kinds only", nil)
	}

	// a requester already in a communication session may not start another
	selfBusy, err := s.sessions.BusyUserIDs(ctx, []string{userID})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to check requester availability", err)
	}
	if _, busy := selfBusy[userID]; busy {
		return nil, utils.E(utils.CodeConflict, op, "requester already has an open session", nil)
	}

	candidates, err := s.profiles.MatchCandidates(ctx, region, levelFilter, userID, candidateScanLimit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load candidates", err)
	}
	if len(candidates) == 0 {
		return &MatchResult{ShouldWait: true}, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.UserID)
	}
	busy, err := s.sessions.BusyUserIDs(ctx, ids)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to check candidate availability", err)
	}

	// candidates arrive ranked by most recent activity; keep that order
	eligible := ids[:0]
	for _, id := range ids {
		if _, b := busy[id]; !b {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return &MatchResult{ShouldWait: true}, nil
	}

	window := eligible
	if len(window) > matchWindowSize {
		window = window[:matchWindowSize]
	}
	partner := window[rand.Intn(len(window))]

	if err := s.profiles.TouchActivity(ctx, userID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("activity touch failed")
	}

	// chat matches materialize immediately; call kinds defer session
	// creation to an explicit initiate
	if sessionType != models.KindChat {
		return &MatchResult{PartnerID: partner}, nil
	}

	sess, err := s.sessionSvc.Create(ctx, CreateSessionParams{
		Kind:                models.KindChat,
		HostID:              userID,
		Region:              region,
		InitialParticipants: []string{partner},
	})
	if err != nil {
		return nil, err
	}
	return &MatchResult{PartnerID: partner, Session: sess}, nil
}

func (s *matchService) ListGroups(ctx context.Context, region string) ([]GroupSummary, error) {
	const op = "MatchService.ListGroups"

	cacheKey := "groups:" + region
	var cached []GroupSummary
	if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	sessions, err := s.sessions.ListPublicGroups(ctx, region, 0)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list groups", err)
	}

	out := make([]GroupSummary, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		sum := GroupSummary{
			SessionID:       sess.SessionID,
			Kind:            sess.Kind,
			Title:           sess.Title,
			Region:          sess.Region,
			ActiveCount:     sess.ActiveCount(),
			MaxParticipants: sess.Capacity(),
			IsFull:          sess.IsFull(),
		}
		if sess.Group != nil {
			sum.Level = sess.Group.Level
			sum.JoinCode = sess.Group.JoinCode
		}
		out = append(out, sum)
	}

	if err := s.cache.SetJSON(ctx, cacheKey, out, groupListTTL); err != nil {
		s.log.WithError(err).Warn("group list cache write failed")
	}
	return out, nil
}

func (s *matchService) GetGroupByCode(ctx context.Context, joinCode string) (*models.Session, error) {
	const op = "MatchService.GetGroupByCode"

	if joinCode == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "join_code is required", nil)
	}
	sess, err := s.sessions.GetByJoinCode(ctx, joinCode)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "group not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to look up group", err)
	}
	return sess, nil
}
