package services

import (
	"context"
	"time"

	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/locks"
	"github.com/yoockh/talkspace/internal/models"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	"github.com/yoockh/talkspace/internal/utils"
)

const (
	ProgressActionUpdate   = "progress"
	ProgressActionBookmark = "bookmark"
)

type ProgressResult struct {
	WatchTimeSeconds     int64                `json:"watch_time_seconds"`
	CompletionPercentage float64              `json:"completion_percentage"`
	IsCompleted          bool                 `json:"is_completed"`
	SessionStatus        models.SessionStatus `json:"session_status"`
}

type LectureService interface {
	UpdateProgress(ctx context.Context, sessionID, userID string, positionSeconds int64, action string) (*ProgressResult, error)
}

type lectureService struct {
	recordMutator
	events events.Publisher
}

func NewLectureService(sessions mongorepo.SessionRepository, km *locks.KeyedMutex, pub events.Publisher) LectureService {
	return &lectureService{
		recordMutator: recordMutator{sessions: sessions, locks: km},
		events:        pub,
	}
}

func (s *lectureService) UpdateProgress(ctx context.Context, sessionID, userID string, positionSeconds int64, action string) (*ProgressResult, error) {
	const op = "LectureService.UpdateProgress"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if positionSeconds < 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "position must be >= 0", nil)
	}
	if action == "" {
		action = ProgressActionUpdate
	}
	if action != ProgressActionUpdate && action != ProgressActionBookmark {
		return nil, utils.E(utils.CodeInvalidArgument, op, "unknown progress action", nil)
	}

	var out ProgressResult
	var ended bool

	_, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if sess.Kind != models.KindLecture {
			return utils.E(utils.CodeInvalidArgument, op, "progress applies to lecture sessions only", nil)
		}
		l := sess.Lecture

		if sess.Status.Terminal() {
			if l.IsCompleted {
				// finished lecture: further progress calls are no-ops
				out = ProgressResult{
					WatchTimeSeconds:     l.WatchTimeSeconds,
					CompletionPercentage: l.CompletionPercentage,
					IsCompleted:          true,
					SessionStatus:        sess.Status,
				}
				return errSkipWrite
			}
			return utils.E(utils.CodeConflict, op, "session already ended", nil)
		}
		if sess.Status == models.StatusPaused {
			return utils.E(utils.CodeConflict, op, "lecture is paused", nil)
		}

		p := sess.FindParticipant(userID)
		if p == nil {
			return utils.E(utils.CodeNotFound, op, "not a participant of this session", nil)
		}
		if !p.IsActive {
			return utils.E(utils.CodeConflict, op, "not an active participant", nil)
		}

		now := time.Now().UTC()
		pos := positionSeconds
		if pos > l.TotalDurationSeconds {
			pos = l.TotalDurationSeconds
		}

		// watch time tracks the furthest position reached; rewinds never
		// reduce it
		if pos > l.WatchTimeSeconds {
			l.WatchTimeSeconds = pos
		}
		l.CompletionPercentage = float64(l.WatchTimeSeconds) / float64(l.TotalDurationSeconds)

		if action == ProgressActionBookmark {
			l.Bookmarks = append(l.Bookmarks, models.Bookmark{
				PositionSeconds: positionSeconds,
				CreatedAt:       now,
			})
		}

		if !l.IsCompleted && l.CompletionPercentage >= models.LectureCompletionThreshold {
			l.IsCompleted = true
			finishSession(sess, now, models.StatusCompleted)
			ended = true
		}

		out = ProgressResult{
			WatchTimeSeconds:     l.WatchTimeSeconds,
			CompletionPercentage: l.CompletionPercentage,
			IsCompleted:          l.IsCompleted,
			SessionStatus:        sess.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ended {
		s.events.Publish(ctx, events.Event{Type: events.TypeSessionEnded, SessionID: sessionID, UserID: userID})
	}
	return &out, nil
}
