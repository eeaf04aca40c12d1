package services

import (
	"context"
	"strings"
	"time"

	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/locks"
	"github.com/yoockh/talkspace/internal/models"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	"github.com/yoockh/talkspace/internal/utils"
)

type AnswerResult struct {
	Score         int                  `json:"score"`
	IsCorrect     bool                 `json:"is_correct"`
	SessionStatus models.SessionStatus `json:"session_status"`
}

type GameService interface {
	RecordAnswer(ctx context.Context, sessionID, userID string, questionIndex int, answer string) (*AnswerResult, error)
}

type gameService struct {
	recordMutator
	events events.Publisher
}

func NewGameService(sessions mongorepo.SessionRepository, km *locks.KeyedMutex, pub events.Publisher) GameService {
	return &gameService{
		recordMutator: recordMutator{sessions: sessions, locks: km},
		events:        pub,
	}
}

func (s *gameService) RecordAnswer(ctx context.Context, sessionID, userID string, questionIndex int, answer string) (*AnswerResult, error) {
	const op = "GameService.RecordAnswer"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var out AnswerResult
	var ended bool

	_, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		if sess.Kind != models.KindGame {
			return utils.E(utils.CodeInvalidArgument, op, "answers apply to game sessions only", nil)
		}
		g := sess.Game
		if sess.Status.Terminal() || g.Status == models.GameCompleted {
			return utils.E(utils.CodeConflict, op, "game already completed", nil)
		}
		if sess.Status == models.StatusPaused {
			return utils.E(utils.CodeConflict, op, "game is paused", nil)
		}

		p := sess.FindParticipant(userID)
		if p == nil {
			return utils.E(utils.CodeNotFound, op, "not a participant of this session", nil)
		}
		if !p.IsActive {
			return utils.E(utils.CodeConflict, op, "not an active participant", nil)
		}

		if questionIndex != g.CurrentQuestionIndex {
			return utils.E(utils.CodeConflict, op, "answer does not target the current question", nil)
		}

		q := g.Questions[questionIndex]
		correct := strings.EqualFold(strings.TrimSpace(answer), q.Options[q.CorrectIndex])

		now := time.Now().UTC()
		g.Answers = append(g.Answers, models.GameAnswer{
			QuestionIndex: questionIndex,
			Answer:        answer,
			IsCorrect:     correct,
			AnsweredAt:    now,
		})
		if correct {
			g.Score += q.Points
		}
		g.CurrentQuestionIndex++

		// answering the last question completes the game, which completes
		// the session in the same write
		if g.CurrentQuestionIndex >= len(g.Questions) {
			g.Status = models.GameCompleted
			finishSession(sess, now, models.StatusCompleted)
			ended = true
		}

		out = AnswerResult{Score: g.Score, IsCorrect: correct, SessionStatus: sess.Status}
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
