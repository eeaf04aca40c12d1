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
)

type ChatService interface {
	AppendMessage(ctx context.Context, sessionID, senderID, body string, typ models.MessageType) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID, userID string, limit int) ([]models.Message, error)
}

type chatService struct {
	recordMutator
	events events.Publisher
}

func NewChatService(sessions mongorepo.SessionRepository, km *locks.KeyedMutex, pub events.Publisher) ChatService {
	return &chatService{
		recordMutator: recordMutator{sessions: sessions, locks: km},
		events:        pub,
	}
}

func (s *chatService) AppendMessage(ctx context.Context, sessionID, senderID, body string, typ models.MessageType) (*models.Message, error) {
	const op = "ChatService.AppendMessage"

	if senderID == "" || body == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "sender_id and body are required", nil)
	}
	if typ == "" {
		typ = models.MessageText
	}
	if !typ.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "unknown message type", nil)
	}

	var out models.Message
	_, err := s.mutate(ctx, op, sessionID, func(sess *models.Session) error {
		log := sess.ChatLog()
		if log == nil {
			return utils.E(utils.CodeInvalidArgument, op, "session kind does not carry a chat log", nil)
		}
		if sess.Status.Terminal() {
			return utils.E(utils.CodeConflict, op, "session already ended", nil)
		}

		p := sess.FindParticipant(senderID)
		if p == nil {
			return utils.E(utils.CodeNotFound, op, "not a participant of this session", nil)
		}
		if !p.IsActive {
			return utils.E(utils.CodeConflict, op, "not an active participant", nil)
		}

		now := time.Now().UTC()
		out = models.Message{
			MessageID: uuid.NewString(),
			SenderID:  senderID,
			Body:      body,
			Type:      typ,
			Timestamp: now,
		}

		// log and counters move together, in one write
		log.Messages = append(log.Messages, out)
		log.TotalMessages++
		last := now
		log.LastMessageAt = &last
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.Event{
		Type:      events.TypeMessageAppended,
		SessionID: sessionID,
		UserID:    senderID,
		Data:      map[string]any{"message_id": out.MessageID},
	})
	return &out, nil
}

func (s *chatService) ListMessages(ctx context.Context, sessionID, userID string, limit int) ([]models.Message, error) {
	const op = "ChatService.ListMessages"

	if sessionID == "" || userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id and user_id are required", nil)
	}
	if limit <= 0 {
		limit = 50
	}

	sess, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}

	if sess.FindParticipant(userID) == nil {
		return nil, utils.E(utils.CodeForbidden, op, "not a participant of this session", nil)
	}

	log := sess.ChatLog()
	if log == nil {
		// an upgraded call still exposes its preserved history
		log = sess.ArchivedChat
	}
	if log == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session kind does not carry a chat log", nil)
	}

	msgs := log.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
