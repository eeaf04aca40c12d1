package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Event is the compact notification emitted after a successful session
// mutation. Delivery is best effort; the mutation never depends on it.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeStateUpdated      = "state_updated"
	TypeMessageAppended   = "message_appended"
	TypeSessionEnded      = "session_ended"
	TypeSessionUpgraded   = "session_upgraded"
)

// Channel is the pub/sub channel carrying events for one session.
func Channel(sessionID string) string {
	return "session:" + sessionID + ":events"
}

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type RedisPublisher struct {
	rdb *redis.Client
	log *logrus.Logger
}

func NewRedisPublisher(rdb *redis.Client, log *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).WithField("type", ev.Type).Warn("event marshal failed")
		return
	}
	if err := p.rdb.Publish(ctx, Channel(ev.SessionID), b).Err(); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"type":       ev.Type,
			"session_id": ev.SessionID,
		}).Warn("event publish failed")
	}
}

// NopPublisher discards events. Used in tests and offline tools.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
