package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var communicationKinds = []models.SessionKind{
	models.KindVoiceCall, models.KindVideoCall,
	models.KindGroupVoiceCall, models.KindGroupVideoCall,
	models.KindChat, models.KindGroupChat,
}

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	// Replace persists the whole document. Callers hold the per-record lock,
	// which is what makes read-mutate-replace safe.
	Replace(ctx context.Context, s *models.Session) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error)
	ListPublicGroups(ctx context.Context, region string, limit int) ([]models.Session, error)
	GetByJoinCode(ctx context.Context, joinCode string) (*models.Session, error)
	// BusyUserIDs returns the subset of userIDs that are an active member of
	// a non-terminal communication session.
	BusyUserIDs(ctx context.Context, userIDs []string) (map[string]struct{}, error)
	ListStaleScheduled(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("sessions")}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) Replace(ctx context.Context, s *models.Session) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"session_id": s.SessionID}, s)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := r.col.Find(ctx,
		bson.M{"participants.user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	err = cur.All(ctx, &out)
	return out, err
}

func (r *sessionRepo) ListPublicGroups(ctx context.Context, region string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{
		"kind":       bson.M{"$in": bson.A{models.KindGroupVoiceCall, models.KindGroupVideoCall, models.KindGroupChat}},
		"is_private": false,
		"status":     bson.M{"$in": bson.A{models.StatusScheduled, models.StatusActive}},
	}
	if region != "" {
		filter["region"] = region
	}
	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	err = cur.All(ctx, &out)
	return out, err
}

func (r *sessionRepo) GetByJoinCode(ctx context.Context, joinCode string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"group.join_code": joinCode}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) BusyUserIDs(ctx context.Context, userIDs []string) (map[string]struct{}, error) {
	busy := make(map[string]struct{})
	if len(userIDs) == 0 {
		return busy, nil
	}

	// A scheduled session binds everyone on its roster: invitees have not
	// joined yet, so membership alone marks them busy. Active and paused
	// sessions only bind their currently active members.
	cur, err := r.col.Find(ctx,
		bson.M{
			"kind": bson.M{"$in": communicationKinds},
			"$or": bson.A{
				bson.M{
					"status":               models.StatusScheduled,
					"participants.user_id": bson.M{"$in": userIDs},
				},
				bson.M{
					"status": bson.M{"$in": bson.A{models.StatusActive, models.StatusPaused}},
					"participants": bson.M{"$elemMatch": bson.M{
						"user_id":   bson.M{"$in": userIDs},
						"is_active": true,
					}},
				},
			},
		},
		options.Find().SetProjection(bson.M{"participants": 1, "status": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	for cur.Next(ctx) {
		var s models.Session
		if err := cur.Decode(&s); err != nil {
			return nil, err
		}
		for i := range s.Participants {
			p := &s.Participants[i]
			if s.Status != models.StatusScheduled && !p.IsActive {
				continue
			}
			if _, ok := wanted[p.UserID]; ok {
				busy[p.UserID] = struct{}{}
			}
		}
	}
	return busy, cur.Err()
}

func (r *sessionRepo) ListStaleScheduled(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := r.col.Find(ctx,
		bson.M{
			"status":     models.StatusScheduled,
			"created_at": bson.M{"$lt": olderThan.UTC()},
		},
		options.Find().
			SetProjection(bson.M{"session_id": 1}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var s models.Session
		if err := cur.Decode(&s); err != nil {
			return nil, err
		}
		ids = append(ids, s.SessionID)
	}
	return ids, cur.Err()
}
