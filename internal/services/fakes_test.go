package services

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/yoockh/talkspace/internal/models"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	pgrepo "github.com/yoockh/talkspace/internal/repositories/postgres"
	"github.com/yoockh/talkspace/internal/utils"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// cloneSession round-trips through bson so fakes hand out independent
// documents, the same way the driver would.
func cloneSession(s *models.Session) *models.Session {
	b, err := bson.Marshal(s)
	if err != nil {
		panic(err)
	}
	var out models.Session
	if err := bson.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return &out
}

type fakeSessionRepo struct {
	mu   sync.Mutex
	docs map[string]*models.Session
}

var _ mongorepo.SessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{docs: make(map[string]*models.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	r.docs[s.SessionID] = cloneSession(s)
	return nil
}

func (r *fakeSessionRepo) GetBySessionID(_ context.Context, sessionID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.docs[sessionID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *fakeSessionRepo) Replace(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[s.SessionID]; !ok {
		return utils.ErrNotFound
	}
	r.docs[s.SessionID] = cloneSession(s)
	return nil
}

func (r *fakeSessionRepo) ListByUser(_ context.Context, userID string, limit int) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Session
	for _, s := range r.docs {
		if s.FindParticipant(userID) != nil {
			out = append(out, *cloneSession(s))
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListPublicGroups(_ context.Context, region string, _ int) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Session
	for _, s := range r.docs {
		if !s.Kind.IsGroup() || s.IsPrivate || s.Status.Terminal() {
			continue
		}
		if region != "" && s.Region != region {
			continue
		}
		out = append(out, *cloneSession(s))
	}
	return out, nil
}

func (r *fakeSessionRepo) GetByJoinCode(_ context.Context, joinCode string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.docs {
		if s.Group != nil && s.Group.JoinCode == joinCode {
			return cloneSession(s), nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *fakeSessionRepo) BusyUserIDs(_ context.Context, userIDs []string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	busy := make(map[string]struct{})
	for _, s := range r.docs {
		if !s.Kind.IsCommunication() || s.Status.Terminal() {
			continue
		}
		for i := range s.Participants {
			p := &s.Participants[i]
			// scheduled rosters bind their pending invitees too
			if s.Status != models.StatusScheduled && !p.IsActive {
				continue
			}
			if _, ok := wanted[p.UserID]; ok {
				busy[p.UserID] = struct{}{}
			}
		}
	}
	return busy, nil
}

func (r *fakeSessionRepo) ListStaleScheduled(_ context.Context, olderThan time.Time, _ int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, s := range r.docs {
		if s.Status == models.StatusScheduled && s.CreatedAt.Before(olderThan) {
			ids = append(ids, s.SessionID)
		}
	}
	return ids, nil
}

// seed stores a session directly, bypassing the service, for tests that need
// full control over timestamps and membership.
func (r *fakeSessionRepo) seed(s *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[s.SessionID] = cloneSession(s)
}

type fakeProfileRepo struct {
	mu         sync.Mutex
	candidates []models.Profile
	touched    []string
}

var _ pgrepo.ProfileRepository = (*fakeProfileRepo)(nil)

func (r *fakeProfileRepo) GetByUserID(_ context.Context, userID string) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.candidates {
		if r.candidates[i].UserID == userID {
			p := r.candidates[i]
			return &p, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *fakeProfileRepo) Upsert(_ context.Context, p *models.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.candidates {
		if r.candidates[i].UserID == p.UserID {
			r.candidates[i] = *p
			return nil
		}
	}
	r.candidates = append(r.candidates, *p)
	return nil
}

func (r *fakeProfileRepo) TouchActivity(_ context.Context, userID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, userID)
	return nil
}

func (r *fakeProfileRepo) MatchCandidates(_ context.Context, region, level, excludeUserID string, limit int) ([]models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Profile
	for _, p := range r.candidates {
		if p.UserID == excludeUserID || p.Region != region {
			continue
		}
		if level != "" && p.Level != level {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.data[key] = b
	return nil
}

func (c *fakeCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}
