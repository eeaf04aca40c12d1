package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
	Upsert(ctx context.Context, p *models.Profile) error
	// TouchActivity bumps last_active_at; matchmaking ranks on it.
	TouchActivity(ctx context.Context, userID string, at time.Time) error
	// MatchCandidates returns region-scoped profiles ordered by most recent
	// activity, excluding one user. Level filter is optional.
	MatchCandidates(ctx context.Context, region, level, excludeUserID string, limit int) ([]models.Profile, error)
}

type profileRepo struct {
	db *gorm.DB
}

func NewProfileRepo(db *gorm.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &p, err
}

func (r *profileRepo) Upsert(ctx context.Context, p *models.Profile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "region", "level", "languages", "preferences", "updated_at"}),
		}).
		Create(p).Error
}

func (r *profileRepo) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Update("last_active_at", at.UTC()).Error
}

func (r *profileRepo) MatchCandidates(ctx context.Context, region, level, excludeUserID string, limit int) ([]models.Profile, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).
		Where("region = ?", region).
		Where("user_id <> ?", excludeUserID)
	if level != "" {
		q = q.Where("level = ?", level)
	}

	var rows []models.Profile
	err := q.Order("last_active_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
