package repository

import (
	"context"
	"errors"

	"fitsocial/internal/models"
	"fitsocial/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileStore writes profile rows. Reads used by the friends domain live on FriendshipStore.
type ProfileStore struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db, log: observability.NewRepoLogger("profiles")}
}

// Upsert inserts profiles, overwriting rows that already exist.
func (r *ProfileStore) Upsert(ctx context.Context, profiles []models.ProfileSummary) error {
	if len(profiles) == 0 {
		return nil
	}
	defer observability.TrackQuery("upsert", "profiles")()

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&profiles).Error; err != nil {
		r.log.LogError(ctx, err, "upsert")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"count": len(profiles)})
	return nil
}

func (r *ProfileStore) GetByID(ctx context.Context, id string) (*models.ProfileSummary, error) {
	var p models.ProfileSummary
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Profile", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &p, nil
}
