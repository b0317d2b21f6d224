// Package repository provides the gorm-backed store for friendship and profile rows.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"fitsocial/internal/models"
	"fitsocial/internal/observability"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ChangePublisher receives row changes after they are committed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change models.FriendshipChange) error
}

// FriendshipStore implements friends.Store on top of gorm.
type FriendshipStore struct {
	db        *gorm.DB
	publisher ChangePublisher
	log       *observability.RepoLogger
}

// NewFriendshipStore creates a store. publisher may be nil.
func NewFriendshipStore(db *gorm.DB, publisher ChangePublisher) *FriendshipStore {
	return &FriendshipStore{
		db:        db,
		publisher: publisher,
		log:       observability.NewRepoLogger("friendships"),
	}
}

func (r *FriendshipStore) QueryEdges(ctx context.Context, userID string) ([]models.Friendship, error) {
	defer observability.TrackQuery("select", "friendships")()

	var edges []models.Friendship
	if err := r.db.WithContext(ctx).
		Where("requester_id = ? OR addressee_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&edges).Error; err != nil {
		r.log.LogError(ctx, err, "query_edges")
		return nil, models.NewNetworkError(err)
	}
	return edges, nil
}

func (r *FriendshipStore) QueryProfiles(ctx context.Context, ids []string) ([]models.ProfileSummary, error) {
	if len(ids) == 0 {
		return []models.ProfileSummary{}, nil
	}
	defer observability.TrackQuery("select", "profiles")()

	var profiles []models.ProfileSummary
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		r.log.LogError(ctx, err, "query_profiles")
		return nil, models.NewNetworkError(err)
	}
	return profiles, nil
}

// SearchProfiles does a case-insensitive substring match on username or full name.
// Rows with a full name sort first, alphabetically.
func (r *FriendshipStore) SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.ProfileSummary, error) {
	defer observability.TrackQuery("search", "profiles")()

	q := r.db.WithContext(ctx).Model(&models.ProfileSummary{}).Where("id <> ?", excludeID)
	if term = strings.TrimSpace(term); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where(`(LOWER(username) LIKE ? ESCAPE '\' OR LOWER(full_name) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var profiles []models.ProfileSummary
	if err := q.
		Order("CASE WHEN full_name IS NULL THEN 1 ELSE 0 END").
		Order("full_name ASC").
		Order("username ASC").
		Find(&profiles).Error; err != nil {
		r.log.LogError(ctx, err, "search_profiles")
		return nil, models.NewNetworkError(err)
	}
	return profiles, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// InsertEdge creates a pending edge from requesterID to addresseeID. A legacy
// declined row between the pair, in either direction, is turned back into a fresh
// pending invite instead. Any other existing row is reported with the error that
// matches its status.
func (r *FriendshipStore) InsertEdge(ctx context.Context, requesterID, addresseeID string) (*models.Friendship, error) {
	defer observability.TrackQuery("insert", "friendships")()

	var edge models.Friendship
	var revived *models.Friendship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := pairRows(tx, requesterID, addresseeID)
		if err != nil {
			return err
		}
		declined := -1
		for i := range existing {
			if existing[i].Status != models.FriendshipStatusDeclined {
				return pairConflict(&existing[i], requesterID)
			}
			if declined < 0 || existing[i].RequesterID == requesterID {
				declined = i
			}
		}
		if declined < 0 {
			edge = models.Friendship{
				RequesterID: requesterID,
				AddresseeID: addresseeID,
				Status:      models.FriendshipStatusPending,
			}
			return tx.Create(&edge).Error
		}

		old := existing[declined]
		res := tx.Model(&models.Friendship{}).
			Where("id = ? AND status = ?", old.ID, models.FriendshipStatusDeclined).
			Updates(map[string]interface{}{
				"requester_id":           requesterID,
				"addressee_id":           addresseeID,
				"status":                 models.FriendshipStatusPending,
				"created_at":             time.Now().UTC(),
				"responded_at":           nil,
				"requester_acknowledged": false,
				"addressee_acknowledged": false,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewAlreadyPendingError()
		}
		revived = &old
		return tx.Where("id = ?", old.ID).Take(&edge).Error
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		if isDuplicateKey(err) {
			return nil, models.NewAlreadyPendingError()
		}
		r.log.LogError(ctx, err, "insert_edge")
		return nil, models.NewNetworkError(err)
	}

	fields := map[string]interface{}{
		"friendship_id": edge.ID,
		"requester_id":  requesterID,
		"addressee_id":  addresseeID,
	}
	if revived != nil {
		fields["revived_from"] = string(revived.Status)
		r.log.LogUpdate(ctx, fields)
		r.publish(ctx, models.FriendshipChange{Type: models.ChangeUpdate, Old: revived, New: &edge})
		return &edge, nil
	}
	r.log.LogCreate(ctx, fields)
	r.publish(ctx, models.FriendshipChange{Type: models.ChangeInsert, New: &edge})
	return &edge, nil
}

// FindPair returns the edge between a and b in either direction, or nil.
func (r *FriendshipStore) FindPair(ctx context.Context, a, b string) (*models.Friendship, error) {
	defer observability.TrackQuery("select", "friendships")()

	rows, err := pairRows(r.db.WithContext(ctx), a, b)
	if err != nil {
		r.log.LogError(ctx, err, "find_pair")
		return nil, models.NewNetworkError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func pairRows(q *gorm.DB, a, b string) ([]models.Friendship, error) {
	var rows []models.Friendship
	err := q.Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)", a, b, b, a).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// pairConflict maps an existing live edge to the error an invite from requesterID gets.
func pairConflict(existing *models.Friendship, requesterID string) error {
	switch existing.Status {
	case models.FriendshipStatusAccepted:
		return models.NewAlreadyFriendsError()
	case models.FriendshipStatusBlocked:
		return models.NewBlockedError()
	}
	if existing.AddresseeID == requesterID {
		return models.NewHasIncomingInviteError()
	}
	return models.NewAlreadyPendingError()
}

// DeleteEdge removes id if the owner filter admits it and returns the affected rows.
func (r *FriendshipStore) DeleteEdge(ctx context.Context, id string, owner models.OwnerFilter) (int64, error) {
	defer observability.TrackQuery("delete", "friendships")()

	var old models.Friendship
	var rows int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped, ok := ownerScope(tx.Where("id = ?", id), owner)
		if !ok {
			return nil
		}
		if err := scoped.Take(&old).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Delete(&models.Friendship{}, "id = ?", old.ID)
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete_edge")
		return 0, models.NewNetworkError(err)
	}
	if rows > 0 {
		r.log.LogDelete(ctx, map[string]interface{}{"friendship_id": id, "owner_role": string(owner.Role)})
		r.publish(ctx, models.FriendshipChange{Type: models.ChangeDelete, Old: &old})
	}
	return rows, nil
}

// UpdateEdge applies fields to id if the owner filter admits it.
func (r *FriendshipStore) UpdateEdge(ctx context.Context, id string, fields models.EdgeUpdate, owner models.OwnerFilter) (int64, error) {
	cols := fields.Columns()
	if len(cols) == 0 {
		return 0, nil
	}
	defer observability.TrackQuery("update", "friendships")()

	var old, updated models.Friendship
	var rows int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped, ok := ownerScope(tx.Where("id = ?", id), owner)
		if !ok {
			return nil
		}
		if err := scoped.Take(&old).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Model(&models.Friendship{}).Where("id = ?", old.ID).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		rows = res.RowsAffected
		return tx.Where("id = ?", old.ID).Take(&updated).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "update_edge")
		return 0, models.NewNetworkError(err)
	}
	if rows > 0 {
		r.log.LogUpdate(ctx, map[string]interface{}{"friendship_id": id, "columns": len(cols)})
		r.publish(ctx, models.FriendshipChange{Type: models.ChangeUpdate, Old: &old, New: &updated})
	}
	return rows, nil
}

func (r *FriendshipStore) publish(ctx context.Context, change models.FriendshipChange) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishChange(ctx, change); err != nil {
		r.log.LogError(ctx, err, "publish_change")
	}
}

// ownerScope narrows q to rows owned by filter. An unknown role matches nothing.
func ownerScope(q *gorm.DB, owner models.OwnerFilter) (*gorm.DB, bool) {
	if owner.UserID == "" {
		return q, false
	}
	if owner.Status != "" {
		q = q.Where("status = ?", owner.Status)
	}
	switch owner.Role {
	case models.OwnerRequester:
		return q.Where("requester_id = ?", owner.UserID), true
	case models.OwnerAddressee:
		return q.Where("addressee_id = ?", owner.UserID), true
	case models.OwnerEither:
		return q.Where("(requester_id = ? OR addressee_id = ?)", owner.UserID, owner.UserID), true
	}
	return q, false
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
