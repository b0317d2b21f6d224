package friends

import (
	"context"

	"fitsocial/internal/models"
	"fitsocial/internal/observability"
)

// Repository loads a user's edges and stitches profile snapshots into them.
type Repository struct {
	store Store
}

// NewRepository returns a Repository backed by store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Refresh returns every edge touching userID, newest first, with both parties'
// profiles attached. A failed edge query is returned as a network error. A failed
// profile fetch is logged and every party falls back to the placeholder profile.
func (r *Repository) Refresh(ctx context.Context, userID string) ([]models.Friendship, error) {
	log := observability.NewSessionLogger(userID)

	edges, err := r.store.QueryEdges(ctx, userID)
	if err != nil {
		return nil, asNetworkError(err)
	}
	if len(edges) == 0 {
		return []models.Friendship{}, nil
	}

	ids := parties(edges)
	profiles := make(map[string]*models.ProfileSummary, len(ids))
	rows, profileErr := r.store.QueryProfiles(ctx, ids)
	if profileErr != nil {
		log.Warn(ctx, "profile batch fetch failed, using placeholders", map[string]interface{}{
			"error":   profileErr.Error(),
			"parties": len(ids),
		})
	}
	for i := range rows {
		p := rows[i]
		profiles[p.ID] = &p
	}

	missing := 0
	out := make([]models.Friendship, len(edges))
	for i, edge := range edges {
		edge.Requester = profileOrPlaceholder(profiles, edge.RequesterID, &missing)
		edge.Addressee = profileOrPlaceholder(profiles, edge.AddresseeID, &missing)
		out[i] = edge
	}
	if missing > 0 {
		log.Warn(ctx, "substituted placeholder profiles", map[string]interface{}{
			"missing": missing,
		})
	}
	return out, nil
}

// parties collects the distinct party ids of edges. The current user is included
// so their own snapshot is filled from the same batch.
func parties(edges []models.Friendship) []string {
	seen := make(map[string]struct{}, len(edges))
	ids := make([]string, 0, len(edges))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for i := range edges {
		add(edges[i].RequesterID)
		add(edges[i].AddresseeID)
	}
	return ids
}

func profileOrPlaceholder(profiles map[string]*models.ProfileSummary, id string, missing *int) *models.ProfileSummary {
	if p, ok := profiles[id]; ok {
		return p
	}
	*missing++
	return models.PlaceholderProfile(id)
}

func asNetworkError(err error) error {
	if models.ErrorCode(err) != "" {
		return err
	}
	return models.NewNetworkError(err)
}
