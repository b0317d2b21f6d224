// Package seed creates demo profiles and friendships for development and tests.
// Data comes either from a YAML fixture or from the gofakeit generator.
package seed

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"fitsocial/internal/models"
	"fitsocial/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Fixture is a set of profiles and the edges between them.
type Fixture struct {
	Profiles    []FixtureProfile    `yaml:"profiles"`
	Friendships []FixtureFriendship `yaml:"friendships"`
}

// FixtureProfile is one profile row.
type FixtureProfile struct {
	ID        string `yaml:"id"`
	Username  string `yaml:"username"`
	FullName  string `yaml:"full_name"`
	AvatarURL string `yaml:"avatar_url"`
}

// FixtureFriendship is one edge. Status defaults to pending.
type FixtureFriendship struct {
	Requester    string `yaml:"requester"`
	Addressee    string `yaml:"addressee"`
	Status       string `yaml:"status"`
	Acknowledged bool   `yaml:"acknowledged"`
}

// LoadFixture decodes a YAML fixture. Unknown keys are rejected.
func LoadFixture(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate checks that every edge names known, distinct profiles, that no pair is
// listed twice in either direction, and that statuses are known.
func (fx *Fixture) Validate() error {
	ids := make(map[string]struct{}, len(fx.Profiles))
	for _, p := range fx.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profile %q has no id", p.Username)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("profile %s listed twice", p.ID)
		}
		ids[p.ID] = struct{}{}
	}

	pairs := make(map[[2]string]struct{}, len(fx.Friendships))
	for i, f := range fx.Friendships {
		if f.Requester == f.Addressee {
			return fmt.Errorf("friendship %d: requester and addressee are both %s", i, f.Requester)
		}
		for _, id := range []string{f.Requester, f.Addressee} {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("friendship %d: unknown profile %q", i, id)
			}
		}
		key := [2]string{f.Requester, f.Addressee}
		if key[0] > key[1] {
			key[0], key[1] = key[1], key[0]
		}
		if _, dup := pairs[key]; dup {
			return fmt.Errorf("friendship %d: %s and %s already have an edge", i, f.Requester, f.Addressee)
		}
		pairs[key] = struct{}{}

		switch models.FriendshipStatus(f.Status) {
		case "", models.FriendshipStatusPending, models.FriendshipStatusAccepted,
			models.FriendshipStatusDeclined, models.FriendshipStatusBlocked:
		default:
			return fmt.Errorf("friendship %d: unknown status %q", i, f.Status)
		}
	}
	return nil
}

// Options controls Generate.
type Options struct {
	Profiles int
	// EdgesPerProfile is the number of edges each profile requests.
	EdgesPerProfile int
	// AcceptedRatio is the share of edges that end up accepted, 0..1.
	AcceptedRatio float64
	// Seed makes generation deterministic when non-zero.
	Seed int64
}

// Generate builds a fake fixture. Profile ids are "user-<n>" so tokens can be
// issued for them predictably.
func Generate(opts Options) *Fixture {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)

	fx := &Fixture{}
	for i := 1; i <= opts.Profiles; i++ {
		first, last := faker.FirstName(), faker.LastName()
		fx.Profiles = append(fx.Profiles, FixtureProfile{
			ID:        fmt.Sprintf("user-%d", i),
			Username:  fmt.Sprintf("%s%d", faker.Username(), i),
			FullName:  first + " " + last,
			AvatarURL: fmt.Sprintf("https://picsum.photos/seed/%s/200/200", faker.UUID()),
		})
	}

	pairs := make(map[[2]int]struct{})
	for i := range fx.Profiles {
		for n := 0; n < opts.EdgesPerProfile && len(fx.Profiles) > 1; n++ {
			j := faker.Number(0, len(fx.Profiles)-1)
			if j == i {
				continue
			}
			key := [2]int{min(i, j), max(i, j)}
			if _, taken := pairs[key]; taken {
				continue
			}
			pairs[key] = struct{}{}

			edge := FixtureFriendship{
				Requester: fx.Profiles[i].ID,
				Addressee: fx.Profiles[j].ID,
				Status:    string(models.FriendshipStatusPending),
			}
			if faker.Float64Range(0, 1) < opts.AcceptedRatio {
				edge.Status = string(models.FriendshipStatusAccepted)
				edge.Acknowledged = faker.Bool()
			}
			fx.Friendships = append(fx.Friendships, edge)
		}
	}
	return fx
}

// Result counts what Apply wrote.
type Result struct {
	Profiles    int
	Friendships int
	Skipped     int
}

// Apply writes fx through the stores. Edges whose pair already exists are skipped.
func Apply(ctx context.Context, db *gorm.DB, fx *Fixture) (Result, error) {
	var res Result
	if err := fx.Validate(); err != nil {
		return res, err
	}

	profiles := make([]models.ProfileSummary, 0, len(fx.Profiles))
	for _, p := range fx.Profiles {
		profiles = append(profiles, models.ProfileSummary{
			ID:        p.ID,
			Username:  optional(p.Username),
			FullName:  optional(p.FullName),
			AvatarURL: optional(p.AvatarURL),
		})
	}
	if err := repository.NewProfileStore(db).Upsert(ctx, profiles); err != nil {
		return res, err
	}
	res.Profiles = len(profiles)

	// seeding publishes nothing; live sessions pick rows up on their next refresh
	store := repository.NewFriendshipStore(db, nil)
	for _, f := range fx.Friendships {
		existing, err := store.FindPair(ctx, f.Requester, f.Addressee)
		if err != nil {
			return res, fmt.Errorf("look up %s -> %s: %w", f.Requester, f.Addressee, err)
		}
		if existing != nil {
			res.Skipped++
			continue
		}
		edge, err := store.InsertEdge(ctx, f.Requester, f.Addressee)
		if err != nil {
			return res, fmt.Errorf("insert %s -> %s: %w", f.Requester, f.Addressee, err)
		}
		if update, ok := f.update(); ok {
			owner := models.OwnerFilter{Role: models.OwnerAddressee, UserID: f.Addressee, Status: models.FriendshipStatusPending}
			if _, err := store.UpdateEdge(ctx, edge.ID, update, owner); err != nil {
				return res, fmt.Errorf("update %s: %w", edge.ID, err)
			}
		}
		res.Friendships++
	}

	log.Printf("Seeded %d profiles and %d friendships (%d skipped)", res.Profiles, res.Friendships, res.Skipped)
	return res, nil
}

// update returns the fields that move a fresh pending edge to f's final state.
func (f FixtureFriendship) update() (models.EdgeUpdate, bool) {
	status := models.FriendshipStatus(f.Status)
	if status == "" || status == models.FriendshipStatusPending {
		return models.EdgeUpdate{}, false
	}
	respondedAt := time.Now().UTC()
	addresseeAck := true
	update := models.EdgeUpdate{Status: &status, RespondedAt: &respondedAt}
	if status == models.FriendshipStatusAccepted {
		requesterAck := f.Acknowledged
		update.RequesterAcknowledged = &requesterAck
		update.AddresseeAcknowledged = &addresseeAck
	}
	return update, true
}

// Clear deletes every friendship and profile row.
func Clear(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Friendship{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ProfileSummary{}).Error
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
