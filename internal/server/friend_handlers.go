package server

import (
	"context"
	"strings"

	"fitsocial/internal/friends"
	"fitsocial/internal/models"

	"github.com/gofiber/fiber/v2"
)

// relationshipsResponse is the caller's relationship state plus the lists a
// client renders directly.
type relationshipsResponse struct {
	friends.Snapshot
	Friends     []models.Friendship `json:"friends"`
	Incoming    []models.Friendship `json:"incoming"`
	Outgoing    []models.Friendship `json:"outgoing"`
	Acceptances []models.Friendship `json:"acceptances"`
}

// relationshipsView derives every list from one snapshot so a concurrent refresh
// cannot mix two edge lists in a response.
func relationshipsView(session *friends.Session) relationshipsResponse {
	snap := session.Snapshot()
	return relationshipsResponse{
		Snapshot:    snap,
		Friends:     snap.Friends(),
		Incoming:    snap.Incoming(),
		Outgoing:    snap.Outgoing(),
		Acceptances: snap.Acceptances(),
	}
}

// GetRelationships handles GET /api/friends
func (s *Server) GetRelationships(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	return c.JSON(relationshipsView(session))
}

// RefreshRelationships handles POST /api/friends/refresh
func (s *Server) RefreshRelationships(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	if err := session.Refresh(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(relationshipsView(session))
}

// GetRelation handles GET /api/friends/relations/:userId
func (s *Server) GetRelation(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	otherID, err := parseUserID(c, "userId")
	if err != nil {
		return nil
	}

	entry, ok := session.Relation(otherID)
	if !ok {
		return c.JSON(fiber.Map{
			"user_id":    otherID,
			"type":       "none",
			"can_invite": otherID != session.UserID(),
		})
	}
	return c.JSON(fiber.Map{
		"user_id":       otherID,
		"type":          entry.Type,
		"friendship_id": entry.FriendshipID,
		"can_invite":    entry.Type == friends.RelationDeclined,
	})
}

// SendInvite handles POST /api/friends/invites/:userId
func (s *Server) SendInvite(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	targetID, err := parseUserID(c, "userId")
	if err != nil {
		return nil
	}

	if err := session.SendInvite(c.UserContext(), targetID); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(relationshipsView(session))
}

type friendshipOperation func(session *friends.Session, ctx context.Context, friendshipID string) error

// friendshipAction adapts a lifecycle operation keyed by friendship id to a handler.
func (s *Server) friendshipAction(name string, op friendshipOperation) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := s.session(c)
		if err != nil {
			return nil
		}
		friendshipID, err := parseFriendshipID(c, "friendshipId")
		if err != nil {
			return nil
		}

		if err := op(session, c.UserContext(), friendshipID); err != nil {
			return respondError(c, err)
		}
		c.Set("X-Friendship-Action", name)
		return c.JSON(relationshipsView(session))
	}
}

// GetBusy handles GET /api/friends/busy?key=user:<id>|friendship:<id>
func (s *Server) GetBusy(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	key, ok := friends.ParseMutationKey(c.Query("key"))
	if !ok {
		return respondError(c, models.NewValidationError("key must be user:<id> or friendship:<id>"))
	}
	return c.JSON(fiber.Map{
		"key":  key,
		"busy": session.IsBusy(key),
	})
}

type searchInput struct {
	Term string `json:"term"`
}

// PutSearch handles PUT /api/friends/search. The term is debounced; results arrive
// over the websocket and through GET /api/friends/search.
func (s *Server) PutSearch(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	var input searchInput
	if err := c.BodyParser(&input); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	session.Search().Input(input.Term)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"term": input.Term})
}

// GetSearch handles GET /api/friends/search. With ?q= it searches immediately,
// otherwise it returns the latest debounced result.
func (s *Server) GetSearch(c *fiber.Ctx) error {
	session, err := s.session(c)
	if err != nil {
		return nil
	}
	if !c.Request().URI().QueryArgs().Has("q") {
		return c.JSON(session.Search().State())
	}
	term := c.Query("q")

	results, err := session.Search().Search(c.UserContext(), term)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(friends.SearchState{Term: strings.TrimSpace(term), Results: results})
}

// Logout handles POST /api/session/logout. It closes the caller's session; later
// requests with a valid token start a fresh one.
func (s *Server) Logout(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	s.sessions.SignOut(userID)
	return c.SendStatus(fiber.StatusNoContent)
}
