package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"fitsocial/internal/friends"
	"fitsocial/internal/middleware"
	"fitsocial/internal/models"
	"fitsocial/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const maxUserIDLength = 64

// statusForError maps an error code to the HTTP status returned for it.
func statusForError(err error) int {
	switch models.ErrorCode(err) {
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeNotAuthenticated:
		return fiber.StatusUnauthorized
	case models.CodeBlocked:
		return fiber.StatusForbidden
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeAlreadyFriends, models.CodeAlreadyPending,
		models.CodeHasIncomingInvite, models.CodeMutationInFlight, models.CodeInvalidState:
		return fiber.StatusConflict
	case models.CodeNetwork:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	if models.ErrorCode(err) == "" {
		err = models.NewInternalError(err)
	}
	return models.RespondWithError(c, statusForError(err), err)
}

// parseUserID extracts a user id route parameter.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func parseUserID(c *fiber.Ctx, param string) (string, error) {
	id := strings.TrimSpace(c.Params(param))
	if id == "" || len(id) > maxUserIDLength {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid user ID"))
		return "", errResponseWritten
	}
	return id, nil
}

// parseFriendshipID extracts a friendship id route parameter, which must be a UUID.
func parseFriendshipID(c *fiber.Ctx, param string) (string, error) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid friendship ID"))
		return "", errResponseWritten
	}
	return id.String(), nil
}

// currentUser returns the authenticated user id, writing a 401 when there is none.
func currentUser(c *fiber.Ctx) (string, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = respondError(c, models.NewNotAuthenticatedError())
		return "", errResponseWritten
	}
	return userID, nil
}

// session returns the caller's relationship session.
func (s *Server) session(c *fiber.Ctx) (*friends.Session, error) {
	userID, err := currentUser(c)
	if err != nil {
		return nil, err
	}
	return s.sessions.Get(c.UserContext(), userID), nil
}

// searchEvent is the websocket frame carrying debounced search results.
type searchEvent struct {
	Type    string              `json:"type"`
	Payload friends.SearchState `json:"payload"`
}

func pushSearchResults(ctx context.Context, publisher notifications.UserPublisher, userID string, state friends.SearchState) {
	payload, err := json.Marshal(searchEvent{Type: "friend-search", Payload: state})
	if err != nil {
		log.Printf("failed to encode search results for user %s: %v", userID, err)
		return
	}
	if err := publisher.PublishUser(ctx, userID, string(payload)); err != nil {
		log.Printf("failed to push search results to user %s: %v", userID, err)
	}
}
