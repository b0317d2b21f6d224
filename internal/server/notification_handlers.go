package server

import (
	"log"

	"fitsocial/internal/models"
	"fitsocial/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// GetNotificationPermission handles GET /api/notifications/permission
func (s *Server) GetNotificationPermission(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	granted, decided, err := s.notificationCenter(userID).Permission(c.UserContext())
	if err != nil {
		return respondError(c, models.NewNetworkError(err))
	}
	return c.JSON(fiber.Map{"granted": granted, "decided": decided})
}

type permissionInput struct {
	Granted *bool `json:"granted"`
}

// PutNotificationPermission handles PUT /api/notifications/permission
func (s *Server) PutNotificationPermission(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	var input permissionInput
	if err := c.BodyParser(&input); err != nil || input.Granted == nil {
		return respondError(c, models.NewValidationError("granted must be true or false"))
	}

	if err := s.notificationCenter(userID).SetPermission(c.UserContext(), *input.Granted); err != nil {
		return respondError(c, models.NewNetworkError(err))
	}
	return c.JSON(fiber.Map{"granted": *input.Granted, "decided": true})
}

// WebsocketHandler streams the caller's notifications and search results. The
// relationship session is started on connect so invites are noticed while the
// socket is open. Clients may send {"type":"search","term":...} for debounced
// search and {"type":"refresh"} to reload.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(string)
		if !ok || userID == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			if cerr := conn.Close(); cerr != nil {
				log.Printf("websocket close error: %v", cerr)
			}
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket Notification: Failed to register user %s: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		defer s.hub.UnregisterClient(client)

		session := s.sessions.Get(s.shutdownCtx, userID)
		client.OnFrame = func(c *notifications.Client, frame notifications.Frame) {
			switch frame.Type {
			case "search":
				session.Search().Input(frame.Term)
			case "refresh":
				go func() {
					if err := session.Refresh(s.shutdownCtx); err != nil {
						_ = c.SendFrame("error", models.ErrorResponse{Error: err.Error(), Code: models.ErrorCode(err)})
					}
				}()
			default:
				log.Printf("WebSocket: unknown frame type %q from user %s", frame.Type, userID)
			}
		}

		go client.WritePump()
		client.ReadPump()
	})
}
