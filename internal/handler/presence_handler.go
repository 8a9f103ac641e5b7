package handler

import (
	"errors"
	"net/http"
	"strconv"

	"parley/internal/repository"
	"parley/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PresenceHandler serves the durable presence projection over REST, merged
// with the live registry so a freshly connected user reads as online even
// before the next store write lands.
type PresenceHandler struct {
	users    *repository.UserRepository
	registry *ws.Registry
}

func NewPresenceHandler(users *repository.UserRepository, registry *ws.Registry) *PresenceHandler {
	return &PresenceHandler{users: users, registry: registry}
}

func (h *PresenceHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	u, err := h.users.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	online := u.IsOnline && h.registry.IsOnline(u.ID)
	c.JSON(http.StatusOK, gin.H{
		"user_id":      u.ID,
		"username":     u.Username,
		"is_online":    online,
		"last_seen_at": u.LastSeenAt,
	})
}
