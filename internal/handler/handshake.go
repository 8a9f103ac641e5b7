package handler

import (
	"errors"
	"net/http"
	"strings"

	"parley/config"
	"parley/internal/auth"
	"parley/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IdentityStore resolves the authenticated user during the handshake.
type IdentityStore interface {
	GetByID(id uint) (*models.User, error)
}

// SettingsSnapshotStore loads the preference snapshot attached to the
// connection for its lifetime.
type SettingsSnapshotStore interface {
	GetByUserID(userID uint) (*models.UserSettings, error)
}

// socketIdentity is everything a gateway needs after a successful
// handshake.
type socketIdentity struct {
	User     *models.User
	Settings *models.UserSettings
	DeviceID string
	Name     string
	Location string
}

// bearerToken extracts the credential: token query parameter first, then
// the Authorization header. First match wins.
func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// authenticateSocket validates the handshake and loads the user and
// settings rows. Any failure rejects the upgrade before connection state
// exists; the returned reason feeds the rejection metric.
func authenticateSocket(c *gin.Context, cfg *config.JWTConfig, users IdentityStore, settings SettingsSnapshotStore) (*socketIdentity, string, error) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return nil, "missing_token", errors.New("missing token")
	}
	claims, err := auth.ParseAccessToken(cfg, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, "invalid_token", err
	}
	u, err := users.GetByID(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return nil, "unknown_user", err
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return nil, "store_error", err
	}
	s, err := settings.GetByUserID(u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings lookup failed"})
		return nil, "store_error", err
	}
	deviceID := c.Query("deviceId")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	name := c.Query("deviceName")
	if name == "" {
		name = c.Request.UserAgent()
	}
	return &socketIdentity{
		User:     u,
		Settings: s,
		DeviceID: deviceID,
		Name:     name,
		Location: c.Query("location"),
	}, "", nil
}
