package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-relay/internal/redis"
	"github.com/mossy-p/call-relay/internal/registry"
)

// PresenceEntry is one online user in the presence listing.
type PresenceEntry struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName,omitempty"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// PresenceResponse lists who this instance can route to, plus the mirrored
// set from Redis for cross-checking.
type PresenceResponse struct {
	Online   []PresenceEntry `json:"online"`
	Mirrored []string        `json:"mirrored,omitempty"`
}

// Presence returns the current registry snapshot (requires authentication).
func Presence(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := reg.Snapshot()
		entries := make([]PresenceEntry, 0, len(snapshot))
		for _, user := range snapshot {
			entries = append(entries, PresenceEntry{
				Identity:    user.Identity,
				DisplayName: user.DisplayName,
				LastSeenAt:  user.LastSeenAt,
			})
		}

		mirrored, err := redis.OnlineIdentities()
		if err != nil {
			log.Printf("Failed to read mirrored presence from Redis: %v", err)
		}

		c.JSON(http.StatusOK, PresenceResponse{
			Online:   entries,
			Mirrored: mirrored,
		})
	}
}
