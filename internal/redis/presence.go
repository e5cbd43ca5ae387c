package redis

import "time"

const (
	onlineSetKey    = "presence:online"
	displayNameKey  = "presence:names"
	presenceNameTTL = 24 * time.Hour
)

// MarkOnline mirrors a registration into Redis. Advisory only: the in-memory
// registry stays the source of truth for routing, this set just gives
// operators (and future sibling instances) a cheap presence view.
func MarkOnline(identity, displayName string) error {
	c := GetClient()
	if c == nil {
		return nil
	}
	if err := c.SAdd(ctx, onlineSetKey, identity).Err(); err != nil {
		return err
	}
	if displayName != "" {
		if err := c.HSet(ctx, displayNameKey, identity, displayName).Err(); err != nil {
			return err
		}
		c.Expire(ctx, displayNameKey, presenceNameTTL)
	}
	return nil
}

// MarkOffline removes an identity from the mirrored presence set.
func MarkOffline(identity string) error {
	c := GetClient()
	if c == nil {
		return nil
	}
	if err := c.SRem(ctx, onlineSetKey, identity).Err(); err != nil {
		return err
	}
	return c.HDel(ctx, displayNameKey, identity).Err()
}

// OnlineIdentities returns the mirrored online set.
func OnlineIdentities() ([]string, error) {
	c := GetClient()
	if c == nil {
		return nil, nil
	}
	return c.SMembers(ctx, onlineSetKey).Result()
}
