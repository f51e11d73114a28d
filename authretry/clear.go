package authretry

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical"
)

// authKeySubstrings mark stored keys that belong to authentication state.
var authKeySubstrings = []string{"auth", "token", "session", "login"}

// Blocks is the pair of stores the recovery action sweeps: the
// session-scoped store lives only as long as the agent process, the
// persistent one survives restarts.
type Blocks struct {
	Session    physical.Storage
	Persistent physical.Storage
}

// ClearAuthBlocks purges every persisted key whose name contains an
// authentication-related substring from both stores. It is the manual
// recovery action for a wedged local auth state and also runs after a
// terminal rate-limit failure. It reports success as a boolean and never
// propagates a failure outward.
func (c *Coordinator) ClearAuthBlocks(ctx context.Context, blocks Blocks) bool {
	var merr *multierror.Error

	for name, store := range map[string]physical.Storage{
		"session":    blocks.Session,
		"persistent": blocks.Persistent,
	} {
		if store == nil {
			continue
		}
		deleted, err := purgeAuthKeys(ctx, store)
		if err != nil {
			merr = multierror.Append(merr, err)
		}
		if deleted > 0 {
			c.logger.Info("purged auth keys",
				logger.String("store", name),
				logger.Int("deleted", deleted))
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		c.logger.Error("failed to clear auth blocks", logger.Err(err))
		return false
	}
	return true
}

// purgeAuthKeys walks the store and deletes matching keys, returning the
// number deleted.
func purgeAuthKeys(ctx context.Context, store physical.Storage) (int, error) {
	var merr *multierror.Error
	deleted := 0

	var walk func(prefix string)
	walk = func(prefix string) {
		keys, err := store.List(ctx, prefix)
		if err != nil {
			merr = multierror.Append(merr, err)
			return
		}
		for _, key := range keys {
			full := prefix + key
			if strings.HasSuffix(key, "/") {
				walk(full)
				continue
			}
			if !isAuthKey(full) {
				continue
			}
			if err := store.Delete(ctx, full); err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			deleted++
		}
	}
	walk("")

	return deleted, merr.ErrorOrNil()
}

func isAuthKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, sub := range authKeySubstrings {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	return false
}
