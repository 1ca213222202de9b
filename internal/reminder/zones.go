package reminder

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nagger/internal/model"
)

// zoneCache memoizes time.LoadLocation for the duration of one sweep.
type zoneCache struct {
	log zerolog.Logger

	mu    sync.Mutex
	zones map[string]*time.Location
}

func newZoneCache(log zerolog.Logger) *zoneCache {
	return &zoneCache{log: log, zones: make(map[string]*time.Location)}
}

func (z *zoneCache) location(u *model.User) *time.Location {
	name := u.Timezone
	if name == "" {
		return time.UTC
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if loc, ok := z.zones[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		z.log.Warn().Err(err).Str("timezone", name).Uint("user_id", u.ID).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}
	z.zones[name] = loc
	return loc
}

// locationOf resolves a user's timezone, falling back to UTC.
func locationOf(u *model.User) *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
