package access

import (
	log "log/slog"
	"strconv"
	"strings"
)

// Gate answers whether a sender identity may use the bot. The allow-list is
// fixed at construction; an empty list means open access.
type Gate struct {
	allowed map[int64]struct{}
}

func NewGate(ids []int64) *Gate {
	g := &Gate{allowed: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		g.allowed[id] = struct{}{}
	}
	return g
}

func (g *Gate) Allowed(id int64) bool {
	if len(g.allowed) == 0 {
		return true
	}
	_, ok := g.allowed[id]
	return ok
}

// ParseAllowList parses a comma-separated list of user IDs. Entries that are
// not valid integers are skipped with a warning.
func ParseAllowList(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Warn("Skipping malformed user id in allow-list", "entry", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
