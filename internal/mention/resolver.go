package mention

import (
	"strings"

	"threadline.app/processor/internal/domain"
)

// BotIdentity names the automation's own account on a platform. Its mentions
// carry no information value and must not leak into summaries.
type BotIdentity struct {
	ID     string
	Handle string
}

// Resolver rewrites platform-specific user references into human-readable
// names using learned identity mappings. Idempotent: resolving twice produces
// the same output as resolving once.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve rewrites mentions in text. identityMap maps platform user id (or,
// for handle-only platforms, the handle) to the mapped display name.
func (r *Resolver) Resolve(text string, sourceType domain.SourceType, identityMap map[string]string, bot BotIdentity) string {
	parser := ParserFor(sourceType)

	return parser.Rewrite(text, func(m Mention) (string, bool) {
		if r.isBot(m, bot) {
			return "", true
		}

		if m.ID != "" {
			if name, ok := identityMap[m.ID]; ok {
				return "@" + name, true
			}
			// Unknown id: keep the display name, strip the opaque id.
			return "@" + m.Name, true
		}

		// Handle-only platforms: case-insensitive handle lookup.
		name, ok := lookupFold(identityMap, m.Name)
		if !ok {
			return "", false
		}

		// Already resolved on a previous pass - the text at this mention
		// spells out the full display name, so leave it alone.
		if hasFoldPrefix(m.Trailing, "@"+name) {
			return "", false
		}

		return "@" + name, true
	})
}

func (r *Resolver) isBot(m Mention, bot BotIdentity) bool {
	if bot.ID != "" && m.ID != "" && m.ID == bot.ID {
		return true
	}
	return bot.Handle != "" && strings.EqualFold(m.Name, bot.Handle)
}

func lookupFold(identityMap map[string]string, key string) (string, bool) {
	if v, ok := identityMap[key]; ok {
		return v, true
	}
	for k, v := range identityMap {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
