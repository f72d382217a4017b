package bootstrap

import (
	"strings"

	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/mention"
)

// triggers are the literal phrases an operator writes to start an identity
// sync. Matching is case-insensitive substring.
var triggers = []string{"user sync", "bootstrap"}

// Identity is one platform user harvested from a sync comment.
type Identity struct {
	SourceUserID   string
	SourceUserName string
}

// Result reports whether a thread is an identity-sync comment and, if so,
// which users it surfaced.
type Result struct {
	IsBootstrap bool
	Users       []Identity
	Reason      string
}

// Detector recognizes identity-sync comments. They exist to teach the system
// who a platform user is and must never produce tasks.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// IsTrigger reports whether text contains a sync trigger phrase.
func IsTrigger(text string) bool {
	return triggerIndex(text) >= 0
}

func triggerIndex(text string) int {
	lower := strings.ToLower(text)
	best := -1
	for _, t := range triggers {
		if i := strings.Index(lower, t); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// Detect checks both the adapter-fetched thread content and the raw webhook
// body for a sync trigger. How identities are harvested depends on what the
// platform exposes:
//
//   - Platforms whose mention syntax carries a stable user id yield the
//     mentions written after the trigger phrase. Anything before it is the
//     automation's own mention, which is what delivered the webhook.
//   - Handle-only platforms never expose a mentioned user's id, so the
//     detector captures every distinct thread participant instead; an
//     author's id is always present even when mention targets' ids are not.
func (d *Detector) Detect(thread *domain.Thread, sourceType domain.SourceType, rawContent string) Result {
	content := ""
	if thread != nil {
		content = thread.RootMessage.Content
	}

	text := content
	idx := triggerIndex(text)
	if idx < 0 {
		text = rawContent
		idx = triggerIndex(text)
	}
	if idx < 0 {
		return Result{}
	}

	if !mentionsCarryIDs(sourceType) {
		return Result{
			IsBootstrap: true,
			Users:       participants(thread),
			Reason:      "sync trigger; harvested thread participants",
		}
	}

	return Result{
		IsBootstrap: true,
		Users:       mentionsAfter(text, idx, sourceType),
		Reason:      "sync trigger; harvested mentions after trigger",
	}
}

// mentionsCarryIDs reports whether the platform's mention syntax embeds a
// stable user id.
func mentionsCarryIDs(sourceType domain.SourceType) bool {
	switch sourceType {
	case domain.SourceFigma, domain.SourceNotionPage:
		return true
	default:
		return false
	}
}

func mentionsAfter(text string, triggerIdx int, sourceType domain.SourceType) []Identity {
	var users []Identity
	seen := make(map[string]bool)

	for _, m := range mention.ParserFor(sourceType).Extract(text) {
		if m.Offset <= triggerIdx || m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		users = append(users, Identity{SourceUserID: m.ID, SourceUserName: m.Name})
	}
	return users
}

func participants(thread *domain.Thread) []Identity {
	if thread == nil {
		return nil
	}

	var users []Identity
	seen := make(map[string]bool)

	for _, msg := range thread.AllMessages() {
		if msg.AuthorID == "" || seen[msg.AuthorID] {
			continue
		}
		seen[msg.AuthorID] = true

		name := msg.AuthorName
		if name == "" {
			name = msg.AuthorHandle
		}
		users = append(users, Identity{SourceUserID: msg.AuthorID, SourceUserName: name})
	}
	return users
}
