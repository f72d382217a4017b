package mention

import (
	"regexp"
	"strings"

	"threadline.app/processor/internal/domain"
)

// Mention is one user reference extracted from message text.
type Mention struct {
	ID       string // opaque platform id; empty when the platform only exposes handles
	Name     string // display text as written
	Raw      string // the exact matched substring, including the leading @
	Offset   int    // byte offset of Raw within the text
	Trailing string // text from the mention start to end of input
}

// Parser extracts and rewrites platform-specific user references.
// One implementation per source platform; the orchestrator never touches
// mention syntax directly.
type Parser interface {
	Extract(text string) []Mention
	// Rewrite replaces each mention with the string returned by resolve.
	// resolve returns (replacement, true) to substitute — an empty replacement
	// removes the mention and one following space — or (_, false) to keep the
	// original text.
	Rewrite(text string, resolve func(Mention) (string, bool)) string
}

// ParserFor returns the parser for a source type. Unknown sources get the
// handle parser, which is the least destructive.
func ParserFor(sourceType domain.SourceType) Parser {
	switch sourceType {
	case domain.SourceFigma:
		return DesignParser{}
	case domain.SourceNotionPage:
		return PageParser{}
	default:
		return HandleParser{}
	}
}

// designMentionPattern matches "@Display Name (opaque-id)" style mentions.
var designMentionPattern = regexp.MustCompile(`@([^@()\n]+?)\s*\(([A-Za-z0-9][A-Za-z0-9:_-]+)\)`)

// DesignParser handles design-review comments that embed both a display name
// and an opaque id: "@Jane Doe (abc-123)".
type DesignParser struct{}

func (DesignParser) Extract(text string) []Mention {
	return extractWithPattern(text, designMentionPattern, func(groups []string) (id, name string) {
		return groups[2], strings.TrimSpace(groups[1])
	})
}

func (DesignParser) Rewrite(text string, resolve func(Mention) (string, bool)) string {
	return rewriteWithPattern(text, designMentionPattern, resolve, func(groups []string) (id, name string) {
		return groups[2], strings.TrimSpace(groups[1])
	})
}

// pageMentionPattern matches "@[id:name]" style mentions.
var pageMentionPattern = regexp.MustCompile(`@\[([^:\]\n]+):([^\]\n]+)\]`)

// PageParser handles workspace-page comments with "@[id:name]" mentions.
type PageParser struct{}

func (PageParser) Extract(text string) []Mention {
	return extractWithPattern(text, pageMentionPattern, func(groups []string) (id, name string) {
		return groups[1], strings.TrimSpace(groups[2])
	})
}

func (PageParser) Rewrite(text string, resolve func(Mention) (string, bool)) string {
	return rewriteWithPattern(text, pageMentionPattern, resolve, func(groups []string) (id, name string) {
		return groups[1], strings.TrimSpace(groups[2])
	})
}

// handleMentionPattern matches bare "@handle" tokens on word boundaries.
var handleMentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9._-]*)`)

// HandleParser handles chat platforms where mention text carries only a
// handle, no id. Matching against known handles is case-insensitive.
type HandleParser struct{}

func (HandleParser) Extract(text string) []Mention {
	return extractWithPattern(text, handleMentionPattern, func(groups []string) (id, name string) {
		return "", groups[1]
	})
}

func (HandleParser) Rewrite(text string, resolve func(Mention) (string, bool)) string {
	return rewriteWithPattern(text, handleMentionPattern, resolve, func(groups []string) (id, name string) {
		return "", groups[1]
	})
}

func extractWithPattern(text string, pattern *regexp.Regexp, parts func(groups []string) (id, name string)) []Mention {
	var mentions []Mention
	for _, idx := range pattern.FindAllStringSubmatchIndex(text, -1) {
		if !startsToken(text, idx[0]) {
			continue
		}
		groups := submatchStrings(text, idx)
		id, name := parts(groups)
		mentions = append(mentions, Mention{
			ID:       id,
			Name:     name,
			Raw:      groups[0],
			Offset:   idx[0],
			Trailing: text[idx[0]:],
		})
	}
	return mentions
}

func rewriteWithPattern(text string, pattern *regexp.Regexp, resolve func(Mention) (string, bool), parts func(groups []string) (id, name string)) string {
	var sb strings.Builder
	last := 0

	for _, idx := range pattern.FindAllStringSubmatchIndex(text, -1) {
		if !startsToken(text, idx[0]) {
			continue
		}
		groups := submatchStrings(text, idx)
		id, name := parts(groups)
		m := Mention{ID: id, Name: name, Raw: groups[0], Offset: idx[0], Trailing: text[idx[0]:]}

		replacement, ok := resolve(m)
		if !ok {
			continue
		}

		sb.WriteString(text[last:idx[0]])
		sb.WriteString(replacement)
		last = idx[1]

		// A removed mention also swallows one following space so the
		// surrounding sentence doesn't gain a double gap.
		if replacement == "" && last < len(text) && text[last] == ' ' {
			last++
		}
	}

	sb.WriteString(text[last:])
	return sb.String()
}

// startsToken reports whether the @ at start sits on a word boundary. This
// keeps the local part of an email ("jane@company.com") from being read as a
// mention of its domain.
func startsToken(text string, start int) bool {
	if start == 0 {
		return true
	}
	c := text[start-1]
	return c != '_' && (c < '0' || c > '9') && (c < 'A' || c > 'Z') && (c < 'a' || c > 'z')
}

func submatchStrings(text string, idx []int) []string {
	groups := make([]string, 0, len(idx)/2)
	for i := 0; i < len(idx); i += 2 {
		if idx[i] < 0 {
			groups = append(groups, "")
			continue
		}
		groups = append(groups, text[idx[i]:idx[i+1]])
	}
	return groups
}
