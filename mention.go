package agentworld

import (
	"regexp"
	"strings"
)

// Mentions route messages between agents: only @name tokens at the start of
// a paragraph (line) affect routing. Mid-text mentions are plain prose.
// Names are matched case-insensitively and normalized to lowercase.

// mentionToken matches one @name token. Names start with a letter and may
// contain letters, digits, underscore, and hyphen.
var mentionToken = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_-]*)`)

// leadingMentionToken matches a mention at the very start of a string,
// allowing leading whitespace and a trailing comma separator.
var leadingMentionToken = regexp.MustCompile(`^([ \t]*)@([A-Za-z][A-Za-z0-9_-]*)[ \t]*,?[ \t]*`)

// worldTag matches the inline control tag <world>...</world>.
var worldTag = regexp.MustCompile(`(?is)<world>\s*(.*?)\s*</world>`)

// WorldTagKind is the parsed intent of a <world> control tag.
type WorldTagKind string

const (
	// WorldTagNone means no tag was present.
	WorldTagNone WorldTagKind = ""
	// WorldTagStop, WorldTagDone, and WorldTagPass all return control to the
	// human: leading mentions are stripped and no auto-mention is added.
	WorldTagStop WorldTagKind = "STOP"
	WorldTagDone WorldTagKind = "DONE"
	WorldTagPass WorldTagKind = "PASS"
	// WorldTagTo redirects the message to an explicit recipient list.
	WorldTagTo WorldTagKind = "TO"
)

// ParseWorldTag extracts the first <world> tag from text. Returns the tag
// kind, the recipient list (TO only, lowercased), and the text with the tag
// removed. Unrecognized tag bodies are treated as no tag but still removed.
func ParseWorldTag(text string) (WorldTagKind, []string, string) {
	m := worldTag.FindStringSubmatchIndex(text)
	if m == nil {
		return WorldTagNone, nil, text
	}
	body := strings.TrimSpace(text[m[2]:m[3]])
	rest := strings.TrimSpace(text[:m[0]] + text[m[1]:])

	upper := strings.ToUpper(body)
	switch upper {
	case "STOP":
		return WorldTagStop, nil, rest
	case "DONE":
		return WorldTagDone, nil, rest
	case "PASS":
		return WorldTagPass, nil, rest
	}
	if strings.HasPrefix(upper, "TO:") {
		raw := strings.TrimSpace(body[len("TO:"):])
		var recipients []string
		for _, r := range strings.Split(raw, ",") {
			r = strings.ToLower(strings.TrimSpace(r))
			r = strings.TrimPrefix(r, "@")
			if r != "" {
				recipients = append(recipients, r)
			}
		}
		return WorldTagTo, recipients, rest
	}
	return WorldTagNone, nil, rest
}

// ExtractMentions returns every @name in text, lowercased, in order of
// appearance, without deduplication.
func ExtractMentions(text string) []string {
	var out []string
	for _, m := range mentionToken.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// ParagraphBeginMentions returns the mentions that appear at the start of a
// paragraph (line). Consecutive mention tokens at the line start all count;
// scanning stops at the first non-mention token on each line.
func ParagraphBeginMentions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		rest := line
		for {
			m := leadingMentionToken.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			out = append(out, strings.ToLower(m[2]))
			rest = rest[len(m[0]):]
		}
	}
	return out
}

// HasAnyMentionAtBeginning reports whether any paragraph starts with a mention.
func HasAnyMentionAtBeginning(text string) bool {
	return len(ParagraphBeginMentions(text)) > 0
}

// StripMentionsAtParagraphBeginnings removes mentions at the start of each
// line. When target is non-empty only @target is removed; otherwise every
// leading mention is. Stripping stops at the first non-mention token per
// line. Leading whitespace before the first mention is preserved.
func StripMentionsAtParagraphBeginnings(text, target string) string {
	target = strings.ToLower(target)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		var lead string
		rest := line
		for {
			m := leadingMentionToken.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			name := strings.ToLower(m[2])
			if target != "" && name != target {
				break
			}
			if lead == "" {
				lead = m[1]
			}
			rest = rest[len(m[0]):]
		}
		if rest != line {
			lines[i] = lead + rest
		}
	}
	return strings.Join(lines, "\n")
}

// RemoveSelfMentions strips @agentID mentions from paragraph beginnings so
// an agent never routes a reply to itself.
func RemoveSelfMentions(text, agentID string) string {
	return StripMentionsAtParagraphBeginnings(text, agentID)
}

// ShouldAutoMention reports whether a generic auto-mention should be added
// to response. False when the sender is unknown, the sender is the agent
// itself, or the response already carries leading mentions other than the
// agent's own.
func ShouldAutoMention(response, sender, agentID string) bool {
	if sender == "" || strings.EqualFold(sender, agentID) {
		return false
	}
	for _, m := range ParagraphBeginMentions(response) {
		if !strings.EqualFold(m, agentID) {
			return false
		}
	}
	return true
}

// AddAutoMention applies world-tag intent and auto-mention rules to an
// outgoing response:
//
//   - STOP/DONE/PASS: strip every leading mention and return (control goes
//     back to the human; no auto-mention).
//   - TO with recipients: replace leading mentions with one @recipient per
//     line, then the body.
//   - TO with no recipients: fall through to the generic auto-mention.
//   - Otherwise: if the text has no leading mention, prepend "@sender ".
//
// AddAutoMention is idempotent for a fixed sender.
func AddAutoMention(text, sender string) string {
	kind, recipients, rest := ParseWorldTag(text)
	switch kind {
	case WorldTagStop, WorldTagDone, WorldTagPass:
		return strings.TrimLeft(StripMentionsAtParagraphBeginnings(rest, ""), " \t")
	case WorldTagTo:
		if len(recipients) > 0 {
			body := strings.TrimLeft(StripMentionsAtParagraphBeginnings(rest, ""), " \t\n")
			var b strings.Builder
			for _, r := range recipients {
				b.WriteString("@" + r + "\n")
			}
			b.WriteString(body)
			return b.String()
		}
	}
	if HasAnyMentionAtBeginning(rest) {
		return rest
	}
	return "@" + sender + " " + rest
}
