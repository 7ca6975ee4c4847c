package irc

import (
	"regexp"
	"strings"
)

const (
	// DefaultAuthorColor is used when a sender never picked a chat color.
	DefaultAuthorColor = "#8A2BE2"
	// blackAuthorColor is substituted with white; black on the dark theme is
	// illegible and shows up from clients that persist a stale default.
	blackAuthorColor = "#000000"
	whiteAuthorColor = "#FFFFFF"
)

// noticeAuthorKeys is the ordered candidate list for resolving "who" a
// USERNOTICE is about. Different notice subtypes place the name under
// different tag keys; the order is empirical, derived from observed
// payloads, and deliberately kept as data so new keys are a one-line
// addition.
var noticeAuthorKeys = []string{
	"display-name",
	"login",
	"msg-param-displayName",
	"msg-param-login",
	"msg-param-sender-name",
	"msg-param-sender-login",
	"msg-param-gifter-name",
	"msg-param-gifter-login",
}

// subscriptionAuthorKeys extends the candidate list for the subscription
// family, where gift notices may only name the recipient.
var subscriptionAuthorKeys = []string{
	"msg-param-recipient-display-name",
	"msg-param-recipient-user-name",
}

// subscriptionMsgIDs is the msg-id family that maps to EventSubscription.
var subscriptionMsgIDs = map[string]bool{
	"sub":                 true,
	"resub":               true,
	"subgift":             true,
	"anonsubgift":         true,
	"submysterygift":      true,
	"giftpaidupgrade":     true,
	"anongiftpaidupgrade": true,
	"primepaidupgrade":    true,
	"extendsub":           true,
	"standardpayforward":  true,
	"communitypayforward": true,
}

// Parser turns raw protocol lines into chat events. ThirdPartyEmotes, when
// set, supplies the known third-party emote codes (code -> image URL) used
// by the whole-word scan; it is injected by the owner rather than read from
// package state so tests and callers control the catalog explicitly.
type Parser struct {
	ThirdPartyEmotes func() map[string]string
}

// ParseLine parses one raw protocol line with no third-party emote catalog.
func ParseLine(raw string) *ChatEvent {
	return (&Parser{}).ParseLine(raw)
}

// ParseLine parses one already-dechunked protocol line into a ChatEvent.
// Only the two chat-bearing commands (PRIVMSG, USERNOTICE) produce events;
// every other line shape returns nil and is handled by the connection
// layer. Individual malformed fields are skipped, never fatal.
func (p *Parser) ParseLine(raw string) *ChatEvent {
	m := ParseMessage(raw)
	if m == nil {
		return nil
	}
	switch m.Command {
	case "PRIVMSG":
		return p.parsePrivmsg(m)
	case "USERNOTICE", "NOTICE":
		return p.parseNotice(m)
	default:
		return nil
	}
}

func (p *Parser) parsePrivmsg(m *Message) *ChatEvent {
	ev := &ChatEvent{
		Kind: EventStandard,
		Tags: m.Tags,
		Text: m.Trailing,
	}
	if m.Prefix != nil {
		ev.AuthorLogin = m.Prefix.Name
		ev.Author = m.Prefix.Name
	}
	ev.ID = m.Tags["id"]
	if dn := m.Tags["display-name"]; dn != "" {
		ev.Author = dn
	}
	ev.AuthorColor = normalizeColor(m.Tags["color"])
	ev.BadgeNames = parseBadgeNames(m.Tags["badges"])

	ev.ReplyParentID = m.Tags["reply-parent-msg-id"]
	ev.ReplyParentLogin = m.Tags["reply-parent-user-login"]
	ev.ReplyParentBody = m.Tags["reply-parent-msg-body"]

	// When replying, the client inserts "@login " ahead of the typed text.
	// The reply target is already rendered separately, so a leading mention
	// matching it is stripped to avoid showing it twice.
	if ev.ReplyParentLogin != "" && strings.HasPrefix(ev.Text, "@") {
		mention, rest, found := strings.Cut(ev.Text, " ")
		if found && strings.EqualFold(strings.TrimPrefix(mention, "@"), ev.ReplyParentLogin) {
			ev.Text = rest
		}
	}

	p.attachEmotes(ev, m.Trailing)
	return ev
}

func (p *Parser) parseNotice(m *Message) *ChatEvent {
	msgID := m.Tags["msg-id"]
	// Poll notices are routed to the dedicated poll updater upstream.
	if strings.HasPrefix(msgID, "poll") {
		return nil
	}
	kind := EventSystem
	switch {
	case subscriptionMsgIDs[msgID]:
		kind = EventSubscription
	case msgID == "raid" || msgID == "unraid":
		kind = EventRaid
	case msgID == "announcement":
		kind = EventAnnouncement
	}

	ev := &ChatEvent{
		Kind: kind,
		Tags: m.Tags,
		ID:   m.Tags["id"],
	}

	systemMsg := m.Tags["system-msg"]
	ev.Text = systemMsg
	// A non-empty trailing payload is the sender's own comment (e.g. a
	// resub message); it is appended on its own line below the system text.
	if m.Trailing != "" {
		if ev.Text == "" {
			ev.Text = m.Trailing
		} else {
			ev.Text = ev.Text + "\n" + m.Trailing
		}
	}

	keys := noticeAuthorKeys
	if kind == EventSubscription {
		keys = append(append([]string{}, noticeAuthorKeys...), subscriptionAuthorKeys...)
	}
	for _, k := range keys {
		if v := m.Tags[k]; v != "" {
			ev.Author = v
			break
		}
	}
	if ev.Author == "" {
		ev.Author = firstWordOfMarkup(systemMsg)
	}
	ev.AuthorLogin = m.Tags["login"]
	ev.AuthorColor = normalizeColor(m.Tags["color"])
	ev.BadgeNames = parseBadgeNames(m.Tags["badges"])

	p.attachEmotes(ev, m.Trailing)
	return ev
}

// attachEmotes parses the wire emote spans against the original trailing
// payload, remaps them into the (possibly rewritten) display text, merges
// the third-party scan, and attaches the result.
func (p *Parser) attachEmotes(ev *ChatEvent, originalPayload string) {
	spans := ParseEmoteSpans(ev.Tags["emotes"])
	wire := RemapEmotes(spans, originalPayload, ev.Text)
	var scanned []Emote
	if p.ThirdPartyEmotes != nil {
		scanned = ScanThirdParty(ev.Text, p.ThirdPartyEmotes())
	}
	ev.Emotes = MergeEmotes(wire, scanned)
}

// normalizeColor applies the readability rules: absent -> fixed violet,
// pure black -> white.
func normalizeColor(color string) string {
	if color == "" {
		return DefaultAuthorColor
	}
	if strings.EqualFold(color, blackAuthorColor) {
		return whiteAuthorColor
	}
	return color
}

// parseBadgeNames extracts badge names from "subscriber/12,moderator/1".
func parseBadgeNames(tag string) []string {
	if tag == "" {
		return nil
	}
	var names []string
	for _, entry := range strings.Split(tag, ",") {
		name, _, _ := strings.Cut(entry, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

var (
	markupTagPattern    = regexp.MustCompile(`<[^>]*>`)
	markupEntityPattern = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
)

// firstWordOfMarkup is the last-resort author heuristic for notices whose
// tags carry no name at all: strip HTML-like markup and entity escapes from
// the system message and take the leading word.
func firstWordOfMarkup(s string) string {
	s = markupTagPattern.ReplaceAllString(s, "")
	s = markupEntityPattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	word, _, _ := strings.Cut(s, " ")
	return word
}
