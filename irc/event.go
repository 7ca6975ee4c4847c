package irc

// EventKind classifies a chat-bearing line.
type EventKind int

const (
	// EventStandard is a regular user-authored PRIVMSG.
	EventStandard EventKind = iota
	// EventSubscription covers the subscription notice family (subs, resubs,
	// gifts, upgrades).
	EventSubscription
	// EventRaid is an incoming or ended raid notice.
	EventRaid
	// EventAnnouncement is a moderator announcement notice.
	EventAnnouncement
	// EventSystem is any other server-generated notice.
	EventSystem
	// EventDeleted marks a message that was removed after publication.
	EventDeleted
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStandard:
		return "standard"
	case EventSubscription:
		return "subscription"
	case EventRaid:
		return "raid"
	case EventAnnouncement:
		return "announcement"
	case EventSystem:
		return "system"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Emote is an inline decoration with indices valid in ChatEvent.Text.
// Start and End are inclusive rune offsets.
type Emote struct {
	Code       string `json:"code"`
	URL        string `json:"url"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// ChatEvent is the parser's structured output for one chat-bearing line.
// Tags retains the raw unescaped tag map for downstream lookups (message id,
// room id, timestamps) without the parser having to know every consumer.
type ChatEvent struct {
	ID               string            `json:"id"`
	Author           string            `json:"author,omitempty"`
	AuthorLogin      string            `json:"author_login,omitempty"`
	Text             string            `json:"text"`
	AuthorColor      string            `json:"author_color,omitempty"`
	Emotes           []Emote           `json:"emotes,omitempty"`
	BadgeNames       []string          `json:"badge_names,omitempty"`
	Kind             EventKind         `json:"kind"`
	Tags             map[string]string `json:"tags,omitempty"`
	ReplyParentID    string            `json:"reply_parent_id,omitempty"`
	ReplyParentLogin string            `json:"reply_parent_login,omitempty"`
	ReplyParentBody  string            `json:"reply_parent_body,omitempty"`
}
