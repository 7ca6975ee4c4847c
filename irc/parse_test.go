package irc

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseLinePrivmsg(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantNil    bool
		wantText   string
		wantAuthor string
		wantLogin  string
		wantColor  string
		wantKind   EventKind
		wantBadges []string
	}{
		{
			name:       "untagged privmsg keeps payload verbatim",
			raw:        ":alice!alice@alice.tmi.twitch.tv PRIVMSG #room :exact payload text",
			wantText:   "exact payload text",
			wantAuthor: "alice",
			wantLogin:  "alice",
			wantColor:  DefaultAuthorColor,
			wantKind:   EventStandard,
		},
		{
			name:       "display name and color from tags",
			raw:        "@badges=subscriber/12,moderator/1;color=#1E90FF;display-name=Alice;id=m1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #room :hi",
			wantText:   "hi",
			wantAuthor: "Alice",
			wantLogin:  "alice",
			wantColor:  "#1E90FF",
			wantKind:   EventStandard,
			wantBadges: []string{"subscriber", "moderator"},
		},
		{
			name:       "black color swapped for white",
			raw:        "@color=#000000 :bob!bob@bob.tmi.twitch.tv PRIVMSG #room :dark",
			wantText:   "dark",
			wantAuthor: "bob",
			wantLogin:  "bob",
			wantColor:  whiteAuthorColor,
			wantKind:   EventStandard,
		},
		{
			name:       "reply mention stripped",
			raw:        "@reply-parent-msg-id=p1;reply-parent-user-login=bob;reply-parent-msg-body=original :alice!alice@alice.tmi.twitch.tv PRIVMSG #room :@Bob yes exactly",
			wantText:   "yes exactly",
			wantAuthor: "alice",
			wantLogin:  "alice",
			wantColor:  DefaultAuthorColor,
			wantKind:   EventStandard,
		},
		{
			name:       "mention not matching reply target kept",
			raw:        "@reply-parent-msg-id=p1;reply-parent-user-login=carol :alice!alice@alice.tmi.twitch.tv PRIVMSG #room :@Bob yes exactly",
			wantText:   "@Bob yes exactly",
			wantAuthor: "alice",
			wantLogin:  "alice",
			wantColor:  DefaultAuthorColor,
			wantKind:   EventStandard,
		},
		{
			name:    "join line is not chat-bearing",
			raw:     ":alice!alice@alice.tmi.twitch.tv JOIN #room",
			wantNil: true,
		},
		{
			name:    "ping is not chat-bearing",
			raw:     "PING :tmi.twitch.tv",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseLine(tt.raw)
			if tt.wantNil {
				if ev != nil {
					t.Fatalf("expected nil, got %+v", ev)
				}
				return
			}
			if ev == nil {
				t.Fatal("expected event, got nil")
			}
			if ev.Text != tt.wantText {
				t.Errorf("text = %q, want %q", ev.Text, tt.wantText)
			}
			if ev.Author != tt.wantAuthor {
				t.Errorf("author = %q, want %q", ev.Author, tt.wantAuthor)
			}
			if ev.AuthorLogin != tt.wantLogin {
				t.Errorf("login = %q, want %q", ev.AuthorLogin, tt.wantLogin)
			}
			if ev.AuthorColor != tt.wantColor {
				t.Errorf("color = %q, want %q", ev.AuthorColor, tt.wantColor)
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", ev.Kind, tt.wantKind)
			}
			if tt.wantBadges != nil && !reflect.DeepEqual(ev.BadgeNames, tt.wantBadges) {
				t.Errorf("badges = %v, want %v", ev.BadgeNames, tt.wantBadges)
			}
		})
	}
}

func TestParseLineUsernotice(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantNil    bool
		wantKind   EventKind
		wantAuthor string
		wantText   string
	}{
		{
			name:       "subscription with system msg",
			raw:        `@badges=subscriber/12;display-name=Foo;msg-id=sub;system-msg=Foo\ssubscribed! :tmi.twitch.tv USERNOTICE #room :`,
			wantKind:   EventSubscription,
			wantAuthor: "Foo",
			wantText:   "Foo subscribed!",
		},
		{
			name:       "resub appends sender comment on new line",
			raw:        `@display-name=Foo;msg-id=resub;system-msg=Foo\ssubscribed\sfor\s12\smonths! :tmi.twitch.tv USERNOTICE #room :great stream`,
			wantKind:   EventSubscription,
			wantAuthor: "Foo",
			wantText:   "Foo subscribed for 12 months!\ngreat stream",
		},
		{
			name:       "gift sub falls through to recipient keys",
			raw:        `@msg-id=subgift;msg-param-recipient-display-name=Lucky;system-msg=A\sgift! :tmi.twitch.tv USERNOTICE #room :`,
			wantKind:   EventSubscription,
			wantAuthor: "Lucky",
			wantText:   "A gift!",
		},
		{
			name:       "raid",
			raw:        `@msg-id=raid;msg-param-displayName=Raider;system-msg=Raider\sis\sraiding! :tmi.twitch.tv USERNOTICE #room :`,
			wantKind:   EventRaid,
			wantAuthor: "Raider",
			wantText:   "Raider is raiding!",
		},
		{
			name:       "announcement",
			raw:        `@msg-id=announcement;login=modlogin;system-msg= :tmi.twitch.tv USERNOTICE #room :big news`,
			wantKind:   EventAnnouncement,
			wantAuthor: "modlogin",
			wantText:   "big news",
		},
		{
			name:    "poll notice rejected",
			raw:     `@msg-id=pollstart;system-msg=Poll! :tmi.twitch.tv USERNOTICE #room :`,
			wantNil: true,
		},
		{
			// subs_on/subs_off are room-mode toggles, not subscriptions;
			// only the enumerated msg-id family maps to Subscription.
			name:     "subs-only mode notice stays system",
			raw:      `@msg-id=subs_on :tmi.twitch.tv NOTICE #room :This room is now in subscribers-only mode.`,
			wantKind: EventSystem,
			wantText: "This room is now in subscribers-only mode.",
		},
		{
			name:     "subs-only off notice stays system",
			raw:      `@msg-id=subs_off :tmi.twitch.tv NOTICE #room :This room is no longer in subscribers-only mode.`,
			wantKind: EventSystem,
			wantText: "This room is no longer in subscribers-only mode.",
		},
		{
			name:       "markup fallback author",
			raw:        `@msg-id=midnightsquid;system-msg=<b>Stranger</b>\sdid\ssomething :tmi.twitch.tv USERNOTICE #room :`,
			wantKind:   EventSystem,
			wantAuthor: "Stranger",
			wantText:   "<b>Stranger</b> did something",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseLine(tt.raw)
			if tt.wantNil {
				if ev != nil {
					t.Fatalf("expected nil, got %+v", ev)
				}
				return
			}
			if ev == nil {
				t.Fatal("expected event, got nil")
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", ev.Kind, tt.wantKind)
			}
			if ev.Author != tt.wantAuthor {
				t.Errorf("author = %q, want %q", ev.Author, tt.wantAuthor)
			}
			if ev.Text != tt.wantText {
				t.Errorf("text = %q, want %q", ev.Text, tt.wantText)
			}
		})
	}
}

func TestParseLineEmoteRemapThroughNotice(t *testing.T) {
	// Emote indices point into the trailing payload; the displayed text has
	// the system message prepended, so the span must shift.
	raw := `@msg-id=resub;display-name=Foo;emotes=25:0-4;system-msg=Foo\ssubscribed! :tmi.twitch.tv USERNOTICE #room :Kappa hype`
	ev := ParseLine(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if want := "Foo subscribed!\nKappa hype"; ev.Text != want {
		t.Fatalf("text = %q, want %q", ev.Text, want)
	}
	if len(ev.Emotes) != 1 {
		t.Fatalf("emotes = %v, want one", ev.Emotes)
	}
	e := ev.Emotes[0]
	wantStart := len("Foo subscribed!\n")
	if e.StartIndex != wantStart || e.EndIndex != wantStart+4 {
		t.Errorf("span = [%d,%d], want [%d,%d]", e.StartIndex, e.EndIndex, wantStart, wantStart+4)
	}
	if e.Code != "Kappa" {
		t.Errorf("code = %q, want Kappa", e.Code)
	}
}

func TestParseLineThirdPartyScan(t *testing.T) {
	p := &Parser{ThirdPartyEmotes: func() map[string]string {
		return map[string]string{"catJAM": "https://cdn.example/catJAM"}
	}}
	ev := p.ParseLine("@emotes=25:0-4 :alice!alice@alice.tmi.twitch.tv PRIVMSG #room :Kappa and catJAM")
	if ev == nil {
		t.Fatal("expected event")
	}
	if len(ev.Emotes) != 2 {
		t.Fatalf("emotes = %v, want two", ev.Emotes)
	}
	if ev.Emotes[0].Code != "Kappa" || ev.Emotes[1].Code != "catJAM" {
		t.Errorf("codes = %q,%q want Kappa,catJAM", ev.Emotes[0].Code, ev.Emotes[1].Code)
	}
	if ev.Emotes[1].StartIndex != strings.Index(ev.Text, "catJAM") {
		t.Errorf("catJAM start = %d, want %d", ev.Emotes[1].StartIndex, strings.Index(ev.Text, "catJAM"))
	}
}

func TestParseLineIdempotent(t *testing.T) {
	raw := `@badges=subscriber/12;color=#1E90FF;display-name=Alice;emotes=25:0-4;id=m1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #room :Kappa hello`
	first := ParseLine(raw)
	second := ParseLine(raw)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-parse differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestParseLineMalformedEmotesTagDegrades(t *testing.T) {
	ev := ParseLine("@emotes=garbage :alice!alice@alice.tmi.twitch.tv PRIVMSG #room :hello")
	if ev == nil {
		t.Fatal("expected event despite malformed emotes tag")
	}
	if ev.Text != "hello" {
		t.Errorf("text = %q, want hello", ev.Text)
	}
	if len(ev.Emotes) != 0 {
		t.Errorf("emotes = %v, want none", ev.Emotes)
	}
}
