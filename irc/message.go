// Package irc parses raw Twitch IRC lines (tag-annotated, line-delimited)
// into structured chat events. Parsing is pure: no I/O, no shared state, and
// malformed fields degrade to "absent" instead of failing the whole line,
// because upstream data is untrusted and partially-broken lines are common.
package irc

import (
	"strings"
)

// Prefix is the optional ":name!user@host" source segment of an IRC line.
type Prefix struct {
	Name string
	User string
	Host string
}

// Message is one tokenized IRC line. Tags values are already unescaped.
type Message struct {
	Raw      string
	Tags     map[string]string
	Prefix   *Prefix
	Command  string
	Params   []string
	Trailing string
}

// ParseMessage tokenizes a single IRC line into its grammar segments:
// optional @tags, optional :prefix, command, middle params, and optional
// trailing payload. Each segment is consumed by an explicit walk over
// space-separated tokens so the presence or absence of any one segment is
// independent of the others. Returns nil for an empty or command-less line.
func ParseMessage(raw string) *Message {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return nil
	}

	m := &Message{Raw: raw}
	rest := line

	if strings.HasPrefix(rest, "@") {
		seg, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			// A line that is only tags carries no command.
			return nil
		}
		m.Tags = parseTags(seg)
		rest = strings.TrimLeft(remainder, " ")
	}

	if strings.HasPrefix(rest, ":") {
		seg, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			return nil
		}
		m.Prefix = parsePrefix(seg)
		rest = strings.TrimLeft(remainder, " ")
	}

	for rest != "" {
		if strings.HasPrefix(rest, ":") {
			m.Trailing = rest[1:]
			break
		}
		token, remainder, _ := strings.Cut(rest, " ")
		if m.Command == "" {
			m.Command = token
		} else {
			m.Params = append(m.Params, token)
		}
		rest = strings.TrimLeft(remainder, " ")
	}

	if m.Command == "" {
		return nil
	}
	return m
}

// parseTags splits "key=value;key=value" and unescapes each value. A tag
// without '=' maps to the empty string. Malformed entries are skipped.
func parseTags(seg string) map[string]string {
	tags := make(map[string]string)
	for _, entry := range strings.Split(seg, ";") {
		if entry == "" {
			continue
		}
		key, value, _ := strings.Cut(entry, "=")
		if key == "" {
			continue
		}
		tags[key] = unescapeTagValue(value)
	}
	return tags
}

// unescapeTagValue applies the IRCv3 tag escaping rules:
// \s -> space, \: -> ';', \r -> CR, \n -> LF, \\ -> backslash.
// An unknown escape yields the escaped character itself; a trailing lone
// backslash is dropped.
func unescapeTagValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i == len(v)-1 {
			break
		}
		i++
		switch v[i] {
		case 's':
			b.WriteByte(' ')
		case ':':
			b.WriteByte(';')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// parsePrefix splits "name!user@host"; both the user and host parts are
// optional.
func parsePrefix(seg string) *Prefix {
	p := &Prefix{}
	rest := seg
	if name, after, found := strings.Cut(rest, "!"); found {
		p.Name = name
		rest = after
	} else if name, host, found := strings.Cut(rest, "@"); found {
		p.Name = name
		p.Host = host
		return p
	} else {
		p.Name = rest
		return p
	}
	if user, host, found := strings.Cut(rest, "@"); found {
		p.User = user
		p.Host = host
	} else {
		p.User = rest
	}
	return p
}
