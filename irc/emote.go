package irc

import (
	"sort"
	"strconv"
	"strings"
)

// EmoteSpan is one raw decoration range from the emotes tag. Indices are
// inclusive rune offsets into the unmodified trailing payload of the line,
// not into the display text.
type EmoteSpan struct {
	ID    string
	Start int
	End   int
}

// emoteURL renders the CDN image location for a Twitch emote id.
func emoteURL(id string) string {
	return "https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/2.0"
}

// ParseEmoteSpans decodes the emotes tag value, e.g.
// "25:0-4,12-16/1902:6-10". Malformed entries and ranges are skipped
// individually; the tag is server-controlled but not trusted.
func ParseEmoteSpans(tag string) []EmoteSpan {
	if tag == "" {
		return nil
	}
	var spans []EmoteSpan
	for _, entry := range strings.Split(tag, "/") {
		id, ranges, found := strings.Cut(entry, ":")
		if !found || id == "" {
			continue
		}
		for _, rng := range strings.Split(ranges, ",") {
			startStr, endStr, found := strings.Cut(rng, "-")
			if !found {
				continue
			}
			start, err := strconv.Atoi(startStr)
			if err != nil {
				continue
			}
			end, err := strconv.Atoi(endStr)
			if err != nil || end < start || start < 0 {
				continue
			}
			spans = append(spans, EmoteSpan{ID: id, Start: start, End: end})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

// RemapEmotes translates raw decoration spans (indexed against
// originalPayload) into decorations whose indices are valid in finalText.
// The display text can differ from the payload the server indexed against
// in three ways, each with its own strategy, tried in order:
//
//  1. finalText contains originalPayload (a system message was prepended):
//     shift every index forward by the payload's offset in finalText.
//  2. originalPayload contains finalText (a leading reply mention was
//     stripped): shift every index backward by the stripped prefix length.
//  3. neither contains the other: look the decoration's literal text up in
//     finalText and use that position, keeping the original indices as a
//     last guess when the literal is not found.
//
// The containment checks are a heuristic: a finalText that coincidentally
// contains the payload as a substring will win strategy 1 even when the
// overlap is unrelated. That matches observed server behavior and is kept
// as-is. Spans that land outside finalText, or that yield an empty display
// code, are dropped rather than reported as errors.
func RemapEmotes(spans []EmoteSpan, originalPayload, finalText string) []Emote {
	if len(spans) == 0 {
		return nil
	}
	orig := []rune(originalPayload)
	final := []rune(finalText)

	shift, shifted := 0, false
	if len(orig) > 0 {
		if idx := runeIndex(final, orig); idx >= 0 {
			shift, shifted = idx, true
		} else if idx := runeIndex(orig, final); idx >= 0 {
			shift, shifted = -idx, true
		}
	}

	var out []Emote
	for _, s := range spans {
		start, end := s.Start, s.End
		if shifted {
			start += shift
			end += shift
		} else {
			literal := clampSlice(orig, s.Start, s.End)
			if pos := runeIndex(final, literal); pos >= 0 && len(literal) > 0 {
				start = pos
				end = pos + len(literal) - 1
			}
		}
		if start < 0 || end >= len(final) || start > end {
			continue
		}
		code := string(final[start : end+1])
		if code == "" {
			code = string(clampSlice(orig, s.Start, s.End))
		}
		if code == "" {
			continue
		}
		out = append(out, Emote{
			Code:       code,
			URL:        emoteURL(s.ID),
			StartIndex: start,
			EndIndex:   end,
		})
	}
	return out
}

// ScanThirdParty finds whole-word occurrences of known third-party emote
// codes in text. The code namespace is disjoint from the spans carried on
// the wire, so no de-duplication against RemapEmotes output is needed.
func ScanThirdParty(text string, known map[string]string) []Emote {
	if len(known) == 0 || text == "" {
		return nil
	}
	var out []Emote
	runes := []rune(text)
	wordStart := -1
	flush := func(end int) {
		if wordStart < 0 {
			return
		}
		word := string(runes[wordStart:end])
		if url, ok := known[word]; ok {
			out = append(out, Emote{
				Code:       word,
				URL:        url,
				StartIndex: wordStart,
				EndIndex:   end - 1,
			})
		}
		wordStart = -1
	}
	for i, r := range runes {
		if r == ' ' || r == '\n' || r == '\t' {
			flush(i)
		} else if wordStart < 0 {
			wordStart = i
		}
	}
	flush(len(runes))
	return out
}

// MergeEmotes combines decorations from the wire spans and the third-party
// scan and orders them by start index.
func MergeEmotes(a, b []Emote) []Emote {
	merged := make([]Emote, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].StartIndex < merged[j].StartIndex })
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// runeIndex returns the rune offset of needle in haystack, or -1. An empty
// needle matches at 0, mirroring strings.Index.
func runeIndex(haystack, needle []rune) int {
	if len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// clampSlice returns s[start:end+1] with both bounds clamped into s.
func clampSlice(s []rune, start, end int) []rune {
	if len(s) == 0 {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if end >= len(s) {
		end = len(s) - 1
	}
	if start > end {
		return nil
	}
	return s[start : end+1]
}
