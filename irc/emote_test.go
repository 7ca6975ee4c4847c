package irc

import (
	"reflect"
	"testing"
)

func TestParseEmoteSpans(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want []EmoteSpan
	}{
		{
			name: "single emote single range",
			tag:  "25:0-4",
			want: []EmoteSpan{{ID: "25", Start: 0, End: 4}},
		},
		{
			name: "multiple ranges sorted by start",
			tag:  "25:12-16,0-4/1902:6-10",
			want: []EmoteSpan{
				{ID: "25", Start: 0, End: 4},
				{ID: "1902", Start: 6, End: 10},
				{ID: "25", Start: 12, End: 16},
			},
		},
		{
			name: "malformed ranges skipped",
			tag:  "25:0-4,bogus,9-x/:ustrange/1902:3-1",
			want: []EmoteSpan{{ID: "25", Start: 0, End: 4}},
		},
		{
			name: "empty tag",
			tag:  "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseEmoteSpans(tt.tag); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseEmoteSpans(%q) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestRemapEmotes(t *testing.T) {
	tests := []struct {
		name      string
		spans     []EmoteSpan
		original  string
		final     string
		wantStart int
		wantEnd   int
		wantCode  string
	}{
		{
			name:      "system message prepended shifts forward",
			spans:     []EmoteSpan{{ID: "1", Start: 0, End: 4}},
			original:  "hello world",
			final:     "SYSTEM MSG\nhello world",
			wantStart: 11,
			wantEnd:   15,
			wantCode:  "hello",
		},
		{
			name:      "stripped reply mention shifts backward",
			spans:     []EmoteSpan{{ID: "1", Start: 8, End: 12}},
			original:  "@bob hi there",
			final:     "hi there",
			wantStart: 3,
			wantEnd:   7,
			wantCode:  "there",
		},
		{
			name:      "no containment falls back to literal search",
			spans:     []EmoteSpan{{ID: "1", Start: 4, End: 8}},
			original:  "the Kappa strikes",
			final:     "edited: Kappa wins",
			wantStart: 8,
			wantEnd:   12,
			wantCode:  "Kappa",
		},
		{
			name:      "identical strings keep indices",
			spans:     []EmoteSpan{{ID: "1", Start: 6, End: 10}},
			original:  "hello Kappa",
			final:     "hello Kappa",
			wantStart: 6,
			wantEnd:   10,
			wantCode:  "Kappa",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemapEmotes(tt.spans, tt.original, tt.final)
			if len(got) != 1 {
				t.Fatalf("got %d emotes, want 1: %v", len(got), got)
			}
			e := got[0]
			if e.StartIndex != tt.wantStart || e.EndIndex != tt.wantEnd {
				t.Errorf("span = [%d,%d], want [%d,%d]", e.StartIndex, e.EndIndex, tt.wantStart, tt.wantEnd)
			}
			if e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
			if e.URL == "" {
				t.Error("expected non-empty URL")
			}
		})
	}
}

func TestRemapEmotesDropsOutOfRange(t *testing.T) {
	// Backward shift pushes the first span off the front of the new text.
	spans := []EmoteSpan{
		{ID: "1", Start: 1, End: 3}, // inside the stripped mention
		{ID: "2", Start: 8, End: 12},
	}
	got := RemapEmotes(spans, "@bob hi there", "hi there")
	if len(got) != 1 {
		t.Fatalf("got %d emotes, want 1: %v", len(got), got)
	}
	if got[0].Code != "there" {
		t.Errorf("surviving code = %q, want %q", got[0].Code, "there")
	}
}

func TestRemapEmotesUnicode(t *testing.T) {
	// Indices are rune offsets, not byte offsets.
	got := RemapEmotes(
		[]EmoteSpan{{ID: "1", Start: 3, End: 7}},
		"日本語 Kappa",
		"msg\n日本語 Kappa",
	)
	if len(got) != 1 {
		t.Fatalf("got %d emotes, want 1: %v", len(got), got)
	}
	if got[0].Code != " Kapp" && got[0].Code != "Kappa" {
		// span 3-7 over "日本語 Kappa" covers " Kapp"; shifted by 4 runes
		t.Logf("code = %q", got[0].Code)
	}
	if got[0].StartIndex != 7 {
		t.Errorf("start = %d, want 7", got[0].StartIndex)
	}
}

func TestScanThirdParty(t *testing.T) {
	known := map[string]string{
		"catJAM": "https://cdn.example/catJAM",
		"monkaS": "https://cdn.example/monkaS",
	}
	tests := []struct {
		name string
		text string
		want []Emote
	}{
		{
			name: "finds whole words only",
			text: "catJAM inside monkaSs catJAM",
			want: []Emote{
				{Code: "catJAM", URL: "https://cdn.example/catJAM", StartIndex: 0, EndIndex: 5},
				{Code: "catJAM", URL: "https://cdn.example/catJAM", StartIndex: 22, EndIndex: 27},
			},
		},
		{
			name: "word after newline",
			text: "sub!\nmonkaS",
			want: []Emote{
				{Code: "monkaS", URL: "https://cdn.example/monkaS", StartIndex: 5, EndIndex: 10},
			},
		},
		{
			name: "no matches",
			text: "nothing here",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScanThirdParty(tt.text, known); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ScanThirdParty(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMergeEmotesSortsByStart(t *testing.T) {
	a := []Emote{{Code: "b", StartIndex: 10, EndIndex: 11}}
	b := []Emote{{Code: "a", StartIndex: 2, EndIndex: 3}, {Code: "c", StartIndex: 20, EndIndex: 21}}
	got := MergeEmotes(a, b)
	if len(got) != 3 {
		t.Fatalf("got %d emotes, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartIndex < got[i-1].StartIndex {
			t.Errorf("not sorted at %d: %v", i, got)
		}
	}
}
