package transcript

import (
	"strings"
	"testing"

	"github.com/meltforce/cast2md/internal/domain"
)

func sampleResult() domain.TranscriptResult {
	return domain.TranscriptResult{
		Language:            "en",
		LanguageProbability: 0.987,
		Segments: []domain.Segment{
			{Start: 0, End: 4.2, Text: " Welcome to the show. "},
			{Start: 4.2, End: 9.5, Text: "Today we talk about Go."},
			{Start: 3725, End: 3730, Text: "An hour in segment."},
		},
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{65, "01:05"},
		{3599, "59:59"},
		{3600, "01:00:00"},
		{3725, "01:02:05"},
	}
	for _, c := range cases {
		if got := formatTimestamp(c.seconds); got != c.want {
			t.Fatalf("formatTimestamp(%v) = %q, want %q", c.seconds, got, c.want)
		}
	}
}

func TestRenderPerSegment(t *testing.T) {
	md := Render(sampleResult(), "My Episode", PerSegment)

	if !strings.HasPrefix(md, "# My Episode\n\n") {
		t.Fatalf("expected title header, got: %s", md)
	}
	if !strings.Contains(md, "*Language: en (98.7% confidence)*") {
		t.Fatalf("missing language line: %s", md)
	}
	if !strings.Contains(md, "**[00:00]** Welcome to the show.") {
		t.Fatalf("missing first segment line: %s", md)
	}
	if !strings.Contains(md, "**[01:02:05]** An hour in segment.") {
		t.Fatalf("missing hour-scale timestamp: %s", md)
	}
}

func TestRenderPerSegmentNoTitle(t *testing.T) {
	md := Render(sampleResult(), "", PerSegment)
	if strings.HasPrefix(md, "#") {
		t.Fatalf("expected no title header, got: %s", md)
	}
}

func TestRenderParagraphGroupsOnSentenceEnd(t *testing.T) {
	result := domain.TranscriptResult{
		Language:            "en",
		LanguageProbability: 1.0,
		Segments: []domain.Segment{
			{Start: 0, Text: "Hello there"},
			{Start: 1, Text: "how are you?"},
			{Start: 2, Text: "This is a new paragraph"},
		},
	}
	md := Render(result, "", Paragraph)
	if strings.Contains(md, "**[") {
		t.Fatalf("paragraph mode must not include timestamps: %s", md)
	}
	if !strings.Contains(md, "Hello there how are you?") {
		t.Fatalf("expected first paragraph merged: %s", md)
	}
	if !strings.Contains(md, "This is a new paragraph") {
		t.Fatalf("expected trailing unterminated paragraph flushed: %s", md)
	}
}

func TestParseRoundTripsPerSegment(t *testing.T) {
	original := sampleResult()
	md := Render(original, "My Episode", PerSegment)

	parsed, err := Parse(md)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Language != original.Language {
		t.Fatalf("language mismatch: got %q", parsed.Language)
	}
	if len(parsed.Segments) != len(original.Segments) {
		t.Fatalf("segment count mismatch: got %d want %d", len(parsed.Segments), len(original.Segments))
	}
	for i, seg := range parsed.Segments {
		want := strings.TrimSpace(original.Segments[i].Text)
		if seg.Text != want {
			t.Fatalf("segment %d text: got %q want %q", i, seg.Text, want)
		}
		// The rendered timestamp carries whole seconds only.
		wantStart := float64(int(original.Segments[i].Start))
		if seg.Start != wantStart {
			t.Fatalf("segment %d start: got %v want %v", i, seg.Start, wantStart)
		}
	}
}

func TestParseRejectsMissingLanguageLine(t *testing.T) {
	_, err := Parse("# Title\n\n**[00:00]** hello\n")
	if err == nil {
		t.Fatalf("expected error for missing language line")
	}
}
