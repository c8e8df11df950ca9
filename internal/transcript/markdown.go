// Package transcript renders domain.TranscriptResult as markdown and parses
// it back, so the full-text indexer (out of scope here) has a stable format
// to read against.
package transcript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/meltforce/cast2md/internal/domain"
)

// RenderMode selects how segments are laid out in the rendered document.
type RenderMode int

const (
	// PerSegment renders one "**[MM:SS]** text" line per segment. This is
	// the canonical format the parser round-trips.
	PerSegment RenderMode = iota
	// Paragraph groups consecutive segments into paragraphs, breaking on
	// sentence-ending punctuation, and omits timestamps entirely.
	Paragraph
)

var (
	languageLineRe = regexp.MustCompile(`^\*Language: (.+?) \(([0-9.]+)% confidence\)\*$`)
	segmentLineRe  = regexp.MustCompile(`^\*\*\[(\d{2}):(\d{2})(?::(\d{2}))?\]\*\* (.*)$`)
)

// Render produces the markdown document for a transcript. title may be
// empty, in which case no "# <title>" header is written.
func Render(result domain.TranscriptResult, title string, mode RenderMode) string {
	var b strings.Builder

	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}

	fmt.Fprintf(&b, "*Language: %s (%s%% confidence)*\n\n", result.Language, formatPercent(result.LanguageProbability))

	switch mode {
	case Paragraph:
		renderParagraphs(&b, result.Segments)
	default:
		renderPerSegment(&b, result.Segments)
	}

	return b.String()
}

func formatPercent(probability float64) string {
	return strconv.FormatFloat(probability*100, 'f', 1, 64)
}

func renderPerSegment(b *strings.Builder, segments []domain.Segment) {
	for _, seg := range segments {
		fmt.Fprintf(b, "**[%s]** %s\n\n", formatTimestamp(seg.Start), strings.TrimSpace(seg.Text))
	}
}

func renderParagraphs(b *strings.Builder, segments []domain.Segment) {
	var paragraph []string
	flush := func() {
		if len(paragraph) == 0 {
			return
		}
		b.WriteString(strings.Join(paragraph, " "))
		b.WriteString("\n\n")
		paragraph = paragraph[:0]
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		paragraph = append(paragraph, text)
		if last := text[len(text)-1]; last == '.' || last == '!' || last == '?' {
			flush()
		}
	}
	flush()
}

// formatTimestamp renders seconds as MM:SS, or HH:MM:SS once past an hour.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// Parse reads back a PerSegment-rendered document into a TranscriptResult.
// Start times come back as whole seconds, and per-segment End times are not
// recovered (the rendered format doesn't carry them); callers that need durations should keep the original
// TranscriptResult rather than round-tripping through markdown.
func Parse(markdown string) (domain.TranscriptResult, error) {
	var result domain.TranscriptResult
	lines := strings.Split(markdown, "\n")

	foundLanguage := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			continue
		}
		if m := languageLineRe.FindStringSubmatch(line); m != nil {
			result.Language = m[1]
			prob, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				return result, fmt.Errorf("transcript: parse language confidence: %w", err)
			}
			result.LanguageProbability = prob / 100
			foundLanguage = true
			continue
		}
		if m := segmentLineRe.FindStringSubmatch(line); m != nil {
			start, err := parseTimestamp(m[1], m[2], m[3])
			if err != nil {
				return result, fmt.Errorf("transcript: parse timestamp: %w", err)
			}
			result.Segments = append(result.Segments, domain.Segment{
				Start: start,
				Text:  m[4],
			})
			continue
		}
	}

	if !foundLanguage {
		return result, fmt.Errorf("transcript: no language line found")
	}
	return result, nil
}

func parseTimestamp(a, b, c string) (float64, error) {
	// Either "MM:SS" (a=MM, b=SS, c="") or "HH:MM:SS" (a=HH, b=MM, c=SS).
	first, err := strconv.Atoi(a)
	if err != nil {
		return 0, err
	}
	second, err := strconv.Atoi(b)
	if err != nil {
		return 0, err
	}
	if c == "" {
		return float64(first*60 + second), nil
	}
	third, err := strconv.Atoi(c)
	if err != nil {
		return 0, err
	}
	return float64(first*3600 + second*60 + third), nil
}
