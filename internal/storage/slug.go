package storage

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	reForbiddenChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	reWhitespaceRun  = regexp.MustCompile(`[\s_]+`)
)

// Sanitize turns an arbitrary string into a safe filename component: ASCII
// only, no path separators or glob/shell metacharacters, no leading/trailing
// dots or underscores, capped at maxLength runes.
func Sanitize(name string, maxLength int) string {
	name = stripToASCII(name)
	name = reForbiddenChars.ReplaceAllString(name, "_")
	name = reWhitespaceRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.")

	if len(name) > maxLength {
		name = name[:maxLength]
		name = strings.TrimRight(name, "_.")
	}
	if name == "" {
		return "unnamed"
	}
	return name
}

// PodcastSlug sanitizes a podcast title for use as a directory name.
func PodcastSlug(title string) string {
	return Sanitize(title, 80)
}

func stripToASCII(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// extensionFromURL maps a handful of common podcast audio extensions found
// in the URL path; anything unrecognized defaults to mp3.
func extensionFromURL(audioURL string) string {
	lower := strings.ToLower(audioURL)
	switch {
	case strings.Contains(lower, ".m4a"):
		return "m4a"
	case strings.Contains(lower, ".wav"):
		return "wav"
	case strings.Contains(lower, ".ogg"):
		return "ogg"
	case strings.Contains(lower, ".opus"):
		return "opus"
	default:
		return "mp3"
	}
}

func datePrefix(publishedAt *time.Time) string {
	if publishedAt != nil {
		return publishedAt.UTC().Format("2006-01-02")
	}
	return time.Now().UTC().Format("2006-01-02")
}

// EpisodeFilename builds the "{YYYY-MM-DD}_{sanitized_title}.{ext}" stem
// shared by an episode's audio and transcript file names.
func EpisodeFilename(title string, publishedAt *time.Time, ext string) string {
	return datePrefix(publishedAt) + "_" + Sanitize(title, 80) + "." + ext
}
