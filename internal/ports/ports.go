// Package ports declares the narrow interfaces the job engine invokes for
// work it treats as an external black box: fetching episode audio,
// transcribing it, and parsing feed XML. Concrete adapters live outside this
// package (internal/sttgcp, internal/feeds); workers and the agent only ever
// see these interfaces.
package ports

import (
	"context"
	"io"
	"time"

	"github.com/meltforce/cast2md/internal/domain"
)

// Downloader fetches a remote resource's bytes into w, reporting the total
// size when known (0 if the server did not send Content-Length).
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (size int64, err error)
}

// ProgressFunc is invoked during a long-running transcription with a
// percentage in [0, 100]. Implementations should throttle calls themselves;
// callers are not required to debounce.
type ProgressFunc func(percent int)

// Transcriber runs speech-to-text over an audio file and returns segmented
// text plus detected language. It is a process-wide, lazily constructed
// singleton per internal/domain's design notes — callers pass it in rather
// than reach for global state.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, onProgress ProgressFunc) (domain.TranscriptResult, error)
	Close() error
}

// FeedFetcher retrieves and parses an RSS feed document into episodes ready
// for the repository layer. The returned items are already deduplicated by
// nothing in particular — callers are responsible for (feed_id, guid) dedup.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) (ParsedFeed, error)
}

// ParsedFeed is the result of parsing one RSS document.
type ParsedFeed struct {
	Title       string
	Description string
	Image       string
	Author      string
	Episodes    []ParsedEpisode
}

// ParsedEpisode is a single <item> from a parsed feed.
type ParsedEpisode struct {
	GUID            string
	Title           string
	AudioURL        string
	DurationSeconds *int
	PublishedAt     *time.Time
}
