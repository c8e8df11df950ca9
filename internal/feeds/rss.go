// Package feeds implements the ports.FeedFetcher using stdlib RSS 2.0 +
// iTunes/podcast-namespace parsing, and a periodic poller that discovers new
// episodes and enqueues download jobs for them.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
)

const maxFeedBytes = 20 * 1024 * 1024

type rssFeed struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string         `xml:"title"`
	Description string         `xml:"description"`
	ITunesImage itunesImage    `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
	Image       rssImage       `xml:"image"`
	ITunesOwner itunesOwner    `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd owner"`
	ITunesAuthr string         `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd author"`
	Items       []rssItem      `xml:"item"`
}

type itunesImage struct {
	Href string `xml:"href,attr"`
}

type rssImage struct {
	URL string `xml:"url"`
}

type itunesOwner struct {
	Name string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd name"`
}

type rssItem struct {
	GUID       rssGUID        `xml:"guid"`
	Title      string         `xml:"title"`
	PubDate    string         `xml:"pubDate"`
	Enclosures []rssEnclosure `xml:"enclosure"`
	ITunesDur  string         `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd duration"`
}

type rssGUID struct {
	Value string `xml:",chardata"`
}

// rssEnclosure is one <enclosure> tag. A podcast item commonly carries
// several — the audio file plus a chapters JSON or cover image — so
// selection has to key off Type, not just take the first tag.
type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

var audioFileExtensions = []string{".mp3", ".m4a", ".wav", ".ogg", ".opus"}

// audioEnclosure picks the enclosure that actually carries audio: one whose
// MIME type contains "audio", falling back to a recognized audio file
// extension on the URL when the feed omits or misreports the type.
func audioEnclosure(enclosures []rssEnclosure) (rssEnclosure, bool) {
	for _, enc := range enclosures {
		url := strings.TrimSpace(enc.URL)
		if url == "" {
			continue
		}
		if strings.Contains(strings.ToLower(enc.Type), "audio") {
			return enc, true
		}
	}
	for _, enc := range enclosures {
		url := strings.TrimSpace(enc.URL)
		if url == "" {
			continue
		}
		lower := strings.ToLower(url)
		for _, ext := range audioFileExtensions {
			if strings.HasSuffix(lower, ext) {
				return enc, true
			}
		}
	}
	return rssEnclosure{}, false
}

// FetchedFeed parses a raw RSS document into ports.ParsedFeed.
func FetchedFeed(body []byte) (ports.ParsedFeed, error) {
	var doc rssFeed
	if err := xml.Unmarshal(body, &doc); err != nil {
		return ports.ParsedFeed{}, fmt.Errorf("feeds: parse rss: %w", err)
	}

	parsed := ports.ParsedFeed{
		Title:       strings.TrimSpace(doc.Channel.Title),
		Description: strings.TrimSpace(doc.Channel.Description),
		Author:      strings.TrimSpace(firstNonEmpty(doc.Channel.ITunesAuthr, doc.Channel.ITunesOwner.Name)),
		Image:       strings.TrimSpace(firstNonEmpty(doc.Channel.ITunesImage.Href, doc.Channel.Image.URL)),
	}

	for _, item := range doc.Channel.Items {
		guid := strings.TrimSpace(item.GUID.Value)
		enc, hasAudio := audioEnclosure(item.Enclosures)
		audioURL := ""
		if hasAudio {
			audioURL = strings.TrimSpace(enc.URL)
		}
		if guid == "" {
			// Fall back to the audio URL as a stable identity when the feed
			// omits <guid>; a feed without either is unusable for this item.
			if audioURL == "" {
				continue
			}
			guid = audioURL
		}
		if audioURL == "" {
			continue
		}

		ep := ports.ParsedEpisode{
			GUID:     guid,
			Title:    strings.TrimSpace(item.Title),
			AudioURL: audioURL,
		}
		if published, ok := parsePubDate(item.PubDate); ok {
			ep.PublishedAt = &published
		}
		if seconds, ok := parseITunesDuration(item.ITunesDur); ok {
			ep.DurationSeconds = &seconds
		}
		parsed.Episodes = append(parsed.Episodes, ep)
	}

	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var rfc822Layouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

func parsePubDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range rfc822Layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseITunesDuration accepts "HH:MM:SS", "MM:SS", or a bare seconds count.
func parseITunesDuration(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if !strings.Contains(raw, ":") {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	parts := strings.Split(raw, ":")
	var seconds int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		seconds = seconds*60 + n
	}
	return seconds, true
}

// HTTPFetcher implements ports.FeedFetcher over a plain net/http client.
type HTTPFetcher struct {
	log    *logger.Logger
	client *http.Client
}

func NewHTTPFetcher(baseLog *logger.Logger, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		log:    baseLog.With("component", "feeds.HTTPFetcher"),
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (ports.ParsedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return ports.ParsedFeed{}, fmt.Errorf("feeds: build request: %w", err)
	}
	req.Header.Set("User-Agent", "cast2md/1.0 (+podcast transcription job engine)")
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return ports.ParsedFeed{}, fmt.Errorf("feeds: fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.ParsedFeed{}, fmt.Errorf("feeds: fetch %s: http %d", feedURL, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxFeedBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return ports.ParsedFeed{}, fmt.Errorf("feeds: read body: %w", err)
	}
	if int64(len(body)) > maxFeedBytes {
		return ports.ParsedFeed{}, fmt.Errorf("feeds: response too large (> %d bytes)", maxFeedBytes)
	}

	return FetchedFeed(body)
}
