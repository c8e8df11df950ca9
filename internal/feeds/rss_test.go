package feeds

import (
	"testing"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Go Weekly</title>
  <description>A show about Go</description>
  <itunes:author>Jane Dev</itunes:author>
  <itunes:image href="https://cdn.example.com/art.png"/>
  <item>
    <title>Episode One</title>
    <guid>ep-1</guid>
    <pubDate>Mon, 02 Jan 2024 15:04:05 +0000</pubDate>
    <itunes:duration>01:02:03</itunes:duration>
    <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg"/>
  </item>
  <item>
    <title>Episode Two</title>
    <guid>ep-2</guid>
    <pubDate>Mon, 09 Jan 2024 15:04:05 +0000</pubDate>
    <itunes:duration>1800</itunes:duration>
    <enclosure url="https://cdn.example.com/ep2.mp3" type="audio/mpeg"/>
  </item>
  <item>
    <title>Missing Audio</title>
    <guid>ep-3</guid>
  </item>
</channel>
</rss>`

func TestFetchedFeed_ParsesChannelAndItems(t *testing.T) {
	parsed, err := FetchedFeed([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("FetchedFeed: %v", err)
	}
	if parsed.Title != "Go Weekly" {
		t.Fatalf("title: got %q", parsed.Title)
	}
	if parsed.Author != "Jane Dev" {
		t.Fatalf("author: got %q", parsed.Author)
	}
	if parsed.Image != "https://cdn.example.com/art.png" {
		t.Fatalf("image: got %q", parsed.Image)
	}
	if len(parsed.Episodes) != 2 {
		t.Fatalf("expected 2 usable episodes (missing-audio item dropped), got %d", len(parsed.Episodes))
	}

	ep1 := parsed.Episodes[0]
	if ep1.GUID != "ep-1" || ep1.Title != "Episode One" || ep1.AudioURL != "https://cdn.example.com/ep1.mp3" {
		t.Fatalf("episode 1 mismatch: %+v", ep1)
	}
	if ep1.DurationSeconds == nil || *ep1.DurationSeconds != 3723 {
		t.Fatalf("episode 1 duration: got %v, want 3723", ep1.DurationSeconds)
	}
	if ep1.PublishedAt == nil {
		t.Fatalf("episode 1 expected published_at")
	}

	ep2 := parsed.Episodes[1]
	if ep2.DurationSeconds == nil || *ep2.DurationSeconds != 1800 {
		t.Fatalf("episode 2 duration: got %v, want 1800", ep2.DurationSeconds)
	}
}

const multiEnclosureRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Mixed Media Show</title>
  <item>
    <title>Episode With Cover Art First</title>
    <guid>ep-mixed</guid>
    <enclosure url="https://cdn.example.com/cover.jpg" type="image/jpeg"/>
    <enclosure url="https://cdn.example.com/chapters.json" type="application/json+chapters"/>
    <enclosure url="https://cdn.example.com/ep-mixed.mp3" type="audio/mpeg"/>
  </item>
  <item>
    <title>Episode With Untyped Audio URL</title>
    <guid>ep-untyped</guid>
    <enclosure url="https://cdn.example.com/cover2.jpg" type="image/jpeg"/>
    <enclosure url="https://cdn.example.com/ep-untyped.m4a"/>
  </item>
</channel>
</rss>`

func TestFetchedFeed_SelectsAudioEnclosureAmongSeveral(t *testing.T) {
	parsed, err := FetchedFeed([]byte(multiEnclosureRSS))
	if err != nil {
		t.Fatalf("FetchedFeed: %v", err)
	}
	if len(parsed.Episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(parsed.Episodes))
	}
	if got := parsed.Episodes[0].AudioURL; got != "https://cdn.example.com/ep-mixed.mp3" {
		t.Fatalf("expected the audio-typed enclosure despite coming last, got %q", got)
	}
	if got := parsed.Episodes[1].AudioURL; got != "https://cdn.example.com/ep-untyped.m4a" {
		t.Fatalf("expected the .m4a enclosure selected by extension when type is absent, got %q", got)
	}
}

func TestParseITunesDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"90", 90, true},
		{"01:30", 90, true},
		{"01:02:03", 3723, true},
		{"", 0, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := parseITunesDuration(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Fatalf("parseITunesDuration(%q) = (%d, %v), want (%d, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestFetchedFeed_MalformedXML(t *testing.T) {
	_, err := FetchedFeed([]byte("not xml at all <<<"))
	if err == nil {
		t.Fatalf("expected error for malformed xml")
	}
}
