package repos

import (
	"testing"
	"time"

	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/repos/testutil"
)

func TestEpisodeRepo_CreateAndDedup(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	feedRepo := NewFeedRepo(gdb, testutil.Logger(t))
	episodeRepo := NewEpisodeRepo(gdb, testutil.Logger(t))

	feed, err := feedRepo.Create(dbc, "https://example.com/feed.xml", "Example Feed")
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}

	dur := 1800
	published := time.Now().UTC().Add(-24 * time.Hour)
	ep, err := episodeRepo.Create(dbc, feed.ID, ports.ParsedEpisode{
		GUID:            "ep-1",
		Title:           "Episode One",
		AudioURL:        "https://example.com/ep1.mp3",
		DurationSeconds: &dur,
		PublishedAt:     &published,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ep.Status != domain.EpisodeStatusNew {
		t.Fatalf("expected new status, got %s", ep.Status)
	}

	exists, err := episodeRepo.ExistsByGUID(dbc, feed.ID, "ep-1")
	if err != nil || !exists {
		t.Fatalf("ExistsByGUID: exists=%v err=%v", exists, err)
	}

	notExists, err := episodeRepo.ExistsByGUID(dbc, feed.ID, "ep-missing")
	if err != nil || notExists {
		t.Fatalf("ExistsByGUID missing: exists=%v err=%v", notExists, err)
	}
}

func TestEpisodeRepo_StatusAndPathTransitions(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	feedRepo := NewFeedRepo(gdb, testutil.Logger(t))
	episodeRepo := NewEpisodeRepo(gdb, testutil.Logger(t))

	feed, err := feedRepo.Create(dbc, "https://example.com/feed.xml", "Example Feed")
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}
	ep, err := episodeRepo.Create(dbc, feed.ID, ports.ParsedEpisode{GUID: "ep-1", Title: "Episode One"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := episodeRepo.UpdateStatus(dbc, ep.ID, domain.EpisodeStatusDownloading, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := episodeRepo.GetByID(dbc, ep.ID)
	if err != nil || got.Status != domain.EpisodeStatusDownloading {
		t.Fatalf("after downloading: status=%s err=%v", got.Status, err)
	}

	if err := episodeRepo.SetAudioPath(dbc, ep.ID, "/audio/ep1.mp3"); err != nil {
		t.Fatalf("SetAudioPath: %v", err)
	}
	got, err = episodeRepo.GetByID(dbc, ep.ID)
	if err != nil || got.Status != domain.EpisodeStatusAudioReady || got.AudioPath != "/audio/ep1.mp3" {
		t.Fatalf("after audio ready: status=%s path=%q err=%v", got.Status, got.AudioPath, err)
	}

	if err := episodeRepo.SetTranscript(dbc, ep.ID, "/transcripts/ep1.md", "/files/ep1.md"); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}
	got, err = episodeRepo.GetByID(dbc, ep.ID)
	if err != nil || got.Status != domain.EpisodeStatusCompleted || got.TranscriptPath != "/transcripts/ep1.md" {
		t.Fatalf("after completed: status=%s path=%q err=%v", got.Status, got.TranscriptPath, err)
	}

	if err := episodeRepo.UpdateStatus(dbc, ep.ID, domain.EpisodeStatusFailed, "download timeout"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, err = episodeRepo.GetByID(dbc, ep.ID)
	if err != nil || got.Status != domain.EpisodeStatusFailed || got.ErrorMessage != "download timeout" {
		t.Fatalf("after failed: status=%s error=%q err=%v", got.Status, got.ErrorMessage, err)
	}
}

func TestEpisodeRepo_ListOrdering(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	feedRepo := NewFeedRepo(gdb, testutil.Logger(t))
	episodeRepo := NewEpisodeRepo(gdb, testutil.Logger(t))

	feed, err := feedRepo.Create(dbc, "https://example.com/feed.xml", "Example Feed")
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}

	older := time.Now().UTC().Add(-48 * time.Hour)
	newer := time.Now().UTC().Add(-1 * time.Hour)
	if _, err := episodeRepo.Create(dbc, feed.ID, ports.ParsedEpisode{GUID: "old", Title: "Old", PublishedAt: &older}); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if _, err := episodeRepo.Create(dbc, feed.ID, ports.ParsedEpisode{GUID: "new", Title: "New", PublishedAt: &newer}); err != nil {
		t.Fatalf("create new: %v", err)
	}

	list, err := episodeRepo.ListByFeed(dbc, feed.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByFeed: got %d err=%v", len(list), err)
	}
	if list[0].GUID != "new" {
		t.Fatalf("expected newest first, got %q", list[0].GUID)
	}

	newest, err := episodeRepo.ListNewest(dbc, feed.ID, 1)
	if err != nil || len(newest) != 1 || newest[0].GUID != "new" {
		t.Fatalf("ListNewest: got %+v err=%v", newest, err)
	}
}
