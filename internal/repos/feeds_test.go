package repos

import (
	"testing"

	"github.com/meltforce/cast2md/internal/ports"
	"github.com/meltforce/cast2md/internal/repos/testutil"
)

func TestFeedRepo_CreateGetList(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	repo := NewFeedRepo(gdb, testutil.Logger(t))

	feed, err := repo.Create(dbc, "https://example.com/feed.xml", "Example Feed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	byID, err := repo.GetByID(dbc, feed.ID)
	if err != nil || byID.URL != feed.URL {
		t.Fatalf("GetByID: got %+v err=%v", byID, err)
	}

	byURL, err := repo.GetByURL(dbc, feed.URL)
	if err != nil || byURL == nil || byURL.ID != feed.ID {
		t.Fatalf("GetByURL: got %+v err=%v", byURL, err)
	}

	missing, err := repo.GetByURL(dbc, "https://example.com/missing.xml")
	if err != nil || missing != nil {
		t.Fatalf("GetByURL missing: got %+v err=%v", missing, err)
	}

	if _, err := repo.Create(dbc, "https://example.com/another.xml", "Another Feed"); err != nil {
		t.Fatalf("Create #2: %v", err)
	}

	list, err := repo.List(dbc)
	if err != nil || len(list) != 2 {
		t.Fatalf("List: got %d feeds, err=%v", len(list), err)
	}
	if list[0].Title != "Another Feed" {
		t.Fatalf("List not ordered by title: %+v", list)
	}
}

func TestFeedRepo_UpdateAfterPollAndCustomTitle(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	repo := NewFeedRepo(gdb, testutil.Logger(t))

	feed, err := repo.Create(dbc, "https://example.com/feed.xml", "Example Feed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if feed.LastPolledAt != nil {
		t.Fatalf("expected nil last_polled_at before first poll")
	}

	if err := repo.UpdateAfterPoll(dbc, feed.ID, "New Title", "desc", "img.png", "author"); err != nil {
		t.Fatalf("UpdateAfterPoll: %v", err)
	}
	got, err := repo.GetByID(dbc, feed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "New Title" || got.LastPolledAt == nil {
		t.Fatalf("after poll: title=%q last_polled_at=%v", got.Title, got.LastPolledAt)
	}

	updated, err := repo.SetCustomTitle(dbc, feed.ID, "My Custom Title")
	if err != nil {
		t.Fatalf("SetCustomTitle: %v", err)
	}
	if updated.DisplayTitle() != "My Custom Title" {
		t.Fatalf("DisplayTitle: got %q", updated.DisplayTitle())
	}
}

func TestFeedRepo_DeleteCascadesEpisodes(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	feedRepo := NewFeedRepo(gdb, testutil.Logger(t))
	episodeRepo := NewEpisodeRepo(gdb, testutil.Logger(t))

	feed, err := feedRepo.Create(dbc, "https://example.com/cascade.xml", "Cascade Feed")
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}

	ep, err := episodeRepo.Create(dbc, feed.ID, ports.ParsedEpisode{GUID: "ep-1", Title: "Episode 1"})
	if err != nil {
		t.Fatalf("create episode: %v", err)
	}

	if err := feedRepo.Delete(dbc, feed.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := feedRepo.GetByID(dbc, feed.ID); err == nil {
		t.Fatalf("expected error fetching deleted feed")
	}
	if _, err := episodeRepo.GetByID(dbc, ep.ID); err == nil {
		t.Fatalf("expected error fetching cascade-deleted episode")
	}
}
