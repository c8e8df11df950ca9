package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meltforce/cast2md/internal/logger"
)

// Layout resolves the on-disk paths for a podcast's audio and transcripts
// under a single storage root.
type Layout struct {
	log  *logger.Logger
	root string
}

func NewLayout(baseLog *logger.Logger, root string) *Layout {
	return &Layout{log: baseLog.With("component", "storage.Layout"), root: root}
}

func (l *Layout) audioDir(podcastSlug string) string {
	return filepath.Join(l.root, "audio", podcastSlug)
}

func (l *Layout) transcriptsDir(podcastSlug string) string {
	return filepath.Join(l.root, "transcripts", podcastSlug)
}

func (l *Layout) tempDir() string {
	return filepath.Join(l.root, "tmp")
}

// AudioPath returns the full path an episode's audio file should live at.
func (l *Layout) AudioPath(podcastTitle, episodeTitle string, publishedAt *time.Time, audioURL string) string {
	podcastSlug := PodcastSlug(podcastTitle)
	ext := extensionFromURL(audioURL)
	filename := EpisodeFilename(episodeTitle, publishedAt, ext)
	return filepath.Join(l.audioDir(podcastSlug), filename)
}

// TranscriptPath returns the full path an episode's markdown transcript
// should live at, mirroring AudioPath's filename but under transcripts/.
func (l *Layout) TranscriptPath(podcastTitle, episodeTitle string, publishedAt *time.Time) string {
	podcastSlug := PodcastSlug(podcastTitle)
	filename := EpisodeFilename(episodeTitle, publishedAt, "md")
	return filepath.Join(l.transcriptsDir(podcastSlug), filename)
}

// EnsurePodcastDirectories creates the audio/ and transcripts/ directories
// for a podcast if they don't already exist.
func (l *Layout) EnsurePodcastDirectories(podcastTitle string) error {
	podcastSlug := PodcastSlug(podcastTitle)
	if err := os.MkdirAll(l.audioDir(podcastSlug), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir audio dir: %w", err)
	}
	if err := os.MkdirAll(l.transcriptsDir(podcastSlug), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir transcripts dir: %w", err)
	}
	return nil
}

// StagingPath returns a ".downloading_<name>" path inside the temp
// directory, creating the temp directory if needed. Callers write the
// in-flight download here and call CommitDownload to move it into place
// only once the write has fully succeeded.
func (l *Layout) StagingPath(finalFilename string) (string, error) {
	if err := os.MkdirAll(l.tempDir(), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir temp dir: %w", err)
	}
	return filepath.Join(l.tempDir(), ".downloading_"+finalFilename), nil
}

// CommitDownload atomically renames a completed staging file into its final
// destination, creating any missing parent directories first.
func (l *Layout) CommitDownload(stagingPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir destination dir: %w", err)
	}
	if err := os.Rename(stagingPath, finalPath); err != nil {
		return fmt.Errorf("storage: commit download: %w", err)
	}
	return nil
}

// RenamePodcastDirectories moves the audio/ and transcripts/ subdirectories
// for a podcast from oldTitle's slug to newTitle's slug in place, so a
// custom_title edit doesn't leave orphaned directories behind. Returns
// whether anything was actually renamed.
func (l *Layout) RenamePodcastDirectories(oldTitle, newTitle string) (bool, error) {
	oldSlug := PodcastSlug(oldTitle)
	newSlug := PodcastSlug(newTitle)
	if oldSlug == newSlug {
		return false, nil
	}

	renamed := false
	for _, dirFn := range []func(string) string{l.audioDir, l.transcriptsDir} {
		oldPath := dirFn(oldSlug)
		newPath := dirFn(newSlug)

		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			continue
		} else if err != nil {
			return renamed, fmt.Errorf("storage: stat old dir %s: %w", oldPath, err)
		}

		if _, err := os.Stat(newPath); err == nil {
			return renamed, fmt.Errorf("storage: target directory already exists: %s", newPath)
		} else if !os.IsNotExist(err) {
			return renamed, fmt.Errorf("storage: stat new dir %s: %w", newPath, err)
		}

		if err := os.Rename(oldPath, newPath); err != nil {
			return renamed, fmt.Errorf("storage: rename %s -> %s: %w", oldPath, newPath, err)
		}
		renamed = true
	}
	return renamed, nil
}

// Remove deletes a file if it exists, treating a missing file as success.
func (l *Layout) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}
