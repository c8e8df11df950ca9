package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
)

// EpisodeRepo is the sole gateway to the episodes table.
type EpisodeRepo interface {
	Create(dbc dbctx.Context, feedID uuid.UUID, parsed ports.ParsedEpisode) (*domain.Episode, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error)
	ExistsByGUID(dbc dbctx.Context, feedID uuid.UUID, guid string) (bool, error)
	ListByFeed(dbc dbctx.Context, feedID uuid.UUID) ([]domain.Episode, error)
	ListNewest(dbc dbctx.Context, feedID uuid.UUID, limit int) ([]domain.Episode, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status domain.EpisodeStatus, errMsg string) error
	SetAudioPath(dbc dbctx.Context, id uuid.UUID, audioPath string) error
	SetTranscript(dbc dbctx.Context, id uuid.UUID, transcriptPath, transcriptURL string) error
}

type episodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEpisodeRepo(db *gorm.DB, baseLog *logger.Logger) EpisodeRepo {
	return &episodeRepo{db: db, log: baseLog.With("repo", "EpisodeRepo")}
}

func (r *episodeRepo) Create(dbc dbctx.Context, feedID uuid.UUID, parsed ports.ParsedEpisode) (*domain.Episode, error) {
	ep := &domain.Episode{
		ID:       uuid.New(),
		FeedID:   feedID,
		GUID:     parsed.GUID,
		Title:    parsed.Title,
		AudioURL: parsed.AudioURL,
		Status:   domain.EpisodeStatusNew,
	}
	if parsed.DurationSeconds != nil {
		ep.DurationSeconds = parsed.DurationSeconds
	}
	if parsed.PublishedAt != nil {
		ep.PublishedAt = parsed.PublishedAt
	}
	if err := dbc.DB(r.db).Create(ep).Error; err != nil {
		return nil, fmt.Errorf("episodes: create: %w", err)
	}
	return ep, nil
}

func (r *episodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	var ep domain.Episode
	if err := dbc.DB(r.db).First(&ep, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("episodes: get by id: %w", err)
	}
	return &ep, nil
}

func (r *episodeRepo) ExistsByGUID(dbc dbctx.Context, feedID uuid.UUID, guid string) (bool, error) {
	var count int64
	err := dbc.DB(r.db).Model(&domain.Episode{}).
		Where("feed_id = ? AND guid = ?", feedID, guid).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("episodes: exists by guid: %w", err)
	}
	return count > 0, nil
}

func (r *episodeRepo) ListByFeed(dbc dbctx.Context, feedID uuid.UUID) ([]domain.Episode, error) {
	var eps []domain.Episode
	err := dbc.DB(r.db).Where("feed_id = ?", feedID).
		Order("published_at DESC NULLS LAST, created_at DESC").
		Find(&eps).Error
	if err != nil {
		return nil, fmt.Errorf("episodes: list by feed: %w", err)
	}
	return eps, nil
}

func (r *episodeRepo) ListNewest(dbc dbctx.Context, feedID uuid.UUID, limit int) ([]domain.Episode, error) {
	var eps []domain.Episode
	err := dbc.DB(r.db).Where("feed_id = ?", feedID).
		Order("published_at DESC NULLS LAST, created_at DESC").
		Limit(limit).
		Find(&eps).Error
	if err != nil {
		return nil, fmt.Errorf("episodes: list newest: %w", err)
	}
	return eps, nil
}

func (r *episodeRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status domain.EpisodeStatus, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if errMsg != "" || status == domain.EpisodeStatusFailed {
		updates["error_message"] = errMsg
	}
	err := dbc.DB(r.db).Model(&domain.Episode{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("episodes: update status: %w", err)
	}
	return nil
}

func (r *episodeRepo) SetAudioPath(dbc dbctx.Context, id uuid.UUID, audioPath string) error {
	err := dbc.DB(r.db).Model(&domain.Episode{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"audio_path": audioPath,
			"status":     domain.EpisodeStatusAudioReady,
		}).Error
	if err != nil {
		return fmt.Errorf("episodes: set audio path: %w", err)
	}
	return nil
}

func (r *episodeRepo) SetTranscript(dbc dbctx.Context, id uuid.UUID, transcriptPath, transcriptURL string) error {
	err := dbc.DB(r.db).Model(&domain.Episode{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"transcript_path": transcriptPath,
			"transcript_url":  transcriptURL,
			"status":          domain.EpisodeStatusCompleted,
		}).Error
	if err != nil {
		return fmt.Errorf("episodes: set transcript: %w", err)
	}
	return nil
}
