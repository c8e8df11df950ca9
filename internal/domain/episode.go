package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EpisodeStatus string

const (
	EpisodeStatusNew                 EpisodeStatus = "new"
	EpisodeStatusDownloading         EpisodeStatus = "downloading"
	EpisodeStatusAudioReady          EpisodeStatus = "audio_ready"
	EpisodeStatusAwaitingTranscript  EpisodeStatus = "awaiting_transcript"
	EpisodeStatusNeedsAudio          EpisodeStatus = "needs_audio"
	EpisodeStatusTranscribing        EpisodeStatus = "transcribing"
	EpisodeStatusCompleted           EpisodeStatus = "completed"
	EpisodeStatusFailed              EpisodeStatus = "failed"
)

// Episode is a single audio item discovered in a Feed.
type Episode struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FeedID           uuid.UUID      `gorm:"type:uuid;not null;index:idx_episode_feed_guid,unique" json:"feed_id"`
	GUID             string         `gorm:"column:guid;not null;index:idx_episode_feed_guid,unique" json:"guid"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	AudioURL         string         `gorm:"column:audio_url;not null" json:"audio_url"`
	DurationSeconds  *int           `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	PublishedAt      *time.Time     `gorm:"column:published_at;index" json:"published_at,omitempty"`
	Status           EpisodeStatus  `gorm:"column:status;not null;index;default:new" json:"status"`
	AudioPath        string         `gorm:"column:audio_path" json:"audio_path,omitempty"`
	TranscriptPath   string         `gorm:"column:transcript_path" json:"transcript_path,omitempty"`
	TranscriptURL    string         `gorm:"column:transcript_url" json:"transcript_url,omitempty"`
	ErrorMessage     string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Episode) TableName() string { return "episodes" }
