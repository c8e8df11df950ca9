package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Feed is a podcast RSS feed under watch.
type Feed struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	URL           string         `gorm:"column:url;not null;uniqueIndex" json:"url"`
	Title         string         `gorm:"column:title;not null" json:"title"`
	CustomTitle   string         `gorm:"column:custom_title" json:"custom_title,omitempty"`
	Description   string         `gorm:"column:description" json:"description,omitempty"`
	Image         string         `gorm:"column:image" json:"image,omitempty"`
	Author        string         `gorm:"column:author" json:"author,omitempty"`
	LastPolledAt  *time.Time     `gorm:"column:last_polled_at;index" json:"last_polled_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Feed) TableName() string { return "feeds" }

// DisplayTitle returns CustomTitle when the operator has overridden it,
// falling back to the title parsed from the feed itself.
func (f Feed) DisplayTitle() string {
	if f.CustomTitle != "" {
		return f.CustomTitle
	}
	return f.Title
}
