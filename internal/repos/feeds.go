package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
)

// FeedRepo is the sole gateway to the feeds table.
type FeedRepo interface {
	Create(dbc dbctx.Context, url, title string) (*domain.Feed, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Feed, error)
	GetByURL(dbc dbctx.Context, url string) (*domain.Feed, error)
	List(dbc dbctx.Context) ([]domain.Feed, error)
	UpdateAfterPoll(dbc dbctx.Context, id uuid.UUID, title, description, image, author string) error
	SetCustomTitle(dbc dbctx.Context, id uuid.UUID, customTitle string) (*domain.Feed, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type feedRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFeedRepo(db *gorm.DB, baseLog *logger.Logger) FeedRepo {
	return &feedRepo{db: db, log: baseLog.With("repo", "FeedRepo")}
}

func (r *feedRepo) Create(dbc dbctx.Context, url, title string) (*domain.Feed, error) {
	feed := &domain.Feed{ID: uuid.New(), URL: url, Title: title}
	if err := dbc.DB(r.db).Create(feed).Error; err != nil {
		return nil, fmt.Errorf("feeds: create: %w", err)
	}
	return feed, nil
}

func (r *feedRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Feed, error) {
	var feed domain.Feed
	if err := dbc.DB(r.db).First(&feed, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("feeds: get by id: %w", err)
	}
	return &feed, nil
}

func (r *feedRepo) GetByURL(dbc dbctx.Context, url string) (*domain.Feed, error) {
	var feed domain.Feed
	err := dbc.DB(r.db).First(&feed, "url = ?", url).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feeds: get by url: %w", err)
	}
	return &feed, nil
}

func (r *feedRepo) List(dbc dbctx.Context) ([]domain.Feed, error) {
	var feeds []domain.Feed
	if err := dbc.DB(r.db).Order("title ASC").Find(&feeds).Error; err != nil {
		return nil, fmt.Errorf("feeds: list: %w", err)
	}
	return feeds, nil
}

func (r *feedRepo) UpdateAfterPoll(dbc dbctx.Context, id uuid.UUID, title, description, image, author string) error {
	now := time.Now().UTC()
	err := dbc.DB(r.db).Model(&domain.Feed{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"title":          title,
			"description":    description,
			"image":          image,
			"author":         author,
			"last_polled_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("feeds: update after poll: %w", err)
	}
	return nil
}

func (r *feedRepo) SetCustomTitle(dbc dbctx.Context, id uuid.UUID, customTitle string) (*domain.Feed, error) {
	err := dbc.DB(r.db).Model(&domain.Feed{}).Where("id = ?", id).
		Update("custom_title", customTitle).Error
	if err != nil {
		return nil, fmt.Errorf("feeds: set custom title: %w", err)
	}
	return r.GetByID(dbc, id)
}

func (r *feedRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	// Episodes cascade via their own DeletedAt; GORM soft-deletes both in one
	// transaction so a concurrent reader never observes the feed gone with
	// episodes still present.
	return dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("feed_id = ?", id).Delete(&domain.Episode{}).Error; err != nil {
			return fmt.Errorf("feeds: cascade delete episodes: %w", err)
		}
		if err := tx.Delete(&domain.Feed{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("feeds: delete: %w", err)
		}
		return nil
	})
}
