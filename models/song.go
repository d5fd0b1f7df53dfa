package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songcast/songcast_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FeaturedArtist struct {
	Username string `json:"username"`
	PfpUrl   string `json:"pfp_url"`
	Fid      int64  `json:"fid,omitempty"`
}

// Song is one collectible edition. ID is the on-chain token id.
type Song struct {
	ID            int64            `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title         string           `gorm:"size:255;not null" json:"title"`
	SaleStartsAt  int64            `gorm:"not null" json:"sale_starts_at"` // unix seconds
	SaleEndsAt    int64            `gorm:"not null" json:"sale_ends_at"`   // unix seconds
	Featuring     []FeaturedArtist `gorm:"serializer:json;type:text" json:"featuring"`
	FeaturingText string           `gorm:"size:255" json:"featuring_text"`
	IsRedacted    bool             `gorm:"not null;default:false" json:"is_redacted"`
	RevealAt      *int64           `json:"reveal_at"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s Song) SaleStart() time.Time { return time.Unix(s.SaleStartsAt, 0).UTC() }
func (s Song) SaleEnd() time.Time   { return time.Unix(s.SaleEndsAt, 0).UTC() }

// IsRevealed reports whether the title may be shown at now.
func (s Song) IsRevealed(now time.Time) bool {
	if !s.IsRedacted {
		return true
	}
	return s.RevealAt != nil && now.Unix() >= *s.RevealAt
}

type NewSong struct {
	Title         string           `json:"title" validate:"required,max=255"`
	SaleStartsAt  int64            `json:"sale_starts_at" validate:"required,gt=0"`
	SaleEndsAt    int64            `json:"sale_ends_at" validate:"required,gtfield=SaleStartsAt"`
	Featuring     []FeaturedArtist `json:"featuring"`
	FeaturingText string           `json:"featuring_text" validate:"max=255"`
	IsRedacted    bool             `json:"is_redacted"`
	RevealAt      *int64           `json:"reveal_at"`
}

// SaveSong creates or replaces the song with the given id.
func SaveSong(ctx context.Context, db *gorm.DB, id int64, input NewSong) (*Song, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: song id must not be negative", utils.ErrorInvalidInput)
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	song := Song{
		ID:            id,
		Title:         input.Title,
		SaleStartsAt:  input.SaleStartsAt,
		SaleEndsAt:    input.SaleEndsAt,
		Featuring:     input.Featuring,
		FeaturingText: input.FeaturingText,
		IsRedacted:    input.IsRedacted,
		RevealAt:      input.RevealAt,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "sale_starts_at", "sale_ends_at", "featuring", "featuring_text", "is_redacted", "reveal_at", "updated_at",
		}),
	}).Create(&song).Error
	if err != nil {
		return nil, err
	}
	return &song, nil
}

func GetSong(ctx context.Context, db *gorm.DB, id int64) (*Song, error) {
	var song Song
	err := db.WithContext(ctx).Where("id = ?", id).Take(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}
