package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger is the off-chain record of who collected which song, and how many.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// Entry is the reconciliation view of one collection row.
type Entry struct {
	Fid    int64 `json:"fid"`
	SongId int64 `json:"song_id"`
	Amount int64 `json:"amount"`
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithClock overrides the creation timestamp source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func validateKey(fid, songID int64) error {
	if fid <= 0 {
		return fmt.Errorf("%w: fid must be positive, got %d", utils.ErrorInvalidInput, fid)
	}
	if songID < 0 {
		return fmt.Errorf("%w: song id must not be negative, got %d", utils.ErrorInvalidInput, songID)
	}
	return nil
}

// RecordCollection inserts (fid, songID, amount) once. A repeat call for the same
// pair returns the stored record unchanged with created=false; amounts never accumulate.
func (l *Ledger) RecordCollection(ctx context.Context, fid, songID, amount int64) (models.Collection, bool, error) {
	if err := validateKey(fid, songID); err != nil {
		return models.Collection{}, false, err
	}
	if amount <= 0 {
		return models.Collection{}, false, fmt.Errorf("%w: amount must be positive, got %d", utils.ErrorInvalidInput, amount)
	}

	db := l.db.WithContext(ctx)
	rec := models.Collection{
		Fid:       fid,
		SongId:    songID,
		Amount:    amount,
		CreatedAt: l.now().UTC(),
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fid"}, {Name: "song_id"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil && !utils.IsDuplicateKeyErr(res.Error) {
		return models.Collection{}, false, fmt.Errorf("record collection fid=%d song=%d: %w", fid, songID, res.Error)
	}
	if res.Error == nil && res.RowsAffected > 0 {
		return rec, true, nil
	}

	var existing models.Collection
	if err := db.Where("fid = ? AND song_id = ?", fid, songID).Take(&existing).Error; err != nil {
		return models.Collection{}, false, fmt.Errorf("read existing collection fid=%d song=%d: %w", fid, songID, err)
	}
	return existing, false, nil
}

func (l *Ledger) IsHeld(ctx context.Context, fid, songID int64) (bool, error) {
	if err := validateKey(fid, songID); err != nil {
		return false, err
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&models.Collection{}).
		Where("fid = ? AND song_id = ?", fid, songID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PositionOf returns the 1-based rank of fid among the song's collectors:
// amount descending, then earliest created_at, then lowest id.
// ok is false when fid has no record for the song.
func (l *Ledger) PositionOf(ctx context.Context, songID, fid int64) (rank int, ok bool, err error) {
	if err := validateKey(fid, songID); err != nil {
		return 0, false, err
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var own models.Collection
		if err := tx.Where("song_id = ? AND fid = ?", songID, fid).Take(&own).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		var ahead int64
		if err := tx.Model(&models.Collection{}).
			Where("song_id = ?", songID).
			Where("amount > ? OR (amount = ? AND created_at < ?) OR (amount = ? AND created_at = ? AND id < ?)",
				own.Amount,
				own.Amount, own.CreatedAt,
				own.Amount, own.CreatedAt, own.ID).
			Count(&ahead).Error; err != nil {
			return err
		}
		rank = int(ahead) + 1
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("position of fid=%d song=%d: %w", fid, songID, err)
	}
	return rank, ok, nil
}

// CollectorsOf lists the song's records in rank order with their accounts joined.
func (l *Ledger) CollectorsOf(ctx context.Context, songID int64) ([]models.Collection, error) {
	var rows []models.Collection
	err := l.db.WithContext(ctx).
		Preload("Account").
		Where("song_id = ?", songID).
		Order("amount DESC, created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HolderFids returns every fid holding the song, ascending.
func (l *Ledger) HolderFids(ctx context.Context, songID int64) ([]int64, error) {
	var fids []int64
	err := l.db.WithContext(ctx).Model(&models.Collection{}).
		Where("song_id = ?", songID).
		Order("fid ASC").
		Pluck("fid", &fids).Error
	return fids, err
}

// Snapshot exports ledger rows for reconciliation. A nil songID exports every song.
func (l *Ledger) Snapshot(ctx context.Context, songID *int64) ([]Entry, error) {
	q := l.db.WithContext(ctx).Model(&models.Collection{})
	if songID != nil {
		q = q.Where("song_id = ?", *songID)
	}
	var out []Entry
	err := q.Select("fid", "song_id", "amount").Order("song_id ASC, fid ASC").Scan(&out).Error
	return out, err
}
