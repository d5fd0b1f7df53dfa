package models

import "time"

// Collection is the off-chain record of a fid collecting a song.
// Unique constraint: (fid, song_id).
type Collection struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Fid       int64     `gorm:"not null;index:uniq_collection,unique" json:"fid"`
	SongId    int64     `gorm:"not null;index:uniq_collection,unique;index" json:"song_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	CreatedAt time.Time `gorm:"not null;precision:6" json:"created_at"`
	Account   *Account  `gorm:"foreignKey:Fid;references:Fid" json:"account,omitempty"`
}
