package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns Account rows and their notification endpoints.
type Store struct {
	db *gorm.DB
}

// Profile is what we learn about a fid from a client context or the identity directory.
type Profile struct {
	Fid         int64
	Username    string
	DisplayName string
	PfpUrl      string
	Addresses   []string
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, fid int64) (models.Account, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).Preload("Addresses").Where("fid = ?", fid).Take(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, utils.ErrorRecordNotFound
	}
	return acct, err
}

// Ensure creates the account if it does not exist. Non-empty profile fields
// overwrite stored ones; the notification endpoint is never touched here.
func (s *Store) Ensure(ctx context.Context, p Profile) error {
	if p.Fid <= 0 {
		return fmt.Errorf("%w: fid must be positive, got %d", utils.ErrorInvalidInput, p.Fid)
	}
	acct := models.Account{
		Fid:         p.Fid,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		PfpUrl:      p.PfpUrl,
	}

	var updates []string
	if p.Username != "" {
		updates = append(updates, "username")
	}
	if p.DisplayName != "" {
		updates = append(updates, "display_name")
	}
	if p.PfpUrl != "" {
		updates = append(updates, "pfp_url")
	}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "fid"}}, DoNothing: true}
	if len(updates) > 0 {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "fid"}},
			DoUpdates: clause.AssignmentColumns(append(updates, "updated_at")),
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Clauses(onConflict).Create(&acct).Error; err != nil {
			return fmt.Errorf("ensure account fid=%d: %w", p.Fid, err)
		}
		return addAddresses(tx, p.Fid, p.Addresses)
	})
}

// AddVerifiedAddresses links addresses to fid; already-linked pairs are ignored.
func (s *Store) AddVerifiedAddresses(ctx context.Context, fid int64, addresses []string) error {
	return addAddresses(s.db.WithContext(ctx), fid, addresses)
}

func addAddresses(tx *gorm.DB, fid int64, addresses []string) error {
	var rows []models.AccountAddress
	for _, a := range utils.UniqueSlice(addresses) {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		rows = append(rows, models.AccountAddress{Fid: fid, Address: a})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fid"}, {Name: "address"}},
		DoNothing: true,
	}).Create(&rows).Error
}

// SetNotificationDetails replaces the account's endpoint wholesale, creating the account if needed.
func (s *Store) SetNotificationDetails(ctx context.Context, fid int64, url, token string) error {
	url = strings.TrimSpace(url)
	token = strings.TrimSpace(token)
	if fid <= 0 || url == "" || token == "" {
		return fmt.Errorf("%w: fid, url and token are required", utils.ErrorInvalidInput)
	}
	acct := models.Account{Fid: fid, NotificationUrl: &url, NotificationToken: &token}
	return s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fid"}},
		DoUpdates: clause.AssignmentColumns([]string{"notification_url", "notification_token", "updated_at"}),
	}).Create(&acct).Error
}

// ClearNotificationDetails nulls both halves of the endpoint. Unknown fids are a no-op.
func (s *Store) ClearNotificationDetails(ctx context.Context, fid int64) error {
	return s.db.WithContext(ctx).Model(&models.Account{}).
		Where("fid = ?", fid).
		Updates(map[string]interface{}{
			"notification_url":   nil,
			"notification_token": nil,
		}).Error
}

// Endpoints returns the endpoints of the given fids that have one, ordered by fid.
func (s *Store) Endpoints(ctx context.Context, fids []int64) ([]models.NotificationEndpoint, error) {
	if len(fids) == 0 {
		return nil, nil
	}
	var accts []models.Account
	err := s.db.WithContext(ctx).
		Select("fid", "notification_url", "notification_token").
		Where("fid IN ?", fids).
		Where("notification_url IS NOT NULL AND notification_token IS NOT NULL").
		Order("fid ASC").
		Find(&accts).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.NotificationEndpoint, 0, len(accts))
	for _, a := range accts {
		if ep, ok := a.Endpoint(); ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

// NotifiableFids lists every fid with an endpoint, ascending.
func (s *Store) NotifiableFids(ctx context.Context) ([]int64, error) {
	var fids []int64
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("notification_url IS NOT NULL AND notification_token IS NOT NULL").
		Order("fid ASC").
		Pluck("fid", &fids).Error
	return fids, err
}

// FidsByAddresses maps lowercase addresses to the fids they are linked to.
func (s *Store) FidsByAddresses(ctx context.Context, addresses []string) (map[string][]int64, error) {
	lower := make([]string, 0, len(addresses))
	for _, a := range addresses {
		lower = append(lower, strings.ToLower(strings.TrimSpace(a)))
	}
	var rows []models.AccountAddress
	if err := s.db.WithContext(ctx).Where("address IN ?", lower).Order("address ASC, fid ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]int64, len(rows))
	for _, r := range rows {
		out[r.Address] = append(out[r.Address], r.Fid)
	}
	return out, nil
}
