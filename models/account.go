package models

import (
	"strings"
	"time"
)

// Account is a Farcaster user known to the app. Created on first mint or first
// notification grant; the endpoint pair is replaced wholesale on re-grant.
type Account struct {
	Fid               int64            `gorm:"primaryKey;autoIncrement:false" json:"fid"`
	Username          string           `gorm:"size:100;index" json:"username"`
	DisplayName       string           `gorm:"size:255" json:"display_name"`
	PfpUrl            string           `gorm:"size:1024" json:"pfp_url"`
	NotificationUrl   *string          `gorm:"size:1024" json:"-"`
	NotificationToken *string          `gorm:"size:255" json:"-"`
	Addresses         []AccountAddress `gorm:"foreignKey:Fid;references:Fid" json:"addresses,omitempty"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// AccountAddress is a verified custody/ETH address of an account. Stored lowercase.
type AccountAddress struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Fid       int64     `gorm:"not null;index:uniq_account_address,unique" json:"fid"`
	Address   string    `gorm:"size:42;not null;index:uniq_account_address,unique;index" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NotificationEndpoint is the push destination granted by a client for one account.
type NotificationEndpoint struct {
	Fid   int64  `json:"fid"`
	Url   string `json:"url"`
	Token string `json:"token"`
}

// Endpoint returns the account's push endpoint, if both halves are present.
func (a Account) Endpoint() (NotificationEndpoint, bool) {
	if a.NotificationUrl == nil || a.NotificationToken == nil {
		return NotificationEndpoint{}, false
	}
	url := strings.TrimSpace(*a.NotificationUrl)
	token := strings.TrimSpace(*a.NotificationToken)
	if url == "" || token == "" {
		return NotificationEndpoint{}, false
	}
	return NotificationEndpoint{Fid: a.Fid, Url: url, Token: token}, true
}
