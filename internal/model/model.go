// Package model defines shared data structures.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Column limits enforced before writes.
const (
	MaxFolderNameLength              = 64
	MaxSubscriptionNameLength        = 250
	MaxSubscriptionDescriptionLength = 2048
	MaxVideoNameLength               = 250
	MaxVideoDescriptionLength        = 4096
	MaxVideoURLLength                = 2048
	MaxDownloadedPathLength          = 260
	MaxProviderIDLength              = 60
)

// Folder groups subscriptions. Folders form a forest per user.
type Folder struct {
	ID       int64  `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"` // nullable for root folders
}

// Subscription is a followed external video source (channel, playlist).
type Subscription struct {
	ID             int64  `json:"id"`
	UserID         string `json:"user_id"`
	ParentFolderID *int64 `json:"parent_folder_id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description"`

	// SubscriptionID is the source-side identifier (channel or playlist id).
	SubscriptionID string `json:"subscription_id"`
	// SubscriptionProviderID names the provider that owns this subscription.
	// Empty for placeholder subscriptions created without a source.
	SubscriptionProviderID string `json:"subscription_provider_id"`

	OriginalURL  string `json:"original_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%d (%s)", s.ID, s.Name)
}

// Video is a single item discovered in a subscription.
type Video struct {
	ID             int64 `json:"id"`
	SubscriptionID int64 `json:"subscription_id"`

	// SubscriptionProviderID is the item id inside the source playlist.
	SubscriptionProviderID string `json:"subscription_provider_id"`
	// VideoID is the source-wide video id, empty until resolved.
	VideoID string `json:"video_id"`
	// VideoProviderID names the provider that supplied metadata.
	VideoProviderID string `json:"video_provider_id"`

	Name         string    `json:"name"`
	Description  string    `json:"description"`
	OriginalURL  string    `json:"original_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Published    time.Time `json:"published"`
	LastUpdated  time.Time `json:"last_updated"`
	Discovered   time.Time `json:"discovered"`
	Views        *int64    `json:"views,omitempty"`
	Rating       *float64  `json:"rating,omitempty"`

	PlaylistIndex  int    `json:"playlist_index"`
	IsWatched      bool   `json:"is_watched"`
	DownloadedPath string `json:"downloaded_path,omitempty"`
	DownloadedSize *int64 `json:"downloaded_size,omitempty"`
}

func (v *Video) String() string {
	if v.Name == "" {
		return v.OriginalURL
	}
	return fmt.Sprintf("%q (%s)", v.Name, v.OriginalURL)
}

// SubscriptionStats summarizes a subscription's videos.
type SubscriptionStats struct {
	SubscriptionID  int64 `json:"subscription_id"`
	TotalCount      int   `json:"total_count"`
	WatchedCount    int   `json:"watched_count"`
	DownloadedCount int   `json:"downloaded_count"`
	DiskUsage       int64 `json:"disk_usage"`
}

// Truncate trims s and cuts it to at most max runes.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
