package models

import "time"

// Account tracks a followed author, its tier and rolling scoring stats.
// Tier 1 accounts are privileged: their long tweets skip summarization and
// their timelines are fetched on the full cycle.
type Account struct {
	Handle      string  `gorm:"primaryKey;type:varchar(32);column:handle"`
	DisplayName string  `gorm:"column:display_name"`
	Tier        int     `gorm:"default:2;index;column:tier"`
	Weight      float64 `gorm:"default:50;column:weight"`
	Category    string  `gorm:"column:category"`

	TweetsSeen       int        `gorm:"default:0;column:tweets_seen"`
	TweetsKept       int        `gorm:"default:0;column:tweets_kept"`
	AvgRelevance     *float64   `gorm:"column:avg_relevance_score"`
	LastHighSignalAt *time.Time `gorm:"column:last_high_signal_at"`
	LastFetchedAt    *time.Time `gorm:"column:last_fetched_at"`

	AddedAt      time.Time `gorm:"autoCreateTime;column:added_at"`
	AutoPromoted bool      `gorm:"default:false;column:auto_promoted"`
	Muted        bool      `gorm:"default:false;column:muted"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}
