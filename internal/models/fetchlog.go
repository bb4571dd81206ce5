package models

import "time"

// FetchLog records one fetch-tool invocation for rate-limit bookkeeping.
type FetchLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Endpoint      string    `gorm:"not null;index;column:endpoint"`
	ExecutedAt    time.Time `gorm:"autoCreateTime;column:executed_at"`
	TweetsFetched int       `gorm:"column:tweets_fetched"`
	NewTweets     int       `gorm:"column:new_tweets"`
	QueryParams   string    `gorm:"column:query_params"` // JSON
}

// TableName specifies the table name for FetchLog
func (FetchLog) TableName() string {
	return "fetch_log"
}
