package db

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/clifton/twag/internal/models"
)

// FetchLogRepository provides fetch-log database operations
type FetchLogRepository struct {
	*Repository
}

// NewFetchLogRepository creates a new fetch log repository
func NewFetchLogRepository(repo *Repository) *FetchLogRepository {
	return &FetchLogRepository{Repository: repo}
}

// Log records one fetch-tool invocation
func (r *FetchLogRepository) Log(ctx context.Context, endpoint string, fetched, newTweets int, queryParams map[string]interface{}) error {
	params := ""
	if len(queryParams) > 0 {
		if data, err := json.Marshal(queryParams); err == nil {
			params = string(data)
		}
	}
	entry := models.FetchLog{
		Endpoint:      endpoint,
		TweetsFetched: fetched,
		NewTweets:     newTweets,
		QueryParams:   params,
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

// Last returns the most recent fetch for an endpoint, (nil, nil) when none
func (r *FetchLogRepository) Last(ctx context.Context, endpoint string) (*models.FetchLog, error) {
	var entry models.FetchLog
	if err := r.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Order("executed_at DESC").
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
