package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clifton/twag/internal/models"
)

// AccountRepository provides account-related database operations
type AccountRepository struct {
	*Repository
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(repo *Repository) *AccountRepository {
	return &AccountRepository{Repository: repo}
}

func normalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// GetByHandle retrieves an account by handle, returning (nil, nil) when absent
func (r *AccountRepository) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("handle = ?", normalizeHandle(handle)).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// Upsert inserts or refreshes an account. Display name and category coalesce;
// the tier only ever moves toward tier 1.
func (r *AccountRepository) Upsert(ctx context.Context, handle, displayName string) error {
	account := models.Account{
		Handle:      normalizeHandle(handle),
		DisplayName: displayName,
		Tier:        2,
		Weight:      50,
	}
	if account.Handle == "" {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "handle"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"display_name": gorm.Expr("CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE display_name END"),
			"tier":         gorm.Expr("CASE WHEN excluded.tier < tier THEN excluded.tier ELSE tier END"),
		}),
	}).Create(&account).Error
}

// ByTier returns non-muted accounts of one tier, heaviest first
func (r *AccountRepository) ByTier(ctx context.Context, tier int) ([]*models.Account, error) {
	var accounts []*models.Account
	if err := r.db.WithContext(ctx).
		Where("tier = ? AND muted = ?", tier, false).
		Order("weight DESC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// TierHandles returns the lowercased handles of one tier, for membership checks
func (r *AccountRepository) TierHandles(ctx context.Context, tier int) (map[string]bool, error) {
	accounts, err := r.ByTier(ctx, tier)
	if err != nil {
		return nil, err
	}
	handles := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		handles[strings.ToLower(a.Handle)] = true
	}
	return handles, nil
}

// Categories returns author handle → category for a set of handles
func (r *AccountRepository) Categories(ctx context.Context, handles []string) (map[string]string, error) {
	if len(handles) == 0 {
		return map[string]string{}, nil
	}
	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Where("handle IN ?", handles).Find(&accounts).Error; err != nil {
		return nil, err
	}
	categories := make(map[string]string, len(accounts))
	for _, a := range accounts {
		categories[a.Handle] = a.Category
	}
	return categories, nil
}

// UpdateStats folds one scored tweet into the author's rolling statistics.
func (r *AccountRepository) UpdateStats(ctx context.Context, handle string, score float64, isHighSignal bool) error {
	updates := map[string]interface{}{
		"tweets_seen": gorm.Expr("tweets_seen + 1"),
		"tweets_kept": gorm.Expr("tweets_kept + CASE WHEN ? >= 5 THEN 1 ELSE 0 END", score),
		"avg_relevance_score": gorm.Expr(
			"(COALESCE(avg_relevance_score, 0) * tweets_seen + ?) / (tweets_seen + 1)", score),
	}
	if isHighSignal {
		updates["last_high_signal_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Model(&models.Account{}).
		Where("handle = ?", normalizeHandle(handle)).
		Updates(updates).Error
}

// UpdateLastFetched stamps the account's timeline as just fetched
func (r *AccountRepository) UpdateLastFetched(ctx context.Context, handle string) error {
	return r.db.WithContext(ctx).Model(&models.Account{}).
		Where("handle = ?", normalizeHandle(handle)).
		Update("last_fetched_at", time.Now().UTC()).Error
}

// AuthorsToPromote returns handles with enough bookmarked tweets to earn
// tier 1.
func (r *AccountRepository) AuthorsToPromote(ctx context.Context, minBookmarks int) ([]string, error) {
	var handles []string
	err := r.db.WithContext(ctx).Raw(`
		SELECT t.author_handle
		FROM tweets t
		LEFT JOIN accounts a ON t.author_handle = a.handle
		WHERE t.bookmarked = 1
		AND (a.tier IS NULL OR a.tier > 1)
		GROUP BY t.author_handle
		HAVING COUNT(*) >= ?`, minBookmarks).Scan(&handles).Error
	if err != nil {
		return nil, err
	}
	return handles, nil
}

// Promote moves an account to tier 1, marking it auto-promoted
func (r *AccountRepository) Promote(ctx context.Context, handle string) error {
	return r.db.WithContext(ctx).Model(&models.Account{}).
		Where("handle = ?", normalizeHandle(handle)).
		Updates(map[string]interface{}{"tier": 1, "auto_promoted": true}).Error
}
