package db

import (
	"context"
	"testing"

	"github.com/clifton/twag/internal/models"
)

func getAccount(t *testing.T, accounts *AccountRepository, handle string) *models.Account {
	t.Helper()
	acct, err := accounts.GetByHandle(context.Background(), handle)
	if err != nil {
		t.Fatalf("get %s: %v", handle, err)
	}
	if acct == nil {
		t.Fatalf("account %s not found", handle)
	}
	return acct
}

func TestUpsertNormalizesHandle(t *testing.T) {
	_, accounts := openTestRepos(t)
	ctx := context.Background()

	if err := accounts.Upsert(ctx, "@Alice ", "Alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	acct := getAccount(t, accounts, "Alice")
	if acct.Handle != "Alice" {
		t.Errorf("Handle = %q, want @ and whitespace stripped", acct.Handle)
	}
	if acct.Tier != 2 {
		t.Errorf("Tier = %d, want default 2", acct.Tier)
	}
}

func TestUpsertNeverDemotes(t *testing.T) {
	_, accounts := openTestRepos(t)
	ctx := context.Background()

	if err := accounts.Upsert(ctx, "alice", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := accounts.Promote(ctx, "alice"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	// A later timeline sighting re-upserts at the default tier.
	if err := accounts.Upsert(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	acct := getAccount(t, accounts, "alice")
	if acct.Tier != 1 {
		t.Errorf("Tier = %d, want promotion to stick", acct.Tier)
	}
	if acct.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want filled in by the richer payload", acct.DisplayName)
	}
}

func TestUpdateStatsRollsAverages(t *testing.T) {
	_, accounts := openTestRepos(t)
	ctx := context.Background()

	if err := accounts.Upsert(ctx, "alice", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := accounts.UpdateStats(ctx, "alice", 8, true); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if err := accounts.UpdateStats(ctx, "alice", 2, false); err != nil {
		t.Fatalf("stats: %v", err)
	}

	acct := getAccount(t, accounts, "alice")
	if acct.TweetsSeen != 2 {
		t.Errorf("TweetsSeen = %d, want 2", acct.TweetsSeen)
	}
	if acct.TweetsKept != 1 {
		t.Errorf("TweetsKept = %d, want only the score >= 5 tweet kept", acct.TweetsKept)
	}
	if acct.AvgRelevance == nil || *acct.AvgRelevance != 5 {
		t.Errorf("AvgRelevance = %v, want 5", acct.AvgRelevance)
	}
	if acct.LastHighSignalAt == nil {
		t.Error("LastHighSignalAt should be stamped by the high-signal tweet")
	}
}

func TestTierHandlesLowercasesAndSkipsMuted(t *testing.T) {
	_, accounts := openTestRepos(t)
	ctx := context.Background()

	for _, h := range []string{"Alice", "bob"} {
		if err := accounts.Upsert(ctx, h, ""); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := accounts.Promote(ctx, h); err != nil {
			t.Fatalf("promote: %v", err)
		}
	}
	if err := accounts.db.Model(&models.Account{}).Where("handle = ?", "bob").
		Update("muted", true).Error; err != nil {
		t.Fatalf("mute: %v", err)
	}

	handles, err := accounts.TierHandles(ctx, 1)
	if err != nil {
		t.Fatalf("TierHandles: %v", err)
	}
	if !handles["alice"] {
		t.Errorf("handles = %v, want lowercased alice present", handles)
	}
	if handles["bob"] {
		t.Errorf("handles = %v, want muted account excluded", handles)
	}
}
