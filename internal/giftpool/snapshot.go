package giftpool

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProgressSnapshot is a point-in-time read-only view of campaign progress.
// Snapshots are computed from persisted state after every committed mutation
// and broadcast to viewers; they are never persisted themselves.
type ProgressSnapshot struct {
	CampaignID       string
	CurrentAmount    decimal.Decimal
	TargetAmount     decimal.Decimal
	ContributorCount int
	Status           CampaignStatus
	Deadline         *time.Time
	GeneratedAt      time.Time
}

// SnapshotFromCampaign builds a snapshot from a campaign projection and its
// confirmed contributor count.
func SnapshotFromCampaign(campaign Campaign, contributorCount int, now func() time.Time) ProgressSnapshot {
	if now == nil {
		now = time.Now
	}
	return ProgressSnapshot{
		CampaignID:       campaign.ID,
		CurrentAmount:    campaign.CurrentAmount,
		TargetAmount:     campaign.TargetAmount,
		ContributorCount: contributorCount,
		Status:           campaign.Status,
		Deadline:         campaign.Deadline,
		GeneratedAt:      now().UTC(),
	}
}
