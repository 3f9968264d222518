// Package storage defines the persistence boundary for the group-gift
// contribution ledger. The store is the atomic unit of the engine: every
// operation that both reads and decides (confirm-and-recompute, the funded
// compare-and-set, the expiry re-check) happens inside one store call so no
// caller can observe or act on a partially applied state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/giftwell/giftwell/internal/giftpool"
)

var (
	// ErrNotFound indicates a requested campaign or contribution is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
	// ErrCampaignNotOpen indicates the campaign no longer accepts the write.
	ErrCampaignNotOpen = errors.New("campaign is not open")
	// ErrAlreadyConfirmed indicates a void attempt on a confirmed contribution.
	ErrAlreadyConfirmed = errors.New("contribution is already confirmed")
	// ErrAlreadyVoided indicates a confirm or void attempt on a void contribution.
	ErrAlreadyVoided = errors.New("contribution is already void")
	// ErrBusy indicates the store could not serialize the write and the
	// caller may retry.
	ErrBusy = errors.New("storage is busy")
)

// Aggregate is the committed contribution aggregate for one campaign.
type Aggregate struct {
	CurrentAmount    string
	ContributorCount int
}

// ConfirmOutcome reports the result of one atomic contribution confirmation.
type ConfirmOutcome struct {
	Campaign     giftpool.Campaign
	Contribution giftpool.Contribution
	// AlreadyConfirmed is true when the confirmation was a no-op replay.
	AlreadyConfirmed bool
	// BecameFunded is true only for the single confirmation that crossed the
	// target and won the completion-trigger compare-and-set.
	BecameFunded bool
}

// CampaignStore persists campaign projections and their status machine.
type CampaignStore interface {
	PutCampaign(ctx context.Context, campaign giftpool.Campaign) error
	GetCampaign(ctx context.Context, campaignID string) (giftpool.Campaign, error)
	// ListExpirableCampaigns returns open campaigns whose deadline passed and
	// whose cached total is under target, oldest deadline first.
	ListExpirableCampaigns(ctx context.Context, now time.Time, limit int) ([]giftpool.Campaign, error)
	// ListRefundingCampaigns returns campaigns owing refunds: those already
	// refunding plus expired ones not yet marked refunding.
	ListRefundingCampaigns(ctx context.Context, limit int) ([]giftpool.Campaign, error)
	// ExpireCampaign transitions open -> expired. The status is re-checked
	// inside the update so a campaign funded after the caller's read is left
	// untouched; it reports whether the transition applied.
	ExpireCampaign(ctx context.Context, campaignID string, now time.Time) (bool, error)
	// MarkRefunding transitions expired -> refunding.
	MarkRefunding(ctx context.Context, campaignID string, now time.Time) (bool, error)
	// CloseFundedCampaign transitions funded -> closed after the downstream
	// order succeeded.
	CloseFundedCampaign(ctx context.Context, campaignID string, now time.Time) (bool, error)
	// CloseIfRefundsSettled transitions refunding -> closed once no owned
	// contribution remains confirmed or refund-pending.
	CloseIfRefundsSettled(ctx context.Context, campaignID string, now time.Time) (bool, error)
	// RecordOrderFailure stores the latest downstream order error; the
	// campaign stays funded.
	RecordOrderFailure(ctx context.Context, campaignID string, message string, now time.Time) error
}

// ContributionStore persists the append-only contribution ledger.
type ContributionStore interface {
	// InsertContribution appends one pending contribution. The owning
	// campaign's open status is checked in the same transaction as the
	// insert, so a campaign can never gain contributions after leaving open.
	InsertContribution(ctx context.Context, contribution giftpool.Contribution) error
	GetContribution(ctx context.Context, contributionID string) (giftpool.Contribution, error)
	ListContributions(ctx context.Context, campaignID string) ([]giftpool.Contribution, error)
	// ConfirmContribution atomically marks the contribution confirmed,
	// recomputes the campaign's current amount from confirmed rows, and — when
	// the new total reaches the target while the campaign is open — performs
	// the funded transition and the completion-trigger compare-and-set, all in
	// one transaction. Confirming an already-confirmed contribution is a
	// no-op that returns current state.
	ConfirmContribution(ctx context.Context, contributionID string, now time.Time) (ConfirmOutcome, error)
	// VoidContribution marks a still-pending contribution void.
	VoidContribution(ctx context.Context, contributionID string, reason string, now time.Time) (giftpool.Contribution, error)
	// ListRefundableContributions returns the campaign's confirmed
	// contributions that have no refund instruction yet.
	ListRefundableContributions(ctx context.Context, campaignID string) ([]giftpool.Contribution, error)
	// MarkRefundPending records that a refund instruction was enqueued.
	MarkRefundPending(ctx context.Context, contributionID string, now time.Time) (bool, error)
	// MarkRefunded records the external refund completion signal.
	MarkRefunded(ctx context.Context, contributionID string, now time.Time) (bool, error)
	// GetAggregate returns the committed confirmed-sum and distinct
	// contributor count for the campaign.
	GetAggregate(ctx context.Context, campaignID string) (Aggregate, error)
}

// Store is the full persistence surface of the contribution engine.
type Store interface {
	CampaignStore
	ContributionStore
}
