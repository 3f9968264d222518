package giftpool

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftwell/giftwell/internal/platform/id"
)

// CampaignStatus describes the lifecycle of a group-gift campaign.
type CampaignStatus int

const (
	// CampaignStatusUnspecified represents an invalid campaign status value.
	CampaignStatusUnspecified CampaignStatus = iota
	// CampaignStatusOpen indicates the campaign accepts contributions.
	CampaignStatusOpen
	// CampaignStatusFunded indicates the confirmed total reached the target.
	CampaignStatusFunded
	// CampaignStatusExpired indicates the deadline passed before funding.
	CampaignStatusExpired
	// CampaignStatusRefunding indicates contributor refunds are in flight.
	CampaignStatusRefunding
	// CampaignStatusClosed indicates the campaign is terminal.
	CampaignStatusClosed
)

var (
	// ErrInvalidAmount indicates a non-positive monetary amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInvalidDeadline indicates a deadline that is not in the future.
	ErrInvalidDeadline = errors.New("deadline must be in the future")
	// ErrEmptyRegistryItem indicates a missing registry item reference.
	ErrEmptyRegistryItem = errors.New("registry item id is required")
	// ErrCampaignNotFound indicates an unknown campaign id.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignNotOpen indicates the campaign no longer accepts the operation.
	ErrCampaignNotOpen = errors.New("campaign is not open")
	// ErrCampaignNotFunded indicates an order operation on an unfunded campaign.
	ErrCampaignNotFunded = errors.New("campaign is not funded")
	// ErrConcurrentModification indicates optimistic retries were exhausted.
	ErrConcurrentModification = errors.New("campaign was modified concurrently")
	// ErrInvalidCampaignStatusTransition indicates a disallowed status change.
	ErrInvalidCampaignStatusTransition = errors.New("campaign status transition is not allowed")
)

// Campaign represents one group-gift funding effort for a registry item.
type Campaign struct {
	ID             string
	RegistryItemID string
	// TargetAmount is the funding goal in the registry's fixed currency.
	TargetAmount decimal.Decimal
	// CurrentAmount caches the sum of confirmed contribution amounts. It is
	// recomputed by storage inside the same transaction as every confirming
	// write and is never mutated on its own.
	CurrentAmount decimal.Decimal
	Status        CampaignStatus
	// Deadline is the funding cutoff; nil means the campaign never expires.
	Deadline *time.Time
	// CompletionTriggeredAt is set exactly once, when the funded transition
	// fires the downstream order placement.
	CompletionTriggeredAt *time.Time
	// LastOrderError records the most recent downstream order failure for
	// manual retry; the campaign stays funded.
	LastOrderError string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateCampaignInput describes the data needed to open a campaign.
type CreateCampaignInput struct {
	RegistryItemID string
	TargetAmount   decimal.Decimal
	Deadline       *time.Time
}

// CreateCampaign creates an open campaign with a generated ID and timestamps.
func CreateCampaign(input CreateCampaignInput, now func() time.Time, idGenerator func() (string, error)) (Campaign, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateCampaignInput(input, now)
	if err != nil {
		return Campaign{}, err
	}

	campaignID, err := idGenerator()
	if err != nil {
		return Campaign{}, fmt.Errorf("generate campaign id: %w", err)
	}

	createdAt := now().UTC()
	return Campaign{
		ID:             campaignID,
		RegistryItemID: normalized.RegistryItemID,
		TargetAmount:   normalized.TargetAmount,
		CurrentAmount:  decimal.Zero,
		Status:         CampaignStatusOpen,
		Deadline:       normalized.Deadline,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}, nil
}

// NormalizeCreateCampaignInput trims and validates campaign input.
func NormalizeCreateCampaignInput(input CreateCampaignInput, now func() time.Time) (CreateCampaignInput, error) {
	if now == nil {
		now = time.Now
	}
	input.RegistryItemID = strings.TrimSpace(input.RegistryItemID)
	if input.RegistryItemID == "" {
		return CreateCampaignInput{}, ErrEmptyRegistryItem
	}
	if input.TargetAmount.LessThanOrEqual(decimal.Zero) {
		return CreateCampaignInput{}, ErrInvalidAmount
	}
	if input.Deadline != nil {
		deadline := input.Deadline.UTC()
		if !deadline.After(now().UTC()) {
			return CreateCampaignInput{}, ErrInvalidDeadline
		}
		input.Deadline = &deadline
	}
	return input, nil
}

// TransitionCampaignStatus applies a status transition and updates timestamps.
// Transitions out of the closed state are a no-op, not an error, so repeated
// evaluation of the state machine is idempotent.
func TransitionCampaignStatus(campaign Campaign, target CampaignStatus, now func() time.Time) (Campaign, error) {
	if now == nil {
		now = time.Now
	}
	if campaign.Status == CampaignStatusClosed {
		return campaign, nil
	}
	if !IsCampaignStatusTransitionAllowed(campaign.Status, target) {
		return Campaign{}, fmt.Errorf("%w: %s -> %s",
			ErrInvalidCampaignStatusTransition,
			CampaignStatusLabel(campaign.Status),
			CampaignStatusLabel(target),
		)
	}

	updated := campaign
	updated.Status = target
	updated.UpdatedAt = now().UTC()
	return updated, nil
}

// IsCampaignStatusTransitionAllowed reports whether a status transition is
// permitted. The machine only moves forward: open -> funded -> closed, or
// open -> expired -> refunding -> closed.
func IsCampaignStatusTransitionAllowed(from, to CampaignStatus) bool {
	switch from {
	case CampaignStatusOpen:
		return to == CampaignStatusFunded || to == CampaignStatusExpired
	case CampaignStatusFunded:
		return to == CampaignStatusClosed
	case CampaignStatusExpired:
		return to == CampaignStatusRefunding
	case CampaignStatusRefunding:
		return to == CampaignStatusClosed
	default:
		return false
	}
}

// CampaignStatusLabel returns the stable persistence label for a status.
func CampaignStatusLabel(status CampaignStatus) string {
	switch status {
	case CampaignStatusOpen:
		return "open"
	case CampaignStatusFunded:
		return "funded"
	case CampaignStatusExpired:
		return "expired"
	case CampaignStatusRefunding:
		return "refunding"
	case CampaignStatusClosed:
		return "closed"
	default:
		return "unspecified"
	}
}

// ParseCampaignStatus maps a persistence label back to a status.
func ParseCampaignStatus(label string) (CampaignStatus, error) {
	switch strings.TrimSpace(label) {
	case "open":
		return CampaignStatusOpen, nil
	case "funded":
		return CampaignStatusFunded, nil
	case "expired":
		return CampaignStatusExpired, nil
	case "refunding":
		return CampaignStatusRefunding, nil
	case "closed":
		return CampaignStatusClosed, nil
	default:
		return CampaignStatusUnspecified, fmt.Errorf("unknown campaign status %q", label)
	}
}

// IsExpirable reports whether the campaign can still be expired at the given
// instant: open, under target, with a deadline in the past.
func (c Campaign) IsExpirable(now time.Time) bool {
	if c.Status != CampaignStatusOpen || c.Deadline == nil {
		return false
	}
	if !now.UTC().After(c.Deadline.UTC()) {
		return false
	}
	return c.CurrentAmount.LessThan(c.TargetAmount)
}
