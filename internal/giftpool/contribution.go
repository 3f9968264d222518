package giftpool

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftwell/giftwell/internal/platform/id"
)

// ContributionStatus describes the lifecycle of a single contribution.
type ContributionStatus int

const (
	// ContributionStatusUnspecified represents an invalid contribution status.
	ContributionStatusUnspecified ContributionStatus = iota
	// ContributionStatusPending indicates payment capture is awaited.
	ContributionStatusPending
	// ContributionStatusConfirmed indicates captured funds counted in the total.
	ContributionStatusConfirmed
	// ContributionStatusVoid indicates payment capture failed.
	ContributionStatusVoid
	// ContributionStatusRefundPending indicates a refund instruction was enqueued.
	ContributionStatusRefundPending
	// ContributionStatusRefunded indicates the refund completed.
	ContributionStatusRefunded
)

var (
	// ErrContributionNotFound indicates an unknown contribution id.
	ErrContributionNotFound = errors.New("contribution not found")
	// ErrEmptyContributor indicates a missing contributor identity.
	ErrEmptyContributor = errors.New("contributor identity is required")
	// ErrAlreadyConfirmed indicates a void attempt on a confirmed contribution.
	ErrAlreadyConfirmed = errors.New("contribution is already confirmed")
	// ErrAlreadyVoided indicates an operation on a void contribution.
	ErrAlreadyVoided = errors.New("contribution is already void")
)

// Contribution is one contributor's pledge toward a campaign. Contributions
// are append-only ledger records: rows change status but are never removed
// and never move between campaigns.
type Contribution struct {
	ID         string
	CampaignID string
	// ContributorIdentity is an email address or anonymous token.
	ContributorIdentity string
	Amount              decimal.Decimal
	Status              ContributionStatus
	// VoidReason records why a pending contribution was voided.
	VoidReason string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewContributionInput describes one contribution intent.
type NewContributionInput struct {
	CampaignID          string
	ContributorIdentity string
	Amount              decimal.Decimal
}

// NewContribution creates a pending contribution with a generated ID.
func NewContribution(input NewContributionInput, now func() time.Time, idGenerator func() (string, error)) (Contribution, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.CampaignID = strings.TrimSpace(input.CampaignID)
	if input.CampaignID == "" {
		return Contribution{}, ErrCampaignNotFound
	}
	input.ContributorIdentity = strings.TrimSpace(input.ContributorIdentity)
	if input.ContributorIdentity == "" {
		return Contribution{}, ErrEmptyContributor
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return Contribution{}, ErrInvalidAmount
	}

	contributionID, err := idGenerator()
	if err != nil {
		return Contribution{}, fmt.Errorf("generate contribution id: %w", err)
	}

	createdAt := now().UTC()
	return Contribution{
		ID:                  contributionID,
		CampaignID:          input.CampaignID,
		ContributorIdentity: input.ContributorIdentity,
		Amount:              input.Amount,
		Status:              ContributionStatusPending,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}, nil
}

// ContributionStatusLabel returns the stable persistence label for a status.
func ContributionStatusLabel(status ContributionStatus) string {
	switch status {
	case ContributionStatusPending:
		return "pending"
	case ContributionStatusConfirmed:
		return "confirmed"
	case ContributionStatusVoid:
		return "void"
	case ContributionStatusRefundPending:
		return "refund_pending"
	case ContributionStatusRefunded:
		return "refunded"
	default:
		return "unspecified"
	}
}

// ParseContributionStatus maps a persistence label back to a status.
func ParseContributionStatus(label string) (ContributionStatus, error) {
	switch strings.TrimSpace(label) {
	case "pending":
		return ContributionStatusPending, nil
	case "confirmed":
		return ContributionStatusConfirmed, nil
	case "void":
		return ContributionStatusVoid, nil
	case "refund_pending":
		return ContributionStatusRefundPending, nil
	case "refunded":
		return ContributionStatusRefunded, nil
	default:
		return ContributionStatusUnspecified, fmt.Errorf("unknown contribution status %q", label)
	}
}

// CountsTowardTotal reports whether the contribution is part of the
// campaign's current amount. Only confirmed money counts; once a refund is
// in flight the funds are on their way back to the contributor.
func (c Contribution) CountsTowardTotal() bool {
	return c.Status == ContributionStatusConfirmed
}
