// Package domain implements the group-gift contribution engine use-cases:
// the contribution ledger, the campaign state machine, the exactly-once
// completion trigger, and the progress fan-out.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/platform/id"
	"github.com/giftwell/giftwell/internal/services/giftpool/storage"
)

// ErrStoreNotConfigured indicates the service is missing persistence wiring.
var ErrStoreNotConfigured = errors.New("giftpool store is not configured")

// confirmRetryAttempts bounds optimistic retries when the store reports a
// serialization conflict before the failure surfaces to the caller.
const confirmRetryAttempts = 3

// OrderPlacer hands a funded campaign to the downstream order system.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, campaign giftpool.Campaign) error
}

// RefundEnqueuer hands one confirmed contribution to the payment system for
// refund. Enqueueing must be safe to retry; the ledger records the hand-off.
type RefundEnqueuer interface {
	EnqueueRefund(ctx context.Context, contribution giftpool.Contribution) error
}

// ConfirmationResult reports one processed payment-capture signal.
type ConfirmationResult struct {
	Campaign     giftpool.Campaign
	Contribution giftpool.Contribution
	// AlreadyConfirmed is true when the signal was a replay and nothing changed.
	AlreadyConfirmed bool
	// BecameFunded is true for the single confirmation that funded the campaign.
	BecameFunded bool
}

// Service orchestrates campaign and contribution lifecycle behavior.
type Service struct {
	store       storage.Store
	clock       func() time.Time
	newID       func() (string, error)
	orders      OrderPlacer
	broadcaster *Broadcaster
}

// NewService constructs giftpool domain use-cases. The order placer may be
// nil; funded campaigns then wait for a manual order retry.
func NewService(store storage.Store, clock func() time.Time, newID func() (string, error), orders OrderPlacer, broadcaster *Broadcaster) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	return &Service{
		store:       store,
		clock:       clock,
		newID:       newID,
		orders:      orders,
		broadcaster: broadcaster,
	}
}

// Broadcaster exposes the progress fan-out for transport subscriptions.
func (s *Service) Broadcaster() *Broadcaster {
	if s == nil {
		return nil
	}
	return s.broadcaster
}

// CreateCampaign opens a new campaign for a registry item.
func (s *Service) CreateCampaign(ctx context.Context, input giftpool.CreateCampaignInput) (giftpool.Campaign, error) {
	if s == nil || s.store == nil {
		return giftpool.Campaign{}, ErrStoreNotConfigured
	}
	campaign, err := giftpool.CreateCampaign(input, s.clock, s.newID)
	if err != nil {
		return giftpool.Campaign{}, err
	}
	if err := s.store.PutCampaign(ctx, campaign); err != nil {
		return giftpool.Campaign{}, fmt.Errorf("persist campaign: %w", err)
	}
	return campaign, nil
}

// GetCampaign loads one campaign.
func (s *Service) GetCampaign(ctx context.Context, campaignID string) (giftpool.Campaign, error) {
	if s == nil || s.store == nil {
		return giftpool.Campaign{}, ErrStoreNotConfigured
	}
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, storage.ErrNotFound) {
		return giftpool.Campaign{}, giftpool.ErrCampaignNotFound
	}
	if err != nil {
		return giftpool.Campaign{}, err
	}
	return campaign, nil
}

// RecordContribution appends a pending contribution to an open campaign.
// Pending money is not part of the campaign total, so no snapshot is
// published until the capture confirms.
func (s *Service) RecordContribution(ctx context.Context, input giftpool.NewContributionInput) (giftpool.Contribution, error) {
	if s == nil || s.store == nil {
		return giftpool.Contribution{}, ErrStoreNotConfigured
	}
	contribution, err := giftpool.NewContribution(input, s.clock, s.newID)
	if err != nil {
		return giftpool.Contribution{}, err
	}
	err = s.store.InsertContribution(ctx, contribution)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return giftpool.Contribution{}, giftpool.ErrCampaignNotFound
	case errors.Is(err, storage.ErrCampaignNotOpen):
		return giftpool.Contribution{}, giftpool.ErrCampaignNotOpen
	case err != nil:
		return giftpool.Contribution{}, fmt.Errorf("persist contribution: %w", err)
	}
	return contribution, nil
}

// ConfirmContribution processes a successful payment capture. The store
// applies the confirmation, the total recomputation, and the funded
// compare-and-set in one transaction; this layer retries serialization
// conflicts, publishes progress, and fires the order placement for the one
// confirmation that funded the campaign.
func (s *Service) ConfirmContribution(ctx context.Context, contributionID string) (ConfirmationResult, error) {
	if s == nil || s.store == nil {
		return ConfirmationResult{}, ErrStoreNotConfigured
	}

	var outcome storage.ConfirmOutcome
	var err error
	for attempt := 0; attempt < confirmRetryAttempts; attempt++ {
		outcome, err = s.store.ConfirmContribution(ctx, contributionID, s.clock())
		if !errors.Is(err, storage.ErrBusy) {
			break
		}
		select {
		case <-ctx.Done():
			return ConfirmationResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	switch {
	case errors.Is(err, storage.ErrBusy):
		return ConfirmationResult{}, giftpool.ErrConcurrentModification
	case errors.Is(err, storage.ErrNotFound):
		return ConfirmationResult{}, giftpool.ErrContributionNotFound
	case errors.Is(err, storage.ErrCampaignNotOpen):
		return ConfirmationResult{}, giftpool.ErrCampaignNotOpen
	case errors.Is(err, storage.ErrAlreadyVoided):
		return ConfirmationResult{}, giftpool.ErrAlreadyVoided
	case err != nil:
		return ConfirmationResult{}, err
	}

	result := ConfirmationResult{
		Campaign:         outcome.Campaign,
		Contribution:     outcome.Contribution,
		AlreadyConfirmed: outcome.AlreadyConfirmed,
		BecameFunded:     outcome.BecameFunded,
	}
	if outcome.AlreadyConfirmed {
		return result, nil
	}

	s.publishProgress(ctx, outcome.Campaign)

	if outcome.BecameFunded {
		s.placeOrder(ctx, outcome.Campaign)
	}
	return result, nil
}

// VoidContribution processes a failed payment capture for a still-pending
// contribution.
func (s *Service) VoidContribution(ctx context.Context, contributionID string, reason string) (giftpool.Contribution, error) {
	if s == nil || s.store == nil {
		return giftpool.Contribution{}, ErrStoreNotConfigured
	}
	contribution, err := s.store.VoidContribution(ctx, contributionID, reason, s.clock())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return giftpool.Contribution{}, giftpool.ErrContributionNotFound
	case errors.Is(err, storage.ErrAlreadyConfirmed):
		return giftpool.Contribution{}, giftpool.ErrAlreadyConfirmed
	case errors.Is(err, storage.ErrAlreadyVoided):
		return giftpool.Contribution{}, giftpool.ErrAlreadyVoided
	case err != nil:
		return giftpool.Contribution{}, err
	}
	return contribution, nil
}

// ListContributions lists a campaign's contributions oldest first.
func (s *Service) ListContributions(ctx context.Context, campaignID string) ([]giftpool.Contribution, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListContributions(ctx, campaignID)
}

// Progress returns the committed progress snapshot for one campaign.
func (s *Service) Progress(ctx context.Context, campaignID string) (giftpool.ProgressSnapshot, error) {
	if s == nil || s.store == nil {
		return giftpool.ProgressSnapshot{}, ErrStoreNotConfigured
	}
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return giftpool.ProgressSnapshot{}, err
	}
	aggregate, err := s.store.GetAggregate(ctx, campaignID)
	if err != nil {
		return giftpool.ProgressSnapshot{}, err
	}
	total, err := decimal.NewFromString(aggregate.CurrentAmount)
	if err != nil {
		return giftpool.ProgressSnapshot{}, fmt.Errorf("parse aggregate amount: %w", err)
	}
	campaign.CurrentAmount = total
	return giftpool.SnapshotFromCampaign(campaign, aggregate.ContributorCount, s.clock), nil
}

// CompleteRefund processes the payment system's refund-completed signal for
// one contribution. Replayed signals are a no-op. When the owning campaign's
// final refund settles, the campaign closes.
func (s *Service) CompleteRefund(ctx context.Context, contributionID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	applied, err := s.store.MarkRefunded(ctx, contributionID, s.clock())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	contribution, err := s.store.GetContribution(ctx, contributionID)
	if err != nil {
		return err
	}
	closed, err := s.store.CloseIfRefundsSettled(ctx, contribution.CampaignID, s.clock())
	if err != nil {
		return err
	}
	if closed {
		log.Printf("giftpool: campaign %s closed, all refunds settled", contribution.CampaignID)
	}
	if campaign, err := s.store.GetCampaign(ctx, contribution.CampaignID); err == nil {
		s.publishProgress(ctx, campaign)
	}
	return nil
}

// RecordOrderResult processes the downstream order system's result for a
// funded campaign. Success closes the campaign; failure records the error
// and leaves the campaign funded for a retry.
func (s *Service) RecordOrderResult(ctx context.Context, campaignID string, succeeded bool, message string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if succeeded {
		applied, err := s.store.CloseFundedCampaign(ctx, campaignID, s.clock())
		if err != nil {
			return err
		}
		if applied {
			if campaign, err := s.store.GetCampaign(ctx, campaignID); err == nil {
				s.publishProgress(ctx, campaign)
			}
		}
		return nil
	}
	err := s.store.RecordOrderFailure(ctx, campaignID, message, s.clock())
	if errors.Is(err, storage.ErrNotFound) {
		return giftpool.ErrCampaignNotFound
	}
	return err
}

// RetryOrderPlacement re-fires the order placement for a funded campaign
// whose previous attempt failed.
func (s *Service) RetryOrderPlacement(ctx context.Context, campaignID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != giftpool.CampaignStatusFunded {
		return giftpool.ErrCampaignNotFunded
	}
	s.placeOrder(ctx, campaign)
	return nil
}

func (s *Service) placeOrder(ctx context.Context, campaign giftpool.Campaign) {
	if s.orders == nil {
		log.Printf("giftpool: campaign %s funded, no order placer configured", campaign.ID)
		return
	}
	if err := s.orders.PlaceOrder(ctx, campaign); err != nil {
		log.Printf("giftpool: place order for campaign %s: %v", campaign.ID, err)
		if recordErr := s.store.RecordOrderFailure(ctx, campaign.ID, err.Error(), s.clock()); recordErr != nil {
			log.Printf("giftpool: record order failure for campaign %s: %v", campaign.ID, recordErr)
		}
	}
}

func (s *Service) publishProgress(ctx context.Context, campaign giftpool.Campaign) {
	contributorCount := 0
	if aggregate, err := s.store.GetAggregate(ctx, campaign.ID); err == nil {
		contributorCount = aggregate.ContributorCount
	}
	s.broadcaster.Publish(giftpool.SnapshotFromCampaign(campaign, contributorCount, s.clock))
}
