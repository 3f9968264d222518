package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/services/giftpool/storage"
)

// sweepBatchSize bounds the campaigns handled per sweep pass.
const sweepBatchSize = 100

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Expired         int
	RefundsEnqueued int
	Closed          int
}

// Sweeper drives the time-based side of the campaign state machine: expiring
// past-deadline campaigns, enqueueing contributor refunds, and closing
// campaigns whose refunds have settled. A sweep is idempotent; running it
// twice, or from two processes, never refunds a contribution twice because
// the ledger records every refund hand-off.
type Sweeper struct {
	store       storage.Store
	clock       func() time.Time
	refunds     RefundEnqueuer
	broadcaster *Broadcaster
}

// NewSweeper constructs a sweep pass runner. The refund enqueuer may be nil;
// expired campaigns then stay in refunding until one is configured.
func NewSweeper(store storage.Store, clock func() time.Time, refunds RefundEnqueuer, broadcaster *Broadcaster) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{
		store:       store,
		clock:       clock,
		refunds:     refunds,
		broadcaster: broadcaster,
	}
}

// Sweep runs one pass over expirable and refunding campaigns. Per-campaign
// failures are logged and skipped so one bad campaign cannot wedge the rest;
// the campaign is retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	if s == nil || s.store == nil {
		return SweepReport{}, ErrStoreNotConfigured
	}
	var report SweepReport

	now := s.clock()
	expirable, err := s.store.ListExpirableCampaigns(ctx, now, sweepBatchSize)
	if err != nil {
		return report, fmt.Errorf("list expirable campaigns: %w", err)
	}
	for _, campaign := range expirable {
		applied, err := s.store.ExpireCampaign(ctx, campaign.ID, s.clock())
		if err != nil {
			log.Printf("giftpool sweep: expire campaign %s: %v", campaign.ID, err)
			continue
		}
		if !applied {
			// The campaign funded between the listing and this write.
			continue
		}
		report.Expired++
		if _, err := s.store.MarkRefunding(ctx, campaign.ID, s.clock()); err != nil {
			log.Printf("giftpool sweep: mark campaign %s refunding: %v", campaign.ID, err)
			continue
		}
		s.publish(ctx, campaign.ID)
	}

	refunding, err := s.store.ListRefundingCampaigns(ctx, sweepBatchSize)
	if err != nil {
		return report, fmt.Errorf("list refunding campaigns: %w", err)
	}
	for _, campaign := range refunding {
		// A crash between the expiry write and the refunding write leaves
		// the campaign expired; pick it up here so the pass resumes it.
		if campaign.Status == giftpool.CampaignStatusExpired {
			applied, err := s.store.MarkRefunding(ctx, campaign.ID, s.clock())
			if err != nil {
				log.Printf("giftpool sweep: mark campaign %s refunding: %v", campaign.ID, err)
				continue
			}
			if applied {
				s.publish(ctx, campaign.ID)
			}
		}
		enqueued, err := s.enqueueRefunds(ctx, campaign)
		if err != nil {
			log.Printf("giftpool sweep: enqueue refunds for campaign %s: %v", campaign.ID, err)
			continue
		}
		report.RefundsEnqueued += enqueued

		closed, err := s.store.CloseIfRefundsSettled(ctx, campaign.ID, s.clock())
		if err != nil {
			log.Printf("giftpool sweep: close campaign %s: %v", campaign.ID, err)
			continue
		}
		if closed {
			report.Closed++
			s.publish(ctx, campaign.ID)
		}
	}
	return report, nil
}

func (s *Sweeper) enqueueRefunds(ctx context.Context, campaign giftpool.Campaign) (int, error) {
	refundable, err := s.store.ListRefundableContributions(ctx, campaign.ID)
	if err != nil {
		return 0, err
	}
	if len(refundable) > 0 && s.refunds == nil {
		return 0, errors.New("no refund enqueuer configured")
	}

	enqueued := 0
	for _, contribution := range refundable {
		if err := s.refunds.EnqueueRefund(ctx, contribution); err != nil {
			// Leave the contribution confirmed; the next sweep retries it.
			log.Printf("giftpool sweep: enqueue refund for contribution %s: %v", contribution.ID, err)
			continue
		}
		applied, err := s.store.MarkRefundPending(ctx, contribution.ID, s.clock())
		if err != nil {
			return enqueued, err
		}
		if applied {
			enqueued++
		}
	}
	return enqueued, nil
}

func (s *Sweeper) publish(ctx context.Context, campaignID string) {
	if s.broadcaster == nil {
		return
	}
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return
	}
	contributorCount := 0
	if aggregate, err := s.store.GetAggregate(ctx, campaignID); err == nil {
		contributorCount = aggregate.ContributorCount
	}
	s.broadcaster.Publish(giftpool.SnapshotFromCampaign(campaign, contributorCount, s.clock))
}
