package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/platform/mq"
	"github.com/giftwell/giftwell/internal/services/giftpool/domain"
)

// CaptureResultHandler applies payment capture verdicts to the ledger. A
// successful capture confirms the contribution; a failed one voids it.
// Delivery is at-least-once, so domain conflicts on replays are logged and
// committed rather than redelivered forever.
func CaptureResultHandler(svc *domain.Service) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		var result CaptureResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			log.Printf("events: drop malformed capture result: %v", err)
			return nil
		}
		if strings.TrimSpace(result.ContributionID) == "" {
			log.Printf("events: drop capture result without contribution id")
			return nil
		}

		var err error
		if result.Succeeded {
			_, err = svc.ConfirmContribution(ctx, result.ContributionID)
		} else {
			_, err = svc.VoidContribution(ctx, result.ContributionID, result.Reason)
		}
		return commitOrRetry("capture result", result.ContributionID, err)
	}
}

// RefundCompletedHandler settles refund completions against the ledger.
func RefundCompletedHandler(svc *domain.Service) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		var completed RefundCompleted
		if err := json.Unmarshal(msg.Payload, &completed); err != nil {
			log.Printf("events: drop malformed refund completion: %v", err)
			return nil
		}
		if strings.TrimSpace(completed.ContributionID) == "" {
			log.Printf("events: drop refund completion without contribution id")
			return nil
		}
		err := svc.CompleteRefund(ctx, completed.ContributionID)
		return commitOrRetry("refund completion", completed.ContributionID, err)
	}
}

// FulfillmentResultHandler applies order system verdicts to funded campaigns.
func FulfillmentResultHandler(svc *domain.Service) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		var result FulfillmentResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			log.Printf("events: drop malformed fulfillment result: %v", err)
			return nil
		}
		if strings.TrimSpace(result.CampaignID) == "" {
			log.Printf("events: drop fulfillment result without campaign id")
			return nil
		}
		err := svc.RecordOrderResult(ctx, result.CampaignID, result.Succeeded, result.Message)
		return commitOrRetry("fulfillment result", result.CampaignID, err)
	}
}

// commitOrRetry decides whether a handler error should block the offset.
// Domain conflicts are terminal facts about the message, not transient
// failures; redelivering them cannot change the outcome.
func commitOrRetry(kind string, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, giftpool.ErrContributionNotFound),
		errors.Is(err, giftpool.ErrCampaignNotFound),
		errors.Is(err, giftpool.ErrCampaignNotOpen),
		errors.Is(err, giftpool.ErrAlreadyConfirmed),
		errors.Is(err, giftpool.ErrAlreadyVoided):
		log.Printf("events: drop %s for %s: %v", kind, id, err)
		return nil
	default:
		return err
	}
}
